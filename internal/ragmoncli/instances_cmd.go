package ragmoncli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/ragmon/internal/dashboard"
	"github.com/oremus-labs/ragmon/internal/monitor"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show monitoring API status",
	Run: func(cmd *cobra.Command, args []string) {
		client, ctx, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		info := map[string]interface{}{}
		if err := client.GetJSON(commandContext(cmd), "/system/info", &info); err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := writeOutput(cmd, info); err != nil {
			exitWithError(cmd, err)
			return
		}
		if jsonOutput() {
			return
		}
		keys := make([]string, 0, len(info))
		for k := range info {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintf(tw, "Field\tValue\n")
		fmt.Fprintf(tw, "server\t%s\n", ctx.Server)
		for _, k := range keys {
			fmt.Fprintf(tw, "%s\t%v\n", k, info[k])
		}
		flushTable(tw)
	},
}

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List service instances and their liveness",
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		watch, _ := cmd.Flags().GetBool("watch")
		ctx := commandContext(cmd)
		out := cmd.OutOrStdout()

		if !watch {
			list, err := client.Instances(ctx)
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			if err := writeOutput(cmd, list); err != nil {
				exitWithError(cmd, err)
				return
			}
			if !jsonOutput() {
				printInstances(out, list, time.Now())
			}
			return
		}

		err = client.WatchInstances(ctx, func(list []monitor.Instance) {
			if jsonOutput() {
				_ = printJSON(out, list)
				return
			}
			fmt.Fprintf(out, "--- %s\n", time.Now().Format(time.RFC3339))
			printInstances(out, list, time.Now())
		})
		if err != nil && ctx.Err() == nil {
			exitWithError(cmd, err)
		}
	},
}

func printInstances(w io.Writer, list []monitor.Instance, now time.Time) {
	summary := dashboard.SummarizeInstances(list)
	fmt.Fprintf(w, "%d instances: %d active, %d errors, %d offline\n",
		summary.Total, summary.Active, summary.Errors, summary.Offline)
	if summary.Total == 0 {
		return
	}
	tw := newTable(w)
	fmt.Fprintf(tw, "SERVICE\tINSTANCE\tSTATUS\tURL\tHEARTBEAT\tACTIVITY\tVERSION\n")
	for _, service := range summary.Services() {
		for _, inst := range summary.ByService[service] {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				inst.Service,
				orDash(inst.InstanceID),
				inst.Status,
				orDash(inst.URL),
				relativeTime(epochTime(inst.LastHeartbeatAt), now),
				relativeTime(epochTime(inst.LastActivityAt), now),
				orDash(inst.Version),
			)
		}
	}
	flushTable(tw)
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List observed apps and their base URLs",
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		apps, err := client.Apps(commandContext(cmd))
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := writeOutput(cmd, apps); err != nil {
			exitWithError(cmd, err)
			return
		}
		if jsonOutput() {
			return
		}
		if len(apps) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No apps observed yet.")
			return
		}
		names := make([]string, 0, len(apps))
		for name := range apps {
			names = append(names, name)
		}
		sort.Strings(names)
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintf(tw, "APP\tURL\n")
		for _, name := range names {
			fmt.Fprintf(tw, "%s\t%s\n", name, apps[name])
		}
		flushTable(tw)
	},
}

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List commands recently forwarded to apps",
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		app, _ := cmd.Flags().GetString("app")
		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := client.Commands(commandContext(cmd), app, limit)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := writeOutput(cmd, entries); err != nil {
			exitWithError(cmd, err)
			return
		}
		if jsonOutput() {
			return
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No commands recorded.")
			return
		}
		now := time.Now()
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintf(tw, "WHEN\tAPP\tMETHOD\tPATH\tSTATUS\tDURATION\n")
		for _, entry := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%dms\n",
				relativeTime(entry.CreatedAt, now),
				entry.App,
				entry.Method,
				entry.Path,
				entry.Status,
				entry.DurationMs,
			)
		}
		flushTable(tw)
	},
}

func init() {
	instancesCmd.Flags().BoolP("watch", "w", false, "Follow the instance push channel")
	commandsCmd.Flags().String("app", "", "Only list commands sent to this app")
	commandsCmd.Flags().Int("limit", 50, "Maximum entries to list")
}
