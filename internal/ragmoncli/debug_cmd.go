package ragmoncli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/ragmon/internal/events"
	"github.com/oremus-labs/ragmon/internal/stream"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "List recent tagged events seen on the live stream",
	Long: `debug listens on the live stream for a while and prints the most recent events
carrying the given tag (INIT by default), newest first.`,
	Run: func(cmd *cobra.Command, args []string) {
		client, cctx, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		tag, _ := cmd.Flags().GetString("tag")
		limit, _ := cmd.Flags().GetInt("limit")
		wait, _ := cmd.Flags().GetDuration("wait")
		verbose, _ := cmd.Flags().GetBool("verbose")

		manager := streamManager(verbose)
		defer manager.StopAll()
		adapter := stream.Mount(manager, client.StreamURL(), stream.AdapterOptions{Credentials: cctx.credentials()})
		defer adapter.Unmount()

		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-commandContext(cmd).Done():
		case <-timer.C:
		}

		found := adapter.DebugEvents(tag, limit)
		if err := writeOutput(cmd, found); err != nil {
			exitWithError(cmd, err)
			return
		}
		if jsonOutput() {
			return
		}
		status := adapter.Status()
		if !status.Connected {
			printErrorLine("stream %s not connected (%s)", adapter.Connection().URL(), status.Reason)
		}
		printTaggedEvents(cmd, found, tag)
	},
}

func printTaggedEvents(cmd *cobra.Command, found []events.StreamEvent, tag string) {
	if len(found) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No %s events received.\n", tag)
		return
	}
	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintf(tw, "TIME\tAPP\tINSTANCE\tHOST\tMESSAGE\n")
	for _, evt := range found {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			evt.Time().Format(time.RFC3339),
			orDash(evt.App),
			orDash(evt.InstanceID),
			orDash(evt.Hostname),
			truncate(evt.Message, 80),
		)
	}
	flushTable(tw)
}

func init() {
	debugCmd.Flags().String("tag", events.TagInit, "Event tag to list")
	debugCmd.Flags().Int("limit", stream.DefaultDebugLimit, "Maximum events to list (0 for all)")
	debugCmd.Flags().Duration("wait", 5*time.Second, "How long to listen before printing")
	debugCmd.Flags().BoolP("verbose", "v", false, "Log connection transitions to stderr")
}
