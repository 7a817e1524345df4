package ragmoncli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/ragmon/internal/apiclient"
)

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Send commands to a monitored app through the API proxy",
}

type proxyCall func(ctx context.Context, client *apiclient.Client, app string, args []string) (*apiclient.ProxyResult, error)

// proxyCommand builds an "app <verb> <name> ..." subcommand around call.
func proxyCommand(use, short string, validate cobra.PositionalArgs, call proxyCall) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  validate,
		Run: func(cmd *cobra.Command, args []string) {
			client, _, err := mustClient()
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			app := args[0]
			res, err := call(commandContext(cmd), client, app, args[1:])
			if err != nil {
				exitWithError(cmd, fmt.Errorf("%s: %w", app, err))
				return
			}
			if err := printProxyResult(cmd.OutOrStdout(), res); err != nil {
				exitWithError(cmd, err)
				return
			}
			if !res.OK() {
				exitWithError(cmd, fmt.Errorf("%s answered %d", app, res.Status))
			}
		},
	}
}

func printProxyResult(w io.Writer, res *apiclient.ProxyResult) error {
	var body interface{}
	decoded := res.JSON(&body) == nil
	if jsonOutput() {
		out := map[string]interface{}{"status": res.Status}
		if decoded {
			out["body"] = body
		} else if text := res.Text(); text != "" {
			out["body"] = text
		}
		return printJSON(w, out)
	}
	fmt.Fprintf(w, "HTTP %d\n", res.Status)
	if decoded {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, res.Body, "", "  "); err == nil {
			fmt.Fprintln(w, pretty.String())
			return nil
		}
	}
	if text := res.Text(); text != "" {
		fmt.Fprintln(w, text)
	}
	return nil
}

var appFilesCmd = &cobra.Command{
	Use:   "files <app>",
	Short: "List the files an app knows about",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx := commandContext(cmd)
		app := args[0]
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = instanceDirHint(ctx, client, app)
		}
		files, source, err := client.ListFiles(ctx, app, dir)
		if err != nil {
			exitWithError(cmd, fmt.Errorf("%s: %w", app, err))
			return
		}
		if err := writeOutput(cmd, files); err != nil {
			exitWithError(cmd, err)
			return
		}
		if jsonOutput() {
			return
		}
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintf(tw, "NAME\tHASH\n")
		for _, f := range files {
			fmt.Fprintf(tw, "%s\t%s\n", f.Name, orDash(f.Hash))
		}
		flushTable(tw)
		fmt.Fprintf(cmd.OutOrStdout(), "%d files from %s\n", len(files), source)
	},
}

// instanceDirHint looks for a storage directory in the metadata of the app's
// instances. Lookup failures leave the hint empty.
func instanceDirHint(ctx context.Context, client *apiclient.Client, app string) string {
	list, err := client.Instances(ctx)
	if err != nil {
		return ""
	}
	for _, inst := range list {
		if inst.Service != app {
			continue
		}
		if hint := apiclient.DirHint(inst.Meta); hint != "" {
			return hint
		}
	}
	return ""
}

func init() {
	appFilesCmd.Flags().String("dir", "", "Directory hint passed to the listing endpoint (defaults to instance metadata)")

	appCmd.AddCommand(
		proxyCommand("health <app>", "Show the app's health", cobra.ExactArgs(1),
			func(ctx context.Context, c *apiclient.Client, app string, _ []string) (*apiclient.ProxyResult, error) {
				return c.Health(ctx, app)
			}),
		proxyCommand("info <app>", "Show the app's build info", cobra.ExactArgs(1),
			func(ctx context.Context, c *apiclient.Client, app string, _ []string) (*apiclient.ProxyResult, error) {
				return c.Info(ctx, app)
			}),
		proxyCommand("metrics <app>", "Show the app's metrics index", cobra.ExactArgs(1),
			func(ctx context.Context, c *apiclient.Client, app string, _ []string) (*apiclient.ProxyResult, error) {
				return c.ActuatorMetrics(ctx, app)
			}),
		proxyCommand("start <app>", "Start processing", cobra.ExactArgs(1),
			func(ctx context.Context, c *apiclient.Client, app string, _ []string) (*apiclient.ProxyResult, error) {
				return c.StartProcessing(ctx, app)
			}),
		proxyCommand("stop <app>", "Stop processing", cobra.ExactArgs(1),
			func(ctx context.Context, c *apiclient.Client, app string, _ []string) (*apiclient.ProxyResult, error) {
				return c.StopProcessing(ctx, app)
			}),
		proxyCommand("toggle <app>", "Toggle processing", cobra.ExactArgs(1),
			func(ctx context.Context, c *apiclient.Client, app string, _ []string) (*apiclient.ProxyResult, error) {
				return c.ToggleProcessing(ctx, app)
			}),
		proxyCommand("upload <app> <file>", "Upload a file for ingestion", cobra.ExactArgs(2),
			func(ctx context.Context, c *apiclient.Client, app string, rest []string) (*apiclient.ProxyResult, error) {
				return c.UploadFile(ctx, app, rest[0])
			}),
		proxyCommand("process-now <app> <hash>...", "Process the given files immediately", cobra.MinimumNArgs(2),
			func(ctx context.Context, c *apiclient.Client, app string, rest []string) (*apiclient.ProxyResult, error) {
				return c.ProcessNow(ctx, app, rest)
			}),
		proxyCommand("reprocess <app> <hash>...", "Reprocess the given files", cobra.MinimumNArgs(2),
			func(ctx context.Context, c *apiclient.Client, app string, rest []string) (*apiclient.ProxyResult, error) {
				return c.Reprocess(ctx, app, rest)
			}),
		proxyCommand("reprocess-all <app>", "Reprocess every file", cobra.ExactArgs(1),
			func(ctx context.Context, c *apiclient.Client, app string, _ []string) (*apiclient.ProxyResult, error) {
				return c.ReprocessAll(ctx, app)
			}),
		proxyCommand("clear <app>", "Clear the app's processed markers", cobra.ExactArgs(1),
			func(ctx context.Context, c *apiclient.Client, app string, _ []string) (*apiclient.ProxyResult, error) {
				return c.ClearFlags(ctx, app)
			}),
		appFilesCmd,
	)
}
