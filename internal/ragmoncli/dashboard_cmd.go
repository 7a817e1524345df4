package ragmoncli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/oremus-labs/ragmon/internal/dashboard"
	"github.com/oremus-labs/ragmon/internal/events"
	"github.com/oremus-labs/ragmon/internal/stream"
)

// dashboardView is the JSON shape of one dashboard refresh.
type dashboardView struct {
	Summary   dashboard.Summary    `json:"summary"`
	Latest    []events.StreamEvent `json:"latest"`
	Connected *bool                `json:"connected,omitempty"`
	Reason    string               `json:"reason,omitempty"`
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Print summary figures as events arrive",
	Run: func(cmd *cobra.Command, args []string) {
		client, cctx, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		once, _ := cmd.Flags().GetBool("once")
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = 2 * time.Second
		}
		ctx := commandContext(cmd)
		out := cmd.OutOrStdout()

		history, err := client.RecentEvents(ctx)
		if once {
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			if err := renderDashboard(out, history, nil, time.Now()); err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		if err != nil {
			printErrorLine("warning: could not load recent events: %v", err)
		}

		manager := streamManager(false)
		defer manager.StopAll()
		changed := make(chan struct{}, 1)
		adapter := stream.Mount(manager, client.StreamURL(), stream.AdapterOptions{
			Credentials: cctx.credentials(),
			OnChange: func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			},
		})
		defer adapter.Unmount()
		adapter.Seed(history)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		dirty := true
		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
				dirty = true
			case <-ticker.C:
				if !dirty {
					continue
				}
				dirty = false
				status := adapter.Status()
				if err := renderDashboard(out, adapter.Events(), &status, time.Now()); err != nil {
					exitWithError(cmd, err)
					return
				}
			}
		}
	},
}

func renderDashboard(w io.Writer, evts []events.StreamEvent, status *stream.Status, now time.Time) error {
	view := dashboardView{
		Summary: dashboard.Summarize(evts),
		Latest:  dashboard.LatestByApp(evts),
	}
	if status != nil {
		connected := status.Connected
		view.Connected = &connected
		if !connected {
			view.Reason = status.Reason.String()
		}
	}
	if jsonOutput() {
		return printJSON(w, view)
	}

	fmt.Fprintf(w, "--- %s", now.Format(time.RFC3339))
	if view.Connected != nil {
		if *view.Connected {
			fmt.Fprint(w, "  live")
		} else {
			fmt.Fprintf(w, "  offline (%s)", view.Reason)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Events: %d  Errors: %d  Processing: %d  Active apps: %d\n",
		view.Summary.Total, view.Summary.Errors, view.Summary.Processing, view.Summary.ActiveApps)
	if len(view.Latest) == 0 {
		return nil
	}
	tw := newTable(w)
	fmt.Fprintf(tw, "APP\tSTATUS\tSTAGE\tFILES\tLAST SEEN\tCONTROLS\n")
	for _, evt := range view.Latest {
		controls := "-"
		if dashboard.ControlsEnabled(evt) {
			controls = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			evt.App,
			orDash(evt.Status),
			orDash(evt.Stage),
			fileProgress(evt),
			relativeTime(evt.Time(), now),
			controls,
		)
	}
	flushTable(tw)
	return nil
}

func fileProgress(evt events.StreamEvent) string {
	switch {
	case evt.FilesProcessed != nil && evt.FilesTotal != nil:
		return fmt.Sprintf("%d/%d", *evt.FilesProcessed, *evt.FilesTotal)
	case evt.FilesProcessed != nil:
		return fmt.Sprintf("%d", *evt.FilesProcessed)
	}
	return "-"
}

func init() {
	dashboardCmd.Flags().Bool("once", false, "Print the retained snapshot once and exit")
	dashboardCmd.Flags().Duration("interval", 2*time.Second, "Minimum time between refreshes")
}
