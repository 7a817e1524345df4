// Package dashboard derives the summary figures shown by the terminal views.
package dashboard

import (
	"sort"
	"strings"

	"github.com/oremus-labs/ragmon/internal/events"
	"github.com/oremus-labs/ragmon/internal/monitor"
)

// Summary is the headline view over buffered events.
type Summary struct {
	Total      int `json:"total"`
	Errors     int `json:"errors"`
	Processing int `json:"processing"`
	ActiveApps int `json:"activeApps"`
}

// Summarize counts events by status. Status comparison ignores case.
func Summarize(evts []events.StreamEvent) Summary {
	apps := make(map[string]struct{})
	summary := Summary{Total: len(evts)}
	for _, evt := range evts {
		switch strings.ToLower(evt.Status) {
		case "error":
			summary.Errors++
		case "processing", "running":
			summary.Processing++
		}
		apps[evt.App] = struct{}{}
	}
	summary.ActiveApps = len(apps)
	return summary
}

// LatestByApp returns the newest event per app, sorted by app name.
func LatestByApp(evts []events.StreamEvent) []events.StreamEvent {
	latest := make(map[string]events.StreamEvent)
	for _, evt := range evts {
		if evt.App == "" {
			continue
		}
		if cur, ok := latest[evt.App]; !ok || evt.Timestamp >= cur.Timestamp {
			latest[evt.App] = evt
		}
	}
	out := make([]events.StreamEvent, 0, len(latest))
	for _, evt := range latest {
		out = append(out, evt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].App < out[j].App })
	return out
}

// ControlsEnabled reports whether commands can be sent to the app behind evt.
func ControlsEnabled(evt events.StreamEvent) bool {
	if evt.URL == "" {
		return false
	}
	switch strings.ToUpper(evt.Status) {
	case "RUNNING", "PROCESSING", "IDLE":
		return true
	}
	return false
}

// InstanceSummary counts instances by derived status.
type InstanceSummary struct {
	Total     int                           `json:"total"`
	Active    int                           `json:"active"`
	Errors    int                           `json:"errors"`
	Offline   int                           `json:"offline"`
	ByService map[string][]monitor.Instance `json:"byService"`
}

// SummarizeInstances groups instances by service and counts them by status.
func SummarizeInstances(instances []monitor.Instance) InstanceSummary {
	summary := InstanceSummary{
		Total:     len(instances),
		ByService: make(map[string][]monitor.Instance),
	}
	for _, inst := range instances {
		switch inst.Status {
		case "PROCESSING", monitor.StatusRunning:
			summary.Active++
		case "ERROR":
			summary.Errors++
		case monitor.StatusOffline:
			summary.Offline++
		}
		summary.ByService[inst.Service] = append(summary.ByService[inst.Service], inst)
	}
	return summary
}

// Services returns the service names of s in sorted order.
func (s InstanceSummary) Services() []string {
	names := make([]string, 0, len(s.ByService))
	for name := range s.ByService {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
