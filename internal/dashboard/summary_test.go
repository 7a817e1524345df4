package dashboard

import (
	"testing"

	"github.com/oremus-labs/ragmon/internal/events"
	"github.com/oremus-labs/ragmon/internal/monitor"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	summary := Summarize([]events.StreamEvent{
		{App: "A", Status: "OK", Timestamp: 100},
		{App: "B", Status: "ERROR", Timestamp: 200},
		{App: "B", Status: "running"},
		{App: "C", Status: "Processing"},
		{App: "C"},
	})
	if summary.Total != 5 || summary.Errors != 1 || summary.Processing != 2 || summary.ActiveApps != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if empty := Summarize(nil); empty != (Summary{}) {
		t.Fatalf("expected zero summary got %+v", empty)
	}
}

func TestLatestByApp(t *testing.T) {
	t.Parallel()

	latest := LatestByApp([]events.StreamEvent{
		{App: "b", Timestamp: 5, Status: "old"},
		{App: "a", Timestamp: 1},
		{App: "b", Timestamp: 9, Status: "new"},
		{App: "b", Timestamp: 7, Status: "late"},
		{Timestamp: 10},
	})
	if len(latest) != 2 || latest[0].App != "a" || latest[1].Status != "new" {
		t.Fatalf("unexpected latest %+v", latest)
	}
}

func TestControlsEnabled(t *testing.T) {
	t.Parallel()

	cases := []struct {
		evt  events.StreamEvent
		want bool
	}{
		{events.StreamEvent{URL: "http://a", Status: "running"}, true},
		{events.StreamEvent{URL: "http://a", Status: "IDLE"}, true},
		{events.StreamEvent{URL: "http://a", Status: "ERROR"}, false},
		{events.StreamEvent{Status: "RUNNING"}, false},
	}
	for i, tc := range cases {
		if got := ControlsEnabled(tc.evt); got != tc.want {
			t.Fatalf("case %d: expected %v got %v", i, tc.want, got)
		}
	}
}

func TestSummarizeInstances(t *testing.T) {
	t.Parallel()

	summary := SummarizeInstances([]monitor.Instance{
		{Service: "ingest", InstanceID: "1", Status: "RUNNING"},
		{Service: "ingest", InstanceID: "2", Status: "ERROR"},
		{Service: "embed", InstanceID: "1", Status: "PROCESSING"},
		{Service: "embed", InstanceID: "2", Status: "OFFLINE"},
	})
	if summary.Total != 4 || summary.Active != 2 || summary.Errors != 1 || summary.Offline != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	services := summary.Services()
	if len(services) != 2 || services[0] != "embed" || len(summary.ByService["ingest"]) != 2 {
		t.Fatalf("unexpected grouping %v", services)
	}
}
