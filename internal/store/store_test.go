package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/oremus-labs/ragmon/internal/events"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "state", "ragmon.db")
	s, err := Open(dsn, DriverSQLite)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestStoreEvents(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i := 0; i < 5; i++ {
		evt := events.StreamEvent{
			Timestamp:  base.Add(time.Duration(i) * time.Minute).UnixMilli(),
			App:        "ingest",
			Status:     "RUNNING",
			ErrorCount: events.Int64(int64(i)),
		}
		if err := s.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	recent, err := s.RecentEvents(ctx, base.Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 events got %d", len(recent))
	}
	if recent[0].Timestamp >= recent[2].Timestamp {
		t.Fatalf("expected oldest first")
	}
	if recent[2].ErrorCount == nil || *recent[2].ErrorCount != 4 {
		t.Fatalf("expected telemetry to round-trip, got %+v", recent[2])
	}

	limited, err := s.RecentEvents(ctx, base, 2)
	if err != nil {
		t.Fatalf("RecentEvents limit: %v", err)
	}
	if len(limited) != 2 || *limited[1].ErrorCount != 4 {
		t.Fatalf("expected the 2 newest events, got %+v", limited)
	}

	removed, err := s.PruneBefore(ctx, base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 pruned got %d", removed)
	}
}

func TestStoreCommands(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	for _, entry := range []*CommandEntry{
		{App: "ingest", Method: "POST", Path: "/api/processing/start", Status: 200, DurationMs: 12},
		{App: "embed", Method: "GET", Path: "/actuator/health", Status: 503, DurationMs: 4, RequestID: "req-1"},
		{App: "ingest", Method: "POST", Path: "/api/processing/stop", Status: 200, DurationMs: 9},
	} {
		if err := s.AppendCommand(ctx, entry); err != nil {
			t.Fatalf("AppendCommand: %v", err)
		}
	}

	all, err := s.ListCommands(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListCommands: %v", err)
	}
	if len(all) != 3 || all[0].Path != "/api/processing/stop" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	ingest, err := s.ListCommands(ctx, "ingest", 1)
	if err != nil {
		t.Fatalf("ListCommands app: %v", err)
	}
	if len(ingest) != 1 || ingest[0].App != "ingest" {
		t.Fatalf("unexpected filtered commands %+v", ingest)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open("x", "mysql"); !errors.Is(err, ErrUnsupportedDriver) {
		t.Fatalf("expected ErrUnsupportedDriver got %v", err)
	}
	if _, err := Open(" ", DriverSQLite); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestRebindForPostgres(t *testing.T) {
	t.Parallel()

	s := &Store{driver: DriverPostgres}
	if got := s.rebind(`SELECT * FROM t WHERE a = ? AND b = ?`); got != `SELECT * FROM t WHERE a = $1 AND b = $2` {
		t.Fatalf("unexpected rebind %q", got)
	}
	s.driver = DriverSQLite
	if got := s.rebind(`a = ?`); got != `a = ?` {
		t.Fatalf("sqlite query must be untouched, got %q", got)
	}
}
