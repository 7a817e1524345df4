package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/oremus-labs/ragmon/internal/events"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnsupportedDriver is returned by Open for unknown drivers.
var ErrUnsupportedDriver = errors.New("unsupported datastore driver")

// CommandEntry records one command forwarded to a monitored app.
type CommandEntry struct {
	ID         int64     `json:"id"`
	App        string    `json:"app"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMs int64     `json:"durationMs"`
	RequestID  string    `json:"requestId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store persists stream events and command history.
type Store struct {
	db     *sql.DB
	driver string
}

// Open initializes the datastore using the supplied DSN/file path and driver.
func Open(dsn string, driver string) (*Store, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("datastore DSN is required")
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create datastore directory: %w", err)
		}
		conn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", dsn)
		db, err = sql.Open("sqlite", conn)
	case DriverPostgres, "pgx":
		driver = DriverPostgres
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s datastore: %w", driver, err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	stmts := []string{`PRAGMA journal_mode=WAL;`}
	if s.driver == DriverPostgres {
		id = "BIGSERIAL PRIMARY KEY"
		stmts = nil
	}
	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS events (
			id `+id+`,
			app TEXT,
			status TEXT,
			event TEXT,
			ts BIGINT NOT NULL,
			payload TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);`,
		`CREATE TABLE IF NOT EXISTS commands (
			id `+id+`,
			app TEXT NOT NULL,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			status INTEGER NOT NULL,
			duration_ms BIGINT NOT NULL,
			request_id TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
	)
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema apply failed: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders for drivers that use numbered parameters.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Driver returns the active driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Close shuts down the datastore.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendEvent persists evt.
func (s *Store) AppendEvent(ctx context.Context, evt events.StreamEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO events (app, status, event, ts, payload) VALUES (?, ?, ?, ?, ?)`),
		evt.App, evt.Status, evt.Event, evt.Timestamp, string(payload))
	return err
}

// RecentEvents returns up to limit events newer than since, oldest first.
func (s *Store) RecentEvents(ctx context.Context, since time.Time, limit int) ([]events.StreamEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT payload FROM events WHERE ts >= ? ORDER BY id DESC LIMIT ?`),
		since.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.StreamEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var evt events.StreamEvent
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			continue
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PruneBefore deletes events older than cutoff and returns how many were removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM events WHERE ts < ?`), cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AppendCommand records a forwarded command.
func (s *Store) AppendCommand(ctx context.Context, entry *CommandEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO commands (app, method, path, status, duration_ms, request_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		entry.App, entry.Method, entry.Path, entry.Status, entry.DurationMs, entry.RequestID, entry.CreatedAt)
	return err
}

// ListCommands returns the most recent commands, newest first. An empty app lists all apps.
func (s *Store) ListCommands(ctx context.Context, app string, limit int) ([]CommandEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, app, method, path, status, duration_ms, request_id, created_at FROM commands`
	args := []interface{}{}
	if app != "" {
		query += ` WHERE app = ?`
		args = append(args, app)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandEntry
	for rows.Next() {
		var (
			entry     CommandEntry
			requestID sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.App, &entry.Method, &entry.Path, &entry.Status, &entry.DurationMs, &requestID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.RequestID = requestID.String
		out = append(out, entry)
	}
	return out, rows.Err()
}
