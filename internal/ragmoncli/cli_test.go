package ragmoncli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oremus-labs/ragmon/internal/events"
	"github.com/oremus-labs/ragmon/internal/monitor"
	"github.com/oremus-labs/ragmon/internal/stream"
)

// runCLI executes the root command with args and returns stdout and stderr.
// Commands share package state, so callers must not run in parallel.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	appConfig = nil
	failed = false
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		outputFormat = "table"
	})
	err := Execute()
	return stdout.String(), stderr.String(), err
}

type fakeAPI struct {
	*httptest.Server
	bodies chan string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{bodies: make(chan string, 4)}
	api.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/apps":
			_, _ = w.Write([]byte(`{"ingest":"http://ingest:8080","embed":"http://embed:8080"}`))
		case "/api/instances":
			_, _ = w.Write([]byte(`[{"service":"ingest","instanceId":"0","status":"RUNNING","meta":{"localStoragePath":"/data/in"}}]`))
		case "/api/commands":
			_, _ = w.Write([]byte(`{"commands":[{"id":1,"app":"ingest","method":"POST","path":"/api/processing/start","status":202,"durationMs":12,"createdAt":"2024-05-01T12:00:00Z"}]}`))
		case "/api/proxy/ingest/api/process-now":
			data, _ := io.ReadAll(r.Body)
			api.bodies <- string(data)
			_, _ = w.Write([]byte(`{"queued":2}`))
		case "/api/proxy/ingest/actuator/health":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"DOWN"}`))
		case "/api/proxy/ingest/api/files":
			if r.URL.Query().Get("dir") != "/data/in" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(`[{"url":"http://files/policies/a.pdf","fileHash":"h1"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(api.Close)
	return api
}

func TestAppsCommandJSON(t *testing.T) {
	api := newFakeAPI(t)
	cfg := filepath.Join(t.TempDir(), "config.yaml")

	out, _, err := runCLI(t, "apps", "--config", cfg, "--server", api.URL, "-o", "json")
	if err != nil {
		t.Fatalf("apps: %v", err)
	}
	var apps map[string]string
	if err := json.Unmarshal([]byte(out), &apps); err != nil || apps["embed"] != "http://embed:8080" {
		t.Fatalf("unexpected output %q (%v)", out, err)
	}
}

func TestMissingContextFails(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "config.yaml")
	_, stderr, err := runCLI(t, "apps", "--config", cfg, "--server", "", "-o", "table")
	if !errors.Is(err, errCommandFailed) || !strings.Contains(stderr, "set-context") {
		t.Fatalf("expected context error, got %v %q", err, stderr)
	}
}

func TestAppProcessNowForwardsHashes(t *testing.T) {
	api := newFakeAPI(t)
	cfg := filepath.Join(t.TempDir(), "config.yaml")

	out, stderr, err := runCLI(t, "app", "process-now", "ingest", "h1", "h2", "--config", cfg, "--server", api.URL, "-o", "table")
	if err != nil {
		t.Fatalf("process-now: %v %s", err, stderr)
	}
	if !strings.Contains(out, "HTTP 200") || !strings.Contains(out, `"queued": 2`) {
		t.Fatalf("unexpected output %q", out)
	}
	select {
	case body := <-api.bodies:
		if body != `{"fileHashes":["h1","h2"]}` {
			t.Fatalf("unexpected body %s", body)
		}
	case <-time.After(time.Second):
		t.Fatalf("no body received")
	}
}

func TestAppCommandFailsOnDownstreamError(t *testing.T) {
	api := newFakeAPI(t)
	cfg := filepath.Join(t.TempDir(), "config.yaml")

	out, stderr, err := runCLI(t, "app", "health", "ingest", "--config", cfg, "--server", api.URL, "-o", "table")
	if !errors.Is(err, errCommandFailed) {
		t.Fatalf("expected failure, got %v", err)
	}
	if !strings.Contains(out, "HTTP 503") || !strings.Contains(stderr, "ingest answered 503") {
		t.Fatalf("unexpected output %q / %q", out, stderr)
	}
}

func TestAppFilesUsesInstanceDirHint(t *testing.T) {
	api := newFakeAPI(t)
	cfg := filepath.Join(t.TempDir(), "config.yaml")

	out, stderr, err := runCLI(t, "app", "files", "ingest", "--config", cfg, "--server", api.URL, "-o", "table")
	if err != nil {
		t.Fatalf("files: %v %s", err, stderr)
	}
	if !strings.Contains(out, "a.pdf") || !strings.Contains(out, "h1") || !strings.Contains(out, "1 files from /api/files?dir=%2Fdata%2Fin") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCommandsListing(t *testing.T) {
	api := newFakeAPI(t)
	cfg := filepath.Join(t.TempDir(), "config.yaml")

	out, _, err := runCLI(t, "commands", "--config", cfg, "--server", api.URL, "-o", "table")
	if err != nil {
		t.Fatalf("commands: %v", err)
	}
	if !strings.Contains(out, "/api/processing/start") || !strings.Contains(out, "12ms") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestConfigContextsRoundTrip(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "ragmon", "config.yaml")

	if _, _, err := runCLI(t, "config", "set-context", "prod", "--config", cfg, "--server", "https://ragmon.prod", "--token", "abc"); err != nil {
		t.Fatalf("set-context prod: %v", err)
	}
	if _, _, err := runCLI(t, "config", "set-context", "dev", "--config", cfg, "--server", "http://localhost:8080", "--current=false"); err != nil {
		t.Fatalf("set-context dev: %v", err)
	}
	out, _, err := runCLI(t, "config", "view", "--config", cfg, "-o", "table")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !strings.Contains(out, "* prod (https://ragmon.prod)") || !strings.Contains(out, "  dev (http://localhost:8080)") {
		t.Fatalf("unexpected view %q", out)
	}
	if _, _, err := runCLI(t, "config", "use-context", "dev", "--config", cfg); err != nil {
		t.Fatalf("use-context: %v", err)
	}
	loaded, err := LoadConfig(cfg)
	if err != nil || loaded.CurrentContext != "dev" || loaded.Contexts["prod"].Token != "abc" {
		t.Fatalf("unexpected config %+v %v", loaded, err)
	}
	if _, _, err := runCLI(t, "config", "use-context", "missing", "--config", cfg); !errors.Is(err, errCommandFailed) {
		t.Fatalf("expected unknown context to fail, got %v", err)
	}
}

func TestRenderDashboard(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	evts := []events.StreamEvent{
		{Timestamp: now.Add(-time.Minute).UnixMilli(), App: "ingest", Status: "IDLE", URL: "http://ingest:8080"},
		{Timestamp: now.Add(-10 * time.Second).UnixMilli(), App: "ingest", Status: "PROCESSING", URL: "http://ingest:8080", FilesProcessed: events.Int64(3), FilesTotal: events.Int64(9)},
		{Timestamp: now.UnixMilli(), App: "embed", Status: "error"},
	}

	var buf bytes.Buffer
	if err := renderDashboard(&buf, evts, &stream.Status{Reason: stream.ReasonDisconnected}, now); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"offline (disconnected)", "Events: 3  Errors: 1  Processing: 1  Active apps: 2", "3/9", "10s ago"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, "embed") > strings.Index(out, "ingest") {
		t.Fatalf("expected apps sorted by name:\n%s", out)
	}

	outputFormat = "json"
	t.Cleanup(func() { outputFormat = "table" })
	buf.Reset()
	if err := renderDashboard(&buf, evts, nil, now); err != nil {
		t.Fatalf("render json: %v", err)
	}
	var view dashboardView
	if err := json.Unmarshal(buf.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Connected != nil || len(view.Latest) != 2 || view.Latest[1].Status != "PROCESSING" {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestPrintInstances(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	list := []monitor.Instance{
		{Service: "ingest", InstanceID: "1", Status: monitor.StatusOffline, LastHeartbeatAt: now.Add(-3 * time.Minute).UnixMilli()},
		{Service: "embed", InstanceID: "0", Status: monitor.StatusRunning, LastHeartbeatAt: now.Add(-5 * time.Second).UnixMilli(), Version: "1.2.0"},
	}
	var buf bytes.Buffer
	printInstances(&buf, list, now)
	out := buf.String()
	if !strings.Contains(out, "2 instances: 1 active, 0 errors, 1 offline") {
		t.Fatalf("unexpected summary:\n%s", out)
	}
	if !strings.Contains(out, "3m ago") || !strings.Contains(out, "1.2.0") {
		t.Fatalf("unexpected rows:\n%s", out)
	}
}
