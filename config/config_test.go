package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STATE_PATH", "/tmp/ragmon-state")
	t.Setenv("DATASTORE_DRIVER", "")
	t.Setenv("DATASTORE_DSN", "")
	t.Setenv("RAGMON_CONFIG_FILE", "")

	cfg := Load()
	if cfg.ServerPort != "8080" || cfg.RetentionWindow != 600*time.Second || cfg.HeartbeatInterval != 10*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ActivityWindow != 30*time.Second || cfg.OfflineWindow != 120*time.Second || cfg.InstancesInterval != 5*time.Second {
		t.Fatalf("unexpected instance windows %+v", cfg)
	}
	if cfg.DataStoreDSN != filepath.Join("/tmp/ragmon-state", "ragmon.db") {
		t.Fatalf("unexpected default dsn %s", cfg.DataStoreDSN)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("RAGMON_DEV_MODE", "yes")
	t.Setenv("RETENTION_WINDOW", "5m")
	t.Setenv("DEFAULT_APP_PORT", "not-a-number")
	t.Setenv("DATASTORE_DRIVER", "postgres")
	t.Setenv("DATASTORE_DSN", "")
	t.Setenv("POSTGRES_DSN", "postgres://ragmon@db/ragmon")
	t.Setenv("RAGMON_CONFIG_FILE", "")

	cfg := Load()
	if cfg.ServerPort != "9999" || !cfg.DevMode || cfg.RetentionWindow != 5*time.Minute {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.DefaultAppPort != 8080 {
		t.Fatalf("invalid ints must fall back, got %d", cfg.DefaultAppPort)
	}
	if cfg.DataStoreDSN != "postgres://ragmon@db/ragmon" {
		t.Fatalf("expected POSTGRES_DSN fallback, got %s", cfg.DataStoreDSN)
	}
}

func TestConfigFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragmon.yaml")
	data := []byte("serverPort: \"7070\"\nretentionWindow: 2m\nallowAnonymousRead: true\nnatsURL: nats://nats:4222\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RAGMON_CONFIG_FILE", path)
	t.Setenv("SERVER_PORT", "9999")

	cfg := Load()
	if cfg.ServerPort != "7070" || cfg.RetentionWindow != 2*time.Minute || !cfg.AllowAnonymousRead {
		t.Fatalf("overlay not applied %+v", cfg)
	}
	if cfg.NATSURL != "nats://nats:4222" || cfg.HeartbeatInterval != 10*time.Second {
		t.Fatalf("unexpected overlay result %+v", cfg)
	}
}

func TestApplyFileRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("retentionWindow: soon\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := cfg.ApplyFile(bad); err == nil {
		t.Fatalf("expected duration error")
	}

	unknown := filepath.Join(dir, "unknown.yaml")
	if err := os.WriteFile(unknown, []byte("nope: 1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := cfg.ApplyFile(unknown); err == nil {
		t.Fatalf("expected unknown field error")
	}
}
