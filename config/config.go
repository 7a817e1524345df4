// Package config provides application configuration management.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"sigs.k8s.io/yaml"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	ServerPort         string
	DevMode            bool
	APIToken           string
	AllowAnonymousRead bool

	// Monitoring windows
	RetentionWindow   time.Duration
	HeartbeatInterval time.Duration
	InstancesInterval time.Duration
	PruneInterval     time.Duration
	ActivityWindow    time.Duration
	OfflineWindow     time.Duration
	DefaultAppPort    int
	ProxyTimeout      time.Duration

	// Persistence configuration
	StatePath       string
	DataStoreDriver string
	DataStoreDSN    string
	HistoryLimit    int
	HistoryMaxAge   time.Duration

	// Redis / events configuration
	RedisAddr        string
	RedisUsername    string
	RedisPassword    string
	RedisDB          int
	RedisTLSEnabled  bool
	RedisTLSInsecure bool
	EventsChannel    string
	IngestStream     string
	IngestGroup      string

	// NATS ingestion
	NATSURL     string
	NATSSubject string
	NATSQueue   string
}

// overlay mirrors Config for the YAML file; durations are strings there.
type overlay struct {
	ServerPort         *string `json:"serverPort"`
	DevMode            *bool   `json:"devMode"`
	AllowAnonymousRead *bool   `json:"allowAnonymousRead"`
	RetentionWindow    *string `json:"retentionWindow"`
	HeartbeatInterval  *string `json:"heartbeatInterval"`
	InstancesInterval  *string `json:"instancesInterval"`
	PruneInterval      *string `json:"pruneInterval"`
	ActivityWindow     *string `json:"activityWindow"`
	OfflineWindow      *string `json:"offlineWindow"`
	DefaultAppPort     *int    `json:"defaultAppPort"`
	ProxyTimeout       *string `json:"proxyTimeout"`
	DataStoreDriver    *string `json:"dataStoreDriver"`
	DataStoreDSN       *string `json:"dataStoreDSN"`
	HistoryLimit       *int    `json:"historyLimit"`
	HistoryMaxAge      *string `json:"historyMaxAge"`
	RedisAddr          *string `json:"redisAddr"`
	RedisDB            *int    `json:"redisDB"`
	EventsChannel      *string `json:"eventsChannel"`
	IngestStream       *string `json:"ingestStream"`
	IngestGroup        *string `json:"ingestGroup"`
	NATSURL            *string `json:"natsURL"`
	NATSSubject        *string `json:"natsSubject"`
	NATSQueue          *string `json:"natsQueue"`
}

// Load loads configuration from a .env file (when present), environment
// variables with defaults, and the optional RAGMON_CONFIG_FILE overlay.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to load .env: %v", err)
	}

	statePath := getEnv("STATE_PATH", "/app/state")
	dataStoreDriver := getEnv("DATASTORE_DRIVER", "sqlite")
	dataStoreDSN := getEnv("DATASTORE_DSN", "")
	if dataStoreDSN == "" && dataStoreDriver == "sqlite" {
		dataStoreDSN = filepath.Join(statePath, "ragmon.db")
	}
	if dataStoreDriver == "postgres" && dataStoreDSN == "" {
		dataStoreDSN = os.Getenv("POSTGRES_DSN")
	}

	cfg := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		DevMode:            getEnvBool("RAGMON_DEV_MODE", false),
		APIToken:           os.Getenv("RAGMON_API_TOKEN"),
		AllowAnonymousRead: getEnvBool("RAGMON_ALLOW_ANONYMOUS_READ", false),
		RetentionWindow:    getEnvDuration("RETENTION_WINDOW", 600*time.Second),
		HeartbeatInterval:  getEnvDuration("STREAM_HEARTBEAT_INTERVAL", 10*time.Second),
		InstancesInterval:  getEnvDuration("INSTANCES_PUSH_INTERVAL", 5*time.Second),
		PruneInterval:      getEnvDuration("PRUNE_INTERVAL", 30*time.Second),
		ActivityWindow:     getEnvDuration("INSTANCE_ACTIVITY_WINDOW", 30*time.Second),
		OfflineWindow:      getEnvDuration("INSTANCE_OFFLINE_WINDOW", 120*time.Second),
		DefaultAppPort:     getEnvInt("DEFAULT_APP_PORT", 8080),
		ProxyTimeout:       getEnvDuration("PROXY_TIMEOUT", 30*time.Second),
		StatePath:          statePath,
		DataStoreDriver:    dataStoreDriver,
		DataStoreDSN:       dataStoreDSN,
		HistoryLimit:       getEnvInt("HISTORY_LIMIT", 1000),
		HistoryMaxAge:      getEnvDuration("HISTORY_MAX_AGE", 24*time.Hour),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisUsername:      getEnv("REDIS_USERNAME", ""),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		RedisTLSEnabled:    getEnvBool("REDIS_TLS_ENABLED", false),
		RedisTLSInsecure:   getEnvBool("REDIS_TLS_INSECURE_SKIP_VERIFY", false),
		EventsChannel:      getEnv("EVENTS_CHANNEL", "ragmon-events"),
		IngestStream:       getEnv("INGEST_STREAM", "ragmon.monitor"),
		IngestGroup:        getEnv("INGEST_GROUP", "ragmon"),
		NATSURL:            getEnv("NATS_URL", ""),
		NATSSubject:        getEnv("NATS_SUBJECT", "ragmon.monitor"),
		NATSQueue:          getEnv("NATS_QUEUE", "ragmon"),
	}

	if path := os.Getenv("RAGMON_CONFIG_FILE"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			log.Printf("Failed to apply config file %s: %v", path, err)
		}
	}
	return cfg
}

// ApplyFile overlays values from a YAML file onto cfg. Fields absent from the
// file keep their current values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var o overlay
	if err := yaml.UnmarshalStrict(data, &o); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setString(&c.ServerPort, o.ServerPort)
	setBool(&c.DevMode, o.DevMode)
	setBool(&c.AllowAnonymousRead, o.AllowAnonymousRead)
	setInt(&c.DefaultAppPort, o.DefaultAppPort)
	setString(&c.DataStoreDriver, o.DataStoreDriver)
	setString(&c.DataStoreDSN, o.DataStoreDSN)
	setInt(&c.HistoryLimit, o.HistoryLimit)
	setString(&c.RedisAddr, o.RedisAddr)
	setInt(&c.RedisDB, o.RedisDB)
	setString(&c.EventsChannel, o.EventsChannel)
	setString(&c.IngestStream, o.IngestStream)
	setString(&c.IngestGroup, o.IngestGroup)
	setString(&c.NATSURL, o.NATSURL)
	setString(&c.NATSSubject, o.NATSSubject)
	setString(&c.NATSQueue, o.NATSQueue)

	durations := []struct {
		name  string
		dst   *time.Duration
		value *string
	}{
		{"retentionWindow", &c.RetentionWindow, o.RetentionWindow},
		{"heartbeatInterval", &c.HeartbeatInterval, o.HeartbeatInterval},
		{"instancesInterval", &c.InstancesInterval, o.InstancesInterval},
		{"pruneInterval", &c.PruneInterval, o.PruneInterval},
		{"activityWindow", &c.ActivityWindow, o.ActivityWindow},
		{"offlineWindow", &c.OfflineWindow, o.OfflineWindow},
		{"proxyTimeout", &c.ProxyTimeout, o.ProxyTimeout},
		{"historyMaxAge", &c.HistoryMaxAge, o.HistoryMaxAge},
	}
	for _, d := range durations {
		if d.value == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s: %s, using default %s", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		log.Printf("Invalid int for %s: %s, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		default:
			log.Printf("Invalid bool for %s: %s, using default %t", key, value, defaultValue)
		}
	}
	return defaultValue
}
