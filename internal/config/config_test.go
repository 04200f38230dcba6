package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Tick() != 30*time.Second {
		t.Fatalf("expected 30s tick, got %v", cfg.Tick())
	}
	if cfg.FetchTimeout() != 20*time.Second || cfg.BackoffDelay() != 10*time.Minute {
		t.Fatalf("unexpected crawl defaults: %+v", cfg.Crawl)
	}
	if cfg.Ledger.TailSize != 999 || cfg.Ledger.Backend != BackendMemory {
		t.Fatalf("unexpected ledger defaults: %+v", cfg.Ledger)
	}
	if cfg.DB.Driver != BackendMemory || cfg.Archive.Backend != BackendNone {
		t.Fatalf("unexpected storage defaults: db=%+v archive=%+v", cfg.DB, cfg.Archive)
	}
	if cfg.Crawl.MinCommentLength != 3 {
		t.Fatalf("expected min comment length 3, got %d", cfg.Crawl.MinCommentLength)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  auth:
    enabled: true
    api_key: secret
logging:
  development: false
  level: debug
scheduler:
  tick_seconds: 15
  projects: ["alpha", "beta"]
  run_on_start: false
crawl:
  fetch_timeout_seconds: 5
  backoff_minutes: 3
ledger:
  backend: redis
  tail_size: 100
redis:
  addr: localhost:6379
  ttl_hours: 24
db:
  driver: postgres
  dsn: postgres://localhost/terra
archive:
  backend: gcs
  gcs_bucket: raw-bucket
alerts:
  pubsub_project_id: gcp-proj
  pubsub_topic: crawl-alerts
sources:
  USGS:
    interval_seconds: 600
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 || !cfg.Server.Auth.Enabled || cfg.Server.Auth.APIKey != "secret" {
		t.Fatalf("expected server overrides to apply: %+v", cfg.Server)
	}
	if cfg.Tick() != 15*time.Second || len(cfg.Scheduler.Projects) != 2 || cfg.Scheduler.RunOnStart {
		t.Fatalf("expected scheduler overrides to apply: %+v", cfg.Scheduler)
	}
	if cfg.BackoffDelay() != 3*time.Minute {
		t.Fatalf("expected 3m backoff, got %v", cfg.BackoffDelay())
	}
	if cfg.RedisTTL() != 24*time.Hour {
		t.Fatalf("expected 24h ttl, got %v", cfg.RedisTTL())
	}
	if got := cfg.Sources["usgs"].IntervalSeconds; got != 600 {
		t.Fatalf("expected usgs override 600, got %d", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TERRA_SERVER_PORT", "7070")
	t.Setenv("TERRA_DB_DRIVER", "postgres")
	t.Setenv("TERRA_DB_DSN", "postgres://env/terra")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.DB.DSN != "postgres://env/terra" {
		t.Fatalf("expected env dsn, got %q", cfg.DB.DSN)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Server.Auth.Enabled = true }, "server.auth.api_key"},
		{"invalid tick", func(c *Config) { c.Scheduler.TickSeconds = 0 }, "scheduler.tick_seconds"},
		{"invalid concurrency", func(c *Config) { c.Scheduler.MaxConcurrentProjects = 0 }, "scheduler.max_concurrent_projects"},
		{"invalid timeout", func(c *Config) { c.Crawl.FetchTimeoutSeconds = 0 }, "crawl.fetch_timeout_seconds"},
		{"invalid backoff", func(c *Config) { c.Crawl.BackoffMinutes = 0 }, "crawl.backoff_minutes"},
		{"invalid tail", func(c *Config) { c.Ledger.TailSize = 0 }, "ledger.tail_size"},
		{"redis without addr", func(c *Config) { c.Ledger.Backend = BackendRedis }, "redis.addr"},
		{"unknown ledger backend", func(c *Config) { c.Ledger.Backend = "kafka" }, "ledger.backend"},
		{"postgres without dsn", func(c *Config) { c.DB.Driver = BackendPostgres }, "db.dsn"},
		{"unknown db driver", func(c *Config) { c.DB.Driver = "sqlite" }, "db.driver"},
		{"local archive without dir", func(c *Config) { c.Archive.Backend = BackendLocal }, "archive.base_dir"},
		{"gcs archive without bucket", func(c *Config) { c.Archive.Backend = BackendGCS }, "archive.gcs_bucket"},
		{"topic without project", func(c *Config) { c.Alerts.PubSubTopic = "alerts" }, "alerts.pubsub_project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
