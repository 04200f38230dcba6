// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/terrasignum-crawler/internal/catalog"
)

// Backend names accepted by the storage sections.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendNone     = "none"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig                `mapstructure:"server"`
	Logging   LoggingConfig               `mapstructure:"logging"`
	Scheduler SchedulerConfig             `mapstructure:"scheduler"`
	Crawl     CrawlConfig                 `mapstructure:"crawl"`
	Ledger    LedgerConfig                `mapstructure:"ledger"`
	Redis     RedisConfig                 `mapstructure:"redis"`
	DB        DBConfig                    `mapstructure:"db"`
	Archive   ArchiveConfig               `mapstructure:"archive"`
	Alerts    AlertsConfig                `mapstructure:"alerts"`
	Sources   map[string]catalog.Override `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Auth AuthConfig `mapstructure:"auth"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SchedulerConfig drives the tick loop.
type SchedulerConfig struct {
	TickSeconds           int      `mapstructure:"tick_seconds"`
	MaxConcurrentProjects int      `mapstructure:"max_concurrent_projects"`
	Projects              []string `mapstructure:"projects"`
	RunOnStart            bool     `mapstructure:"run_on_start"`
}

// CrawlConfig governs fetching, backoff and cleanup.
type CrawlConfig struct {
	FetchTimeoutSeconds    int     `mapstructure:"fetch_timeout_seconds"`
	UserAgent              string  `mapstructure:"user_agent"`
	RequestsPerSecond      float64 `mapstructure:"requests_per_second"`
	Burst                  int     `mapstructure:"burst"`
	MaxBodyBytes           int     `mapstructure:"max_body_bytes"`
	BackoffMinutes         int     `mapstructure:"backoff_minutes"`
	DefaultIntervalSeconds int     `mapstructure:"default_interval_seconds"`
	MinCommentLength       int     `mapstructure:"min_comment_length"`
}

// LedgerConfig sizes the capped event tail.
type LedgerConfig struct {
	TailSize int    `mapstructure:"tail_size"`
	Backend  string `mapstructure:"backend"`
}

// RedisConfig is used when the ledger tail lives in Redis.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	TTLHours  int    `mapstructure:"ttl_hours"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ArchiveConfig selects where raw payloads are written.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// AlertsConfig selects alert sinks.
type AlertsConfig struct {
	Log             bool   `mapstructure:"log"`
	PubSubProjectID string `mapstructure:"pubsub_project_id"`
	PubSubTopic     string `mapstructure:"pubsub_topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TERRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// setDefaults also registers every env-overridable key; AutomaticEnv only
// reaches keys viper already knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.auth.enabled", false)
	v.SetDefault("server.auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("scheduler.tick_seconds", 30)
	v.SetDefault("scheduler.max_concurrent_projects", 4)
	v.SetDefault("scheduler.projects", []string{})
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("crawl.fetch_timeout_seconds", 20)
	v.SetDefault("crawl.user_agent", "terracrawler/0.1")
	v.SetDefault("crawl.requests_per_second", 1.0)
	v.SetDefault("crawl.burst", 2)
	v.SetDefault("crawl.max_body_bytes", 16<<20)
	v.SetDefault("crawl.backoff_minutes", 10)
	v.SetDefault("crawl.default_interval_seconds", catalog.DefaultIntervalSeconds)
	v.SetDefault("crawl.min_comment_length", 3)
	v.SetDefault("ledger.tail_size", 999)
	v.SetDefault("ledger.backend", BackendMemory)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "terracrawler")
	v.SetDefault("redis.ttl_hours", 0)
	v.SetDefault("db.driver", BackendMemory)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("alerts.log", true)
	v.SetDefault("alerts.pubsub_project_id", "")
	v.SetDefault("alerts.pubsub_topic", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch {
	case c.Server.Port <= 0:
		return fmt.Errorf("server.port must be > 0")
	case c.Server.Auth.Enabled && c.Server.Auth.APIKey == "":
		return fmt.Errorf("server.auth.api_key must be set when auth is enabled")
	case c.Scheduler.TickSeconds <= 0:
		return fmt.Errorf("scheduler.tick_seconds must be > 0")
	case c.Scheduler.MaxConcurrentProjects <= 0:
		return fmt.Errorf("scheduler.max_concurrent_projects must be > 0")
	case c.Crawl.FetchTimeoutSeconds <= 0:
		return fmt.Errorf("crawl.fetch_timeout_seconds must be > 0")
	case c.Crawl.RequestsPerSecond < 0:
		return fmt.Errorf("crawl.requests_per_second must be >= 0")
	case c.Crawl.BackoffMinutes <= 0:
		return fmt.Errorf("crawl.backoff_minutes must be > 0")
	case c.Crawl.DefaultIntervalSeconds <= 0:
		return fmt.Errorf("crawl.default_interval_seconds must be > 0")
	case c.Crawl.MinCommentLength < 0:
		return fmt.Errorf("crawl.min_comment_length must be >= 0")
	case c.Ledger.TailSize <= 0:
		return fmt.Errorf("ledger.tail_size must be > 0")
	}
	switch c.Ledger.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when ledger.backend is redis")
		}
	default:
		return fmt.Errorf("ledger.backend must be memory or redis, got %q", c.Ledger.Backend)
	}
	switch c.DB.Driver {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.driver is postgres")
		}
	default:
		return fmt.Errorf("db.driver must be memory or postgres, got %q", c.DB.Driver)
	}
	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.backend is local")
		}
	case BackendGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("archive.backend must be none, memory, local or gcs, got %q", c.Archive.Backend)
	}
	if c.Alerts.PubSubTopic != "" && c.Alerts.PubSubProjectID == "" {
		return fmt.Errorf("alerts.pubsub_project_id must be set when alerts.pubsub_topic is set")
	}
	return nil
}

// Tick returns the scheduler cadence.
func (c Config) Tick() time.Duration {
	return time.Duration(c.Scheduler.TickSeconds) * time.Second
}

// FetchTimeout bounds a single source fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawl.FetchTimeoutSeconds) * time.Second
}

// BackoffDelay is the not-before delay applied after a failure.
func (c Config) BackoffDelay() time.Duration {
	return time.Duration(c.Crawl.BackoffMinutes) * time.Minute
}

// RedisTTL is the expiry of the tail keys; zero disables expiry.
func (c Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLHours) * time.Hour
}
