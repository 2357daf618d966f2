package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/drone/envsubst"
	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the monitor.
// Values come from a YAML file (with ${VAR} expansion) and environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables or ${VAR} expansion.
type Config struct {
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFormat   string `yaml:"log_format" env:"LOG_FORMAT" env-default:"json"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR" env-default:":9090"`
	Version     string `yaml:"-"`

	// Audit controls whether ad-hoc runs are recorded. Defaults to true.
	Audit bool `yaml:"audit" env:"MONITOR_AUDIT"`
	// Async runs ad-hoc statements on the work queue and returns a run id.
	Async bool `yaml:"async" env:"MONITOR_ASYNC"`
	// AnomalyChecks names the default anomaly detector; empty disables anomaly checks.
	AnomalyChecks string `yaml:"anomaly_checks" env:"MONITOR_ANOMALY_CHECKS"`
	// Forecasting names the default forecaster; empty disables forecast checks.
	Forecasting string `yaml:"forecasting" env:"MONITOR_FORECASTING"`

	Database      DatabaseConfig              `yaml:"database"`
	Cache         CacheConfig                 `yaml:"cache"`
	Checks        ChecksConfig                `yaml:"checks"`
	Notifications NotificationsConfig         `yaml:"notifications"`
	DataSources   map[string]DataSourceConfig `yaml:"data_sources"`

	// CredentialsKey decrypts "*_encrypted" data source settings.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"`
}

// DatabaseConfig holds the monitor's own PostgreSQL store.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"`
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_monitor"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
}

// CacheConfig controls the shared result cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" env:"CACHE_ENABLED"`
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend" env:"CACHE_BACKEND" env-default:"memory"`
	// Mode is "all" (cache every successful run) or "slow" (only runs slower than SlowThreshold).
	Mode          string        `yaml:"mode" env:"CACHE_MODE" env-default:"all"`
	ExpiresIn     time.Duration `yaml:"expires_in" env:"CACHE_EXPIRES_IN" env-default:"1h"`
	SlowThreshold time.Duration `yaml:"slow_threshold" env:"CACHE_SLOW_THRESHOLD" env-default:"15s"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the redis cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"monitor:result:"`
}

// ChecksConfig controls the scheduled check loop.
type ChecksConfig struct {
	Schedules      []string      `yaml:"schedules" env:"CHECK_SCHEDULES" env-default:"5 minutes,1 hour,1 day"`
	Workers        int           `yaml:"workers" env:"CHECK_WORKERS" env-default:"4"`
	MaxAttempts    int           `yaml:"max_attempts" env:"CHECK_MAX_ATTEMPTS" env-default:"3"`
	RetryBackoff   time.Duration `yaml:"retry_backoff" env:"CHECK_RETRY_BACKOFF" env-default:"10s"`
	Timeout        time.Duration `yaml:"timeout" env:"CHECK_TIMEOUT" env-default:"30s"`
	DigestInterval time.Duration `yaml:"digest_interval" env:"CHECK_DIGEST_INTERVAL" env-default:"24h"`
	// Renotify sends a notification on every bad run instead of only on transitions.
	Renotify bool `yaml:"renotify" env:"CHECK_RENOTIFY"`
}

// NotificationsConfig holds delivery and event publishing settings.
type NotificationsConfig struct {
	SMTP  SMTPConfig  `yaml:"smtp"`
	Slack SlackConfig `yaml:"slack"`
	NATS  NATSConfig  `yaml:"nats"`
}

// SMTPConfig holds outbound mail settings. Email delivery is disabled when Addr is empty.
type SMTPConfig struct {
	Addr     string `yaml:"addr" env:"SMTP_ADDR"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"-" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"SMTP_FROM" env-default:"monitor@localhost"`
}

// SlackConfig holds incoming-webhook settings. Chat delivery is disabled when WebhookURL is empty.
type SlackConfig struct {
	WebhookURL    string  `yaml:"-" env:"SLACK_WEBHOOK_URL"`
	RatePerSecond float64 `yaml:"rate_per_second" env:"SLACK_RATE_PER_SECOND" env-default:"1"`
	Burst         int     `yaml:"burst" env:"SLACK_BURST" env-default:"3"`
}

// NATSConfig holds check-run event publishing settings. Publishing is disabled when URL is empty.
type NATSConfig struct {
	URL     string `yaml:"url" env:"NATS_URL"`
	Subject string `yaml:"subject" env:"NATS_SUBJECT" env-default:"monitor.check_runs"`
}

// DataSourceConfig binds a data source id to an adapter kind and its connection settings.
type DataSourceConfig struct {
	Adapter  string         `yaml:"adapter"`
	URL      string         `yaml:"url"`
	Settings map[string]any `yaml:"settings"`
	// Timeout applies to every statement on this source; zero uses checks.timeout.
	Timeout time.Duration `yaml:"timeout"`
	// CacheMode overrides cache.mode for this source ("all", "slow" or "off").
	CacheMode string `yaml:"cache_mode"`
}

func defaults() *Config {
	return &Config{
		Audit: true,
		Cache: CacheConfig{Enabled: true},
	}
}

// Load reads path, expands ${VAR} references, decodes the YAML and applies
// environment overrides and defaults.
func Load(path string, version string) (*Config, error) {
	cfg := defaults()
	cfg.Version = version

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	expanded, err := envsubst.EvalEnv(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to expand environment in %s: %w", path, err)
	}

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks cross-field constraints that tags cannot express.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	if !validCacheMode(c.Cache.Mode) || c.Cache.Mode == "off" {
		return fmt.Errorf("cache.mode must be all or slow, got %q", c.Cache.Mode)
	}
	if c.Checks.Workers < 1 {
		return fmt.Errorf("checks.workers must be at least 1")
	}
	if c.Checks.MaxAttempts < 1 {
		return fmt.Errorf("checks.max_attempts must be at least 1")
	}
	if len(c.Checks.Schedules) == 0 {
		return fmt.Errorf("checks.schedules must not be empty")
	}
	for _, s := range c.Checks.Schedules {
		if _, err := ParseSchedule(s); err != nil {
			return err
		}
	}
	for id, ds := range c.DataSources {
		if ds.Adapter == "" {
			return fmt.Errorf("data source %q: adapter is required", id)
		}
		if ds.CacheMode != "" && !validCacheMode(ds.CacheMode) {
			return fmt.Errorf("data source %q: invalid cache_mode %q", id, ds.CacheMode)
		}
	}
	return nil
}

func validCacheMode(mode string) bool {
	return mode == "all" || mode == "slow" || mode == "off"
}

// ConnectionString returns a PostgreSQL connection URL for the monitor store.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// ParseSchedule converts a schedule bucket name such as "5 minutes" or "1 day"
// into its interval.
func ParseSchedule(schedule string) (time.Duration, error) {
	fields := strings.Fields(strings.ToLower(schedule))
	if len(fields) != 2 {
		return 0, fmt.Errorf("invalid schedule %q: expected \"<count> <unit>\"", schedule)
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid schedule %q: count must be a positive integer", schedule)
	}

	var unit time.Duration
	switch strings.TrimSuffix(fields[1], "s") {
	case "second":
		unit = time.Second
	case "minute":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	case "week":
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid schedule %q: unknown unit %q", schedule, fields[1])
	}

	return time.Duration(n) * unit, nil
}
