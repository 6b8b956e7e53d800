// Package config handles loading and validating Cockpit configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for the Cockpit trial runtime.
type Config struct {
	VerticalsFile string                `json:"verticals_file,omitempty" yaml:"verticals_file,omitempty"` // Path to the verticals catalog. Empty = built-in catalog.
	Server        ServerConfig          `json:"server" yaml:"server"`
	Trial         TrialConfig           `json:"trial" yaml:"trial"`
	Sweep         SweepConfig           `json:"sweep" yaml:"sweep"`
	Backend       BackendConfig         `json:"backend" yaml:"backend"`
	Notification  *NotificationConfig   `json:"notification,omitempty" yaml:"notification,omitempty"`   // nil = log-only notifications
	Storage       *StorageConfig        `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = event journal disabled
	Observability *ObservabilityConfig  `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	ListenAddr     string            `json:"listen_addr" yaml:"listen_addr"`                   // Default: ":8080".
	EnableDocs     bool              `json:"enable_docs" yaml:"enable_docs"`                   // Serve OpenAPI docs.
	APIKeys        map[string]string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`     // API key -> user ID. COCKPIT_API_KEYS overrides ("key:user,key2:user2").
	MaxRequestSize int64             `json:"max_request_size" yaml:"max_request_size"`         // Bytes. 0 = 1 MB default.
	RateLimit      RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (s *ServerConfig) Addr() string {
	if s.ListenAddr != "" {
		return s.ListenAddr
	}
	return ":8080"
}

// RateLimitConfig configures the per-user token bucket limiter.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	BurstSize         int `json:"burst_size" yaml:"burst_size"`                   // 0 = RequestsPerMinute.
}

// TrialConfig controls the trial lifecycle thresholds.
type TrialConfig struct {
	DurationDays         int `json:"duration_days" yaml:"duration_days"`                   // Default: 30.
	WarningThresholdDays int `json:"warning_threshold_days" yaml:"warning_threshold_days"` // Default: 5.
	FreezeDurationDays   int `json:"freeze_duration_days" yaml:"freeze_duration_days"`     // Default: 30.
}

// TrialDuration returns the trial length with a default of 30 days.
func (t *TrialConfig) TrialDuration() time.Duration {
	days := t.DurationDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// WarningThreshold returns the warning window with a default of 5 days.
func (t *TrialConfig) WarningThreshold() int {
	if t.WarningThresholdDays > 0 {
		return t.WarningThresholdDays
	}
	return 5
}

// FreezeDuration returns the frozen dwell time before deletion. Default: 30 days.
func (t *TrialConfig) FreezeDuration() time.Duration {
	days := t.FreezeDurationDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// SweepConfig controls the periodic lifecycle sweep.
type SweepConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Schedule string `json:"schedule" yaml:"schedule"` // 5-field cron expression. Default: "0 * * * *" (hourly).
}

// CronSchedule returns the sweep schedule with an hourly default.
func (s *SweepConfig) CronSchedule() string {
	if s.Schedule != "" {
		return s.Schedule
	}
	return "0 * * * *"
}

// BackendConfig selects and configures the execution backend.
// The driver is an explicit configuration choice; there is no silent
// fallback to the mock when the real runner is unavailable.
type BackendConfig struct {
	Driver         string   `json:"driver" yaml:"driver"`                   // "process" (default) or "mock".
	Runner         []string `json:"runner,omitempty" yaml:"runner,omitempty"` // Runner argv; the prompt is passed on stdin. Default: ["python3", "-"].
	TimeoutSeconds int      `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-query ceiling. Default: 60.
	MaxCPUSeconds  int      `json:"max_cpu_seconds" yaml:"max_cpu_seconds"` // ulimit -t. Default: 60.
	MaxMemoryMB    int      `json:"max_memory_mb" yaml:"max_memory_mb"`     // ulimit -v. Default: 512.
}

// BackendDriver returns the configured driver, defaulting to "process".
func (b *BackendConfig) BackendDriver() string {
	if b.Driver != "" {
		return b.Driver
	}
	return "process"
}

// QueryTimeout returns the per-query execution ceiling. Default: 60s.
func (b *BackendConfig) QueryTimeout() time.Duration {
	if b.TimeoutSeconds > 0 {
		return time.Duration(b.TimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}

// RunnerCommand returns the runner argv with a default of ["python3", "-"].
func (b *BackendConfig) RunnerCommand() []string {
	if len(b.Runner) > 0 {
		return b.Runner
	}
	return []string{"python3", "-"}
}

// NotificationConfig configures the trial-warning notification sink.
type NotificationConfig struct {
	WebhookURL string `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"` // Empty = log-only. COCKPIT_WEBHOOK_URL overrides.
}

// StorageConfig configures the trial event journal.
// When nil, lifecycle transitions and query accounting are not persisted.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Default: ~/.cockpit/data/trial.db.
}

// DBPath returns the database path with its default.
func (s *SQLiteStorageConfig) DBPath() string {
	if s != nil && s.Path != "" {
		return s.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "data/trial.db"
	}
	return filepath.Join(home, ".cockpit", "data", "trial.db")
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // COCKPIT_DB_DSN overrides.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25.
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5.
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min).
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "cockpit-trial"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// DefaultConfigPath returns the default config file path (~/.cockpit/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/cockpit.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".cockpit", "config.yaml")
}

// Default returns a Config with all defaults applied, used when no config
// file exists (e.g. first run, tests, the one-shot sweep command).
func Default() *Config {
	return &Config{
		Sweep: SweepConfig{Enabled: true},
	}
}

// Load reads a YAML or JSON config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvOverrides() {
	if env := os.Getenv("COCKPIT_VERTICALS_FILE"); env != "" {
		c.VerticalsFile = env
	}
	if env := os.Getenv("COCKPIT_LISTEN_ADDR"); env != "" {
		c.Server.ListenAddr = env
	}

	// COCKPIT_API_KEYS holds comma-separated "key:userID" pairs.
	if env := os.Getenv("COCKPIT_API_KEYS"); env != "" {
		keys := make(map[string]string)
		for _, pair := range strings.Split(env, ",") {
			key, user, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if ok && key != "" && user != "" {
				keys[key] = user
			}
		}
		if len(keys) > 0 {
			c.Server.APIKeys = keys
		}
	}

	if env := os.Getenv("COCKPIT_WEBHOOK_URL"); env != "" {
		if c.Notification == nil {
			c.Notification = &NotificationConfig{}
		}
		c.Notification.WebhookURL = env
	}

	if env := os.Getenv("COCKPIT_DB_DSN"); env != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = env
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch d := c.Backend.BackendDriver(); d {
	case "process", "mock":
	default:
		return fmt.Errorf("backend.driver must be \"process\" or \"mock\", got %q", d)
	}

	switch d := c.Storage.StorageDriver(); d {
	case "sqlite":
	case "postgres":
		if c.Storage != nil && (c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "") {
			return fmt.Errorf("storage.driver is postgres but no DSN is configured")
		}
	default:
		return fmt.Errorf("storage.driver must be \"sqlite\" or \"postgres\", got %q", d)
	}

	if c.Trial.DurationDays < 0 || c.Trial.WarningThresholdDays < 0 || c.Trial.FreezeDurationDays < 0 {
		return fmt.Errorf("trial thresholds must not be negative")
	}
	return nil
}

// resolvePath expands a leading ~ to the user's home directory.
func resolvePath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
