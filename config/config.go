package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/yeremiapane/inventory-sync/models"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads "30s"-style strings from env and
// config files alike.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	Server    ServerConfig    `json:"server" yaml:"server" toml:"server"`
	Database  DatabaseConfig  `json:"database" yaml:"database" toml:"database"`
	Poller    PollerConfig    `json:"poller" yaml:"poller" toml:"poller"`
	Delivery  DeliveryConfig  `json:"delivery" yaml:"delivery" toml:"delivery"`
	Retention RetentionConfig `json:"retention" yaml:"retention" toml:"retention"`
	Sync      SyncConfig      `json:"sync" yaml:"sync" toml:"sync"`

	// SyncConfigs seeds the registry on startup; ids already stored are skipped.
	SyncConfigs []models.SyncConfig `json:"sync_configs" yaml:"sync_configs" toml:"sync_configs"`
}

type ServerConfig struct {
	Port       string `json:"port" yaml:"port" toml:"port"`
	GinMode    string `json:"gin_mode" yaml:"gin_mode" toml:"gin_mode"`
	CORSOrigin string `json:"cors_origin" yaml:"cors_origin" toml:"cors_origin"`
	JWTSecret  string `json:"jwt_secret" yaml:"jwt_secret" toml:"jwt_secret"`
	// RateLimit is requests per second per client on the API, 0 disables it.
	RateLimit       float64  `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver      string `json:"driver" yaml:"driver" toml:"driver"`
	DSN         string `json:"dsn" yaml:"dsn" toml:"dsn"`
	LogLevel    string `json:"log_level" yaml:"log_level" toml:"log_level"`
	CaptureMode string `json:"capture_mode" yaml:"capture_mode" toml:"capture_mode"`

	MaxOpenConns    int      `json:"max_open_conns" yaml:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns" yaml:"max_idle_conns" toml:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" toml:"conn_max_lifetime"`
}

type PollerConfig struct {
	Interval       Duration `json:"interval" yaml:"interval" toml:"interval"`
	BatchSize      int      `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	MaxConcurrency int      `json:"max_concurrency" yaml:"max_concurrency" toml:"max_concurrency"`
	// ClaimLease must outlast the delivery of one record (see
	// DeliveryBound). A whole batch can take up to BatchBound; a lease
	// shorter than that lets a second poller redeliver the tail of a slow
	// batch, which stays at-least-once but duplicates work.
	ClaimLease     Duration `json:"claim_lease" yaml:"claim_lease" toml:"claim_lease"`
}

type DeliveryConfig struct {
	BaseURL     string   `json:"base_url" yaml:"base_url" toml:"base_url"`
	Token       string   `json:"token" yaml:"token" toml:"token"`
	MaxAttempts int      `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
	Timeout     Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	BackoffBase Duration `json:"backoff_base" yaml:"backoff_base" toml:"backoff_base"`
	BackoffMax  Duration `json:"backoff_max" yaml:"backoff_max" toml:"backoff_max"`
	// RateLimit is outbound calls per second, 0 means unlimited.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`
}

type RetentionConfig struct {
	Window   Duration `json:"window" yaml:"window" toml:"window"`
	Interval Duration `json:"interval" yaml:"interval" toml:"interval"`
}

type SyncConfig struct {
	ErrorThreshold  int `json:"error_threshold" yaml:"error_threshold" toml:"error_threshold"`
	ManualSyncLimit int `json:"manual_sync_limit" yaml:"manual_sync_limit" toml:"manual_sync_limit"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Port:            "8080",
			GinMode:         "debug",
			CORSOrigin:      "*",
			RateLimit:       50,
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "file:inventory_sync.db?_busy_timeout=5000",
			LogLevel:        "warn",
			CaptureMode:     "triggers",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration{30 * time.Minute},
		},
		Poller: PollerConfig{
			Interval:       Duration{time.Second},
			BatchSize:      100,
			MaxConcurrency: 4,
			ClaimLease:     Duration{5 * time.Minute},
		},
		Delivery: DeliveryConfig{
			MaxAttempts: 3,
			Timeout:     Duration{10 * time.Second},
			BackoffBase: Duration{500 * time.Millisecond},
			BackoffMax:  Duration{10 * time.Second},
		},
		Retention: RetentionConfig{
			Window:   Duration{7 * 24 * time.Hour},
			Interval: Duration{24 * time.Hour},
		},
		Sync: SyncConfig{
			ErrorThreshold:  5,
			ManualSyncLimit: 0,
		},
	}
}

// Load builds the configuration from defaults, then the environment, then the
// file named by CONFIG_FILE if any.
func Load() (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if path, ok := os.LookupEnv("CONFIG_FILE"); ok && path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// LoadFromFile reads a .toml, .yaml/.yml or .json file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("failed to parse TOML config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (r *envReader) int(key string, dst *int) {
	if v, ok := r.lookup(key); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (r *envReader) float(key string, dst *float64) {
	if v, ok := r.lookup(key); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (r *envReader) duration(key string, dst *Duration) {
	if v, ok := r.lookup(key); ok && v != "" {
		if err := dst.UnmarshalText([]byte(v)); err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		}
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	r := &envReader{lookup: lookup}

	r.str("LOG_LEVEL", &c.LogLevel)
	r.str("LOG_FORMAT", &c.LogFormat)

	r.str("PORT", &c.Server.Port)
	r.str("GIN_MODE", &c.Server.GinMode)
	r.str("CORS_ORIGIN", &c.Server.CORSOrigin)
	r.str("JWT_SECRET", &c.Server.JWTSecret)
	r.float("API_RATE_LIMIT", &c.Server.RateLimit)

	r.str("DB_DRIVER", &c.Database.Driver)
	r.str("DB_DSN", &c.Database.DSN)
	r.str("DB_LOG_LEVEL", &c.Database.LogLevel)
	r.str("CAPTURE_MODE", &c.Database.CaptureMode)

	r.duration("POLL_INTERVAL", &c.Poller.Interval)
	r.int("POLL_BATCH_SIZE", &c.Poller.BatchSize)
	r.int("POLL_MAX_CONCURRENCY", &c.Poller.MaxConcurrency)
	r.duration("CLAIM_LEASE", &c.Poller.ClaimLease)

	r.str("DESTINATION_BASE_URL", &c.Delivery.BaseURL)
	r.str("DESTINATION_TOKEN", &c.Delivery.Token)
	r.int("DELIVERY_MAX_ATTEMPTS", &c.Delivery.MaxAttempts)
	r.duration("DELIVERY_TIMEOUT", &c.Delivery.Timeout)
	r.duration("DELIVERY_BACKOFF_BASE", &c.Delivery.BackoffBase)
	r.duration("DELIVERY_BACKOFF_MAX", &c.Delivery.BackoffMax)
	r.float("DELIVERY_RATE_LIMIT", &c.Delivery.RateLimit)

	r.duration("RETENTION_WINDOW", &c.Retention.Window)
	r.duration("RETENTION_INTERVAL", &c.Retention.Interval)

	r.int("ERROR_THRESHOLD", &c.Sync.ErrorThreshold)
	r.int("MANUAL_SYNC_LIMIT", &c.Sync.ManualSyncLimit)

	return errors.Join(r.errs...)
}

// DeliveryBound is the longest one delivery can take: every attempt times
// out and every backoff waits the maximum.
func (c *Config) DeliveryBound() time.Duration {
	attempts := time.Duration(max(c.Delivery.MaxAttempts, 1))
	return attempts*c.Delivery.Timeout.Duration + (attempts-1)*c.Delivery.BackoffMax.Duration
}

// BatchBound is the longest one claimed batch can take with a single sync
// config per table.
func (c *Config) BatchBound() time.Duration {
	return time.Duration(max(c.Poller.BatchSize, 1)) * c.DeliveryBound()
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database driver must be sqlite, mysql or postgres, got %q", c.Database.Driver))
	}
	check(c.Database.DSN != "", "database dsn is required")
	check(c.Database.CaptureMode == "triggers" || c.Database.CaptureMode == "callbacks",
		"capture mode must be triggers or callbacks, got %q", c.Database.CaptureMode)

	check(c.Poller.Interval.Duration > 0, "poller interval must be positive")
	check(c.Poller.BatchSize > 0, "poller batch size must be positive")
	check(c.Poller.MaxConcurrency > 0, "poller max concurrency must be positive")
	check(c.Poller.ClaimLease.Duration > c.DeliveryBound(),
		"claim lease (%s) must exceed the worst-case delivery of one record (%s)", c.Poller.ClaimLease, c.DeliveryBound())

	check(c.Delivery.MaxAttempts > 0, "delivery max attempts must be positive")
	check(c.Delivery.Timeout.Duration > 0, "delivery timeout must be positive")
	check(c.Delivery.BackoffBase.Duration >= 0, "delivery backoff base must not be negative")
	check(c.Delivery.BackoffMax.Duration >= c.Delivery.BackoffBase.Duration, "delivery backoff max must be at least the base")
	check(c.Delivery.RateLimit >= 0, "delivery rate limit must not be negative")

	check(c.Retention.Window.Duration > 0, "retention window must be positive")
	check(c.Retention.Interval.Duration > 0, "retention interval must be positive")

	check(c.Sync.ErrorThreshold > 0, "error threshold must be positive")
	check(c.Sync.ManualSyncLimit >= 0, "manual sync limit must not be negative")

	return errors.Join(errs...)
}
