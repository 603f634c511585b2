package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/inventory-sync/models"
)

func envMap(vals map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Sync.ErrorThreshold)
	assert.Equal(t, 3, cfg.Delivery.MaxAttempts)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention.Window.Duration)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"DB_DRIVER":             "postgres",
		"DB_DSN":                "host=localhost dbname=inventory",
		"POLL_INTERVAL":         "250ms",
		"POLL_BATCH_SIZE":       "50",
		"DESTINATION_BASE_URL":  "https://flows.example.com/api",
		"DELIVERY_MAX_ATTEMPTS": "5",
		"DELIVERY_RATE_LIMIT":   "2.5",
		"ERROR_THRESHOLD":       "3",
		"CAPTURE_MODE":          "callbacks",
	}))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Poller.Interval.Duration)
	assert.Equal(t, 50, cfg.Poller.BatchSize)
	assert.Equal(t, "https://flows.example.com/api", cfg.Delivery.BaseURL)
	assert.Equal(t, 5, cfg.Delivery.MaxAttempts)
	assert.Equal(t, 2.5, cfg.Delivery.RateLimit)
	assert.Equal(t, 3, cfg.Sync.ErrorThreshold)
	assert.Equal(t, "callbacks", cfg.Database.CaptureMode)
}

func TestApplyEnvCollectsParseErrors(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"POLL_BATCH_SIZE":  "many",
		"RETENTION_WINDOW": "a week",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLL_BATCH_SIZE")
	assert.Contains(t, err.Error(), "RETENTION_WINDOW")
}

func TestValidateRejectsNonsense(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch", func(c *Config) { c.Poller.BatchSize = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"unknown capture mode", func(c *Config) { c.Database.CaptureMode = "wal" }},
		{"lease shorter than timeout", func(c *Config) { c.Poller.ClaimLease = Duration{time.Second} }},
		{"lease shorter than retries", func(c *Config) { c.Poller.ClaimLease = Duration{15 * time.Second} }},
		{"no attempts", func(c *Config) { c.Delivery.MaxAttempts = 0 }},
		{"backoff max below base", func(c *Config) { c.Delivery.BackoffMax = Duration{time.Millisecond} }},
		{"zero threshold", func(c *Config) { c.Sync.ErrorThreshold = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDeliveryAndBatchBounds(t *testing.T) {
	cfg := Default()
	cfg.Delivery.MaxAttempts = 3
	cfg.Delivery.Timeout = Duration{10 * time.Second}
	cfg.Delivery.BackoffMax = Duration{5 * time.Second}
	cfg.Poller.BatchSize = 10

	assert.Equal(t, 40*time.Second, cfg.DeliveryBound())
	assert.Equal(t, 400*time.Second, cfg.BatchBound())

	cfg.Poller.ClaimLease = Duration{40 * time.Second}
	assert.ErrorContains(t, cfg.Validate(), "worst-case delivery")
	cfg.Poller.ClaimLease = Duration{41 * time.Second}
	assert.NoError(t, cfg.Validate())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFileTOML(t *testing.T) {
	path := writeFile(t, "sync.toml", `
log_level = "debug"

[poller]
interval = "2s"
batch_size = 25

[delivery]
base_url = "https://flows.example.com"
timeout = "3s"

[[sync_configs]]
id = "cfg-products"
name = "Product feed"
table_name = "products"
selected_fields = ["product_name", "unit_price"]
workflow_id_insert = "wf-123"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.Poller.Interval.Duration)
	assert.Equal(t, 25, cfg.Poller.BatchSize)
	assert.Equal(t, 3*time.Second, cfg.Delivery.Timeout.Duration)
	// untouched keys keep their defaults
	assert.Equal(t, 3, cfg.Delivery.MaxAttempts)

	require.Len(t, cfg.SyncConfigs, 1)
	sc := cfg.SyncConfigs[0]
	assert.Equal(t, "cfg-products", sc.ID)
	assert.Equal(t, models.FieldList{"product_name", "unit_price"}, sc.SelectedFields)
	assert.Equal(t, "wf-123", sc.WorkflowIDInsert)
}

func TestLoadFromFileYAML(t *testing.T) {
	path := writeFile(t, "sync.yaml", `
retention:
  window: 48h
sync_configs:
  - id: cfg-orders
    table_name: orders
    selected_fields: [order_number, quantity]
    workflow_id_update: wf-orders
    status: PAUSED
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, cfg.Retention.Window.Duration)
	require.Len(t, cfg.SyncConfigs, 1)
	assert.Equal(t, models.SyncStatusPaused, cfg.SyncConfigs[0].Status)
}

func TestLoadFromFileJSON(t *testing.T) {
	path := writeFile(t, "sync.json", `{"database": {"driver": "mysql", "dsn": "root@tcp(localhost)/inv"}, "poller": {"claim_lease": "10m"}}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Poller.ClaimLease.Duration)
}

func TestLoadFromFileRejectsUnknownFormat(t *testing.T) {
	path := writeFile(t, "sync.ini", "x=1")
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFileOverridesEnv(t *testing.T) {
	path := writeFile(t, "sync.toml", "[poller]\nbatch_size = 7\n")
	t.Setenv("POLL_BATCH_SIZE", "99")
	t.Setenv("POLL_MAX_CONCURRENCY", "2")
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Poller.BatchSize)
	assert.Equal(t, 2, cfg.Poller.MaxConcurrency)
}

func TestInitDBSQLite(t *testing.T) {
	db, err := InitDB(DatabaseConfig{Driver: "sqlite", DSN: "file::memory:", LogLevel: "silent"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", db.Dialector.Name())

	_, err = InitDB(DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}
