package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appYAML = `
database:
  dsn: postgres://pairs@localhost/pairs
  enabled: true
  max_open_conns: 8
  max_idle_conns: 2
  query_timeout: 5s
settings:
  source: file
  path: /etc/pairsrun/settings.yaml
analyzer:
  base_url: http://analyzer:9000
  timeout: 10s
  rps: 2
scheduler:
  update_interval: 30s
  selection_interval: 10m
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pairsrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppConfig(t *testing.T) {
	t.Run("missing file uses defaults", func(t *testing.T) {
		cfg, err := LoadAppConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "default", cfg.Settings.Source)
		assert.False(t, cfg.Database.Enabled)
		assert.Equal(t, time.Minute, cfg.Scheduler.UpdateInterval)
		assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Addr)
	})

	t.Run("file over defaults", func(t *testing.T) {
		cfg, err := LoadAppConfig(writeConfig(t, appYAML))
		require.NoError(t, err)
		assert.True(t, cfg.Database.Enabled)
		assert.Equal(t, 8, cfg.Database.MaxOpenConns)
		assert.Equal(t, 5*time.Second, cfg.Database.QueryTimeout)
		assert.Equal(t, "file", cfg.Settings.Source)
		assert.Equal(t, "http://analyzer:9000", cfg.Analyzer.BaseURL)
		assert.Equal(t, 10*time.Second, cfg.Analyzer.Timeout)
		assert.Equal(t, 10, cfg.Analyzer.Burst)
		assert.Equal(t, 30*time.Second, cfg.Scheduler.UpdateInterval)
		assert.Equal(t, 10*time.Minute, cfg.Scheduler.SelectionInterval)
	})

	t.Run("environment wins", func(t *testing.T) {
		t.Setenv("ANALYZER_URL", "http://override:1")
		t.Setenv("REDIS_ADDR", "redis:6379")
		t.Setenv("REDIS_DB", "3")
		t.Setenv("HTTP_ADDR", ":9090")
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("NATS_URL", "nats://nats:4222")

		cfg, err := LoadAppConfig(writeConfig(t, appYAML))
		require.NoError(t, err)
		assert.Equal(t, "http://override:1", cfg.Analyzer.BaseURL)
		assert.Equal(t, "redis:6379", cfg.Redis.Addr)
		assert.Equal(t, 3, cfg.Redis.DB)
		assert.Equal(t, ":9090", cfg.HTTP.Addr)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := LoadAppConfig(writeConfig(t, "database: [oops"))
		assert.Error(t, err)
	})
}

func TestAppConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{"defaults", func(*AppConfig) {}, ""},
		{"file source needs path", func(c *AppConfig) { c.Settings.Source = "file" }, "settings.path"},
		{"redis source needs addr", func(c *AppConfig) { c.Settings.Source = "redis" }, "redis.addr"},
		{"unknown source", func(c *AppConfig) { c.Settings.Source = "etcd" }, "unknown settings.source"},
		{"zero update interval", func(c *AppConfig) { c.Scheduler.UpdateInterval = 0 }, "update_interval"},
		{"zero selection interval", func(c *AppConfig) { c.Scheduler.SelectionInterval = 0 }, "selection_interval"},
		{"enabled database without dsn", func(c *AppConfig) { c.Database.Enabled = true }, "DSN is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAppConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
