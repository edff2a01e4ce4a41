package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pairsrun/internal/config"
)

func TestClientConfigOverrides(t *testing.T) {
	c := clientConfig("analyzer", config.ServiceConfig{
		BaseURL: "http://analyzer:9000",
		Timeout: 3 * time.Second,
		RPS:     1.5,
		Circuit: config.CircuitConfig{ConsecutiveFailures: 7},
	})
	assert.Equal(t, "analyzer", c.Name)
	assert.Equal(t, "http://analyzer:9000", c.BaseURL)
	assert.Equal(t, 3*time.Second, c.RequestTimeout)
	assert.Equal(t, 1.5, c.RPS)
	assert.Equal(t, uint32(7), c.ConsecutiveFailures)
	// unset fields keep the pool defaults
	assert.Equal(t, 5, c.Burst)
	assert.Equal(t, 30*time.Second, c.OpenTimeout)
}

func TestBuildAppDefaults(t *testing.T) {
	cfg := config.DefaultAppConfig()
	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	s, err := a.settings.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, config.Default(), s)

	checks := a.healthChecks()
	assert.Contains(t, checks, "analyzer_circuit")
	assert.Contains(t, checks, "exchange_circuit")
	assert.NotContains(t, checks, "database")
	for name, check := range checks {
		assert.NoError(t, check(context.Background()), name)
	}

	recs, err := a.store.Repo().ListByStatus(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestBuildAppFileSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("exits:\n  take:\n    enabled: true\n    threshold: 12\n"), 0o644))

	cfg := config.DefaultAppConfig()
	cfg.Settings = config.SettingsSource{Source: "file", Path: path}
	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	s, err := a.settings.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12.0, s.Exits.Take.Threshold)
}

func TestConfigValidateCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pairsrun.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("logging:\n  level: warn\n"), 0o644))

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("selection:\n  target_count: 2\n"), 0o644))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("exits:\n  stop:\n    threshold: 3\n"), 0o644))

	run := func(args ...string) error {
		root := newRootCmd()
		root.SetArgs(args)
		return root.Execute()
	}

	assert.NoError(t, run("config", "validate", "--config", cfgPath, good))
	assert.ErrorIs(t, run("config", "validate", "--config", cfgPath, bad), config.ErrInvalidSettings)
}
