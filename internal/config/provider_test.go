package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const takeTen = `
exits:
  take:
    enabled: true
    threshold: 10
selection:
  universe: [ETH, BTC, SOL]
`

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings([]byte(takeTen))
	require.NoError(t, err)
	assert.Equal(t, 10.0, s.Exits.Take.Threshold)
	assert.Equal(t, []string{"ETH", "BTC", "SOL"}, s.Selection.Universe)
	// untouched fields keep defaults
	assert.Equal(t, -10.0, s.Exits.Stop.Threshold)
	assert.Equal(t, 40.0, s.Scoring.ZScore.Weight)

	_, err = ParseSettings([]byte("exits: [not a map"))
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = ParseSettings([]byte("exits:\n  take:\n    threshold: -1\n"))
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestFileProvider(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	p := NewFileProvider(path)

	t.Run("missing file yields defaults", func(t *testing.T) {
		s, err := p.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, Default(), s)
	})

	t.Run("edits are picked up on the next call", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte(takeTen), 0o644))
		s, err := p.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10.0, s.Exits.Take.Threshold)
	})

	t.Run("invalid edit keeps last valid settings", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("exits:\n  stop:\n    threshold: 4\n"), 0o644))
		s, err := p.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10.0, s.Exits.Take.Threshold)
		assert.Equal(t, -10.0, s.Exits.Stop.Threshold)
	})
}

func TestLoadSettingsFile(t *testing.T) {
	_, err := LoadSettingsFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRedisProvider(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	p := NewRedisProvider(db, "")

	t.Run("missing key yields defaults", func(t *testing.T) {
		mock.ExpectGet(DefaultSettingsKey).RedisNil()
		s, err := p.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, Default(), s)
	})

	t.Run("document is applied", func(t *testing.T) {
		mock.ExpectGet(DefaultSettingsKey).SetVal(takeTen)
		s, err := p.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10.0, s.Exits.Take.Threshold)
	})

	t.Run("rejected document keeps previous", func(t *testing.T) {
		mock.ExpectGet(DefaultSettingsKey).SetVal("selection:\n  candle_limit: 1\n")
		s, err := p.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10.0, s.Exits.Take.Threshold)
		assert.Equal(t, 300, s.Selection.CandleLimit)
	})

	t.Run("unreachable redis keeps previous", func(t *testing.T) {
		mock.ExpectGet(DefaultSettingsKey).SetErr(errors.New("connection refused"))
		s, err := p.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10.0, s.Exits.Take.Threshold)
	})

	t.Run("store writes validated yaml", func(t *testing.T) {
		s := Default()
		s.Selection.TargetCount = 5
		data, err := yaml.Marshal(s)
		require.NoError(t, err)

		mock.ExpectSet(DefaultSettingsKey, data, 0).SetVal("OK")
		require.NoError(t, p.Store(ctx, s))
	})

	t.Run("store refuses invalid settings", func(t *testing.T) {
		s := Default()
		s.Exits.Take.Threshold = 0
		assert.ErrorIs(t, p.Store(ctx, s), ErrInvalidSettings)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
