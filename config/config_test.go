package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/dolphin-sync/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		wd, err := os.Getwd()
		require.NoError(t, err)
		require.NoError(t, os.Chdir(t.TempDir()))
		t.Cleanup(func() { _ = os.Chdir(wd) })

		cfg, err := Load("", nil)
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, "memory", cfg.Store.Driver)
		assert.Equal(t, types.ModeExportShadow, cfg.Sync.IngestMode())
		assert.True(t, cfg.Sync.StrictEdges)
		assert.True(t, cfg.Sync.DataSourceCheck)
		assert.Equal(t, 3, cfg.Sync.DiffContext)
		assert.Equal(t, 30*time.Second, cfg.Engine.Timeout)
		assert.Equal(t, uint64(3), cfg.Engine.MaxRetries)
	})

	t.Run("file", func(t *testing.T) {
		path := writeConfig(t, `
engine:
  base_url: http://ds:12345/dolphinscheduler
  token: secret
  timeout: 5s
store:
  driver: sqlite
  dsn: file:dsync.db
sync:
  mode: legacy
  strict_edges: false
`)
		cfg, err := Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "http://ds:12345/dolphinscheduler", cfg.Engine.BaseURL)
		assert.Equal(t, "secret", cfg.Engine.Token)
		assert.Equal(t, 5*time.Second, cfg.Engine.Timeout)
		assert.Equal(t, "sqlite", cfg.Store.Driver)
		assert.Equal(t, types.ModeLegacy, cfg.Sync.IngestMode())
		assert.False(t, cfg.Sync.StrictEdges)
	})

	t.Run("env overrides file", func(t *testing.T) {
		path := writeConfig(t, "sync:\n  mode: legacy\n")
		t.Setenv("DSYNC_SYNC_MODE", "export_only")
		t.Setenv("DSYNC_ENGINE_TOKEN", "from-env")
		cfg, err := Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, types.ModeExportOnly, cfg.Sync.IngestMode())
		assert.Equal(t, "from-env", cfg.Engine.Token)
	})

	t.Run("overrides win", func(t *testing.T) {
		path := writeConfig(t, "server:\n  addr: :9000\n")
		cfg, err := Load(path, map[string]interface{}{"server.addr": ":9100"})
		require.NoError(t, err)
		assert.Equal(t, ":9100", cfg.Server.Addr)
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := Load(writeConfig(t, "sync:\n  mode: turbo\n"), nil)
		assert.ErrorIs(t, err, ErrInvalidMode)

		_, err = Load(writeConfig(t, "store:\n  driver: mongo\n"), nil)
		assert.ErrorIs(t, err, ErrInvalidStoreDriver)

		_, err = Load(writeConfig(t, "store:\n  driver: postgres\n"), nil)
		assert.ErrorIs(t, err, ErrMissingDSN)

		_, err = Load(writeConfig(t, "cache:\n  driver: memcached\n"), nil)
		assert.ErrorIs(t, err, ErrInvalidCacheDriver)
	})
}
