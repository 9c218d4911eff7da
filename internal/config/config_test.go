package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/config"
)

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "funsies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hub_url: redis://example:6380/1
data_url: file:///tmp/funsies-data
queues: [gpu, default]
default_timeout: 5m
lock_ttl: 1m
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "redis://example:6380/1", cfg.HubURL)
	require.Equal(t, "file:///tmp/funsies-data", cfg.DataURL)
	require.Equal(t, []string{"gpu", "default"}, cfg.Queues)
	require.Equal(t, 5*time.Minute, cfg.DefaultTimeout)
	require.Equal(t, time.Minute, cfg.LockTTL)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := config.Load("/nonexistent/path/funsies.yaml")
	require.Error(t, err)
}
