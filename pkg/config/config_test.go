package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "data/wal", cfg.WAL.Path)
	require.Equal(t, 4, cfg.Storage.MaxLevel)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
wal:
  path: /var/lib/tskv/wal
storage:
  max_level: 6
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/tskv/wal", cfg.WAL.Path)
	require.Equal(t, 6, cfg.Storage.MaxLevel)
	// Untouched fields keep their defaults.
	require.Equal(t, 4, cfg.Cache.MaxImmutableNumber)
}

func TestEnvOverrideWinsOverYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  max_level: 6\n"), 0o644))

	t.Setenv("CNOSDB_STORAGE_MAX_LEVEL", "9")
	t.Setenv("CNOSDB_WAL_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Storage.MaxLevel)
	require.False(t, cfg.WAL.Enabled)
}
