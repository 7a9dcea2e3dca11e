package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9700", cfg.Manager.Endpoint)
	assert.Equal(t, "fleetctl", cfg.Sync.Token)
	assert.Empty(t, cfg.Auth.Token)
}

func TestLoadFromFile(t *testing.T) {
	home := isolate(t)

	dir := filepath.Join(home, ".fleetctl")
	require.NoError(t, os.MkdirAll(dir, 0700))
	content := `manager:
  endpoint: https://fleet.example.com/
sync:
  token: laptop
  secret: s3cret
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://fleet.example.com", cfg.Manager.Endpoint, "trailing slash is trimmed")
	assert.Equal(t, "laptop", cfg.Sync.Token)
	assert.Equal(t, "s3cret", cfg.Sync.Secret)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("FLEET_MANAGER_ENDPOINT", "http://manager:9700")
	t.Setenv("FLEET_AUTH_TOKEN", "jwt")
	t.Setenv("FLEET_SYNC_SECRET", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://manager:9700", cfg.Manager.Endpoint)
	assert.Equal(t, "jwt", cfg.Auth.Token)
	assert.Equal(t, "from-env", cfg.Sync.Secret)
}

func TestSave(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	cfg.Auth.Token = "minted"
	require.NoError(t, cfg.Save())

	path := filepath.Join(home, ".fleetctl", "config.yaml")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	viper.Reset()
	reloaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "minted", reloaded.Auth.Token)
}
