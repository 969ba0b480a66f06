package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_CreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.xml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr, "default config should be written")

	assert.Equal(t, "ws://127.0.0.1:5007/socket", cfg.Telemetry.Endpoint)
	assert.Equal(t, "machineData", cfg.Telemetry.SnapshotKey)
	assert.Equal(t, []string{"websocket", "polling"}, cfg.GetTransports())
	assert.Equal(t, 500*time.Millisecond, cfg.GetDeleteDelay())
	assert.Equal(t, "date", cfg.Notifications.DefaultSortType)
	assert.Equal(t, "desc", cfg.Notifications.DefaultSortOrder)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.GetDataDir())
}

func TestLoadConfig_ReadsFileAndKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.xml")
	body := `<PlantConsole>
  <Server><Port>9000</Port></Server>
  <Telemetry><Transports> Polling </Transports></Telemetry>
  <Storage><DataDirectory>/var/lib/console</DataDirectory><Backend>pebble</Backend></Storage>
</PlantConsole>`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"polling"}, cfg.GetTransports())
	assert.Equal(t, "/var/lib/console", cfg.GetDataDir())
	assert.Equal(t, "pebble", cfg.Storage.Backend)
	assert.Equal(t, 15*time.Second, cfg.GetRequestTimeout(), "unset sections keep defaults")
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "7001")
	t.Setenv("BACKEND_URL", "http://backend:5000")
	t.Setenv("TELEMETRY_ENDPOINT", "ws://backend:5007/socket")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.xml"))
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "http://backend:5000", cfg.Backend.BaseURL)
	assert.Equal(t, "ws://backend:5007/socket", cfg.Telemetry.Endpoint)
	assert.Equal(t, "debug", cfg.Advanced.LogLevel)
}

func TestLoadConfig_InvalidXML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.xml")
	require.NoError(t, os.WriteFile(path, []byte("<PlantConsole><Server>"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDirectory = filepath.Join(t.TempDir(), "nested", "data")

	require.NoError(t, cfg.EnsureDirectories())
	_, err := os.Stat(cfg.GetSnapshotDir())
	assert.NoError(t, err)
}
