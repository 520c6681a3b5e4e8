package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisdm-app/threadsync/pkg/client"
	"github.com/wisdm-app/threadsync/pkg/thread"
)

func TestLoadWritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err, "default file is created")

	// The generated file parses back to the defaults
	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), again)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
socket_url = "http://localhost:5000"
token = "abc"

[threads]
order_by = "asc"
page_size = 50
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000", cfg.Server.SocketURL)
	assert.Equal(t, "https://api.wisdm.app/api", cfg.Server.APIURL, "missing keys keep defaults")
	assert.Equal(t, "abc", cfg.Server.Token)
	assert.Equal(t, 50, cfg.Threads.PageSize)
	assert.Equal(t, thread.SortAsc, cfg.SortMode())
	assert.Equal(t, 5, cfg.Connection.ReconnectAttempts)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  socket_url: http://localhost:5000
connection:
  reconnection_enabled: false
  reconnect_attempts: 2
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000", cfg.Server.SocketURL)
	assert.False(t, cfg.Connection.ReconnectionEnabled)
	assert.Equal(t, 2, cfg.Connection.ReconnectAttempts)
	assert.Equal(t, 1000, cfg.Connection.ReconnectDelayMS)
}

func TestLoadWritesDefaultYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), again)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[server\nsocket_url = "), 0644))
	_, err := Load(bad)
	assert.ErrorContains(t, err, "failed to parse config file")

	invalid := filepath.Join(dir, "invalid.toml")
	require.NoError(t, os.WriteFile(invalid, []byte("[threads]\norder_by = \"sideways\"\n"), 0644))
	_, err = Load(invalid)
	assert.ErrorContains(t, err, "threads.order_by")

	badYAML := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badYAML, []byte("server: [unclosed"), 0644))
	_, err = Load(badYAML)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Setenv("WISDM_SERVER_SOCKET_URL", "http://env:1234")
	t.Setenv("WISDM_CONNECTION_RECONNECT_ATTEMPTS", "9")
	t.Setenv("WISDM_CONNECTION_RECONNECTION_ENABLED", "false")
	t.Setenv("WISDM_THREADS_PAGE_SIZE", "not-a-number")
	t.Setenv("WISDM_CLIENT_METRICS_ADDR", ":9464")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env:1234", cfg.Server.SocketURL)
	assert.Equal(t, 9, cfg.Connection.ReconnectAttempts)
	assert.False(t, cfg.Connection.ReconnectionEnabled)
	assert.Equal(t, 20, cfg.Threads.PageSize, "unparseable values are ignored")
	assert.Equal(t, ":9464", cfg.Client.MetricsAddr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty socket url", func(c *Config) { c.Server.SocketURL = " " }},
		{"empty api url", func(c *Config) { c.Server.APIURL = "" }},
		{"negative attempts", func(c *Config) { c.Connection.ReconnectAttempts = -1 }},
		{"zero delay", func(c *Config) { c.Connection.ReconnectDelayMS = 0 }},
		{"zero timeout", func(c *Config) { c.Connection.ConnectTimeoutSeconds = 0 }},
		{"zero page size", func(c *Config) { c.Threads.PageSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestManagerOptions(t *testing.T) {
	cfg := Default()
	assert.Equal(t, client.DefaultOptions(), cfg.ManagerOptions())

	cfg.Connection.ReconnectDelayMS = 250
	cfg.Connection.ConnectTimeoutSeconds = 3
	opts := cfg.ManagerOptions()
	assert.Equal(t, 250*time.Millisecond, opts.ReconnectDelay)
	assert.Equal(t, 3*time.Second, opts.ConnectTimeout)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/.wisdm-sync/state.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".wisdm-sync", "state.db"), got)

	got, err = ExpandPath("~")
	require.NoError(t, err)
	assert.Equal(t, home, got)

	got, err = ExpandPath("/var/lib/state.db")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/state.db", got)

	cfg := Default()
	statePath, err := cfg.StatePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".wisdm-sync", "state.db"), statePath)
}
