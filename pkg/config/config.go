// Package config loads the wisdm-sync configuration file. TOML is the default
// format; files ending in .yaml or .yml are read as YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/wisdm-app/threadsync/pkg/client"
	"github.com/wisdm-app/threadsync/pkg/thread"
)

// DefaultPath is used when no --config flag is given
const DefaultPath = "~/.wisdm-sync/config.toml"

// Config represents the structure of the config file
type Config struct {
	Server     ServerSection     `toml:"server" yaml:"server"`
	Connection ConnectionSection `toml:"connection" yaml:"connection"`
	Threads    ThreadsSection    `toml:"threads" yaml:"threads"`
	Client     ClientSection     `toml:"client" yaml:"client"`
}

type ServerSection struct {
	SocketURL string `toml:"socket_url" yaml:"socket_url"`
	APIURL    string `toml:"api_url" yaml:"api_url"`
	Token     string `toml:"token" yaml:"token,omitempty"`
}

type ConnectionSection struct {
	ReconnectionEnabled   bool `toml:"reconnection_enabled" yaml:"reconnection_enabled"`
	ReconnectAttempts     int  `toml:"reconnect_attempts" yaml:"reconnect_attempts"`
	ReconnectDelayMS      int  `toml:"reconnect_delay_ms" yaml:"reconnect_delay_ms"`
	MaxReconnectDelayMS   int  `toml:"max_reconnect_delay_ms" yaml:"max_reconnect_delay_ms"`
	ConnectTimeoutSeconds int  `toml:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
}

type ThreadsSection struct {
	PageSize      int    `toml:"page_size" yaml:"page_size"`
	OrderBy       string `toml:"order_by" yaml:"order_by"`
	ReferenceType string `toml:"reference_type" yaml:"reference_type"`
}

type ClientSection struct {
	StatePath   string `toml:"state_path" yaml:"state_path"`
	LogFile     string `toml:"log_file" yaml:"log_file,omitempty"`
	MetricsAddr string `toml:"metrics_addr" yaml:"metrics_addr,omitempty"`
}

// Default returns the default configuration
func Default() Config {
	opts := client.DefaultOptions()
	return Config{
		Server: ServerSection{
			SocketURL: "https://api.wisdm.app",
			APIURL:    "https://api.wisdm.app/api",
		},
		Connection: ConnectionSection{
			ReconnectionEnabled:   opts.ReconnectionEnabled,
			ReconnectAttempts:     opts.ReconnectAttempts,
			ReconnectDelayMS:      int(opts.ReconnectDelay / time.Millisecond),
			MaxReconnectDelayMS:   int(opts.MaxReconnectDelay / time.Millisecond),
			ConnectTimeoutSeconds: int(opts.ConnectTimeout / time.Second),
		},
		Threads: ThreadsSection{
			PageSize:      thread.DefaultPageSize,
			OrderBy:       "DESC",
			ReferenceType: thread.DefaultReferenceType,
		},
		Client: ClientSection{
			StatePath: "~/.wisdm-sync/state.db",
		},
	}
}

// Load loads configuration from path, creates a default file if none
// exists, and applies environment variable overrides
func Load(path string) (Config, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return Config{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		// A read-only location still runs with defaults
		_ = writeDefault(path, cfg)
		cfg = applyEnvOverrides(cfg)
		return cfg, cfg.Validate()
	}

	cfg := Default()
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg = applyEnvOverrides(cfg)
	return cfg, cfg.Validate()
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ExpandPath expands a leading ~ to the home directory
func ExpandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path[1:], "/")), nil
	}
	return path, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.SocketURL) == "" {
		return fmt.Errorf("server.socket_url cannot be empty")
	}
	if strings.TrimSpace(c.Server.APIURL) == "" {
		return fmt.Errorf("server.api_url cannot be empty")
	}
	if c.Connection.ReconnectAttempts < 0 {
		return fmt.Errorf("connection.reconnect_attempts must not be negative")
	}
	if c.Connection.ReconnectDelayMS <= 0 || c.Connection.MaxReconnectDelayMS <= 0 {
		return fmt.Errorf("connection reconnect delays must be positive")
	}
	if c.Connection.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("connection.connect_timeout_seconds must be positive")
	}
	if c.Threads.PageSize <= 0 {
		return fmt.Errorf("threads.page_size must be positive")
	}
	if _, err := thread.ParseSortMode(c.Threads.OrderBy); err != nil {
		return fmt.Errorf("threads.order_by: %w", err)
	}
	return nil
}

// ManagerOptions converts the connection section
func (c *Config) ManagerOptions() client.Options {
	return client.Options{
		ReconnectionEnabled: c.Connection.ReconnectionEnabled,
		ReconnectAttempts:   c.Connection.ReconnectAttempts,
		ReconnectDelay:      time.Duration(c.Connection.ReconnectDelayMS) * time.Millisecond,
		MaxReconnectDelay:   time.Duration(c.Connection.MaxReconnectDelayMS) * time.Millisecond,
		ConnectTimeout:      time.Duration(c.Connection.ConnectTimeoutSeconds) * time.Second,
	}
}

// SortMode returns the configured sibling order
func (c *Config) SortMode() thread.SortMode {
	mode, err := thread.ParseSortMode(c.Threads.OrderBy)
	if err != nil {
		return thread.SortDesc
	}
	return mode
}

// StatePath returns the state database path with ~ expanded
func (c *Config) StatePath() (string, error) {
	return ExpandPath(c.Client.StatePath)
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables follow the pattern: WISDM_SECTION_KEY
// Example: WISDM_SERVER_SOCKET_URL=http://localhost:5000
func applyEnvOverrides(cfg Config) Config {
	envString("WISDM_SERVER_SOCKET_URL", &cfg.Server.SocketURL)
	envString("WISDM_SERVER_API_URL", &cfg.Server.APIURL)
	envString("WISDM_SERVER_TOKEN", &cfg.Server.Token)

	envBool("WISDM_CONNECTION_RECONNECTION_ENABLED", &cfg.Connection.ReconnectionEnabled)
	envInt("WISDM_CONNECTION_RECONNECT_ATTEMPTS", &cfg.Connection.ReconnectAttempts)
	envInt("WISDM_CONNECTION_RECONNECT_DELAY_MS", &cfg.Connection.ReconnectDelayMS)
	envInt("WISDM_CONNECTION_MAX_RECONNECT_DELAY_MS", &cfg.Connection.MaxReconnectDelayMS)
	envInt("WISDM_CONNECTION_CONNECT_TIMEOUT_SECONDS", &cfg.Connection.ConnectTimeoutSeconds)

	envInt("WISDM_THREADS_PAGE_SIZE", &cfg.Threads.PageSize)
	envString("WISDM_THREADS_ORDER_BY", &cfg.Threads.OrderBy)
	envString("WISDM_THREADS_REFERENCE_TYPE", &cfg.Threads.ReferenceType)

	envString("WISDM_CLIENT_STATE_PATH", &cfg.Client.StatePath)
	envString("WISDM_CLIENT_LOG_FILE", &cfg.Client.LogFile)
	envString("WISDM_CLIENT_METRICS_ADDR", &cfg.Client.MetricsAddr)
	return cfg
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

// Unparseable values are ignored
func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

// writeDefault writes the default config to path with every option documented
func writeDefault(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if isYAML(path) {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		return os.WriteFile(path, data, 0644)
	}

	content := `# wisdm-sync configuration
# This file was auto-generated with default values
#
# Environment variables can override these settings:
# WISDM_SECTION_KEY (e.g., WISDM_SERVER_SOCKET_URL=http://localhost:5000)

[server]
# Socket.IO endpoint for real-time updates
socket_url = "https://api.wisdm.app"

# REST API base URL
api_url = "https://api.wisdm.app/api"

# Bearer token used for votes and API requests
# token = ""

[connection]
# Reconnect automatically after a dropped connection
reconnection_enabled = true

# Automatic reconnect attempts before giving up
reconnect_attempts = 5

# First reconnect delay, doubled per attempt up to the maximum
reconnect_delay_ms = 1000
max_reconnect_delay_ms = 5000

# A connection attempt fails after this many seconds
connect_timeout_seconds = 20

[threads]
# Comments per page
page_size = 20

# DESC (newest first) or ASC (oldest first)
order_by = "DESC"

reference_type = "timelines"

[client]
# SQLite database for connection history and notification read state
state_path = "~/.wisdm-sync/state.db"

# Write logs to a file instead of stderr
# log_file = "~/.wisdm-sync/wisdm-sync.log"

# Serve Prometheus metrics, e.g. "127.0.0.1:9464"
# metrics_addr = ""
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
