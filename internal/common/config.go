// Package common provides shared utilities for Hive
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the Hive dashboard client
type Config struct {
	Environment string           `toml:"environment"`
	Server      ServerConfig     `toml:"server"`
	Upstream    UpstreamConfig   `toml:"upstream"`
	Connection  ConnectionConfig `toml:"connection"`
	Signals     SignalsConfig    `toml:"signals"`
	Sync        SyncConfig       `toml:"sync"`
	Assets      AssetsConfig     `toml:"assets"`
	Logging     LoggingConfig    `toml:"logging"`
}

// ServerConfig holds the local view server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// UpstreamConfig points at the trading server that pushes events and serves snapshots.
type UpstreamConfig struct {
	BaseURL   string `toml:"base_url"`
	WSURL     string `toml:"ws_url"`
	RateLimit int    `toml:"rate_limit"`
	Timeout   string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration
func (c *UpstreamConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ConnectionConfig controls the push connection lifecycle.
type ConnectionConfig struct {
	MaxAttempts  int    `toml:"max_attempts"`
	BaseDelay    string `toml:"base_delay"`
	MaxDelay     string `toml:"max_delay"`
	Backoff      string `toml:"backoff"` // "linear" (default) or "exponential"
	PingInterval string `toml:"ping_interval"`
	PongWait     string `toml:"pong_wait"`
}

// GetMaxAttempts returns the reconnect attempt budget, defaulting to 5.
func (c *ConnectionConfig) GetMaxAttempts() int {
	if c.MaxAttempts <= 0 {
		return 5
	}
	return c.MaxAttempts
}

// GetBaseDelay returns the backoff unit, defaulting to 2s.
func (c *ConnectionConfig) GetBaseDelay() time.Duration {
	return parseDurationOr(c.BaseDelay, 2*time.Second)
}

// GetMaxDelay returns the backoff ceiling. Zero means uncapped.
func (c *ConnectionConfig) GetMaxDelay() time.Duration {
	return parseDurationOr(c.MaxDelay, 0)
}

// GetPingInterval returns the keepalive ping period.
func (c *ConnectionConfig) GetPingInterval() time.Duration {
	return parseDurationOr(c.PingInterval, 30*time.Second)
}

// GetPongWait returns how long the read side waits for any frame or pong.
func (c *ConnectionConfig) GetPongWait() time.Duration {
	return parseDurationOr(c.PongWait, 60*time.Second)
}

// SignalsConfig sizes the signal buffer and its pagination.
type SignalsConfig struct {
	Capacity int `toml:"capacity"`
	PageSize int `toml:"page_size"`
}

// SyncConfig holds the periodic pull intervals. An empty or "0" interval disables the task.
// Bootstrap runs every pull once after each successful connect.
type SyncConfig struct {
	Bootstrap       bool   `toml:"bootstrap"`
	StatusInterval  string `toml:"status_interval"`
	StatsInterval   string `toml:"stats_interval"`
	SignalsInterval string `toml:"signals_interval"`
	WalletInterval  string `toml:"wallet_interval"`
	Jitter          string `toml:"jitter"`
}

// GetStatusInterval returns the bot status poll period.
func (c *SyncConfig) GetStatusInterval() time.Duration {
	return parseDurationOr(c.StatusInterval, 0)
}

// GetStatsInterval returns the trading stats poll period.
func (c *SyncConfig) GetStatsInterval() time.Duration {
	return parseDurationOr(c.StatsInterval, 0)
}

// GetSignalsInterval returns the signal refresh period.
func (c *SyncConfig) GetSignalsInterval() time.Duration {
	return parseDurationOr(c.SignalsInterval, 0)
}

// GetWalletInterval returns the simulation wallet refresh period.
func (c *SyncConfig) GetWalletInterval() time.Duration {
	return parseDurationOr(c.WalletInterval, 0)
}

// GetJitter returns the upper bound of the first-firing offset.
func (c *SyncConfig) GetJitter() time.Duration {
	return parseDurationOr(c.Jitter, 0)
}

// AssetsConfig holds the static symbol -> price asset id table.
// Entries are merged over the built-in defaults.
type AssetsConfig struct {
	Symbols map[string]string `toml:"symbols"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string   `toml:"level"`
	Format   string   `toml:"format"`
	Outputs  []string `toml:"outputs"`
	FilePath string   `toml:"file_path"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4280,
		},
		Upstream: UpstreamConfig{
			BaseURL:   "http://localhost:8000",
			WSURL:     "ws://localhost:8000/ws",
			RateLimit: 5,
			Timeout:   "30s",
		},
		Connection: ConnectionConfig{
			MaxAttempts:  5,
			BaseDelay:    "2s",
			Backoff:      "linear",
			PingInterval: "30s",
			PongWait:     "60s",
		},
		Signals: SignalsConfig{
			Capacity: 20,
			PageSize: 5,
		},
		Sync: SyncConfig{
			Bootstrap:       true,
			StatusInterval:  "10s",
			StatsInterval:   "30s",
			SignalsInterval: "60s",
			WalletInterval:  "30s",
			Jitter:          "2s",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"console"},
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier ones
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("HIVE_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("HIVE_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("HIVE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("HIVE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if v := os.Getenv("HIVE_API_URL"); v != "" {
		config.Upstream.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("HIVE_WS_URL"); v != "" {
		config.Upstream.WSURL = strings.TrimRight(v, "/")
	}

	if v := os.Getenv("HIVE_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Connection.MaxAttempts = n
		}
	}
	if v := os.Getenv("HIVE_RECONNECT_DELAY"); v != "" {
		config.Connection.BaseDelay = v
	}
	if v := os.Getenv("HIVE_RECONNECT_BACKOFF"); v != "" {
		config.Connection.Backoff = strings.ToLower(v)
	}
}

// Validate checks values that would otherwise break the engine at runtime.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base_url cannot be empty")
	}
	if c.Upstream.WSURL == "" {
		return fmt.Errorf("upstream ws_url cannot be empty")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d", c.Server.Port)
	}
	switch c.Connection.Backoff {
	case "", "linear", "exponential":
	default:
		return fmt.Errorf("unknown backoff strategy %q (want linear or exponential)", c.Connection.Backoff)
	}
	if c.Signals.Capacity < 0 || c.Signals.PageSize < 0 {
		return fmt.Errorf("signal capacity and page size cannot be negative")
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
