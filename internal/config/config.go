package config

import "time"

// Config holds client configuration values.
type Config struct {
	Endpoint        string        `mapstructure:"endpoint" yaml:"endpoint"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	Backoff         BackoffConfig `mapstructure:"backoff" yaml:"backoff"`
	Handshake       string        `mapstructure:"handshake" yaml:"handshake"`
	HistoryLimit    int           `mapstructure:"history_limit" yaml:"history_limit"`
	Store           StoreConfig   `mapstructure:"store" yaml:"store"`
	Bridge          BridgeConfig  `mapstructure:"bridge" yaml:"bridge"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat       string        `mapstructure:"log_format" yaml:"log_format"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// BackoffConfig controls reconnect delays.
type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial" yaml:"initial"`
	Multiplier float64       `mapstructure:"multiplier" yaml:"multiplier"`
	Max        time.Duration `mapstructure:"max" yaml:"max"`
	Jitter     bool          `mapstructure:"jitter" yaml:"jitter"`
}

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StorePebble = "pebble"
	StoreMemory = "memory"
)

// StoreConfig selects the durable medium for the history.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
	Key    string `mapstructure:"key" yaml:"key"`
}

// BridgeConfig controls the local HTTP bridge.
type BridgeConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	// RateLimit caps POST /api/messages per minute. Zero disables the cap.
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Endpoint:        "ws://localhost:4000",
		ConnectTimeout:  5 * time.Second,
		WriteTimeout:    5 * time.Second,
		MaxAttempts:     8,
		MaxMessageBytes: 1 << 20,
		Backoff: BackoffConfig{
			Initial:    250 * time.Millisecond,
			Multiplier: 2.0,
			Max:        10 * time.Second,
			Jitter:     true,
		},
		Handshake:    "Hello, Server!",
		HistoryLimit: 0,
		Store: StoreConfig{
			Driver: StoreSQLite,
			Path:   "wirechat.db",
			Key:    "chatMessages",
		},
		Bridge: BridgeConfig{
			Enabled:           false,
			Addr:              "127.0.0.1:8089",
			ReadHeaderTimeout: 5 * time.Second,
			RateLimit:         120,
		},
		LogLevel:        "info",
		LogFormat:       "console",
		ShutdownTimeout: 5 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Endpoint != "" {
		c.Endpoint = other.Endpoint
	}
	if other.ConnectTimeout != 0 {
		c.ConnectTimeout = other.ConnectTimeout
	}
	if other.WriteTimeout != 0 {
		c.WriteTimeout = other.WriteTimeout
	}
	if other.MaxAttempts != 0 {
		c.MaxAttempts = other.MaxAttempts
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.Handshake != "" {
		c.Handshake = other.Handshake
	}
	if other.HistoryLimit != 0 {
		c.HistoryLimit = other.HistoryLimit
	}
	if other.Store.Driver != "" {
		c.Store.Driver = other.Store.Driver
	}
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Store.Key != "" {
		c.Store.Key = other.Store.Key
	}
	if other.Bridge.Addr != "" {
		c.Bridge.Addr = other.Bridge.Addr
	}
	if other.Bridge.Enabled {
		c.Bridge.Enabled = true
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}
