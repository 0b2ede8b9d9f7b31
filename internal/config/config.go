// Package config implements TOML configuration loading and validation for
// cloudferry. The override chain is defaults -> config file -> environment
// variables; CLI flags are applied by the commands themselves.
package config

import "github.com/cloudferry/cloudferry/internal/provider"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	API       APIConfig       `toml:"api"`
	Transfers TransfersConfig `toml:"transfers"`
	Push      PushConfig      `toml:"push"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
}

// APIConfig addresses the broker backend.
type APIConfig struct {
	BaseURL string `toml:"base_url"`
	UserID  string `toml:"user_id"`
	Token   string `toml:"token"`
}

// TransfersConfig controls the transfer worker pool and the chunked-upload
// threshold. chunk_size must be a multiple of 320 KiB per the OneDrive
// upload protocol.
type TransfersConfig struct {
	Workers   int    `toml:"workers"`
	ChunkSize string `toml:"chunk_size"`
}

// PushConfig addresses the live update channel.
type PushConfig struct {
	URL     string `toml:"url"`
	Enabled bool   `toml:"enabled"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout    string  `toml:"connect_timeout"`
	UserAgent         string  `toml:"user_agent"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// Default values.
const (
	defaultWorkers        = 5
	defaultChunkSize      = "10MiB"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultConnectTimeout = "30s"
	defaultUserAgent      = "cloudferry/0.1"
)

// DefaultConfig returns a Config with every field at its default.
func DefaultConfig() *Config {
	return &Config{
		Transfers: TransfersConfig{
			Workers:   defaultWorkers,
			ChunkSize: defaultChunkSize,
		},
		Push: PushConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			UserAgent:      defaultUserAgent,
		},
	}
}

// ChunkSizeBytes parses the configured chunk size. Validation has already
// checked the string, so errors here only occur on an unvalidated Config.
func (c *Config) ChunkSizeBytes() (int64, error) {
	n, err := parseSize(c.Transfers.ChunkSize)
	if err != nil {
		return 0, err
	}

	if n == 0 {
		return provider.DefaultChunkSize, nil
	}

	return n, nil
}
