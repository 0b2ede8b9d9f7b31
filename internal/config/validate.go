package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/cloudferry/cloudferry/internal/provider"
)

// Validate checks a Config for values that would misbehave at runtime.
func Validate(cfg *Config) error {
	if cfg.API.BaseURL != "" {
		if _, err := url.ParseRequestURI(cfg.API.BaseURL); err != nil {
			return fmt.Errorf("api.base_url %q is not a valid URL: %w", cfg.API.BaseURL, err)
		}
	}

	if cfg.Transfers.Workers < 0 {
		return fmt.Errorf("transfers.workers must be non-negative, got %d", cfg.Transfers.Workers)
	}

	if err := validateChunkSize(cfg.Transfers.ChunkSize); err != nil {
		return err
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", cfg.Logging.Format)
	}

	if cfg.Network.ConnectTimeout != "" {
		if _, err := time.ParseDuration(cfg.Network.ConnectTimeout); err != nil {
			return fmt.Errorf("network.connect_timeout %q is not a valid duration: %w", cfg.Network.ConnectTimeout, err)
		}
	}

	if cfg.Network.RequestsPerSecond < 0 {
		return fmt.Errorf("network.requests_per_second must be non-negative, got %g", cfg.Network.RequestsPerSecond)
	}

	return nil
}

// validateChunkSize enforces the upload protocol's 320 KiB alignment rule.
func validateChunkSize(s string) error {
	n, err := parseSize(s)
	if err != nil {
		return fmt.Errorf("transfers.chunk_size: %w", err)
	}

	if n == 0 {
		return nil
	}

	if n%provider.ChunkAlignment != 0 {
		return fmt.Errorf("transfers.chunk_size %q must be a multiple of 320KiB", s)
	}

	return nil
}
