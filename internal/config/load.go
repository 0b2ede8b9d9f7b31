package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultConfigPath returns the default config file location,
// ~/.config/cloudferry/config.toml, falling back to the working directory
// when the home directory cannot be determined.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}

	return filepath.Join(home, ".config", "cloudferry", "config.toml")
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values so the tool runs without one.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration applying the override chain:
// defaults -> config file -> environment variables.
func Resolve(env EnvOverrides, cliConfigPath string) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cliConfigPath != "" {
		cfgPath = cliConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.APIURL != "" {
		cfg.API.BaseURL = env.APIURL
	}

	if env.Token != "" {
		cfg.API.Token = env.Token
	}

	if env.UserID != "" {
		cfg.API.UserID = env.UserID
	}

	if env.PushURL != "" {
		cfg.Push.URL = env.PushURL
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}
