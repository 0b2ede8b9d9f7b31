package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudferry/cloudferry/internal/provider"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.Transfers.Workers)
	assert.Equal(t, "10MiB", cfg.Transfers.ChunkSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Push.Enabled)

	require.NoError(t, Validate(cfg))

	n, err := cfg.ChunkSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(10*1024*1024), n)
	assert.Zero(t, n%provider.ChunkAlignment)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
[api]
base_url = "https://broker.example.com"
user_id = "u1"

[transfers]
workers = 3
chunk_size = "640KiB"

[logging]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://broker.example.com", cfg.API.BaseURL)
	assert.Equal(t, 3, cfg.Transfers.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)

	n, err := cfg.ChunkSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(640*1024), n)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[api]
base_url = "https://broker.example.com"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Transfers.Workers)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadOrDefault_Missing(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestValidate_ChunkAlignment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transfers.ChunkSize = "500KiB" // not 320KiB-aligned

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "320KiB")

	cfg.Transfers.ChunkSize = "320KiB"
	require.NoError(t, Validate(cfg))

	cfg.Transfers.ChunkSize = "960KiB"
	require.NoError(t, Validate(cfg))
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad url", func(c *Config) { c.API.BaseURL = "not a url" }},
		{"negative workers", func(c *Config) { c.Transfers.Workers = -1 }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "yaml" }},
		{"bad timeout", func(c *Config) { c.Network.ConnectTimeout = "soon" }},
		{"negative rate", func(c *Config) { c.Network.RequestsPerSecond = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"1024", 1024},
		{"1KB", 1000},
		{"1KiB", 1024},
		{"10MiB", 10 * 1024 * 1024},
		{"1.5MiB", 1536 * 1024},
		{"2GB", 2_000_000_000},
	}

	for _, tt := range tests {
		got, err := parseSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseSize("abcMiB")
	assert.Error(t, err)

	_, err = parseSize("-5KiB")
	assert.Error(t, err)
}

func TestResolve_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[api]
base_url = "https://file.example.com"
`)

	env := EnvOverrides{
		APIURL: "https://env.example.com",
		Token:  "env-token",
		UserID: "env-user",
	}

	cfg, err := Resolve(env, path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.API.BaseURL)
	assert.Equal(t, "env-token", cfg.API.Token)
	assert.Equal(t, "env-user", cfg.API.UserID)
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvAPIURL, "https://set.example.com")
	t.Setenv(EnvToken, "tok")

	env := ReadEnvOverrides()
	assert.Equal(t, "https://set.example.com", env.APIURL)
	assert.Equal(t, "tok", env.Token)
	assert.Empty(t, env.PushURL)
}
