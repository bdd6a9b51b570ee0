// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("TEST_CHORUS_SECRET", "s3cret")
	path := writeConfig(t, "config.yaml", `
backend:
  url: "http://backend:8000"

transport:
  reconnect_base: "250ms"
  max_attempts: 3

orchestration:
  auto_interval: "10s"
  turn_timeout: "0s"

database:
  path: "/tmp/chorus.db"

auth:
  jwt_secret: "${TEST_CHORUS_SECRET}"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://backend:8000", cfg.Backend.URL)
	assert.Equal(t, "/ws", cfg.Backend.WebsocketPath, "default kept")
	assert.Equal(t, 250*time.Millisecond, cfg.Transport.ReconnectBase)
	assert.Equal(t, 30*time.Second, cfg.Transport.MaxDelay, "default kept")
	assert.Equal(t, 3, cfg.Transport.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Orchestration.AutoInterval)
	assert.Equal(t, time.Duration(0), cfg.Orchestration.TurnTimeout, "explicit zero disables")
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[backend]
url = "https://chorus.example.com"

[monitor]
interval = "1m"

[orchestration]
completion_threshold = 20

[database]
path = "/tmp/chorus.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://chorus.example.com", cfg.Backend.URL)
	assert.Equal(t, time.Minute, cfg.Monitor.Interval)
	assert.Equal(t, 20, cfg.Orchestration.CompletionThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Orchestration.SettleDelay)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad duration", "transport:\n  max_delay: \"soon\"\n", "transport.max_delay"},
		{"bad scheme", "backend:\n  url: \"ftp://x\"\n", "http or https"},
		{"bad level", "logging:\n  level: \"loud\"\n", "logging.level"},
		{"max below base", "transport:\n  reconnect_base: \"1m\"\n  max_delay: \"1s\"\n", "transport.max_delay"},
		{"bad yaml", "backend: [", "parsing config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Backend.URL, cfg.Backend.URL)
	assert.NoError(t, cfg.Validate())
}

func TestDefault_MatchesProtocolConstants(t *testing.T) {
	cfg := Default()
	assert.Equal(t, time.Second, cfg.Transport.ReconnectBase)
	assert.Equal(t, 30*time.Second, cfg.Transport.MaxDelay)
	assert.Equal(t, 5, cfg.Transport.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 10, cfg.Orchestration.CompletionThreshold)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/chorus.toml")
	assert.Equal(t, "/etc/chorus.toml", DefaultPath())

	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "chorus", "config.yaml"), DefaultPath())
}

func TestDefaultDatabasePath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/data", "chorus", "chorus.db"), DefaultDatabasePath())
}
