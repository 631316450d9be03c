package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tcsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Gateway, cfg.Gateway)
}

func TestLoadWithFile_YAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8181
gateway:
  url: http://plant.local:8000
  rate_limit: 2.5
  max_age: 3s
nats:
  enabled: true
  url: nats://broker:4222
  token: abc
constants:
  path: /etc/tcsd/constants.yaml
  watch: false
run:
  deadline: 0s
`)
	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "http://plant.local:8000", cfg.Gateway.URL)
	assert.Equal(t, 2.5, cfg.Gateway.RateLimit)
	assert.Equal(t, 3*time.Second, cfg.Gateway.MaxAge.Duration())
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "abc", cfg.NATS.Token.Value())
	assert.False(t, cfg.Constants.Watch)
	assert.Zero(t, cfg.Run.Deadline.Duration())

	// Untouched keys keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.Gateway.Timeout.Duration())
	assert.Equal(t, 15*time.Second, cfg.Constants.ReloadInterval.Duration())
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "gateway:\n  rate_limit: 2\n")
	t.Setenv("TCSD_GATEWAY_RATE_LIMIT", "7")
	t.Setenv("TCSD_RUN_DEADLINE", "30s")
	t.Setenv("TCSD_TELEMETRY_SERVICE_NAME", "tcsd-test")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7.0, cfg.Gateway.RateLimit)
	assert.Equal(t, 30*time.Second, cfg.Run.Deadline.Duration())
	assert.Equal(t, "tcsd-test", cfg.Telemetry.ServiceName)
}

func TestLoadWithFile_Invalid(t *testing.T) {
	path := writeConfig(t, "constants:\n  reload_interval: 0s\n")
	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")

	path = writeConfig(t, "gateway: [unclosed\n")
	_, err = LoadWithFile(path)
	assert.Error(t, err)

	_, err = LoadWithFile(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a regular file")
}

func TestConfig_Section(t *testing.T) {
	path := writeConfig(t, "logging:\n  format: console\n  caller: false\n")
	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	var logging struct {
		Format string `koanf:"format"`
		Caller bool   `koanf:"caller"`
		Level  string `koanf:"level"`
	}
	logging.Level = "info"
	logging.Caller = true
	require.NoError(t, cfg.Section("logging", &logging))
	assert.Equal(t, "console", logging.Format)
	assert.False(t, logging.Caller)
	assert.Equal(t, "info", logging.Level)

	var missing struct{ X int }
	assert.NoError(t, cfg.Section("absent", &missing))
	assert.NoError(t, Default().Section("logging", &missing))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "gateway.rate_limit", envKey("TCSD_GATEWAY_RATE_LIMIT"))
	assert.Equal(t, "server.http_port", envKey("TCSD_SERVER_HTTP_PORT"))
	assert.Equal(t, "debug", envKey("TCSD_DEBUG"))
}
