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
	path := filepath.Join(t.TempDir(), "coordinator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"

data:
  dir: "/var/lib/fleet"

dispatch:
  local_timeout: "30s"
  remote_timeout: "20s"
  max_concurrency: 4

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/var/lib/fleet", cfg.Data.Dir)
	assert.Equal(t, filepath.Join("/var/lib/fleet", "workers.json"), cfg.Data.RegistryPath())
	assert.Equal(t, 30*time.Second, cfg.Dispatch.LocalTimeout)
	assert.Equal(t, 20*time.Second, cfg.Dispatch.RemoteTimeout)
	assert.Equal(t, 4, cfg.Dispatch.MaxConcurrency)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("FLEET_DATA_DIR", "/tmp/fleet-data")

	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
data:
  dir: "${FLEET_DATA_DIR}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/fleet-data", cfg.Data.Dir)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
data:
  dir: "/tmp/fleet"
dispatch:
  local_timeout: "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local_timeout")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"missing data dir", func(c *Config) { c.Data.Dir = "" }, "data.dir"},
		{"negative concurrency", func(c *Config) { c.Dispatch.MaxConcurrency = -1 }, "max_concurrency"},
		{"metrics without path", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "" }, "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server: ServerConfig{HTTPAddr: "localhost:8080"},
				Data:   DataConfig{Dir: "/tmp/fleet"},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
