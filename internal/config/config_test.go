package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_ENV", "test")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "test", cfg.Server.Env)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.HealthInterval)
	assert.Equal(t, 180, cfg.Audit.RetentionDays)
	assert.Equal(t, "memory", cfg.Cache.Driver)
}

func TestLoadConfig_SecretResolution(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("GATEWAY_TOKEN", "sk-test-12345")

	configContent := `
server:
  api_key: "ENV:GATEWAY_TOKEN"
upstream:
  base_url: "http://upstream:8000/v1"
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(configContent), 0o644))

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sk-test-12345", cfg.Server.APIKey)
	assert.Equal(t, "http://upstream:8000/v1", cfg.Upstream.BaseURL)
}

func TestLoadConfig_InvalidCacheDriver(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CACHE_DRIVER", "memcached")

	_, err := LoadConfig()
	assert.Error(t, err)
}
