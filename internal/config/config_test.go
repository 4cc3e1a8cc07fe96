package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "matrixci.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 2, cfg.Server.Workers)
	assert.Equal(t, 64, cfg.Server.QueueSize)
	assert.Equal(t, 256, cfg.Server.HistoryLimit)
	assert.Equal(t, 0, cfg.Runner.MaxWorkers)
	assert.Equal(t, 6*time.Hour, cfg.Runner.JobTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.MaxAge)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Runner.Workspace)
	assert.NotEmpty(t, cfg.Cache.Dir)

	require.NoError(t, Validate(cfg))
}

func TestLoaderYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9000"
  auth:
    enabled: true
    api_key: topsecret
runner:
  max_workers: 4
  job_timeout: 90m
cache:
  max_bytes: 1073741824
reporters:
  - type: console
    enabled: true
  - type: webhook
    enabled: true
    config:
      url: https://ci.example.com/hook
      timeout: 5s
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.True(t, cfg.Server.Auth.Enabled)
	assert.Equal(t, "topsecret", cfg.Server.Auth.APIKey)
	assert.Equal(t, 4, cfg.Runner.MaxWorkers)
	assert.Equal(t, 90*time.Minute, cfg.Runner.JobTimeout)
	assert.Equal(t, int64(1<<30), cfg.Cache.MaxBytes)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, 64, cfg.Server.QueueSize)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.Len(t, cfg.Reporters, 2)
	assert.Equal(t, "webhook", cfg.Reporters[1].Type)
	assert.Equal(t, "https://ci.example.com/hook", cfg.Reporters[1].Config["url"])
}

func TestLoaderPrecedence(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9000"
runner:
  max_workers: 4
`)

	t.Setenv("MATRIXCI_SERVER_ADDRESS", ":9100")
	t.Setenv("MATRIXCI_RUNNER_KEEP_WORKSPACE", "true")

	cfg, err := NewLoader().
		WithConfigPath(path).
		WithOverrides(map[string]string{"server.address": ":9200"}).
		Load()
	require.NoError(t, err)

	// Override beats env beats file.
	assert.Equal(t, ":9200", cfg.Server.Address)
	// Env beats file defaults.
	assert.True(t, cfg.Runner.KeepWorkspace)
	// File beats defaults.
	assert.Equal(t, 4, cfg.Runner.MaxWorkers)
}

func TestLoaderEnvTypes(t *testing.T) {
	t.Setenv("MATRIXCI_RUNNER_JOB_TIMEOUT", "45m")
	t.Setenv("MATRIXCI_CACHE_MAX_BYTES", "2048")
	t.Setenv("MATRIXCI_SERVER_WORKERS", "8")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Minute, cfg.Runner.JobTimeout)
	assert.Equal(t, int64(2048), cfg.Cache.MaxBytes)
	assert.Equal(t, 8, cfg.Server.Workers)
}

func TestLoaderOverridePaths(t *testing.T) {
	cfg, err := NewLoader().WithOverrides(map[string]string{
		"runner.max_workers":  "6",
		"server.auth.enabled": "true",
		"server.auth.api_key": "k",
		"logging.level":       "debug",
	}).Load()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Runner.MaxWorkers)
	assert.True(t, cfg.Server.Auth.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoaderUnknownOverridePath(t *testing.T) {
	_, err := NewLoader().WithOverrides(map[string]string{"runner.vcpus": "2"}).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config path")
}

func TestLoaderBadOverrideValue(t *testing.T) {
	_, err := NewLoader().WithOverrides(map[string]string{"runner.max_workers": "many"}).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid integer")
}

func TestLoaderMissingFile(t *testing.T) {
	_, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoaderBadYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestDiscoverPath(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "/env/config.yaml")
		assert.Equal(t, "/flag/config.yaml", DiscoverPath("/flag/config.yaml"))
	})

	t.Run("env second", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "/env/config.yaml")
		assert.Equal(t, "/env/config.yaml", DiscoverPath(""))
	})

	t.Run("working directory file third", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{}"), 0o644))
		chdir(t, dir)
		assert.Equal(t, DefaultConfigFile, DiscoverPath(""))
	})

	t.Run("nothing found", func(t *testing.T) {
		chdir(t, t.TempDir())
		assert.Empty(t, DiscoverPath(""))
	})
}
