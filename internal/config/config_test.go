package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, NewValidator().Validate(&cfg))
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, StoreLibSQL, cfg.Store.Driver)
	assert.Equal(t, EventsWatermill, cfg.Events.Backend)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_MissingRequiredFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), true)
	require.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("TEST_AUTOFLOW_DIR", "/var/lib/autoflow")
	path := writeConfig(t, `
engine:
  max_retries: 2
  retry_delay: 200ms
log:
  level: debug
  format: json
store:
  driver: file
  path: ${TEST_AUTOFLOW_DIR}/runs
providers:
  fallbacks: [backup]
  mcp:
    - name: primary
      command: primary-server
      tool: generate
    - name: backup
      command: backup-server
      args: ["--quiet"]
      tool: generate
schedules:
  - name: nightly
    cron: "0 2 * * *"
    workflow: flows/nightly.yaml
`)
	cfg, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Engine.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Engine.RetryDelay)
	// Unset keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Engine.MaxRetryDelay)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, StoreFile, cfg.Store.Driver)
	assert.Equal(t, "/var/lib/autoflow/runs", cfg.Store.Path)
	require.Len(t, cfg.Providers.MCP, 2)
	assert.Equal(t, []string{"--quiet"}, cfg.Providers.MCP[1].Args)
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "0 2 * * *", cfg.Schedules[0].Cron)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, "engine:\n  max_retrys: 2\n")
	_, err := Load(path, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_retrys")
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""), true)
	require.NoError(t, err)
	assert.Equal(t, Default().Engine, cfg.Engine)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\nengine:\n  max_retries: 1\n")
	t.Setenv("AUTOFLOW_LOG_LEVEL", "error")
	t.Setenv("AUTOFLOW_MAX_RETRIES", "0")
	t.Setenv("AUTOFLOW_RETRY_DELAY", "2s")
	t.Setenv("AUTOFLOW_STORE_DRIVER", "none")
	t.Setenv("AUTOFLOW_OTEL_ENDPOINT", "localhost:4318")
	t.Setenv("AUTOFLOW_OTEL_INSECURE", "true")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 0, cfg.Engine.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Engine.RetryDelay)
	assert.Equal(t, StoreNone, cfg.Store.Driver)
	assert.Equal(t, "localhost:4318", cfg.Telemetry.Endpoint)
	assert.True(t, cfg.Telemetry.Insecure)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("AUTOFLOW_MAX_RETRIES", "many")
	_, err := Load("", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTOFLOW_MAX_RETRIES")

	t.Setenv("AUTOFLOW_MAX_RETRIES", "")
	t.Setenv("AUTOFLOW_READY_TIMEOUT", "forever")
	_, err = Load("", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTOFLOW_READY_TIMEOUT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level must be one of"},
		{"bad store driver", func(c *Config) { c.Store.Driver = "postgres" }, "store.driver must be one of"},
		{"store path required", func(c *Config) { c.Store.Path = "" }, "store.path is required"},
		{"negative retries", func(c *Config) { c.Engine.MaxRetries = -1 }, "engine.max_retries must be at least 0"},
		{"bad events backend", func(c *Config) { c.Events.Backend = "kafka" }, "events.backend must be one of"},
		{"delay above cap", func(c *Config) {
			c.Engine.RetryDelay = time.Minute
			c.Engine.MaxRetryDelay = time.Second
		}, "exceeds engine.max_retry_delay"},
		{"mcp server missing tool", func(c *Config) {
			c.Providers.MCP = []MCPServer{{Name: "a", Command: "srv"}}
		}, "providers.mcp[0].tool is required"},
		{"duplicate mcp name", func(c *Config) {
			c.Providers.MCP = []MCPServer{{Name: "a", Command: "x", Tool: "t"}, {Name: "a", Command: "y", Tool: "t"}}
		}, `duplicate name "a"`},
		{"unknown fallback", func(c *Config) { c.Providers.Fallbacks = []string{"ghost"} }, `unknown provider "ghost"`},
		{"schedule missing cron", func(c *Config) {
			c.Schedules = []ScheduleConfig{{Name: "n", Workflow: "w.yaml"}}
		}, "schedules[0].cron is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := NewValidator().Validate(&cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_StorePathOptionalWithoutStore(t *testing.T) {
	cfg := Default()
	cfg.Store = StoreConfig{Driver: StoreNone}
	assert.NoError(t, NewValidator().Validate(&cfg))
}
