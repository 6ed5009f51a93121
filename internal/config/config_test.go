package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	os.Setenv("CONFIG_PATH", "/nonexistent/orchestrator.yaml")
	defer os.Unsetenv("CONFIG_PATH")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Service.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "planner", cfg.Directory.PlannerKey)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.False(t, cfg.Tracing.Enabled)
	assert.Positive(t, cfg.Session.MaxHistory)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	content := `
log_level: debug
service:
  port: 9090
llm:
  model: gpt-4o
rate_limit:
  rps: 2.5
  burst: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	os.Setenv("CONFIG_PATH", path)
	defer os.Unsetenv("CONFIG_PATH")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Service.Port)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 2.5, cfg.RateLimit.RPS)
	// Unset keys keep their defaults.
	assert.Equal(t, "http://localhost:8000", cfg.Embeddings.BaseURL)
}

func TestEnvOverride(t *testing.T) {
	os.Setenv("CONFIG_PATH", "/nonexistent/orchestrator.yaml")
	os.Setenv("CODEQUERY_LLM_BASE_URL", "http://llm:9000")
	defer func() {
		os.Unsetenv("CONFIG_PATH")
		os.Unsetenv("CODEQUERY_LLM_BASE_URL")
	}()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://llm:9000", cfg.LLM.BaseURL)
}

func TestValidate(t *testing.T) {
	t.Run("rejects bad port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Service.Port = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects empty embeddings url", func(t *testing.T) {
		cfg := validConfig()
		cfg.Embeddings.BaseURL = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects negative rps", func(t *testing.T) {
		cfg := validConfig()
		cfg.RateLimit.RPS = -1
		assert.Error(t, cfg.Validate())
	})
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.Service.Port = 8081
	cfg.Service.MetricsPort = 2112
	cfg.Embeddings.BaseURL = "http://localhost:8000"
	cfg.LLM.BaseURL = "http://localhost:8100"
	cfg.Directory.PlannerKey = "planner"
	cfg.Session.MaxHistory = 50
	return cfg
}
