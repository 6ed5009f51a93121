// Package config loads the orchestrator configuration from a YAML file
// with environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root orchestrator configuration.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Service    ServiceConfig    `mapstructure:"service"`
	Directory  DirectoryConfig  `mapstructure:"directory"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Session    SessionConfig    `mapstructure:"session"`
	Streaming  StreamingConfig  `mapstructure:"streaming"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

// ServiceConfig contains basic HTTP service configuration.
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	NodeTimeout     time.Duration `mapstructure:"node_timeout"`
}

// DirectoryConfig configures the agent card directory.
type DirectoryConfig struct {
	CardsDir   string `mapstructure:"cards_dir"`
	WatchCards bool   `mapstructure:"watch_cards"`
	PlannerKey string `mapstructure:"planner_key"`
}

// EmbeddingsConfig configures the embedding service client.
type EmbeddingsConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	DefaultModel string        `mapstructure:"default_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CacheSize    int           `mapstructure:"cache_size"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// LLMConfig configures the collaborator LLM client used for
// classification, question answering, and summaries.
type LLMConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxTokens int           `mapstructure:"max_tokens"`
}

// SessionConfig configures the in-memory session store.
type SessionConfig struct {
	TTL         time.Duration `mapstructure:"ttl"`
	MaxSessions int           `mapstructure:"max_sessions"`
	MaxHistory  int           `mapstructure:"max_history"`
}

// StreamingConfig configures the in-process event streaming layer.
type StreamingConfig struct {
	RingSize      int `mapstructure:"ring_size"`
	ChannelBuffer int `mapstructure:"channel_buffer"`
}

// RedisConfig configures the optional Redis embedding cache.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
}

// Addr returns the host:port address for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// TracingConfig configures OTLP tracing export.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// RateLimitConfig configures per-client request rate limiting.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Load reads configuration from CONFIG_PATH (default
// config/orchestrator.yaml) if it exists, applies CODEQUERY_* environment
// overrides, and fills in defaults for everything else.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CODEQUERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/orchestrator.yaml"
	}
	if _, err := os.Stat(cfgPath); err == nil {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("service.port", 8081)
	v.SetDefault("service.metrics_port", 2112)
	v.SetDefault("service.graceful_timeout", 15*time.Second)
	v.SetDefault("service.read_timeout", 30*time.Second)
	v.SetDefault("service.write_timeout", 0)
	v.SetDefault("service.node_timeout", 5*time.Minute)

	v.SetDefault("directory.cards_dir", "config/agents")
	v.SetDefault("directory.watch_cards", true)
	v.SetDefault("directory.planner_key", "planner")

	v.SetDefault("embeddings.base_url", "http://localhost:8000")
	v.SetDefault("embeddings.default_model", "text-embedding-3-small")
	v.SetDefault("embeddings.timeout", 30*time.Second)
	v.SetDefault("embeddings.cache_size", 1000)
	v.SetDefault("embeddings.cache_ttl", time.Hour)

	v.SetDefault("llm.base_url", "http://localhost:8100")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_tokens", 1024)

	v.SetDefault("session.ttl", 30*time.Minute)
	v.SetDefault("session.max_sessions", 10000)
	v.SetDefault("session.max_history", 50)

	v.SetDefault("streaming.ring_size", 256)
	v.SetDefault("streaming.channel_buffer", 256)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "codequery-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("rate_limit.rps", 10.0)
	v.SetDefault("rate_limit.burst", 20)
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid service port %d", c.Service.Port)
	}
	if c.Service.MetricsPort <= 0 || c.Service.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port %d", c.Service.MetricsPort)
	}
	if c.Embeddings.BaseURL == "" {
		return fmt.Errorf("embeddings base_url is required")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm base_url is required")
	}
	if c.Directory.PlannerKey == "" {
		return fmt.Errorf("directory planner_key is required")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit rps must be non-negative")
	}
	if c.Session.MaxHistory <= 0 {
		return fmt.Errorf("session max_history must be positive")
	}
	return nil
}
