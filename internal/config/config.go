package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendOpenAI = "openai"
	BackendTGI    = "tgi"

	CacheMemory = "memory"
	CacheRedis  = "redis"

	// MaxPageSize bounds the size query parameter of GET /notes.
	MaxPageSize = 100
)

// Config holds every runtime setting of the service.  Values come from the
// environment, optionally seeded from a .env file in the working directory.
type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	DataFile string `mapstructure:"DATA_FILE"`

	LLMBackend       string        `mapstructure:"LLM_BACKEND"`
	LLMBaseURL       string        `mapstructure:"LLM_BASE_URL"`
	LLMAPIKey        string        `mapstructure:"LLM_API_KEY"`
	LLMModel         string        `mapstructure:"LLM_MODEL"`
	MaxTokens        int           `mapstructure:"MAX_TOKENS"`
	LLMTemperature   float32       `mapstructure:"LLM_TEMPERATURE"`
	LLMRetryAttempts uint          `mapstructure:"LLM_RETRY_ATTEMPTS"`
	LLMTimeout       time.Duration `mapstructure:"LLM_TIMEOUT"`
	BatchSize        int           `mapstructure:"BATCH_SIZE"`
	MaxPromptTokens  int           `mapstructure:"MAX_PROMPT_TOKENS"`

	CacheBackend string        `mapstructure:"CACHE_BACKEND"`
	RedisURL     string        `mapstructure:"REDIS_URL"`
	CacheTTL     time.Duration `mapstructure:"CACHE_TTL"`

	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	NotifyChannel string `mapstructure:"NOTIFY_CHANNEL"`

	WarmEnabled  bool          `mapstructure:"WARM_ENABLED"`
	WarmPageSize int           `mapstructure:"WARM_PAGE_SIZE"`
	WarmMaxPages int           `mapstructure:"WARM_MAX_PAGES"`
	WarmInterval time.Duration `mapstructure:"WARM_INTERVAL"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	AuthJWTSecret string `mapstructure:"AUTH_JWT_SECRET"`
	AuthIssuer    string `mapstructure:"AUTH_ISSUER"`
	AuthAudience  string `mapstructure:"AUTH_AUDIENCE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATA_FILE",
	"LLM_BACKEND", "LLM_BASE_URL", "LLM_API_KEY", "LLM_MODEL", "MAX_TOKENS",
	"LLM_TEMPERATURE", "LLM_RETRY_ATTEMPTS", "LLM_TIMEOUT", "BATCH_SIZE", "MAX_PROMPT_TOKENS",
	"CACHE_BACKEND", "REDIS_URL", "CACHE_TTL",
	"DATABASE_URL", "NOTIFY_CHANNEL",
	"WARM_ENABLED", "WARM_PAGE_SIZE", "WARM_MAX_PAGES", "WARM_INTERVAL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"AUTH_JWT_SECRET", "AUTH_ISSUER", "AUTH_AUDIENCE",
}

// Load reads the configuration and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATA_FILE", "data/test_llama_formatted.csv")
	v.SetDefault("LLM_BACKEND", BackendOpenAI)
	v.SetDefault("LLM_MODEL", "google/gemma-1.1-2b-it")
	v.SetDefault("MAX_TOKENS", 128)
	v.SetDefault("LLM_TEMPERATURE", 0.2)
	v.SetDefault("LLM_RETRY_ATTEMPTS", 3)
	v.SetDefault("LLM_TIMEOUT", "60s")
	v.SetDefault("BATCH_SIZE", 4)
	v.SetDefault("MAX_PROMPT_TOKENS", 0)
	v.SetDefault("CACHE_BACKEND", CacheMemory)
	v.SetDefault("CACHE_TTL", "0s")
	v.SetDefault("NOTIFY_CHANNEL", "soap_pages")
	v.SetDefault("WARM_ENABLED", true)
	v.SetDefault("WARM_PAGE_SIZE", 2)
	v.SetDefault("WARM_MAX_PAGES", 0)
	v.SetDefault("WARM_INTERVAL", "0s")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env file is fine
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDev reports whether the service runs in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the settings can produce a working service.
func (c *Config) Validate() error {
	switch c.LLMBackend {
	case BackendOpenAI:
	case BackendTGI:
		if c.LLMBaseURL == "" {
			return fmt.Errorf("LLM_BASE_URL is required when LLM_BACKEND is %q", BackendTGI)
		}
	default:
		return fmt.Errorf("LLM_BACKEND must be %q or %q, got %q", BackendOpenAI, BackendTGI, c.LLMBackend)
	}

	switch c.CacheBackend {
	case CacheMemory:
	case CacheRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_BACKEND is %q", CacheRedis)
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", CacheMemory, CacheRedis, c.CacheBackend)
	}

	if c.MaxTokens <= 0 {
		return fmt.Errorf("MAX_TOKENS must be positive, got %d", c.MaxTokens)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.WarmPageSize <= 0 || c.WarmPageSize > MaxPageSize {
		return fmt.Errorf("WARM_PAGE_SIZE must be between 1 and %d, got %d", MaxPageSize, c.WarmPageSize)
	}
	if c.LLMRetryAttempts == 0 {
		c.LLMRetryAttempts = 1
	}
	return nil
}
