// Package config loads the service configuration from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Message store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	Env      string `env:"ENV, default=development"`
	Port     string `env:"PORT, default=8080"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	MessageStore          string `env:"MESSAGE_STORE, default=memory"`
	DatabaseURL           string `env:"DATABASE_URL"`
	PostgresNotifyChannel string `env:"POSTGRES_NOTIFY_CHANNEL, default=prism_messages"`
	RedisURL              string `env:"REDIS_URL"`
	SnowflakeNode         int64  `env:"SNOWFLAKE_NODE, default=1"`

	OpenAIAPIKey       string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL      string `env:"OPENAI_BASE_URL"`
	OpenAIModelChat    string `env:"OPENAI_MODEL_CHAT, default=gpt-4o-mini"`
	OpenAIModelSummary string `env:"OPENAI_MODEL_SUMMARY"`

	GeminiAPIKey      string        `env:"GEMINI_API_KEY"`
	VideoModel        string        `env:"VIDEO_MODEL, default=veo-2.0-generate-001"`
	VideoBaseURL      string        `env:"VIDEO_BASE_URL"`
	VideoPollInterval time.Duration `env:"VIDEO_POLL_INTERVAL, default=5s"`
	VideoMaxInterval  time.Duration `env:"VIDEO_MAX_INTERVAL, default=30s"`
	VideoMaxWait      time.Duration `env:"VIDEO_MAX_WAIT, default=5m"`

	CORSOrigins []string `env:"CORS_ORIGINS, default=*"`
}

// Load reads configuration from environment variables.  In development a
// .env file is loaded first when present.
func Load(ctx context.Context) (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom reads configuration from l.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings each backend requires.
func (c *Config) Validate() error {
	var errs []error
	switch c.MessageStore {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres message store"))
		}
		if c.PostgresNotifyChannel == "" {
			errs = append(errs, errors.New("POSTGRES_NOTIFY_CHANNEL must not be empty"))
		}
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis message store"))
		}
	default:
		errs = append(errs, fmt.Errorf("MESSAGE_STORE must be one of memory, postgres, redis; got %q", c.MessageStore))
	}
	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		errs = append(errs, fmt.Errorf("SNOWFLAKE_NODE must be between 0 and 1023; got %d", c.SnowflakeNode))
	}
	if c.VideoPollInterval <= 0 || c.VideoMaxInterval < c.VideoPollInterval || c.VideoMaxWait <= 0 {
		errs = append(errs, errors.New("video poll settings must be positive and VIDEO_MAX_INTERVAL must not be below VIDEO_POLL_INTERVAL"))
	}
	if !c.IsDevelopment() && c.MessageStore == StoreMemory {
		errs = append(errs, errors.New("the memory message store is only allowed in development"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// SummaryModel returns the model of the progress summary flow.
func (c *Config) SummaryModel() string {
	if c.OpenAIModelSummary != "" {
		return c.OpenAIModelSummary
	}
	return c.OpenAIModelChat
}
