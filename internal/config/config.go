// Package config loads the studio server configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/Sternrassler/studio-engine/pkg/logging"
)

// Config holds the environment driven configuration of the studio server.
type Config struct {
	// Service
	Port            int           `env:"PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty       bool          `env:"LOG_PRETTY" envDefault:"false"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// System credential
	APIKey           string `env:"API_KEY"`
	SystemKeyOwnerID string `env:"SYSTEM_KEY_OWNER_ID"`

	// Credential store; empty keeps credentials in memory.
	RedisURL string `env:"REDIS_URL"`

	// Generative API
	GeminiBaseURL    string        `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`
	GeminiAPIVersion string        `env:"GEMINI_API_VERSION" envDefault:"v1beta"`
	ImageModel       string        `env:"GEMINI_IMAGE_MODEL" envDefault:"gemini-2.5-flash-image"`
	TextModel        string        `env:"GEMINI_TEXT_MODEL" envDefault:"gemini-2.5-flash"`
	HTTPTimeout      time.Duration `env:"HTTP_TIMEOUT" envDefault:"120s"`

	// Credential pool
	QuotaRetryBackoff   time.Duration `env:"QUOTA_RETRY_BACKOFF" envDefault:"20s"`
	QuotaMaxAttempts    int           `env:"QUOTA_MAX_ATTEMPTS" envDefault:"2"`
	ValidateConcurrency int           `env:"VALIDATE_CONCURRENCY" envDefault:"4"`

	// Batch
	BatchTimeout time.Duration `env:"BATCH_TIMEOUT" envDefault:"0s"`

	// Session documents
	SessionDir       string        `env:"SESSION_DIR" envDefault:"./sessions"`
	SessionFile      string        `env:"SESSION_FILE"`
	AutosaveDebounce time.Duration `env:"AUTOSAVE_DEBOUNCE" envDefault:"1500ms"`
}

// LoadEnvFiles loads .env files that exist, overriding the environment.
func LoadEnvFiles(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env", "../.env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.GeminiBaseURL = strings.TrimSpace(cfg.GeminiBaseURL)

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT must be between 1 and 65535 (got %d)", cfg.Port)
	}
	if u, err := url.Parse(cfg.GeminiBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("GEMINI_BASE_URL is not a valid url: %q", cfg.GeminiBaseURL)
	}
	if cfg.HTTPTimeout <= 0 {
		return nil, fmt.Errorf("HTTP_TIMEOUT must be positive (got %s)", cfg.HTTPTimeout)
	}
	if cfg.QuotaMaxAttempts < 1 {
		return nil, fmt.Errorf("QUOTA_MAX_ATTEMPTS must be at least 1 (got %d)", cfg.QuotaMaxAttempts)
	}
	if cfg.QuotaRetryBackoff < 0 {
		return nil, fmt.Errorf("QUOTA_RETRY_BACKOFF must not be negative (got %s)", cfg.QuotaRetryBackoff)
	}
	if cfg.BatchTimeout < 0 {
		return nil, fmt.Errorf("BATCH_TIMEOUT must not be negative (got %s)", cfg.BatchTimeout)
	}
	if cfg.ValidateConcurrency < 1 {
		cfg.ValidateConcurrency = 1
	}
	return cfg, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(strings.ToLower(c.LogLevel))
	cfg.Pretty = c.LogPretty
	return cfg
}

// UsesRedis reports whether credentials are kept in Redis.
func (c *Config) UsesRedis() bool {
	return c.RedisURL != ""
}
