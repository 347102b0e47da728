package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv         string   `env:"APP_ENV" default:"development"`
	Port           string   `env:"PORT" default:"8000"`
	RedisURL       string   `env:"REDIS_URL"`
	GoogleAPIKey   string   `env:"GOOGLE_API_KEY"`
	GeminiModel    string   `env:"GEMINI_MODEL" default:"gemini-pro"`
	GeminiBaseURL  string   `env:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com"`
	LogLevel       string   `env:"LOG_LEVEL" default:"info"`
	LogFormat      string   `env:"LOG_FORMAT" default:"text"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" default:"*"`

	AnalyzeRateLimit float64 `env:"ANALYZE_RATE_LIMIT" default:"1"` // requests per second per client IP
	AnalyzeRateBurst int     `env:"ANALYZE_RATE_BURST" default:"5"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool { return c.AppEnv == "development" }

// RedisConfigured reports whether a broadcast bus should be used.
func (c *Config) RedisConfigured() bool { return c.RedisURL != "" }

// AnalysisConfigured reports whether diagram analysis calls Gemini.
func (c *Config) AnalysisConfigured() bool { return c.GoogleAPIKey != "" }

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if _, err := strconv.ParseUint(cfg.Port, 10, 16); err != nil {
		return fmt.Errorf("PORT must be a valid port number, got %q", cfg.Port)
	}
	if len(cfg.AllowedOrigins) == 0 {
		return errors.New("ALLOWED_ORIGINS must not be empty")
	}
	if cfg.AnalyzeRateLimit <= 0 {
		return errors.New("ANALYZE_RATE_LIMIT must be positive")
	}
	if cfg.AnalyzeRateBurst < 1 {
		return errors.New("ANALYZE_RATE_BURST must be at least 1")
	}
	if cfg.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}
