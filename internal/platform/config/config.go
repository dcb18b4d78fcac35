package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	AuthSecret  string `env:"AUTH_SECRET"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	// ServiceSecret signs the tokens of services allowed to create
	// notifications. Without it notifications cannot be created over HTTP.
	ServiceSecret string `env:"SERVICE_AUTH_SECRET"`

	APIPrefix      string   `env:"API_PREFIX" default:"/api"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" default:"http://localhost:3000"`

	StreamEnabled     bool          `env:"STREAM_ENABLED" default:"true"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" default:"90s"`
	MaxConnections    int           `env:"MAX_STREAM_CONNECTIONS" default:"10000"`

	RateLimitPerSecond float64 `env:"RATE_LIMIT_PER_SECOND" default:"20"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST" default:"40"`
}

// BrokerMode reports whether cross-instance fan-out through Redis is configured.
func (c *Config) BrokerMode() bool {
	return c.RedisURL != ""
}

// InMemoryStore reports whether notifications should be kept in process memory.
// Only allowed in development when no database is configured.
func (c *Config) InMemoryStore() bool {
	return c.DatabaseURL == "" && c.AppEnv == "development"
}

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
	if cfg.AuthSecret == "" {
		return errors.New("AUTH_SECRET is required")
	}
	if len(cfg.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be at least 32 characters")
	}
	if cfg.ServiceSecret != "" {
		if len(cfg.ServiceSecret) < 32 {
			return errors.New("SERVICE_AUTH_SECRET must be at least 32 characters")
		}
		if cfg.ServiceSecret == cfg.AuthSecret {
			return errors.New("SERVICE_AUTH_SECRET must differ from AUTH_SECRET")
		}
	}
	if cfg.DatabaseURL == "" && cfg.AppEnv != "development" {
		return errors.New("DATABASE_URL is required")
	}

	if cfg.AppEnv == "production" {
		if err := requireSecureSSL(cfg.DatabaseURL); err != nil {
			return err
		}
	}

	if cfg.APIPrefix != "" && !strings.HasPrefix(cfg.APIPrefix, "/") {
		return fmt.Errorf("API_PREFIX must start with '/', got %q", cfg.APIPrefix)
	}
	cfg.APIPrefix = strings.TrimRight(cfg.APIPrefix, "/")

	if cfg.HeartbeatInterval <= 0 {
		return errors.New("HEARTBEAT_INTERVAL must be positive")
	}
	if cfg.IdleTimeout < 2*cfg.HeartbeatInterval {
		return fmt.Errorf("IDLE_TIMEOUT (%s) must be at least twice HEARTBEAT_INTERVAL (%s)", cfg.IdleTimeout, cfg.HeartbeatInterval)
	}
	if cfg.MaxConnections <= 0 {
		return errors.New("MAX_STREAM_CONNECTIONS must be positive")
	}

	return nil
}

func requireSecureSSL(databaseURL string) error {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	mode := strings.ToLower(u.Query().Get("sslmode"))
	if mode == "disable" || mode == "allow" {
		return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
	}
	return nil
}
