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
	AppEnv         string `env:"APP_ENV" default:"development"`
	Port           string `env:"PORT" default:"80"`
	DatabaseURL    string `env:"DATABASE_URL"`
	RedisURL       string `env:"REDIS_URL"`
	AppURL         string `env:"APP_URL"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`
	LogLevel       string `env:"LOG_LEVEL" default:"info"`
	LogFormat      string `env:"LOG_FORMAT" default:"text"`
	TrustProxy     bool   `env:"TRUST_PROXY" default:"false"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_WEBSOCKET_CONNECTIONS_PER_IP" default:"50"`
	WSConnectRate           float64 `env:"WS_CONNECT_RATE" default:"10"`
	WSConnectBurst          int     `env:"WS_CONNECT_BURST" default:"20"`

	DBWriteTimeout  time.Duration `env:"DB_WRITE_TIMEOUT" default:"5s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`

	ScanRateLimit float64 `env:"SCAN_RATE_LIMIT" default:"20"`
	ScanRateBurst int     `env:"SCAN_RATE_BURST" default:"40"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Origins returns ALLOWED_ORIGINS split on commas, trimmed, empties dropped.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	if cfg.IsProduction() {
		if mode := sslMode(cfg.DatabaseURL); mode == "disable" || mode == "allow" {
			return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
		}
	}

	if cfg.MaxWebSocketConnections <= 0 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS must be positive")
	}
	if cfg.MaxConnectionsPerIP <= 0 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS_PER_IP must be positive")
	}
	if cfg.WSConnectRate <= 0 {
		return errors.New("WS_CONNECT_RATE must be positive")
	}
	if cfg.WSConnectBurst <= 0 {
		return errors.New("WS_CONNECT_BURST must be positive")
	}
	if cfg.DBWriteTimeout <= 0 {
		return errors.New("DB_WRITE_TIMEOUT must be positive")
	}
	if cfg.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.ScanRateLimit <= 0 {
		return errors.New("SCAN_RATE_LIMIT must be positive")
	}
	if cfg.ScanRateBurst <= 0 {
		return errors.New("SCAN_RATE_BURST must be positive")
	}

	return nil
}

func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Query().Get("sslmode"))
}
