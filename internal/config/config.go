// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the complete service configuration. Missing required values are
// fatal at startup; nothing here is re-read per request.
type Config struct {
	Addr        string `envconfig:"ADDR" default:":8080"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	AdminToken  string `envconfig:"ADMIN_TOKEN" required:"true"`

	EnableEmailWhitelist bool `envconfig:"ENABLE_EMAIL_WHITELIST" default:"false"`

	RateLimitMaxRequests int           `envconfig:"RATE_LIMIT_MAX_REQUESTS" default:"20"`
	RateLimitWindow      time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`

	StoreTimeout    time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"15m"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
}

// Load reads and validates configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.DatabaseURL = normalizeDSN(cfg.DatabaseURL)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// normalizeDSN unifies the postgresql:// scheme alias some platforms emit.
func normalizeDSN(dsn string) string {
	if strings.HasPrefix(dsn, "postgresql://") {
		return "postgres://" + strings.TrimPrefix(dsn, "postgresql://")
	}
	return dsn
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL must not be blank")
	}
	if strings.TrimSpace(c.AdminToken) == "" {
		return fmt.Errorf("ADMIN_TOKEN must not be blank")
	}
	if c.RateLimitMaxRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be positive, got %d", c.RateLimitMaxRequests)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %s", c.RateLimitWindow)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	return nil
}
