// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the RoomChat service.
package server

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" envDefault:"5"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Host             string          `env:"SERVER_HOST"`
	Port             string          `env:"SERVER_PORT" envDefault:"8080"`
	AllowedOrigins   []string        `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:8080"`
	AllowEmptyOrigin bool            `env:"ALLOW_EMPTY_ORIGIN"`
	MaxMessageSize   int64           `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	RateLimit        RateLimitConfig
	HandshakeTimeout time.Duration   `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`
	WorkerLimit      int             `env:"WORKER_LIMIT" envDefault:"16"`
	TaskTimeout      time.Duration   `env:"TASK_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout  time.Duration   `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	PresenceRefresh  time.Duration   `env:"PRESENCE_REFRESH_INTERVAL" envDefault:"30s"`
}

const (
	defaultPort             = "8080"
	defaultMaxMessageSize   = 4096
	defaultBurst            = 5
	defaultRefillInterval   = time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultWorkerLimit      = 16
	defaultTaskTimeout      = 10 * time.Second
	defaultShutdownTimeout  = 30 * time.Second
	defaultPresenceRefresh  = 30 * time.Second
)

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		HandshakeTimeout: defaultHandshakeTimeout,
		WorkerLimit:      defaultWorkerLimit,
		TaskTimeout:      defaultTaskTimeout,
		ShutdownTimeout:  defaultShutdownTimeout,
		PresenceRefresh:  defaultPresenceRefresh,
	}
}

// sanitizeConfig replaces zero or invalid values with defaults and returns
// the corrected copy.
func sanitizeConfig(cfg Config) Config {
	cfg.Port = strings.TrimPrefix(strings.TrimSpace(cfg.Port), ":")
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}

	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}

	if cfg.WorkerLimit <= 0 {
		cfg.WorkerLimit = defaultWorkerLimit
	}

	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	if cfg.PresenceRefresh <= 0 {
		cfg.PresenceRefresh = defaultPresenceRefresh
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig creates a Config instance from environment variables.
// Unset or invalid values fall back to the defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse server env: %w", err)
	}
	cfg = sanitizeConfig(cfg)
	return &cfg, nil
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}
