// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds server configuration. Every field maps to one environment
// variable; the defaults keep a bare invocation bootable in dev mode.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`

	// Persistence. DATABASE_URL selects Postgres; unset falls back to a
	// local SQLite file under DataDir (lite mode). REDIS_ADDR moves the
	// session arm state into Redis for multi-replica deployments.
	DatabaseURL   string `env:"DATABASE_URL"`
	DataDir       string `env:"DATA_DIR" envDefault:"data"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Executor bridge. An empty URL keeps the loopback echo adapter, so
	// approved commands execute without side effects.
	BridgeURL       string        `env:"BRIDGE_URL"`
	BridgeToken     string        `env:"BRIDGE_TOKEN"`
	ExecutorTimeout time.Duration `env:"EXECUTOR_TIMEOUT" envDefault:"30s"`

	// Arm phrases. Empty falls back to the stock phrases.
	ArmPhrase    string `env:"ARM_PHRASE"`
	DisarmPhrase string `env:"DISARM_PHRASE"`

	// AuthN and API hardening.
	JWTSecret      string        `env:"JWT_SECRET"`
	RequireAuth    bool          `env:"REQUIRE_AUTH" envDefault:"false"`
	CORSOrigins    []string      `env:"CORS_ORIGINS" envSeparator:","`
	RateLimitRPS   int           `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" envDefault:"20"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	// Guard policy profile (YAML). Empty means no profile is loaded and
	// every command is admitted to the approval flow.
	PolicyProfile string `env:"POLICY_PROFILE"`

	// Telemetry.
	Environment  string `env:"ENVIRONMENT" envDefault:"development"`
	OTELEnabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTELInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"false"`
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// SlogLevel maps the configured LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
