package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/merchantry/wholesale-core/internal/domain"
	pkgconfig "github.com/merchantry/wholesale-core/pkg/config"
)

// Config holds all configuration for the wholesale-core server.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	// Postgres
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"wholesale"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"wholesale_secret"`
	DBName     string `env:"DB_NAME" envDefault:"wholesale"`
	DBSSLMode  string `env:"DB_SSL_MODE" envDefault:"disable"`
	DBMaxConns int32  `env:"DB_MAX_CONNS" envDefault:"25"`

	// Redis
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Cart TTL in hours (default: 7 days)
	CartTTL int `env:"CART_TTL_HOURS" envDefault:"168"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Minimum order totals in minor units, keyed by role.
	// Format: "wholesaler=500000,distributor=1000000". Roles not listed
	// have no minimum.
	MinOrderTotals string `env:"MIN_ORDER_TOTALS" envDefault:""`

	// Stock finalization
	FinalizeMaxRetries int `env:"FINALIZE_MAX_RETRIES" envDefault:"3"`

	// Per-client-IP rate limiting. RPS of 0 disables it.
	RateLimitRPS   int `env:"RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST" envDefault:"100"`

	// Tracing
	TracingEnabled  bool    `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint    string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4318"`
	TraceSampleRate float64 `env:"TRACE_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.FinalizeMaxRetries < 1 {
		return fmt.Errorf("invalid finalize max retries: %d", c.FinalizeMaxRetries)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("invalid rate limit rps: %d", c.RateLimitRPS)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("invalid rate limit burst: %d", c.RateLimitBurst)
	}
	if _, err := c.MinOrderByRole(); err != nil {
		return err
	}
	return nil
}

// MinOrderByRole parses MinOrderTotals into a per-role map of minimum
// order totals in minor units.
func (c *Config) MinOrderByRole() (map[domain.Role]int64, error) {
	out := make(map[domain.Role]int64)
	if strings.TrimSpace(c.MinOrderTotals) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(c.MinOrderTotals, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid min order entry %q", pair)
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil || amount < 0 {
			return nil, fmt.Errorf("invalid min order amount %q", val)
		}
		role := domain.Role(strings.TrimSpace(key))
		if !role.Valid() {
			return nil, fmt.Errorf("unknown role %q in min order config", key)
		}
		out[role] = amount
	}
	return out, nil
}
