// Package config loads process configuration from the environment (and an
// optional .env file) and the endpoint class table from an optional JSON file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/aman-churiwal/request-governance/internal/ratelimit"
	"github.com/aman-churiwal/request-governance/internal/storage"
)

const (
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Cache    CacheConfig
	Breaker  BreakerConfig
	Stats    StatsConfig

	// RateLimitFile points at a JSON file overriding the built-in classes.
	RateLimitFile string `env:"RATE_LIMIT_CONFIG"`

	RateLimits []ratelimit.Config `env:"-"`
}

type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	// TrustedProxies is handed to gin; empty trusts none.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

type StorageConfig struct {
	// Driver is "redis" or "memory".
	Driver string `env:"STORAGE_DRIVER" envDefault:"redis"`
}

type RedisConfig struct {
	URL              string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RetryAttempts    int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"5"`
	RetryInterval    time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"500ms"`
	ConnectTimeout   time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"10s"`
	OperationTimeout time.Duration `env:"REDIS_OPERATION_TIMEOUT" envDefault:"2s"`
	ScanBatchSize    int           `env:"REDIS_SCAN_BATCH_SIZE" envDefault:"100"`
}

func (c RedisConfig) Storage() storage.RedisConfig {
	return storage.RedisConfig{
		URL:              c.URL,
		RetryAttempts:    c.RetryAttempts,
		RetryInterval:    c.RetryInterval,
		ConnectTimeout:   c.ConnectTimeout,
		OperationTimeout: c.OperationTimeout,
		ScanBatchSize:    c.ScanBatchSize,
	}
}

type DatabaseConfig struct {
	// DSN empty disables the user API.
	DSN             string        `env:"DATABASE_URL"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
	AutoMigrate     bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

func (c DatabaseConfig) Postgres(debug bool) storage.PostgresConfig {
	return storage.PostgresConfig{
		DSN:             c.DSN,
		MaxIdleConns:    c.MaxIdleConns,
		MaxOpenConns:    c.MaxOpenConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		Debug:           debug,
	}
}

type JWTConfig struct {
	Secret string        `env:"JWT_SECRET"`
	Expiry time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`
}

type CacheConfig struct {
	TTL          time.Duration `env:"CACHE_TTL" envDefault:"60s"`
	UsersTTL     time.Duration `env:"CACHE_USERS_TTL" envDefault:"30s"`
	MaxBodyBytes int           `env:"CACHE_MAX_BODY_BYTES" envDefault:"1048576"`
}

type BreakerConfig struct {
	MaxFailures int           `env:"STORE_BREAKER_MAX_FAILURES" envDefault:"5"`
	Timeout     time.Duration `env:"STORE_BREAKER_TIMEOUT" envDefault:"30s"`
}

type StatsConfig struct {
	Enabled bool          `env:"RATE_LIMIT_STATS" envDefault:"true"`
	Prefix  string        `env:"RATE_LIMIT_STATS_PREFIX" envDefault:"rl:stats"`
	TTL     time.Duration `env:"RATE_LIMIT_STATS_TTL" envDefault:"24h"`
}

// Load reads .env when present, parses the environment and resolves the
// endpoint class table.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	limits, err := LoadRateLimits(cfg.RateLimitFile)
	if err != nil {
		return nil, err
	}
	cfg.RateLimits = limits

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, fmt.Errorf("%w: PORT is required", ErrInvalidConfig))
	}

	switch c.Storage.Driver {
	case DriverRedis:
		if c.Redis.URL == "" {
			errs = append(errs, fmt.Errorf("%w: REDIS_URL is required for the redis driver", ErrInvalidConfig))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown STORAGE_DRIVER %q", ErrInvalidConfig, c.Storage.Driver))
	}

	if c.Database.DSN != "" && c.JWT.Secret == "" {
		errs = append(errs, fmt.Errorf("%w: JWT_SECRET is required when DATABASE_URL is set", ErrInvalidConfig))
	}

	if c.IsProduction() && c.Storage.Driver == DriverMemory {
		errs = append(errs, fmt.Errorf("%w: the memory driver cannot be used in production", ErrInvalidConfig))
	}

	for _, rl := range c.RateLimits {
		if err := rl.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
