package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	ServerPort  string `default:"8080" split_words:"true"`
	DatabaseURL string `required:"true" split_words:"true"`
	RedisURL    string `split_words:"true"`
	JWTSecret   string `required:"true" split_words:"true"`

	CacheBackend       string        `default:"memory" split_words:"true"`
	CacheTTL           time.Duration `default:"5m" split_words:"true"`
	CacheSweepInterval time.Duration `default:"1m" split_words:"true"`

	RateLimitBackend  string        `default:"memory" split_words:"true"`
	RateLimitRequests int           `default:"60" split_words:"true"`
	RateLimitWindow   time.Duration `default:"1m" split_words:"true"`

	ClockSkewLeeway time.Duration `default:"60s" split_words:"true"`

	LogLevel      string `default:"info" split_words:"true"`
	LogFormat     string `default:"json" split_words:"true"`
	RunMigrations bool   `default:"true" split_words:"true"`
}

// UsesRedis reports whether any backend needs a redis connection.
func (c *Config) UsesRedis() bool {
	return c.CacheBackend == BackendRedis || c.RateLimitBackend == BackendRedis
}

func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if !validBackend(cfg.CacheBackend) {
		return nil, fmt.Errorf("invalid CACHE_BACKEND %q", cfg.CacheBackend)
	}
	if !validBackend(cfg.RateLimitBackend) {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BACKEND %q", cfg.RateLimitBackend)
	}
	if cfg.UsesRedis() && cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required when a redis backend is selected")
	}
	if cfg.RateLimitRequests <= 0 {
		return nil, errors.New("RATE_LIMIT_REQUESTS must be positive")
	}
	if cfg.CacheTTL <= 0 || cfg.CacheSweepInterval <= 0 || cfg.RateLimitWindow <= 0 {
		return nil, errors.New("CACHE_TTL, CACHE_SWEEP_INTERVAL and RATE_LIMIT_WINDOW must be positive")
	}
	if cfg.ClockSkewLeeway < 0 {
		return nil, errors.New("CLOCK_SKEW_LEEWAY must not be negative")
	}

	return &cfg, nil
}

func validBackend(b string) bool {
	return b == BackendMemory || b == BackendRedis
}
