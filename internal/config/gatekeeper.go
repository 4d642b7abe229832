package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// GatekeeperConfig holds all configuration for the gatekeeper.
type GatekeeperConfig struct {
	Server      ServerConfig      `mapstructure:"server"`
	Proxy       ProxyClientConfig `mapstructure:"proxy"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ProxyClientConfig describes how the gatekeeper reaches the internal proxy.
type ProxyClientConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
}

// BaseURL returns the proxy root URL. A port embedded in Host wins over Port.
func (c ProxyClientConfig) BaseURL() string {
	if _, _, err := net.SplitHostPort(c.Host); err == nil {
		return "http://" + c.Host
	}
	return "http://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// IdempotencyConfig controls replay of write responses keyed by Idempotency-Key.
type IdempotencyConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig represents the Redis idempotency store configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

var gatekeeperEnvAliases = map[string][]string{
	"proxy.host": {"PROXY_HOST"},
}

// LoadGatekeeper reads gatekeeper configuration from an optional file and the environment.
func LoadGatekeeper(configPath string) (*GatekeeperConfig, error) {
	var cfg GatekeeperConfig
	if err := load(configPath, "GATEKEEPER", "gatekeeper", setGatekeeperDefaults, gatekeeperEnvAliases, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setGatekeeperDefaults(v *viper.Viper) {
	v.SetDefault("proxy.port", 5000)
	v.SetDefault("proxy.timeout", "60s")
	v.SetDefault("proxy.max_idle_conns", 100)

	v.SetDefault("rate_limiter.enabled", true)
	v.SetDefault("rate_limiter.requests_per_second", 1000.0)
	v.SetDefault("rate_limiter.burst_size", 100)

	v.SetDefault("idempotency.enabled", false)
	v.SetDefault("idempotency.backend", "memory")
	v.SetDefault("idempotency.ttl", "24h")
	v.SetDefault("idempotency.max_size", 10000)
	v.SetDefault("idempotency.redis.host", "localhost")
	v.SetDefault("idempotency.redis.port", 6379)
	v.SetDefault("idempotency.redis.db", 0)
}

// Validate checks that every required startup input is present.
func (c *GatekeeperConfig) Validate() error {
	if err := c.Server.validate(); err != nil {
		return err
	}

	if c.Proxy.Host == "" {
		return errors.New("missing required settings: proxy.host")
	}
	if c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
		return fmt.Errorf("invalid proxy port: %d", c.Proxy.Port)
	}
	if c.Proxy.Timeout <= 0 {
		return errors.New("proxy timeout must be positive")
	}

	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return errors.New("rate limiter requests per second must be positive")
		}
		if c.RateLimiter.BurstSize <= 0 {
			return errors.New("rate limiter burst size must be positive")
		}
	}

	if c.Idempotency.Enabled {
		switch c.Idempotency.Backend {
		case "memory", "redis":
		default:
			return fmt.Errorf("idempotency backend must be memory or redis, got %q", c.Idempotency.Backend)
		}
		if c.Idempotency.TTL <= 0 {
			return errors.New("idempotency ttl must be positive")
		}
		if c.Idempotency.Backend == "memory" && c.Idempotency.MaxSize <= 0 {
			return errors.New("idempotency max size must be positive")
		}
		if c.Idempotency.Backend == "redis" && c.Idempotency.Redis.Host == "" {
			return errors.New("idempotency.redis.host is required")
		}
	}

	return c.Metrics.validate()
}
