// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"

	gateway "github.com/eugener/predictgw/internal"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Backend        BackendConfig        `yaml:"backend"`
	Retry          gateway.BackoffSpec  `yaml:"retry"` // applied when a caller opts into retry
	Cache          CacheConfig          `yaml:"cache"`
	Health         HealthConfig         `yaml:"health"`
	Gateway        GatewayConfig        `yaml:"gateway"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Database       DatabaseConfig       `yaml:"database"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BackendConfig describes the prediction service the gateway fronts.
type BackendConfig struct {
	BaseURL       string            `yaml:"base_url"`
	Timeout       time.Duration     `yaml:"timeout"`        // per capability call
	HealthTimeout time.Duration     `yaml:"health_timeout"` // health endpoint only
	Endpoints     map[string]string `yaml:"endpoints"`      // capability -> path override
	ForceHTTP2    bool              `yaml:"force_http2"`
	DNSCache      bool              `yaml:"dns_cache"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Backend    string        `yaml:"backend"` // "memory" or "redis"
	MaxSize    int           `yaml:"max_size"`
	MaxTTL     time.Duration `yaml:"max_ttl"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds the shared cache connection settings.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"` // empty means a fresh prefix per process
}

// HealthConfig controls background backend probing.
type HealthConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	Timeout     time.Duration `yaml:"timeout"`
}

// GatewayConfig tunes the facade.
type GatewayConfig struct {
	Dedupe             bool `yaml:"dedupe"`
	CompareParallelism int  `yaml:"compare_parallelism"`
	HistoryLimit       int  `yaml:"history_limit"`
}

// CircuitBreakerConfig controls the per-capability breaker in the backend client.
type CircuitBreakerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ErrorThreshold float64       `yaml:"error_threshold"`
	MinSamples     int           `yaml:"min_samples"`
	WindowSeconds  int           `yaml:"window_seconds"`
	OpenTimeout    time.Duration `yaml:"open_timeout"`
}

// RateLimitConfig limits inbound API requests per client address.
type RateLimitConfig struct {
	RPM int64 `yaml:"rpm"` // requests per minute per client (0 = unlimited)
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"; empty disables persistence
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Events  EventsConfig  `yaml:"events"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// EventsConfig controls persisting reported failures to the database.
type EventsConfig struct {
	Enabled bool `yaml:"enabled"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration used when a file sets nothing.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Backend: BackendConfig{
			Timeout:       30 * time.Second,
			HealthTimeout: 3 * time.Second,
			DNSCache:      true,
		},
		Retry: gateway.BackoffSpec{
			BaseDelay:   500 * time.Millisecond,
			MaxAttempts: 3,
			Multiplier:  2,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "memory",
			MaxSize:    10_000,
			MaxTTL:     time.Hour,
			DefaultTTL: 5 * time.Minute,
		},
		Health: HealthConfig{
			Enabled:     true,
			Interval:    30 * time.Second,
			MaxInterval: 10 * time.Minute,
			Timeout:     3 * time.Second,
		},
		Gateway: GatewayConfig{
			CompareParallelism: 4,
			HistoryLimit:       50,
		},
		CircuitBreaker: CircuitBreakerConfig{
			ErrorThreshold: 0.30,
			MinSamples:     10,
			WindowSeconds:  60,
			OpenTimeout:    30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "predictgw.db",
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: true},
			Events:  EventsConfig{Enabled: true},
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate reports settings the gateway cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, errors.New("backend.timeout must be positive"))
	}
	switch c.Cache.Backend {
	case "memory":
		if c.Cache.Enabled && c.Cache.MaxSize <= 0 {
			errs = append(errs, errors.New("cache.max_size must be positive"))
		}
	case "redis":
		if c.Cache.Enabled && c.Cache.Redis.URL == "" {
			errs = append(errs, errors.New("cache.redis.url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q: want memory or redis", c.Cache.Backend))
	}
	if c.Cache.Enabled && c.Cache.MaxTTL <= 0 {
		errs = append(errs, errors.New("cache.max_ttl must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.RateLimit.RPM < 0 {
		errs = append(errs, errors.New("rate_limit.rpm must not be negative"))
	}
	if c.Gateway.CompareParallelism < 1 {
		errs = append(errs, errors.New("gateway.compare_parallelism must be at least 1"))
	}
	if r := c.Telemetry.Tracing.SampleRate; r < 0 || r > 1 {
		errs = append(errs, errors.New("telemetry.tracing.sample_rate must be within [0, 1]"))
	}
	return errors.Join(errs...)
}
