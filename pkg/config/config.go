// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Idempotency backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Configuration errors.
var (
	ErrMissingAPIURL   = errors.New("config: STARLING_API_URL is required")
	ErrMissingAPIToken = errors.New("config: STARLING_API_TOKEN is required")
	ErrInvalidBackend  = errors.New("config: unknown idempotency backend")
)

// Config is the complete service configuration.
type Config struct {
	Starling    StarlingConfig
	Retry       RetryConfig
	Server      ServerConfig
	Idempotency IdempotencyConfig
	Metrics     MetricsConfig
}

// StarlingConfig configures the downstream API client.
type StarlingConfig struct {
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	BreakerTimeout time.Duration
}

// RetryConfig configures retries of downstream calls and the run deadline.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	// MaxBackoff caps a single delay. Zero lets every retry double.
	MaxBackoff     time.Duration
	Jitter         bool
	RunTimeout     time.Duration
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string
}

// IdempotencyConfig selects and configures the idempotency store.
type IdempotencyConfig struct {
	Backend       string
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Namespace string
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		Starling: StarlingConfig{
			RequestTimeout: 5 * time.Second,
			BreakerTimeout: 30 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: time.Second,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Idempotency: IdempotencyConfig{
			Backend:   BackendMemory,
			TTL:       24 * time.Hour,
			RedisAddr: "localhost:6379",
		},
		Metrics: MetricsConfig{
			Namespace: "roundup",
		},
	}
}

// Load reads the optional .env files and then the process environment.
// Variables already set in the environment win over .env values.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		// A missing .env is normal outside development.
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return Config{}, fmt.Errorf("config: load env files: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (Config, error) {
	c := Default()
	var errs []error

	c.Starling.BaseURL = strings.TrimRight(getEnv("STARLING_API_URL", ""), "/")
	c.Starling.Token = getEnv("STARLING_API_TOKEN", "")
	c.Starling.RequestTimeout = getDuration("REQUEST_TIMEOUT", c.Starling.RequestTimeout, &errs)
	c.Starling.BreakerTimeout = getDuration("BREAKER_TIMEOUT", c.Starling.BreakerTimeout, &errs)

	c.Retry.MaxRetries = getInt("RETRY_MAX", c.Retry.MaxRetries, &errs)
	c.Retry.InitialBackoff = getDuration("RETRY_INITIAL_BACKOFF", c.Retry.InitialBackoff, &errs)
	c.Retry.MaxBackoff = getDuration("RETRY_MAX_BACKOFF", c.Retry.MaxBackoff, &errs)
	c.Retry.Jitter = getBool("RETRY_JITTER", c.Retry.Jitter, &errs)
	c.Retry.RunTimeout = getDuration("RUN_TIMEOUT", c.Retry.RunTimeout, &errs)

	c.Server.Addr = getEnv("HTTP_ADDR", c.Server.Addr)

	c.Idempotency.Backend = strings.ToLower(getEnv("IDEMPOTENCY_BACKEND", c.Idempotency.Backend))
	c.Idempotency.TTL = getDuration("IDEMPOTENCY_TTL", c.Idempotency.TTL, &errs)
	c.Idempotency.RedisAddr = getEnv("REDIS_ADDR", c.Idempotency.RedisAddr)
	c.Idempotency.RedisPassword = getEnv("REDIS_PASSWORD", "")

	c.Metrics.Namespace = getEnv("METRICS_NAMESPACE", c.Metrics.Namespace)

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return c, nil
}

// Validate reports every missing or inconsistent setting.
func (c Config) Validate() error {
	var errs []error

	if c.Starling.BaseURL == "" {
		errs = append(errs, ErrMissingAPIURL)
	}
	if c.Starling.Token == "" {
		errs = append(errs, ErrMissingAPIToken)
	}
	if c.Starling.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("config: REQUEST_TIMEOUT must be positive, got %s", c.Starling.RequestTimeout))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("config: RETRY_MAX must not be negative, got %d", c.Retry.MaxRetries))
	}
	if c.Retry.MaxBackoff < 0 {
		errs = append(errs, fmt.Errorf("config: RETRY_MAX_BACKOFF must not be negative, got %s", c.Retry.MaxBackoff))
	}
	if c.Retry.RunTimeout < 0 {
		errs = append(errs, fmt.Errorf("config: RUN_TIMEOUT must not be negative, got %s", c.Retry.RunTimeout))
	}

	switch c.Idempotency.Backend {
	case BackendMemory, BackendNone:
	case BackendRedis:
		if c.Idempotency.RedisAddr == "" {
			errs = append(errs, errors.New("config: REDIS_ADDR is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidBackend, c.Idempotency.Backend))
	}

	return errors.Join(errs...)
}

// getEnv returns the value of key, or fallback when it is unset or empty.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s: %w", key, err))
		return fallback
	}
	return d
}

func getInt(key string, fallback int, errs *[]error) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s: %w", key, err))
		return fallback
	}
	return n
}

func getBool(key string, fallback bool, errs *[]error) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s: %w", key, err))
		return fallback
	}
	return b
}
