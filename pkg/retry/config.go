package retry

import (
	"math"
	"time"
)

// maxShift bounds the exponent so base<<shift cannot overflow.
const maxShift = 62

// Config configures the retry policy.
type Config struct {
	// MaxRetries is the number of additional attempts after the first one.
	// Default: 3 (4 attempts in total)
	MaxRetries int

	// InitialBackoff is the delay before the first retry. Each further retry
	// doubles it. Default: 1s
	InitialBackoff time.Duration

	// MaxBackoff caps a single delay. Zero means no cap. Default: 4s
	MaxBackoff time.Duration

	// Jitter draws each delay from [delay/2, delay] instead of using it as is.
	// Default: false
	Jitter bool
}

// DefaultConfig returns the default retry configuration: 3 retries waiting
// 1s, 2s and 4s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     4 * time.Second,
		Jitter:         false,
	}
}

// WithMaxRetries returns a copy of the config with the specified retry budget.
func (c Config) WithMaxRetries(n int) Config {
	if n < 0 {
		n = 0
	}
	c.MaxRetries = n
	return c
}

// WithInitialBackoff returns a copy of the config with the specified first delay.
func (c Config) WithInitialBackoff(d time.Duration) Config {
	c.InitialBackoff = d
	return c
}

// WithMaxBackoff returns a copy of the config with the specified delay cap.
func (c Config) WithMaxBackoff(d time.Duration) Config {
	c.MaxBackoff = d
	return c
}

// WithJitter returns a copy of the config with jitter enabled or disabled.
func (c Config) WithJitter(enabled bool) Config {
	c.Jitter = enabled
	return c
}

// Backoff returns the delay before retry number retry (0-based), without
// jitter: InitialBackoff * 2^retry, capped at MaxBackoff.
func (c Config) Backoff(retry int) time.Duration {
	if c.InitialBackoff <= 0 {
		return 0
	}
	if retry < 0 {
		retry = 0
	} else if retry > maxShift {
		retry = maxShift
	}

	multiplier := int64(1) << retry
	base := int64(c.InitialBackoff)

	var delay time.Duration
	if base > math.MaxInt64/multiplier {
		delay = time.Duration(math.MaxInt64)
	} else {
		delay = time.Duration(base * multiplier)
	}

	if c.MaxBackoff > 0 && delay > c.MaxBackoff {
		delay = c.MaxBackoff
	}
	return delay
}
