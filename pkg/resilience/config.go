package resilience

import (
	"time"
)

// ResilientConfig configures the resilience features of a downstream transport.
type ResilientConfig struct {
	// Name identifies the breaker in logs and metrics (e.g., "starling")
	Name string

	// Timeout bounds a single downstream call, including reading the headers.
	Timeout time.Duration

	// CircuitBreakerConfig configures the circuit breaker behavior
	CircuitBreakerConfig CircuitBreakerConfig
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the CircuitBreaker is half-open. Default: 1
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for the CircuitBreaker
	// to clear the internal counts. If Interval is 0, it never clears. Default: 0
	Interval time.Duration

	// Timeout is the period of the open state after which the state becomes half-open.
	// Default: 30s
	Timeout time.Duration

	// ReadyToTrip is called with a copy of Counts whenever a request fails.
	// If ReadyToTrip returns true, the CircuitBreaker will be placed into the open state.
	// If nil, default threshold is used (5 consecutive failures).
	ReadyToTrip func(counts Counts) bool
}

// Counts holds the numbers of requests and their successes/failures.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// DefaultResilientConfig returns defaults for a downstream API: a 5s call
// timeout and a breaker that opens when at least 20 requests in a minute see
// a failure rate of 50% or more.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Name:    "downstream",
		Timeout: 5 * time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts Counts) bool {
				if counts.Requests < 20 {
					return false
				}
				return counts.TotalFailures*2 >= counts.Requests
			},
		},
	}
}

// WithName returns a copy of the config with the specified breaker name.
func (c ResilientConfig) WithName(name string) ResilientConfig {
	c.Name = name
	return c
}

// WithTimeout returns a copy of the config with the specified timeout.
func (c ResilientConfig) WithTimeout(timeout time.Duration) ResilientConfig {
	c.Timeout = timeout
	return c
}

// WithCircuitBreakerTimeout returns a copy of the config with the specified circuit breaker timeout.
func (c ResilientConfig) WithCircuitBreakerTimeout(timeout time.Duration) ResilientConfig {
	c.CircuitBreakerConfig.Timeout = timeout
	return c
}
