package metrics

import (
	"time"
)

// MetricsCollector defines the interface for collecting round-up metrics.
// Implementations can export metrics to various backends (Prometheus, in-memory for tests).
type MetricsCollector interface {
	// Gateway calls. operation is the retry label, e.g. "get accounts".
	RecordCall(operation string, success bool, duration time.Duration)
	RecordRetry(operation string, attempt int)

	// Circuit breaker
	RecordCircuitState(name string, state CircuitState)

	// Workflow-level
	RecordRun(outcome string, duration time.Duration)
	RecordRoundUp(amountMinorUnits int64)
}

// Workflow outcomes reported through RecordRun besides the failure kind labels.
const (
	OutcomeDone    = "done"
	OutcomeSkipped = "skipped"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of MetricsCollector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

// RecordCall does nothing.
func (NoOpCollector) RecordCall(operation string, success bool, duration time.Duration) {}

// RecordRetry does nothing.
func (NoOpCollector) RecordRetry(operation string, attempt int) {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(name string, state CircuitState) {}

// RecordRun does nothing.
func (NoOpCollector) RecordRun(outcome string, duration time.Duration) {}

// RecordRoundUp does nothing.
func (NoOpCollector) RecordRoundUp(amountMinorUnits int64) {}
