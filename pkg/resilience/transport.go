package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"roundup/pkg/logging"
	"roundup/pkg/metrics"
)

// Errors returned by the resilient transport.
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("resilience: circuit breaker open")

	// ErrTimeout is returned when a single call exceeds the configured timeout.
	ErrTimeout = errors.New("resilience: call timeout")
)

// Transport wraps an http.RoundTripper with a per-call timeout and a circuit
// breaker. Transport errors and 5xx responses count as breaker failures;
// 4xx responses do not.
type Transport struct {
	next    http.RoundTripper
	cb      *gobreaker.CircuitBreaker
	name    string
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// serverFailure carries a 5xx response through the breaker so the caller
// still receives the response after it has been counted as a failure.
type serverFailure struct {
	resp *http.Response
}

func (f *serverFailure) Error() string {
	return fmt.Sprintf("downstream status %d", f.resp.StatusCode)
}

// NewTransport creates a resilient transport around next.
// A nil next uses http.DefaultTransport.
func NewTransport(next http.RoundTripper, config ResilientConfig) *Transport {
	return NewTransportWithMetrics(next, config, metrics.NoOpCollector{})
}

// NewTransportWithMetrics creates a resilient transport with custom metrics collector.
func NewTransportWithMetrics(next http.RoundTripper, config ResilientConfig, metricsCollector metrics.MetricsCollector) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	if config.Name == "" {
		config.Name = "downstream"
	}
	logger := logging.Global().Named("resilience").Named(config.Name)

	t := &Transport{
		next:    next,
		name:    config.Name,
		timeout: config.Timeout,
		metrics: metricsCollector,
		logger:  logger,
	}

	logger.Info("resilient transport initialized",
		zap.String("breaker", config.Name),
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreakerConfig.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.CircuitBreakerConfig.ReadyToTrip != nil {
				return config.CircuitBreakerConfig.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			t.metrics.RecordCircuitState(name, toCircuitState(to))
		},
	}

	t.cb = gobreaker.NewCircuitBreaker(settings)

	return t
}

// Name returns the breaker name.
func (t *Transport) Name() string {
	return t.name
}

// State returns the current breaker state.
func (t *Transport) State() metrics.CircuitState {
	return toCircuitState(t.cb.State())
}

// RoundTrip executes one HTTP request with timeout and circuit breaker protection.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	parent := req.Context()
	ctx, cancel := parent, context.CancelFunc(func() {})
	if t.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, t.timeout)
		req = req.WithContext(ctx)
	}

	result, err := t.cb.Execute(func() (interface{}, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &serverFailure{resp: resp}
		}
		return resp, nil
	})

	var sf *serverFailure
	switch {
	case err == nil:
		resp := result.(*http.Response)
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil

	case errors.As(err, &sf):
		sf.resp.Body = &cancelOnClose{ReadCloser: sf.resp.Body, cancel: cancel}
		return sf.resp, nil

	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		cancel()
		t.logger.Warn("circuit breaker open - request rejected",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
		)
		return nil, ErrCircuitOpen

	case parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		cancel()
		t.logger.Warn("downstream call timeout",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Duration("timeout", t.timeout),
		)
		return nil, fmt.Errorf("%w after %s: %w", ErrTimeout, t.timeout, err)

	default:
		cancel()
		return nil, err
	}
}

// cancelOnClose releases the per-call timeout once the body has been consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func toCircuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}
