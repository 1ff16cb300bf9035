package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"

	"roundup/pkg/logging"
	"roundup/pkg/metrics"
	"roundup/pkg/resilience"
	"roundup/pkg/roundup"
)

// Policy retries single attempts of a remote call with exponential backoff
// and folds every failure into the round-up error taxonomy.
type Policy struct {
	config  Config
	metrics metrics.MetricsCollector
	logger  *logging.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a retry policy with the given configuration.
func NewPolicy(config Config) *Policy {
	return NewPolicyWithMetrics(config, metrics.NoOpCollector{})
}

// NewPolicyWithMetrics creates a retry policy that reports attempts and retries
// to the given collector.
func NewPolicyWithMetrics(config Config, metricsCollector metrics.MetricsCollector) *Policy {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if metricsCollector == nil {
		metricsCollector = metrics.NoOpCollector{}
	}

	return &Policy{
		config:  config,
		metrics: metricsCollector,
		logger:  logging.Global().Named("retry"),
		sleep:   sleepWithContext,
	}
}

// Config returns the policy configuration.
func (p *Policy) Config() Config {
	return p.config
}

// WithoutRetries returns a copy of the policy that makes exactly one attempt.
// Failures are still classified the same way.
func (p *Policy) WithoutRetries() *Policy {
	cp := *p
	cp.config = p.config.WithMaxRetries(0)
	return &cp
}

// delay returns the wait before retry number retry, applying jitter if enabled.
func (p *Policy) delay(retry int) time.Duration {
	d := p.config.Backoff(retry)
	if !p.config.Jitter || d <= 1 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(d-half)+1))
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// retry budget is spent.
//
// Domain errors returned by op, including 4xx downstream errors, are returned
// unchanged without retrying. Everything else that ends the loop (an exhausted
// 5xx, a connection failure, a malformed response, cancellation) is returned
// as KindInvalidAccountData naming label, with the original error as cause.
func Do[T any](ctx context.Context, p *Policy, label string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, roundup.InvalidAccountData(label, err)
		}

		start := time.Now()
		value, err := op(ctx)
		p.metrics.RecordCall(label, err == nil, time.Since(start))
		if err == nil {
			return value, nil
		}

		if kind, ok := roundup.KindOf(err); ok && kind != roundup.KindDownstreamServer {
			p.logger.Debug("operation failed with domain error",
				logging.Operation(label),
				logging.ErrorKind(err),
				zap.Error(err),
			)
			return zero, err
		}

		if !IsRetryable(err) || ctx.Err() != nil || attempt >= p.config.MaxRetries {
			p.logger.Error("operation failed",
				logging.Operation(label),
				zap.Int("attempts", attempt+1),
				logging.ErrorKind(err),
				zap.Error(err),
			)
			return zero, roundup.InvalidAccountData(label, err)
		}

		wait := p.delay(attempt)
		p.logger.Warn("retrying operation after error",
			logging.Operation(label),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", p.config.MaxRetries),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		p.metrics.RecordRetry(label, attempt+1)

		if sleepErr := p.sleep(ctx, wait); sleepErr != nil {
			return zero, roundup.InvalidAccountData(label, fmt.Errorf("%w; retry aborted: %w", err, sleepErr))
		}
	}
}

// IsRetryable reports whether a failed attempt is worth repeating: a 5xx
// downstream status or a connection-level failure. 4xx statuses, other domain
// errors, malformed responses, an open circuit and cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	if kind, ok := roundup.KindOf(err); ok {
		return kind == roundup.KindDownstreamServer
	}
	if errors.Is(err, roundup.ErrMalformedResponse) {
		return false
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, resilience.ErrTimeout),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// sleepWithContext sleeps for d but returns early when ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
