package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"roundup/pkg/logging"
)

// ErrNotStored is returned together with a fresh record when the record could
// not be written to the store. The record is valid, but a later request with
// the same key will not be replayed.
var ErrNotStored = errors.New("idempotency: record not stored")

// Attempts and first delay of the record write after a run.
const (
	storeAttempts     = 3
	storeInitialDelay = 50 * time.Millisecond
)

// Guard runs a function at most once per key: a stored record is replayed,
// and concurrent callers with the same key share a single execution.
//
// The shared execution is detached from the cancellation of the caller that
// started it, so one caller going away does not fail the others. Each caller
// stops waiting when its own context is done.
type Guard struct {
	store   Store
	ttl     time.Duration
	timeout time.Duration
	sf      singleflight.Group
	logger  *logging.Logger
}

// NewGuard creates a guard that keeps records in store for ttl.
func NewGuard(store Store, ttl time.Duration) *Guard {
	return &Guard{
		store:  store,
		ttl:    ttl,
		logger: logging.Global().Named("idempotency").With(zap.String("store", store.Name())),
	}
}

// WithTimeout bounds each shared execution, including the record write.
// Zero leaves it unbounded.
func (g *Guard) WithTimeout(timeout time.Duration) *Guard {
	g.timeout = timeout
	return g
}

// flight is the shared outcome of one execution.
type flight struct {
	record Record
	ran    bool
}

// Do returns the record stored under key, or runs fn and stores its record.
// replayed is true when the record was not produced by this call's fn.
// Records that are not Cacheable are returned but not stored. When storing
// fails, the record is returned with ErrNotStored.
func (g *Guard) Do(ctx context.Context, key string, fn func(ctx context.Context) (Record, error)) (Record, bool, error) {
	if err := ValidateKey(key); err != nil {
		return Record{}, false, err
	}

	record, err := g.lookup(ctx, key)
	if err == nil {
		g.logger.Debug("replaying stored record", zap.String("key", key))
		return record, true, nil
	}
	if !IsNotFound(err) {
		return Record{}, false, err
	}

	ran := false
	ch := g.sf.DoChan(key, func() (interface{}, error) {
		runCtx := context.WithoutCancel(ctx)
		if g.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, g.timeout)
			defer cancel()
		}
		return g.execute(runCtx, key, fn, &ran)
	})

	select {
	case <-ctx.Done():
		return Record{}, false, fmt.Errorf("idempotency: waiting for %q: %w", key, ctx.Err())
	case res := <-ch:
		if res.Val == nil {
			return Record{}, false, res.Err
		}
		// ran is only written by this caller's closure, before ch delivers.
		return res.Val.(Record), !ran, res.Err
	}
}

func (g *Guard) execute(ctx context.Context, key string, fn func(ctx context.Context) (Record, error), ran *bool) (interface{}, error) {
	// Another instance may have finished the same key since the lookup.
	if record, err := g.lookup(ctx, key); err == nil {
		return record, nil
	} else if !IsNotFound(err) {
		return nil, err
	}

	*ran = true
	record, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if !record.Cacheable() {
		return record, nil
	}
	if err := g.save(ctx, key, record); err != nil {
		g.logger.Error("failed to store idempotency record",
			zap.String("key", key),
			zap.Int("status", record.Status),
			zap.Error(err),
		)
		return record, fmt.Errorf("%w: %w", ErrNotStored, err)
	}
	return record, nil
}

// save writes record, retrying transient store failures.
func (g *Guard) save(ctx context.Context, key string, record Record) error {
	delay := storeInitialDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = g.store.Set(ctx, key, record, g.ttl); err == nil {
			return nil
		}
		if attempt >= storeAttempts {
			return err
		}

		g.logger.Warn("retrying idempotency record write",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w; write aborted: %w", err, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
}

func (g *Guard) lookup(ctx context.Context, key string) (Record, error) {
	record, err := g.store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Record{}, fmt.Errorf("idempotency lookup in %s: %w", g.store.Name(), err)
	}
	return record, err
}
