package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore fails every lookup.
type failingStore struct{ err error }

func (s failingStore) Get(ctx context.Context, key string) (Record, error) { return Record{}, s.err }
func (s failingStore) Set(ctx context.Context, key string, r Record, ttl time.Duration) error {
	return s.err
}
func (s failingStore) Name() string { return "failing" }
func (s failingStore) Close() error { return nil }

func newTestGuard(t *testing.T) (*Guard, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(DefaultMemoryStoreConfig())
	t.Cleanup(func() { store.Close() })
	return NewGuard(store, time.Hour), store
}

func TestGuard_RunsOnceThenReplays(t *testing.T) {
	g, _ := newTestGuard(t)

	var calls atomic.Int32
	fn := func(ctx context.Context) (Record, error) {
		calls.Add(1)
		return Record{Status: 200, Body: []byte(`{"status":"done"}`)}, nil
	}

	first, replayed, err := g.Do(context.Background(), "key-1", fn)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.False(t, first.CreatedAt.IsZero())

	second, replayed, err := g.Do(context.Background(), "key-1", fn)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.Body, second.Body)

	assert.Equal(t, int32(1), calls.Load())
}

func TestGuard_DifferentKeysRunSeparately(t *testing.T) {
	g, _ := newTestGuard(t)

	var calls atomic.Int32
	fn := func(ctx context.Context) (Record, error) {
		calls.Add(1)
		return Record{Status: 200}, nil
	}

	_, _, err := g.Do(context.Background(), "a", fn)
	require.NoError(t, err)
	_, _, err = g.Do(context.Background(), "b", fn)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
}

func TestGuard_ServerFailuresAreNotStored(t *testing.T) {
	g, store := newTestGuard(t)

	var calls atomic.Int32
	fn := func(ctx context.Context) (Record, error) {
		calls.Add(1)
		return Record{Status: 500}, nil
	}

	_, _, err := g.Do(context.Background(), "key", fn)
	require.NoError(t, err)
	_, replayed, err := g.Do(context.Background(), "key", fn)
	require.NoError(t, err)

	assert.False(t, replayed)
	assert.Equal(t, int32(2), calls.Load())
	assert.Zero(t, store.Len())
}

func TestGuard_ErrorIsNotStored(t *testing.T) {
	g, store := newTestGuard(t)

	boom := errors.New("boom")
	_, _, err := g.Do(context.Background(), "key", func(ctx context.Context) (Record, error) {
		return Record{}, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, store.Len())
}

func TestGuard_ConcurrentCallersShareOneRun(t *testing.T) {
	g, _ := newTestGuard(t)

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context) (Record, error) {
		calls.Add(1)
		<-release
		return Record{Status: 200}, nil
	}

	const callers = 10
	var wg sync.WaitGroup
	var replays atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, replayed, err := g.Do(context.Background(), "shared", fn)
			assert.NoError(t, err)
			if replayed {
				replays.Add(1)
			}
		}()
	}

	// Give every caller time to join the in-flight call before releasing it
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(callers-1), replays.Load())
}

func TestGuard_InvalidKey(t *testing.T) {
	g, _ := newTestGuard(t)

	_, _, err := g.Do(context.Background(), "", func(ctx context.Context) (Record, error) {
		t.Fatal("fn must not run for an invalid key")
		return Record{}, nil
	})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestGuard_StoreFailureStopsRun(t *testing.T) {
	down := errors.New("connection refused")
	g := NewGuard(failingStore{err: down}, time.Hour)

	ran := false
	_, _, err := g.Do(context.Background(), "key", func(ctx context.Context) (Record, error) {
		ran = true
		return Record{Status: 200}, nil
	})

	assert.ErrorIs(t, err, down)
	assert.False(t, ran)
}

// flakyStore fails the first failSets writes and delegates everything else.
type flakyStore struct {
	*MemoryStore
	failSets atomic.Int32
	sets     atomic.Int32
}

func (s *flakyStore) Set(ctx context.Context, key string, r Record, ttl time.Duration) error {
	s.sets.Add(1)
	if s.failSets.Add(-1) >= 0 {
		return errors.New("write timeout")
	}
	return s.MemoryStore.Set(ctx, key, r, ttl)
}

func newFlakyStore(t *testing.T, failSets int32) *flakyStore {
	t.Helper()
	mem := NewMemoryStore(DefaultMemoryStoreConfig())
	t.Cleanup(func() { mem.Close() })
	s := &flakyStore{MemoryStore: mem}
	s.failSets.Store(failSets)
	return s
}

func TestGuard_CancelledCallerDoesNotFailOthers(t *testing.T) {
	g, store := newTestGuard(t)

	started := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx context.Context) (Record, error) {
		close(started)
		select {
		case <-release:
			return Record{Status: 200, Body: []byte(`{"status":"done"}`)}, nil
		case <-ctx.Done():
			return Record{Status: 500, Body: []byte(ctx.Err().Error())}, nil
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := g.Do(firstCtx, "shared", fn)
		firstErr <- err
	}()
	<-started

	type outcome struct {
		record   Record
		replayed bool
		err      error
	}
	second := make(chan outcome, 1)
	go func() {
		record, replayed, err := g.Do(context.Background(), "shared", fn)
		second <- outcome{record, replayed, err}
	}()

	time.Sleep(20 * time.Millisecond)
	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, 200, got.record.Status)
	assert.Equal(t, `{"status":"done"}`, string(got.record.Body))
	assert.True(t, got.replayed)

	// The detached run still stored its outcome.
	assert.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, time.Millisecond)
}

func TestGuard_CallerDeadlineStopsWaiting(t *testing.T) {
	g, store := newTestGuard(t)

	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := g.Do(ctx, "slow", func(ctx context.Context) (Record, error) {
		<-release
		return Record{Status: 200}, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, store.Len())
}

func TestGuard_TimeoutBoundsRun(t *testing.T) {
	g, _ := newTestGuard(t)
	g.WithTimeout(20 * time.Millisecond)

	record, _, err := g.Do(context.Background(), "bounded", func(ctx context.Context) (Record, error) {
		<-ctx.Done()
		return Record{Status: 500, Body: []byte(ctx.Err().Error())}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 500, record.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), string(record.Body))
}

func TestGuard_RetriesRecordWrite(t *testing.T) {
	store := newFlakyStore(t, 2)
	g := NewGuard(store, time.Hour)

	_, replayed, err := g.Do(context.Background(), "key", func(ctx context.Context) (Record, error) {
		return Record{Status: 200}, nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, int32(3), store.sets.Load())
	assert.Equal(t, 1, store.Len())
}

func TestGuard_UnstoredRecordIsReturnedWithError(t *testing.T) {
	store := newFlakyStore(t, storeAttempts)
	g := NewGuard(store, time.Hour)

	record, replayed, err := g.Do(context.Background(), "key", func(ctx context.Context) (Record, error) {
		return Record{Status: 200, Body: []byte(`{"status":"done"}`)}, nil
	})
	assert.ErrorIs(t, err, ErrNotStored)
	assert.False(t, replayed)
	assert.Equal(t, 200, record.Status)
	assert.Equal(t, `{"status":"done"}`, string(record.Body))
	assert.Equal(t, int32(storeAttempts), store.sets.Load())
	assert.Zero(t, store.Len())
}
