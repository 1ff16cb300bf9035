package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with TTL expiry and a size bound.
// Records are lost on restart and not shared between instances.
type MemoryStore struct {
	data map[string]*entry
	mu   sync.RWMutex

	config MemoryStoreConfig

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

type entry struct {
	record    Record
	expiresAt time.Time
	storedAt  time.Time
}

// MemoryStoreConfig holds configuration for the memory store
type MemoryStoreConfig struct {
	// Name is the store identifier
	Name string

	// MaxSize is the maximum number of records (0 = unlimited).
	// The oldest record is evicted when the store is full.
	MaxSize int

	// DefaultTTL is used when Set is called with a zero ttl
	DefaultTTL time.Duration

	// CleanupInterval is how often to drop expired records
	CleanupInterval time.Duration
}

// DefaultMemoryStoreConfig returns a memory store configuration holding up
// to 10000 records for 24 hours.
func DefaultMemoryStoreConfig() MemoryStoreConfig {
	return MemoryStoreConfig{
		Name:            "memory",
		MaxSize:         10000,
		DefaultTTL:      24 * time.Hour,
		CleanupInterval: time.Minute,
	}
}

// NewMemoryStore creates a memory store and starts its background cleanup.
func NewMemoryStore(config MemoryStoreConfig) *MemoryStore {
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 24 * time.Hour
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}

	s := &MemoryStore{
		data:          make(map[string]*entry),
		config:        config,
		stopCleanup:   make(chan struct{}),
		cleanupTicker: time.NewTicker(config.CleanupInterval),
	}

	s.wg.Add(1)
	go s.cleanup()

	return s
}

// Get returns the record stored under key.
func (s *MemoryStore) Get(ctx context.Context, key string) (Record, error) {
	if err := ValidateKey(key); err != nil {
		return Record{}, err
	}

	s.mu.RLock()
	e, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return Record{}, ErrNotFound
	}

	if time.Now().After(e.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.data[key]; ok && cur == e {
			delete(s.data, key)
		}
		s.mu.Unlock()
		return Record{}, ErrNotFound
	}

	return e.record, nil
}

// Set stores record under key for ttl.
func (s *MemoryStore) Set(ctx context.Context, key string, record Record, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if ttl == 0 {
		ttl = s.config.DefaultTTL
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists && s.config.MaxSize > 0 && len(s.data) >= s.config.MaxSize {
		var oldestKey string
		var oldest time.Time
		for k, e := range s.data {
			if oldestKey == "" || e.storedAt.Before(oldest) {
				oldestKey = k
				oldest = e.storedAt
			}
		}
		delete(s.data, oldestKey)
	}

	s.data[key] = &entry{
		record:    record,
		expiresAt: now.Add(ttl),
		storedAt:  now,
	}

	return nil
}

// Name returns the store name.
func (s *MemoryStore) Name() string {
	return s.config.Name
}

// Len returns the number of records currently held, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Close stops the background cleanup and drops all records.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		s.cleanupTicker.Stop()
		close(s.stopCleanup)
		s.wg.Wait()

		s.mu.Lock()
		s.data = make(map[string]*entry)
		s.mu.Unlock()
	})
	return nil
}

func (s *MemoryStore) cleanup() {
	defer s.wg.Done()

	for {
		select {
		case <-s.cleanupTicker.C:
			s.removeExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, e := range s.data {
		if now.After(e.expiresAt) {
			delete(s.data, key)
		}
	}
}
