package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/rueidis"
)

// RedisStore is a Store shared by every instance pointing at the same Redis.
type RedisStore struct {
	client rueidis.Client
	name   string
	config RedisStoreConfig
}

// RedisStoreConfig holds configuration for the Redis store.
type RedisStoreConfig struct {
	Name string
	// Addr is the Redis server address for single node mode.
	// Examples: "localhost:6379", "redis.example.com:6379"
	Addr string
	// ClusterAddrs is a list of Redis cluster node addresses.
	// If set, cluster mode is enabled automatically.
	ClusterAddrs []string
	Username     string
	Password     string
	// DB is the Redis database number. Cluster mode only supports DB 0.
	DB           int
	KeyPrefix    string
	DefaultTTL   time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisStoreConfig returns a configuration for a local Redis.
func DefaultRedisStoreConfig() RedisStoreConfig {
	return RedisStoreConfig{
		Name:         "redis",
		Addr:         "localhost:6379",
		KeyPrefix:    "roundup:idempotency:",
		DefaultTTL:   24 * time.Hour,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(config RedisStoreConfig) (*RedisStore, error) {
	if config.Name == "" {
		config.Name = "redis"
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 24 * time.Hour
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}

	var initAddress []string
	if len(config.ClusterAddrs) > 0 {
		initAddress = config.ClusterAddrs
	} else if config.Addr != "" {
		initAddress = []string{config.Addr}
	} else {
		return nil, fmt.Errorf("redis: no addresses configured (set Addr or ClusterAddrs)")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		MaxFlushDelay:    100 * time.Microsecond,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	return &RedisStore{
		client: client,
		name:   config.Name,
		config: config,
	}, nil
}

// Get returns the record stored under key.
func (r *RedisStore) Get(ctx context.Context, key string) (Record, error) {
	if err := ValidateKey(key); err != nil {
		return Record{}, err
	}

	resp := r.client.Do(ctx, r.client.B().Get().Key(r.config.KeyPrefix+key).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("redis get: %w", err)
	}

	data, err := resp.AsBytes()
	if err != nil {
		return Record{}, fmt.Errorf("redis get: failed to read response: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("redis get: failed to unmarshal: %w", err)
	}
	return record, nil
}

// Set stores record under key with SET ... EX.
func (r *RedisStore) Set(ctx context.Context, key string, record Record, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if ttl == 0 {
		ttl = r.config.DefaultTTL
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("redis set: failed to marshal: %w", err)
	}

	cmd := r.client.B().Set().Key(r.config.KeyPrefix + key).Value(string(data)).Ex(ttl).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the record stored under key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	cmd := r.client.B().Del().Key(r.config.KeyPrefix + key).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Ping checks the connection to Redis.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Do(ctx, r.client.B().Ping().Build()).Error()
}

// Name returns the store name.
func (r *RedisStore) Name() string {
	return r.name
}

// Close closes the Redis client.
func (r *RedisStore) Close() error {
	r.client.Close()
	return nil
}
