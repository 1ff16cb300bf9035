package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"STARLING_API_URL", "STARLING_API_TOKEN", "HTTP_ADDR", "REQUEST_TIMEOUT",
	"RETRY_MAX", "RETRY_INITIAL_BACKOFF", "RETRY_MAX_BACKOFF", "RETRY_JITTER", "RUN_TIMEOUT",
	"BREAKER_TIMEOUT", "IDEMPOTENCY_BACKEND", "IDEMPOTENCY_TTL", "REDIS_ADDR",
	"REDIS_PASSWORD", "METRICS_NAMESPACE",
}

// clearEnv blanks every variable the package reads; empty counts as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, Default(), c)

	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, 5*time.Second, c.Starling.RequestTimeout)
	assert.Equal(t, 3, c.Retry.MaxRetries)
	assert.Equal(t, time.Second, c.Retry.InitialBackoff)
	assert.Zero(t, c.Retry.RunTimeout)
	assert.Equal(t, BackendMemory, c.Idempotency.Backend)
	assert.Equal(t, 24*time.Hour, c.Idempotency.TTL)
	assert.Equal(t, "roundup", c.Metrics.Namespace)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STARLING_API_URL", "https://api-sandbox.starlingbank.com/")
	t.Setenv("STARLING_API_TOKEN", "secret")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("REQUEST_TIMEOUT", "2s")
	t.Setenv("RETRY_MAX", "5")
	t.Setenv("RETRY_INITIAL_BACKOFF", "250ms")
	t.Setenv("RETRY_MAX_BACKOFF", "2s")
	t.Setenv("RETRY_JITTER", "true")
	t.Setenv("RUN_TIMEOUT", "1m")
	t.Setenv("IDEMPOTENCY_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "redis:6379")

	c, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://api-sandbox.starlingbank.com", c.Starling.BaseURL)
	assert.Equal(t, "secret", c.Starling.Token)
	assert.Equal(t, ":9090", c.Server.Addr)
	assert.Equal(t, 2*time.Second, c.Starling.RequestTimeout)
	assert.Equal(t, 5, c.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, c.Retry.InitialBackoff)
	assert.Equal(t, 2*time.Second, c.Retry.MaxBackoff)
	assert.True(t, c.Retry.Jitter)
	assert.Equal(t, time.Minute, c.Retry.RunTimeout)
	assert.Equal(t, BackendRedis, c.Idempotency.Backend)
	assert.Equal(t, "redis:6379", c.Idempotency.RedisAddr)

	assert.NoError(t, c.Validate())
}

func TestFromEnv_InvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("REQUEST_TIMEOUT", "soon")
	t.Setenv("RETRY_MAX", "three")
	t.Setenv("RETRY_JITTER", "maybe")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REQUEST_TIMEOUT")
	assert.Contains(t, err.Error(), "RETRY_MAX")
	assert.Contains(t, err.Error(), "RETRY_JITTER")
}

func TestValidate(t *testing.T) {
	c := Default()
	err := c.Validate()
	assert.ErrorIs(t, err, ErrMissingAPIURL)
	assert.ErrorIs(t, err, ErrMissingAPIToken)

	c.Starling.BaseURL = "https://example.test"
	c.Starling.Token = "t"
	assert.NoError(t, c.Validate())

	c.Idempotency.Backend = "etcd"
	assert.ErrorIs(t, c.Validate(), ErrInvalidBackend)

	c.Idempotency.Backend = BackendNone
	c.Retry.MaxRetries = -1
	assert.Error(t, c.Validate())
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv does not override variables that are already present, even
	// empty ones, so drop the two keys the file provides.
	for _, key := range []string{"STARLING_API_URL", "STARLING_API_TOKEN"} {
		require.NoError(t, os.Unsetenv(key))
	}
	t.Cleanup(func() {
		os.Unsetenv("STARLING_API_URL")
		os.Unsetenv("STARLING_API_TOKEN")
	})

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STARLING_API_URL=https://file.test\nSTARLING_API_TOKEN=from-file\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://file.test", c.Starling.BaseURL)
	assert.Equal(t, "from-file", c.Starling.Token)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
