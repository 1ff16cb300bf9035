// Package idempotency stores the outcome of a request under a caller-chosen
// key so that a repeated request replays the stored outcome instead of
// running the workflow again.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"
)

// Common store errors.
var (
	// ErrNotFound is returned when no record exists for a key
	ErrNotFound = errors.New("idempotency: key not found")

	// ErrInvalidKey is returned when a key is empty, too long or contains invalid characters
	ErrInvalidKey = errors.New("idempotency: invalid key")
)

// MaxKeyLength is the longest accepted idempotency key.
const MaxKeyLength = 250

// Record is the stored outcome of one request.
type Record struct {
	Status      int       `json:"status"`
	ContentType string    `json:"contentType,omitempty"`
	Body        []byte    `json:"body,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Cacheable reports whether the record may be replayed. Server-side failures
// are not stored so the caller can retry them.
func (r Record) Cacheable() bool {
	return r.Status > 0 && r.Status < http.StatusInternalServerError
}

// Store persists records with a time-to-live.
type Store interface {
	// Get returns the record for key, or ErrNotFound.
	Get(ctx context.Context, key string) (Record, error)

	// Set stores the record for key. A zero ttl uses the store default.
	Set(ctx context.Context, key string, record Record, ttl time.Duration) error

	// Name identifies the store in logs.
	Name() string

	Close() error
}

// IsNotFound checks if the given error indicates that a key was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ValidateKey checks if an idempotency key is acceptable.
//
// Rules:
// - Non-empty string
// - Maximum length of 250 characters
// - No control characters
// - No leading or trailing whitespace
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, MaxKeyLength)
	}

	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character", ErrInvalidKey)
		}
	}

	if strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}

	return nil
}
