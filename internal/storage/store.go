// Package storage holds the key-value store adapters shared by the rate limiter
// and the response cache, and the Postgres connection used by the user API.
package storage

import (
	"context"
	"time"
)

// Store is the key-value contract the governance layer is written against.
// Values are strings, every key may carry its own TTL. Implementations bound
// each call with their own timeout and report connectivity failures as errors.
type Store interface {
	// Get returns ErrNotFound when the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)
	// GetWithTTL returns the value and its remaining lifetime. A ttl <= 0 means
	// the key has no expiry.
	GetWithTTL(ctx context.Context, key string) (string, time.Duration, error)
	// Set writes value. A ttl <= 0 stores the key without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Scan returns every key matching a glob pattern using a cursor, never a
	// blocking KEYS call. Keys written during the scan may or may not appear.
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// AtomicCounter is implemented by stores that can increment a counter and arm
// its expiry in a single atomic step.
type AtomicCounter interface {
	IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// SupportsAtomic reports whether s, or the store it wraps, implements AtomicCounter.
func SupportsAtomic(s Store) bool {
	for {
		if w, ok := s.(interface{ Unwrap() Store }); ok {
			s = w.Unwrap()
			continue
		}
		_, ok := s.(AtomicCounter)
		return ok
	}
}
