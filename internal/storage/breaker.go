package storage

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/request-governance/internal/circuitbreaker"
)

// BreakerStore routes every call through a circuit breaker so that a dead
// store fails fast with circuitbreaker.ErrCircuitOpen instead of costing each
// request a full operation timeout.
type BreakerStore struct {
	next Store
	cb   *circuitbreaker.CircuitBreaker
}

var (
	_ Store         = (*BreakerStore)(nil)
	_ AtomicCounter = (*BreakerStore)(nil)
)

func WithBreaker(next Store, cb *circuitbreaker.CircuitBreaker) *BreakerStore {
	return &BreakerStore{next: next, cb: cb}
}

// IsStoreFailure is the circuitbreaker.Config.IsFailure to use with BreakerStore:
// misses and caller cancellations say nothing about the store's health.
func IsStoreFailure(err error) bool {
	return err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, context.Canceled)
}

func (b *BreakerStore) Unwrap() Store {
	return b.next
}

func (b *BreakerStore) Breaker() *circuitbreaker.CircuitBreaker {
	return b.cb
}

func (b *BreakerStore) Get(ctx context.Context, key string) (val string, err error) {
	err = b.cb.Execute(func() error {
		val, err = b.next.Get(ctx, key)
		return err
	})
	return val, err
}

func (b *BreakerStore) GetWithTTL(ctx context.Context, key string) (val string, ttl time.Duration, err error) {
	err = b.cb.Execute(func() error {
		val, ttl, err = b.next.GetWithTTL(ctx, key)
		return err
	})
	return val, ttl, err
}

func (b *BreakerStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.cb.Execute(func() error {
		return b.next.Set(ctx, key, value, ttl)
	})
}

func (b *BreakerStore) Delete(ctx context.Context, key string) error {
	return b.cb.Execute(func() error {
		return b.next.Delete(ctx, key)
	})
}

func (b *BreakerStore) DeleteMany(ctx context.Context, keys ...string) (n int64, err error) {
	err = b.cb.Execute(func() error {
		n, err = b.next.DeleteMany(ctx, keys...)
		return err
	})
	return n, err
}

func (b *BreakerStore) Exists(ctx context.Context, key string) (ok bool, err error) {
	err = b.cb.Execute(func() error {
		ok, err = b.next.Exists(ctx, key)
		return err
	})
	return ok, err
}

func (b *BreakerStore) Scan(ctx context.Context, pattern string) (keys []string, err error) {
	err = b.cb.Execute(func() error {
		keys, err = b.next.Scan(ctx, pattern)
		return err
	})
	return keys, err
}

func (b *BreakerStore) IncrWithExpiry(ctx context.Context, key string, window time.Duration) (n int64, ttl time.Duration, err error) {
	ac, ok := b.next.(AtomicCounter)
	if !ok {
		return 0, 0, ErrAtomicUnsupported
	}

	err = b.cb.Execute(func() error {
		n, ttl, err = ac.IncrWithExpiry(ctx, key, window)
		return err
	})
	return n, ttl, err
}
