// Package storagetest provides store doubles and a manual clock for tests of
// packages built on storage.Store.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aman-churiwal/request-governance/internal/storage"
)

var ErrUnavailable = errors.New("storagetest: store unavailable")

// FailingStore fails every call with Err, or ErrUnavailable when Err is nil.
type FailingStore struct {
	Err error
}

var (
	_ storage.Store         = FailingStore{}
	_ storage.AtomicCounter = FailingStore{}
)

func (f FailingStore) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrUnavailable
}

func (f FailingStore) Get(context.Context, string) (string, error) { return "", f.err() }

func (f FailingStore) GetWithTTL(context.Context, string) (string, time.Duration, error) {
	return "", 0, f.err()
}

func (f FailingStore) Set(context.Context, string, string, time.Duration) error { return f.err() }

func (f FailingStore) Delete(context.Context, string) error { return f.err() }

func (f FailingStore) DeleteMany(context.Context, ...string) (int64, error) { return 0, f.err() }

func (f FailingStore) Exists(context.Context, string) (bool, error) { return false, f.err() }

func (f FailingStore) Scan(context.Context, string) ([]string, error) { return nil, f.err() }

func (f FailingStore) IncrWithExpiry(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, f.err()
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
