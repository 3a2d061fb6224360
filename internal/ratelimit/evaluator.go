package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/request-governance/internal/storage"
)

// Status is the state of one counter as seen by a single request.
type Status struct {
	Current   int
	Limit     int
	Remaining int
	ResetTime time.Time
	// RetryAfter is the time left until ResetTime, rounded up to whole
	// seconds and never below one second.
	RetryAfter time.Duration
}

func newStatus(current, limit int, now, reset time.Time) Status {
	remaining := min(max(limit-current, 0), limit)

	return Status{
		Current:    current,
		Limit:      limit,
		Remaining:  remaining,
		ResetTime:  reset,
		RetryAfter: time.Duration(retryAfterSeconds(reset.Sub(now))) * time.Second,
	}
}

// Exceeded reports whether the next request must be rejected. The limit-th
// request is the last one admitted.
func (s Status) Exceeded() bool {
	return s.Current >= s.Limit
}

// Evaluator reads and advances counters. The counter's TTL is the window:
// there is no stored window start, and once the store expires the key the
// next increment starts again at 1 with a fresh TTL.
type Evaluator struct {
	store storage.Store
	now   func() time.Time
}

func NewEvaluator(store storage.Store, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{store: store, now: now}
}

// Status probes the counter without changing it.
func (e *Evaluator) Status(ctx context.Context, key string, limit int, window time.Duration) (Status, error) {
	now := e.now()

	val, ttl, err := e.store.GetWithTTL(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return newStatus(0, limit, now, now.Add(window)), nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	current, err := strconv.Atoi(val)
	if err != nil {
		return Status{}, fmt.Errorf("%w: counter %q holds %q: %w", ErrStoreUnavailable, key, val, err)
	}

	reset := now.Add(window)
	if ttl > 0 {
		reset = now.Add(ttl)
	}

	return newStatus(current, limit, now, reset), nil
}

// Increment re-reads the counter and writes count+1, keeping the remaining
// TTL, or creating the key with the full window when it is absent.
func (e *Evaluator) Increment(ctx context.Context, key string, limit int, window time.Duration) (Status, error) {
	st, err := e.Status(ctx, key, limit, window)
	if err != nil {
		return Status{}, err
	}
	return e.commit(ctx, key, st)
}

// commit writes st.Current+1 under the TTL left until st.ResetTime.
func (e *Evaluator) commit(ctx context.Context, key string, st Status) (Status, error) {
	now := e.now()

	ttl := st.ResetTime.Sub(now)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	next := st.Current + 1
	if err := e.store.Set(ctx, key, strconv.Itoa(next), ttl); err != nil {
		return Status{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return newStatus(next, st.Limit, now, st.ResetTime), nil
}

// IncrementAtomic counts the request with one atomic store operation.
func (e *Evaluator) IncrementAtomic(ctx context.Context, key string, limit int, window time.Duration) (Status, error) {
	ac, ok := e.store.(storage.AtomicCounter)
	if !ok {
		return Status{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, storage.ErrAtomicUnsupported)
	}

	now := e.now()

	n, ttl, err := ac.IncrWithExpiry(ctx, key, window)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	reset := now.Add(window)
	if ttl > 0 {
		reset = now.Add(ttl)
	}

	return newStatus(int(n), limit, now, reset), nil
}
