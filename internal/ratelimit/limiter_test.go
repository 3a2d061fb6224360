package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-churiwal/request-governance/internal/logger"
	"github.com/aman-churiwal/request-governance/internal/storage"
	"github.com/aman-churiwal/request-governance/internal/storage/storagetest"
)

func newTestLimiter(t *testing.T, store storage.Store, cfg Config, opts ...Option) *Limiter {
	t.Helper()
	l, err := New(store, cfg, opts...)
	require.NoError(t, err)
	return l
}

func memoryWithClock() (*storage.MemoryStore, *storagetest.Clock) {
	clock := storagetest.NewClock(epoch)
	return storage.NewMemoryStore(storage.WithClock(clock.Now)), clock
}

func TestLimiter_AdmitsUpToLimitThenRejects(t *testing.T) {
	store, clock := memoryWithClock()
	l := newTestLimiter(t, store, Config{Name: "api", Window: time.Minute, Limit: 3}, WithClock(clock.Now))
	ctx := context.Background()
	req := Request{Identifier: "203.0.113.9", Path: "/api/users"}

	for _, wantRemaining := range []int{2, 1, 0} {
		d, err := l.Check(ctx, req)
		require.NoError(t, err)
		assert.True(t, d.HasStatus)
		assert.Equal(t, wantRemaining, d.Status.Remaining)
	}

	d, err := l.Check(ctx, req)
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.False(t, limitErr.Degraded())
	assert.Equal(t, DefaultMessage, limitErr.Message)
	assert.GreaterOrEqual(t, limitErr.RetryAfterSeconds(), 1)
	assert.LessOrEqual(t, limitErr.RetryAfterSeconds(), 60)
	assert.Equal(t, 0, d.Status.Remaining)

	val, err := store.Get(ctx, d.Key)
	require.NoError(t, err)
	assert.Equal(t, "3", val, "rejected requests are not counted")
}

func TestLimiter_WindowExpiryReadmits(t *testing.T) {
	store, clock := memoryWithClock()
	l := newTestLimiter(t, store, Config{Name: "api", Window: time.Minute, Limit: 1}, WithClock(clock.Now))
	ctx := context.Background()
	req := Request{Identifier: "203.0.113.9", Path: "/x"}

	_, err := l.Check(ctx, req)
	require.NoError(t, err)
	_, err = l.Check(ctx, req)
	require.Error(t, err)

	clock.Advance(61 * time.Second)

	d, err := l.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Status.Remaining)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	store, clock := memoryWithClock()
	l := newTestLimiter(t, store, Config{Name: "api", Window: time.Minute, Limit: 1}, WithClock(clock.Now))
	ctx := context.Background()

	_, err := l.Check(ctx, Request{Identifier: "10.0.0.1", Path: "/a"})
	require.NoError(t, err)

	_, err = l.Check(ctx, Request{Identifier: "10.0.0.2", Path: "/a"})
	assert.NoError(t, err, "other client")

	_, err = l.Check(ctx, Request{Identifier: "10.0.0.1", Path: "/b"})
	assert.NoError(t, err, "other path")

	_, err = l.Check(ctx, Request{Identifier: "10.0.0.1", Path: "/A//"})
	assert.Error(t, err, "same normalized path")
}

func TestLimiter_Bypass(t *testing.T) {
	store, _ := memoryWithClock()
	l := newTestLimiter(t, store, Config{Name: "health", Bypass: true})

	for iter := 0; iter < 10; iter++ {
		d, err := l.Check(context.Background(), Request{Identifier: "10.0.0.1", Path: "/health"})
		require.NoError(t, err)
		assert.True(t, d.Bypassed)
		assert.False(t, d.HasStatus)
	}
	assert.Equal(t, 0, store.Len())
}

func TestLimiter_Allowlist(t *testing.T) {
	store, _ := memoryWithClock()
	l := newTestLimiter(t, store, Config{
		Name:      "api",
		Window:    time.Minute,
		Limit:     1,
		Allowlist: []string{"10.0.0.0/8", "2001:db8::/32"},
	})
	ctx := context.Background()

	for iter := 0; iter < 3; iter++ {
		d, err := l.Check(ctx, Request{Identifier: "10.1.2.3", PeerIP: "10.1.2.3", Path: "/x"})
		require.NoError(t, err)
		assert.True(t, d.Bypassed)

		d, err = l.Check(ctx, Request{Identifier: "2001:db8::7", PeerIP: " 2001:db8::7 ", Path: "/x"})
		require.NoError(t, err)
		assert.True(t, d.Bypassed)
	}
	assert.Equal(t, 0, store.Len())

	_, err := l.Check(ctx, Request{Identifier: "192.168.1.1", PeerIP: "192.168.1.1", Path: "/x"})
	require.NoError(t, err)
	_, err = l.Check(ctx, Request{Identifier: "192.168.1.1", PeerIP: "192.168.1.1", Path: "/x"})
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestLimiter_AllowlistIgnoresIdentifier(t *testing.T) {
	store, _ := memoryWithClock()
	l := newTestLimiter(t, store, Config{
		Name:      "api",
		Window:    time.Minute,
		Limit:     1,
		Allowlist: []string{"10.0.0.0/8"},
	})
	ctx := context.Background()

	// An allowlisted identifier arriving from an outside peer is counted.
	req := Request{Identifier: "10.1.2.3", PeerIP: "203.0.113.9", Path: "/x"}
	d, err := l.Check(ctx, req)
	require.NoError(t, err)
	assert.False(t, d.Bypassed)

	_, err = l.Check(ctx, req)
	assert.ErrorIs(t, err, ErrLimitExceeded)

	// A missing peer address never matches.
	_, err = l.Check(ctx, Request{Identifier: "10.1.2.3", Path: "/x"})
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestLimiter_SkipSuccessfulCountsOnlyFailures(t *testing.T) {
	store, clock := memoryWithClock()
	l := newTestLimiter(t, store, Config{
		Name:                   "auth",
		Window:                 15 * time.Minute,
		Limit:                  3,
		SkipSuccessfulRequests: true,
		Policy:                 FailClosed,
	}, WithClock(clock.Now))
	ctx := context.Background()
	req := Request{Identifier: "198.51.100.4", Path: "/auth/login"}

	for iter := 0; iter < 5; iter++ {
		d, err := l.Check(ctx, req)
		require.NoError(t, err)
		require.True(t, d.Deferred)
		l.Complete(ctx, d, http.StatusOK)
	}
	assert.Equal(t, 0, store.Len(), "successful requests never create a counter")

	for iter := 0; iter < 3; iter++ {
		d, err := l.Check(ctx, req)
		require.NoError(t, err)
		l.Complete(ctx, d, http.StatusUnauthorized)
	}

	_, err := l.Check(ctx, req)
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestLimiter_CompleteIgnoresCancelledContext(t *testing.T) {
	store, clock := memoryWithClock()
	l := newTestLimiter(t, store, Config{
		Name:                   "auth",
		Window:                 time.Minute,
		Limit:                  3,
		SkipSuccessfulRequests: true,
	}, WithClock(clock.Now))

	ctx, cancel := context.WithCancel(context.Background())
	d, err := l.Check(ctx, Request{Identifier: "198.51.100.4", Path: "/auth/login"})
	require.NoError(t, err)

	cancel()
	l.Complete(ctx, d, http.StatusUnauthorized)

	val, err := store.Get(context.Background(), d.Key)
	require.NoError(t, err)
	assert.Equal(t, "1", val)
}

func TestLimiter_CompleteWithoutDeferIsNoop(t *testing.T) {
	store, clock := memoryWithClock()
	l := newTestLimiter(t, store, Config{Name: "api", Window: time.Minute, Limit: 3}, WithClock(clock.Now))
	ctx := context.Background()

	d, err := l.Check(ctx, Request{Identifier: "10.0.0.1", Path: "/x"})
	require.NoError(t, err)
	l.Complete(ctx, d, http.StatusInternalServerError)

	val, err := store.Get(ctx, d.Key)
	require.NoError(t, err)
	assert.Equal(t, "1", val)
}

func TestLimiter_StoreFailureFailOpen(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLimiter(t, storagetest.FailingStore{}, Config{Name: "api", Window: time.Minute, Limit: 1},
		WithLogger(logger.NewWithWriter("test", &buf)))

	for iter := 0; iter < 3; iter++ {
		d, err := l.Check(context.Background(), Request{Identifier: "10.0.0.1", Path: "/x"})
		require.NoError(t, err)
		assert.True(t, d.Degraded)
		assert.False(t, d.Deferred)
	}
	assert.Contains(t, buf.String(), "admitting request")
	assert.Contains(t, buf.String(), storagetest.ErrUnavailable.Error())
}

func TestLimiter_StoreFailureFailClosed(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLimiter(t, storagetest.FailingStore{}, Config{
		Name:   "auth",
		Window: time.Minute,
		Limit:  5,
		Policy: FailClosed,
	}, WithLogger(logger.NewWithWriter("test", &buf)))

	_, err := l.Check(context.Background(), Request{Identifier: "10.0.0.1", Path: "/auth/login"})

	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.True(t, limitErr.Degraded())
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 60, limitErr.RetryAfterSeconds())
	assert.Contains(t, buf.String(), "rejecting request")
}

func TestLimiter_UnknownIdentity(t *testing.T) {
	t.Run("fail closed", func(t *testing.T) {
		var buf bytes.Buffer
		store, _ := memoryWithClock()
		l := newTestLimiter(t, store, Config{Name: "auth", Window: time.Minute, Limit: 5, Policy: FailClosed},
			WithLogger(logger.NewWithWriter("test", &buf)))

		_, err := l.Check(context.Background(), Request{Identifier: "", Path: "/auth/login"})

		var decisionErr *DecisionError
		require.ErrorAs(t, err, &decisionErr)
		assert.ErrorIs(t, err, ErrIdentityUnknown)
		assert.False(t, errors.Is(err, ErrLimitExceeded))
		assert.Contains(t, buf.String(), "/auth/login")
		assert.Equal(t, 0, store.Len())
	})

	t.Run("fail open", func(t *testing.T) {
		store, _ := memoryWithClock()
		l := newTestLimiter(t, store, Config{Name: "api", Window: time.Minute, Limit: 1})

		for iter := 0; iter < 3; iter++ {
			d, err := l.Check(context.Background(), Request{Identifier: UnknownIdentifier, Path: "/x"})
			require.NoError(t, err)
			assert.True(t, d.Degraded)
		}
		assert.Equal(t, 0, store.Len())
	})
}

func TestLimiter_AtomicCounter(t *testing.T) {
	store, clock := memoryWithClock()
	l := newTestLimiter(t, store, Config{Name: "api", Window: time.Minute, Limit: 2, Counter: CounterAtomic},
		WithClock(clock.Now))
	ctx := context.Background()
	req := Request{Identifier: "10.0.0.1", Path: "/x"}

	d, err := l.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Status.Remaining)

	d, err = l.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Status.Remaining)

	d, err = l.Check(ctx, req)
	assert.ErrorIs(t, err, ErrLimitExceeded)

	val, err := store.Get(ctx, d.Key)
	require.NoError(t, err)
	assert.Equal(t, "3", val, "atomic mode counts rejected requests")
}

func TestLimiter_AtomicRequiresCapableStore(t *testing.T) {
	_, err := New(plainStore{storage.NewMemoryStore()}, Config{Name: "api", Window: time.Minute, Limit: 1, Counter: CounterAtomic})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, storage.ErrAtomicUnsupported)
}

func TestLimiter_RecordsStats(t *testing.T) {
	store, clock := memoryWithClock()
	stats := NewMemoryStats()
	stats.now = clock.Now
	l := newTestLimiter(t, store, Config{Name: "api", Window: time.Minute, Limit: 1},
		WithClock(clock.Now), WithStats(stats))
	ctx := context.Background()

	_, _ = l.Check(ctx, Request{Identifier: "10.0.0.1", Path: "/x"})
	_, _ = l.Check(ctx, Request{Identifier: "10.0.0.1", Path: "/x"})

	snap, err := stats.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Allowed: 1, Denied: 1}, snap.Total)
	assert.Equal(t, Counts{Allowed: 1, Denied: 1}, snap.Classes["api"])
	assert.Equal(t, Counts{Allowed: 1, Denied: 1}, snap.CurrentMinute)
}

func TestConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, Config{}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{Name: "x", Limit: 1}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{Name: "x", Window: time.Second}.Validate(), ErrInvalidConfig)
	assert.NoError(t, Config{Name: "x", Bypass: true}.Validate())
	assert.NoError(t, Config{Name: "x", Window: time.Second, Limit: 1}.Validate())

	_, err := New(storage.NewMemoryStore(), Config{Name: "x", Window: time.Second, Limit: 1, Allowlist: []string{"nope"}})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRegistry(t *testing.T) {
	store := storage.NewMemoryStore()
	r, err := NewRegistry(store, []Config{
		{Name: "auth", Window: time.Minute, Limit: 5},
		{Name: "api", Window: time.Minute, Limit: 100},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"api", "auth"}, r.Classes())

	l, err := r.For("auth")
	require.NoError(t, err)
	assert.Equal(t, 5, l.Config().Limit)
	assert.Equal(t, DefaultKeyPrefix, l.Config().KeyPrefix)

	_, err = r.For("missing")
	assert.ErrorIs(t, err, ErrUnknownClass)
	assert.Panics(t, func() { r.MustFor("missing") })

	_, err = NewRegistry(store, []Config{
		{Name: "api", Window: time.Minute, Limit: 1},
		{Name: "api", Window: time.Minute, Limit: 2},
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// plainStore hides the AtomicCounter method of the wrapped store.
type plainStore struct {
	storage.Store
}
