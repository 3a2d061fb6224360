package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStore = errors.New("store unavailable")

func newTestBreaker(cfg Config) (*CircuitBreaker, *time.Time) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := New(cfg)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "store", MaxFailures: 3, Timeout: time.Minute})

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, cb.Execute(func() error { return errStore }), errStore)
	}
	assert.Equal(t, StateClosed, cb.State())

	require.ErrorIs(t, cb.Execute(func() error { return errStore }), errStore)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(Config{MaxFailures: 2})

	_ = cb.Execute(func() error { return errStore })
	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return errStore })

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Metrics().FailureCount)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, now := newTestBreaker(Config{MaxFailures: 1, Timeout: 30 * time.Second, HalfOpenSuccess: 2})

	_ = cb.Execute(func() error { return errStore })
	require.Equal(t, StateOpen, cb.State())

	*now = now.Add(31 * time.Second)

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(Config{MaxFailures: 1, Timeout: 30 * time.Second})

	_ = cb.Execute(func() error { return errStore })
	*now = now.Add(31 * time.Second)

	require.ErrorIs(t, cb.Execute(func() error { return errStore }), errStore)
	assert.Equal(t, StateOpen, cb.State())
	require.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)
}

func TestCircuitBreaker_IsFailureFiltersErrors(t *testing.T) {
	errMiss := errors.New("miss")
	cb, _ := newTestBreaker(Config{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, errMiss) },
	})

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(func() error { return errMiss }), errMiss)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "store", MaxFailures: 1})

	_ = cb.Execute(func() error { return errStore })
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()

	m := cb.Metrics()
	assert.Equal(t, "store", m.Name)
	assert.Equal(t, StateClosed, m.State)
	assert.Zero(t, m.FailureCount)
	require.NoError(t, cb.Execute(func() error { return nil }))
}

func TestState_MarshalText(t *testing.T) {
	for state, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	} {
		b, err := state.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, want, string(b))
	}
}
