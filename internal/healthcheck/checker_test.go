package healthcheck

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_MarksUnhealthyAfterMaxFailures(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	c := NewChecker(Config{
		MaxFailures: 2,
		Probes: []Probe{
			{Name: "redis", Check: func(context.Context) error {
				if failing.Load() {
					return errors.New("connection refused")
				}
				return nil
			}},
			{Name: "postgres", Check: func(context.Context) error { return nil }},
		},
	})
	ctx := context.Background()

	assert.Equal(t, Healthy, c.OverallHealth())

	c.CheckAll(ctx)
	assert.Equal(t, Healthy, c.OverallHealth(), "one failure is below the threshold")

	c.CheckAll(ctx)
	assert.Equal(t, Degraded, c.OverallHealth())

	statuses := c.GetAllStatus()
	require.Len(t, statuses, 2)
	assert.Equal(t, "postgres", statuses[0].Name)
	assert.Equal(t, "redis", statuses[1].Name)
	assert.False(t, statuses[1].IsHealthy)
	assert.Equal(t, 2, statuses[1].FailureCount)
	assert.Equal(t, "connection refused", statuses[1].LastError)

	failing.Store(false)
	c.CheckAll(ctx)
	assert.Equal(t, Healthy, c.OverallHealth())
	assert.Empty(t, c.GetAllStatus()[1].LastError)
}

func TestChecker_ProbeTimeout(t *testing.T) {
	c := NewChecker(Config{
		Timeout:     20 * time.Millisecond,
		MaxFailures: 1,
		Probes: []Probe{{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}},
	})

	c.CheckAll(context.Background())

	assert.Equal(t, Unhealthy, c.OverallHealth())
	assert.Contains(t, c.GetAllStatus()[0].LastError, "deadline exceeded")
}

func TestChecker_StartStop(t *testing.T) {
	var calls atomic.Int32
	c := NewChecker(Config{
		Interval: 10 * time.Millisecond,
		Probes: []Probe{{Name: "redis", Check: func(context.Context) error {
			calls.Add(1)
			return nil
		}}},
	})

	c.Start(context.Background())
	c.Start(context.Background())
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	c.Stop()
	c.Stop()
}

func TestHealthStatus_String(t *testing.T) {
	assert.Equal(t, "healthy", Healthy.String())
	assert.Equal(t, "degraded", Degraded.String())
	assert.Equal(t, "unhealthy", Unhealthy.String())
	assert.Equal(t, "unknown", HealthStatus(9).String())
}
