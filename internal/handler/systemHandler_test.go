package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-churiwal/request-governance/internal/cache"
	"github.com/aman-churiwal/request-governance/internal/circuitbreaker"
	"github.com/aman-churiwal/request-governance/internal/healthcheck"
	"github.com/aman-churiwal/request-governance/internal/ratelimit"
	"github.com/aman-churiwal/request-governance/internal/storage"
)

type systemFixture struct {
	router  *gin.Engine
	cache   *cache.Store
	stats   *ratelimit.MemoryStats
	breaker *circuitbreaker.CircuitBreaker
	checker *healthcheck.Checker
}

func newSystemFixture(t *testing.T, probeErr error) *systemFixture {
	t.Helper()

	kv := storage.NewMemoryStore()
	f := &systemFixture{
		cache:   cache.New(kv),
		stats:   ratelimit.NewMemoryStats(),
		breaker: circuitbreaker.New(circuitbreaker.Config{Name: "store", MaxFailures: 1}),
		checker: healthcheck.NewChecker(healthcheck.Config{
			MaxFailures: 1,
			Probes: []healthcheck.Probe{{Name: "redis", Check: func(context.Context) error { return probeErr }}},
		}),
	}
	f.checker.CheckAll(context.Background())

	limits, err := ratelimit.NewRegistry(kv, []ratelimit.Config{
		{Name: "api", Window: time.Minute, Limit: 10},
		{Name: "health", Bypass: true},
	})
	require.NoError(t, err)

	h := NewSystemHandler(SystemDeps{
		Breaker: f.breaker,
		Cache:   f.cache,
		Stats:   f.stats,
		Checker: f.checker,
		Limits:  limits,
		Version: "test",
	})

	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/admin/status", h.Status)
	r.GET("/admin/breaker", h.CircuitBreakerStatus)
	r.POST("/admin/breaker/reset", h.ResetCircuitBreaker)
	r.POST("/admin/cache/invalidate", h.InvalidateCache)
	r.GET("/admin/ratelimit/stats", h.RateLimitStats)
	f.router = r

	return f
}

func (f *systemFixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestSystemHandler_Health(t *testing.T) {
	healthy := newSystemFixture(t, nil)
	w := healthy.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	down := newSystemFixture(t, errors.New("dial tcp: connection refused"))
	w = down.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"unhealthy"`)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestSystemHandler_InvalidateCache(t *testing.T) {
	f := newSystemFixture(t, nil)
	ctx := context.Background()

	for _, k := range []string{"/api/users", "/api/users?page=2", "/api/users/1"} {
		f.cache.Set(ctx, "users", k, cache.NewEnvelope([]byte(`{}`), 200, "", time.Now()), time.Minute)
	}

	w := f.do(http.MethodPost, "/admin/cache/invalidate", `{"prefix":"users","keys":["/api/users/1"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"prefix":"users","deleted":1}`, w.Body.String())

	w = f.do(http.MethodPost, "/admin/cache/invalidate", `{"prefix":"users","clearAll":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"prefix":"users","deleted":2}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/admin/cache/invalidate", `{"prefix":"users"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/admin/cache/invalidate", `{"clearAll":true}`).Code)
}

func TestSystemHandler_RateLimitStats(t *testing.T) {
	f := newSystemFixture(t, nil)
	require.NoError(t, f.stats.Record(context.Background(), ratelimit.Event{Class: "api", Allowed: true}))
	require.NoError(t, f.stats.Record(context.Background(), ratelimit.Event{Class: "api", Allowed: false}))

	w := f.do(http.MethodGet, "/admin/ratelimit/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap ratelimit.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, ratelimit.Counts{Allowed: 1, Denied: 1}, snap.Total)
	assert.Equal(t, ratelimit.Counts{Allowed: 1, Denied: 1}, snap.Classes["api"])
}

func TestSystemHandler_StatusAndBreaker(t *testing.T) {
	f := newSystemFixture(t, nil)

	w := f.do(http.MethodGet, "/admin/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"api"`)
	assert.Contains(t, w.Body.String(), `"policy":"fail_open"`)
	assert.Contains(t, w.Body.String(), `"store_breaker"`)

	_ = f.breaker.Execute(func() error { return errors.New("down") })
	require.Equal(t, circuitbreaker.StateOpen, f.breaker.State())

	w = f.do(http.MethodGet, "/admin/breaker", "")
	assert.Contains(t, w.Body.String(), `"state":"open"`)

	w = f.do(http.MethodPost, "/admin/breaker/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, circuitbreaker.StateClosed, f.breaker.State())
}
