package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aman-churiwal/request-governance/internal/cache"
	"github.com/aman-churiwal/request-governance/internal/circuitbreaker"
	"github.com/aman-churiwal/request-governance/internal/healthcheck"
	"github.com/aman-churiwal/request-governance/internal/ratelimit"
)

// Handles health and admin endpoints of the governance layer
type SystemHandler struct {
	breaker   *circuitbreaker.CircuitBreaker
	cache     *cache.Store
	stats     ratelimit.StatsReader
	checker   *healthcheck.Checker
	limits    *ratelimit.Registry
	startTime time.Time
	version   string
}

type SystemDeps struct {
	// Breaker may be nil when the store is not wrapped.
	Breaker *circuitbreaker.CircuitBreaker
	Cache   *cache.Store
	// Stats may be nil when decision statistics are disabled.
	Stats   ratelimit.StatsReader
	Checker *healthcheck.Checker
	Limits  *ratelimit.Registry
	Version string
}

func NewSystemHandler(deps SystemDeps) *SystemHandler {
	return &SystemHandler{
		breaker:   deps.Breaker,
		cache:     deps.Cache,
		stats:     deps.Stats,
		checker:   deps.Checker,
		limits:    deps.Limits,
		startTime: time.Now(),
		version:   deps.Version,
	}
}

// GET /health. Serves the checker's cached state.
func (h *SystemHandler) Health(c *gin.Context) {
	overall := h.checker.OverallHealth()

	statusCode := http.StatusOK
	if overall != healthcheck.Healthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overall,
		"service":   "request-governance",
		"version":   h.version,
		"timestamp": time.Now().Unix(),
		"checks":    h.checker.GetAllStatus(),
	})
}

// GET /admin/status
func (h *SystemHandler) Status(c *gin.Context) {
	classes := make([]gin.H, 0)
	for _, name := range h.limits.Classes() {
		cfg := h.limits.MustFor(name).Config()
		classes = append(classes, gin.H{
			"name":     cfg.Name,
			"limit":    cfg.Limit,
			"window":   cfg.Window.String(),
			"bypass":   cfg.Bypass,
			"policy":   cfg.Policy.String(),
			"strategy": cfg.Strategy(),
			"counter":  cfg.Counter.String(),
		})
	}

	resp := gin.H{
		"health":      h.checker.OverallHealth(),
		"checks":      h.checker.GetAllStatus(),
		"rate_limits": classes,
		"uptime":      time.Since(h.startTime).Seconds(),
		"timestamp":   time.Now().Unix(),
	}
	if h.breaker != nil {
		resp["store_breaker"] = h.breaker.Metrics()
	}

	c.JSON(http.StatusOK, resp)
}

// Returns the state of the store circuit breaker
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	if h.breaker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Circuit breaker not configured"})
		return
	}

	c.JSON(http.StatusOK, h.breaker.Metrics())
}

// Manually resets the store circuit breaker
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	if h.breaker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Circuit breaker not configured"})
		return
	}

	h.breaker.Reset()

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"state":   h.breaker.State(),
	})
}

// POST /admin/cache/invalidate {"prefix": "users", "keys": [...], "clearAll": true}
func (h *SystemHandler) InvalidateCache(c *gin.Context) {
	var req cache.Invalidation
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.ClearAll && len(req.Keys) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Either keys or clearAll is required"})
		return
	}

	deleted := h.cache.Invalidate(c.Request.Context(), req)

	c.JSON(http.StatusOK, gin.H{
		"prefix":  req.Prefix,
		"deleted": deleted,
	})
}

// GET /admin/ratelimit/stats
func (h *SystemHandler) RateLimitStats(c *gin.Context) {
	if h.stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rate limit statistics are disabled"})
		return
	}

	snap, err := h.stats.Snapshot(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, snap)
}
