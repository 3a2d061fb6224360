package healthcheck

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aman-churiwal/request-governance/internal/logger"
)

// Probe checks one dependency. Check must honour ctx.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Checker probes dependencies (the key-value store, the database) on an
// interval and keeps the latest result for each. The /health endpoint reads
// the cached state, so it never puts load on the dependencies itself.
type Checker struct {
	mu           sync.RWMutex
	probes       []Probe
	healthStatus map[string]*Status
	interval     time.Duration
	timeout      time.Duration
	maxFailures  int
	log          *slog.Logger
	now          func() time.Time
	stopChan     chan struct{}
	running      bool
}

// Holds health checker configuration
type Config struct {
	Probes      []Probe
	Interval    time.Duration // How often to check (default: 10s)
	Timeout     time.Duration // Per-probe timeout (default: 2s)
	MaxFailures int           // Failures before marking unhealthy (default: 3)
	Logger      *slog.Logger
}

func NewChecker(cfg Config) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}

	checker := &Checker{
		probes:       cfg.Probes,
		healthStatus: make(map[string]*Status, len(cfg.Probes)),
		interval:     cfg.Interval,
		timeout:      cfg.Timeout,
		maxFailures:  cfg.MaxFailures,
		log:          cfg.Logger.With(logger.Component("healthcheck")),
		now:          time.Now,
		stopChan:     make(chan struct{}),
	}

	// Assume healthy until the first failed probe
	for _, p := range cfg.Probes {
		checker.healthStatus[p.Name] = &Status{
			Name:      p.Name,
			IsHealthy: true,
		}
	}

	return checker
}

// Begins periodic health checks
func (c *Checker) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.log.Info("starting health checks",
		logger.Count("probes", len(c.probes)),
		slog.Duration("interval", c.interval),
	)

	c.CheckAll(ctx)

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.CheckAll(ctx)
			case <-c.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stops the health checker
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
		c.log.Info("health checker stopped")
	}
}

// CheckAll runs every probe concurrently, each bounded by the probe timeout.
func (c *Checker) CheckAll(ctx context.Context) {
	var g errgroup.Group

	for _, p := range c.probes {
		p := p
		g.Go(func() error {
			c.checkProbe(ctx, p)
			return nil
		})
	}

	_ = g.Wait()
}

func (c *Checker) checkProbe(ctx context.Context, p Probe) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := c.now()
	err := p.Check(ctx)
	latency := c.now().Sub(start)

	if err != nil {
		c.recordFailure(p.Name, err, latency)
		return
	}
	c.recordSuccess(p.Name, latency)
}

func (c *Checker) recordSuccess(name string, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	status := c.healthStatus[name]
	status.LastCheck = now
	status.LastSuccess = now
	status.Latency = latency
	status.FailureCount = 0
	status.LastError = ""

	if !status.IsHealthy {
		c.log.Info("dependency is healthy again", slog.String("probe", name))
		status.IsHealthy = true
	}
}

func (c *Checker) recordFailure(name string, err error, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	status := c.healthStatus[name]
	status.LastCheck = now
	status.LastFailure = now
	status.Latency = latency
	status.FailureCount++
	status.LastError = err.Error()

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		c.log.Warn("dependency is unhealthy",
			slog.String("probe", name),
			logger.Count("failures", status.FailureCount),
			logger.Error(err),
		)
		status.IsHealthy = false
	}
}

// Returns a copy of every probe's status, sorted by name
func (c *Checker) GetAllStatus() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Status, 0, len(c.healthStatus))
	for _, status := range c.healthStatus {
		out = append(out, *status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Returns the overall health status
func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthyCount := 0
	for _, status := range c.healthStatus {
		if status.IsHealthy {
			healthyCount++
		}
	}

	switch {
	case healthyCount == len(c.healthStatus):
		return Healthy
	case healthyCount == 0:
		return Unhealthy
	default:
		return Degraded
	}
}
