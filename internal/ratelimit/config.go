package ratelimit

import (
	"fmt"
	"time"
)

const (
	DefaultKeyPrefix = "rl"
	DefaultMessage   = "Too many requests, please try again later."
)

// Policy decides what happens when a decision cannot be made because the
// store failed or the client could not be identified. It is fixed per
// endpoint class when the Limiter is built.
type Policy int

const (
	// FailOpen admits the request uncounted.
	FailOpen Policy = iota
	// FailClosed rejects the request.
	FailClosed
)

func (p Policy) String() string {
	if p == FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}

// CounterMode selects how a request is counted.
type CounterMode int

const (
	// CounterApproximate reads the counter, compares, then writes count+1.
	// Concurrent requests for one key may overshoot the limit slightly.
	CounterApproximate CounterMode = iota
	// CounterAtomic increments with a single atomic store operation and
	// rejects once the post-increment count exceeds the limit. Rejected
	// requests are counted too. Requires a storage.AtomicCounter.
	CounterAtomic
)

func (m CounterMode) String() string {
	if m == CounterAtomic {
		return "atomic"
	}
	return "approximate"
}

// Config is the rate limit configuration of one endpoint class.
type Config struct {
	Name      string
	Window    time.Duration
	Limit     int
	KeyPrefix string
	Message   string
	// SkipSuccessfulRequests counts a request only if the handler finishes
	// with a status outside [200,300).
	SkipSuccessfulRequests bool
	StandardHeaders        bool
	Bypass                 bool
	Policy                 Policy
	Counter                CounterMode
	// Allowlist holds IPs or CIDRs whose requests skip the limiter.
	Allowlist []string
}

// Strategy reports which evaluation path the class uses.
func (c Config) Strategy() string {
	if c.SkipSuccessfulRequests {
		return "skip_successful"
	}
	return "standard"
}

func (c Config) withDefaults() Config {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.Message == "" {
		c.Message = DefaultMessage
	}
	return c
}

func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: class name is required", ErrInvalidConfig)
	}
	if c.Bypass {
		return nil
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: class %q: window must be positive", ErrInvalidConfig, c.Name)
	}
	if c.Limit <= 0 {
		return fmt.Errorf("%w: class %q: limit must be positive", ErrInvalidConfig, c.Name)
	}
	return nil
}
