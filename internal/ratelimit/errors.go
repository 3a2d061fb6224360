package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrLimitExceeded    = errors.New("rate limit exceeded")
	ErrIdentityUnknown  = errors.New("client identity could not be determined")
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	ErrInvalidConfig    = errors.New("invalid rate limit configuration")
	ErrUnknownClass     = errors.New("unknown endpoint class")
)

// LimitError rejects a request with a 429. Cause is nil for a genuine quota
// breach and holds the store error when a fail-closed class could not decide;
// both look the same to the client.
type LimitError struct {
	Class      string
	Message    string
	Limit      int
	RetryAfter time.Duration
	ResetTime  time.Time
	Cause      error
}

func (e *LimitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rate limit %s: rejected while store unavailable: %v", e.Class, e.Cause)
	}
	return fmt.Sprintf("rate limit %s: %s", e.Class, ErrLimitExceeded)
}

func (e *LimitError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrLimitExceeded}
	}
	return []error{ErrLimitExceeded, e.Cause}
}

// Degraded reports whether the rejection came from the fail-closed policy
// rather than an exhausted quota.
func (e *LimitError) Degraded() bool {
	return e.Cause != nil
}

// RetryAfterSeconds is the Retry-After header value, never below 1.
func (e *LimitError) RetryAfterSeconds() int {
	return retryAfterSeconds(e.RetryAfter)
}

// DecisionError is a server-side failure to evaluate the limit, surfaced
// instead of a quota error when the client cannot be identified.
type DecisionError struct {
	Class string
	Path  string
	Cause error
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("rate limit %s: cannot evaluate %s: %v", e.Class, e.Path, e.Cause)
}

func (e *DecisionError) Unwrap() error {
	return e.Cause
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
