package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/aman-churiwal/request-governance/internal/ratelimit"
)

// Endpoint classes mounted by the server.
const (
	ClassAuth    = "auth"
	ClassAPI     = "api"
	ClassAdmin   = "admin"
	ClassHealth  = "health"
	ClassUpload  = "upload"
	ClassWebhook = "webhook"
	ClassGlobal  = "global"
)

// DefaultRateLimits is the built-in class table.
func DefaultRateLimits() []ratelimit.Config {
	return []ratelimit.Config{
		{
			Name:                   ClassAuth,
			Window:                 15 * time.Minute,
			Limit:                  5,
			KeyPrefix:              ratelimit.DefaultKeyPrefix,
			Message:                "Too many authentication attempts, please try again later.",
			SkipSuccessfulRequests: true,
			StandardHeaders:        true,
			Policy:                 ratelimit.FailClosed,
		},
		{
			Name:            ClassAPI,
			Window:          15 * time.Minute,
			Limit:           100,
			KeyPrefix:       ratelimit.DefaultKeyPrefix,
			Message:         "Too many API requests, please try again later.",
			StandardHeaders: true,
			Policy:          ratelimit.FailOpen,
		},
		{
			Name:            ClassAdmin,
			Window:          15 * time.Minute,
			Limit:           50,
			KeyPrefix:       ratelimit.DefaultKeyPrefix,
			Message:         "Too many admin requests, please try again later.",
			StandardHeaders: true,
			Policy:          ratelimit.FailClosed,
		},
		{
			Name:   ClassHealth,
			Bypass: true,
		},
		{
			Name:            ClassUpload,
			Window:          time.Hour,
			Limit:           20,
			KeyPrefix:       ratelimit.DefaultKeyPrefix,
			Message:         "Too many uploads, please try again later.",
			StandardHeaders: true,
			Policy:          ratelimit.FailOpen,
		},
		{
			Name:            ClassWebhook,
			Window:          time.Minute,
			Limit:           60,
			KeyPrefix:       ratelimit.DefaultKeyPrefix,
			Message:         "Too many webhook deliveries, please slow down.",
			StandardHeaders: true,
			Policy:          ratelimit.FailOpen,
		},
		{
			Name:            ClassGlobal,
			Window:          15 * time.Minute,
			Limit:           1000,
			KeyPrefix:       ratelimit.DefaultKeyPrefix,
			Message:         ratelimit.DefaultMessage,
			StandardHeaders: true,
			Policy:          ratelimit.FailOpen,
		},
	}
}

// rateLimitFile is the JSON shape of RATE_LIMIT_CONFIG. Absent fields keep
// the built-in value of the class.
type rateLimitFile struct {
	Classes map[string]classOverride `json:"classes"`
}

type classOverride struct {
	Window                 Duration `json:"window"`
	Limit                  int      `json:"limit"`
	KeyPrefix              string   `json:"key_prefix"`
	Message                string   `json:"message"`
	SkipSuccessfulRequests *bool    `json:"skip_successful_requests"`
	StandardHeaders        *bool    `json:"standard_headers"`
	Bypass                 *bool    `json:"bypass"`
	FailClosed             *bool    `json:"fail_closed"`
	Counter                string   `json:"counter"`
	Allowlist              []string `json:"allowlist"`
}

// LoadRateLimits returns the built-in classes merged with the overrides in
// path. An empty path returns the defaults.
func LoadRateLimits(path string) ([]ratelimit.Config, error) {
	defaults := DefaultRateLimits()
	if path == "" {
		return defaults, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit config: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var file rateLimitFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse rate limit config %s: %w", path, err)
	}

	return mergeRateLimits(defaults, file.Classes)
}

func mergeRateLimits(defaults []ratelimit.Config, overrides map[string]classOverride) ([]ratelimit.Config, error) {
	byName := make(map[string]ratelimit.Config, len(defaults))
	order := make([]string, 0, len(defaults))
	for _, c := range defaults {
		byName[c.Name] = c
		order = append(order, c.Name)
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		o := overrides[name]

		c, known := byName[name]
		if !known {
			c = ratelimit.Config{Name: name, KeyPrefix: ratelimit.DefaultKeyPrefix, StandardHeaders: true}
			order = append(order, name)
		}

		if o.Window > 0 {
			c.Window = time.Duration(o.Window)
		}
		if o.Limit > 0 {
			c.Limit = o.Limit
		}
		if o.KeyPrefix != "" {
			c.KeyPrefix = o.KeyPrefix
		}
		if o.Message != "" {
			c.Message = o.Message
		}
		if o.SkipSuccessfulRequests != nil {
			c.SkipSuccessfulRequests = *o.SkipSuccessfulRequests
		}
		if o.StandardHeaders != nil {
			c.StandardHeaders = *o.StandardHeaders
		}
		if o.Bypass != nil {
			c.Bypass = *o.Bypass
		}
		if o.FailClosed != nil {
			c.Policy = ratelimit.FailOpen
			if *o.FailClosed {
				c.Policy = ratelimit.FailClosed
			}
		}
		switch o.Counter {
		case "":
		case "approximate":
			c.Counter = ratelimit.CounterApproximate
		case "atomic":
			c.Counter = ratelimit.CounterAtomic
		default:
			return nil, fmt.Errorf("%w: class %q: unknown counter %q", ErrInvalidConfig, name, o.Counter)
		}
		if o.Allowlist != nil {
			c.Allowlist = o.Allowlist
		}

		if err := c.Validate(); err != nil {
			return nil, err
		}
		byName[name] = c
	}

	out := make([]ratelimit.Config, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, nil
}

// Duration accepts a Go duration string ("15m") or a number of milliseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}

	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %s: %w", b, err)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}
