package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is one counted decision.
type Event struct {
	Class    string
	Allowed  bool
	Degraded bool
	At       time.Time
}

type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

type Counts struct {
	Allowed  int64 `json:"allowed"`
	Denied   int64 `json:"denied"`
	Degraded int64 `json:"degraded"`
}

func (c *Counts) add(ev Event) {
	if ev.Allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
	if ev.Degraded {
		c.Degraded++
	}
}

type Snapshot struct {
	Total         Counts            `json:"total"`
	Classes       map[string]Counts `json:"classes"`
	CurrentMinute Counts            `json:"current_minute"`
}

// StatsReader is the read side exposed to the admin API.
type StatsReader interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

const minuteLayout = "200601021504"

// RedisStats keeps decision counters in Redis hashes: a cumulative total, one
// hash keyed by class and field, and per-minute buckets that expire.
type RedisStats struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

type StatsOption func(*RedisStats)

func WithStatsPrefix(prefix string) StatsOption {
	return func(s *RedisStats) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// WithStatsTTL bounds the lifetime of minute buckets.
func WithStatsTTL(d time.Duration) StatsOption {
	return func(s *RedisStats) { s.ttl = d }
}

func NewRedisStats(rdb redis.UniversalClient, opts ...StatsOption) *RedisStats {
	s := &RedisStats{
		rdb:    rdb,
		prefix: "rl:stats",
		ttl:    24 * time.Hour,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStats) Record(ctx context.Context, ev Event) error {
	at := ev.At
	if at.IsZero() {
		at = s.now()
	}

	fields := eventFields(ev)
	bucketKey := s.minuteKey(at)

	pipe := s.rdb.Pipeline()
	for _, field := range fields {
		pipe.HIncrBy(ctx, s.prefix+":total", field, 1)
		pipe.HIncrBy(ctx, s.prefix+":classes", ev.Class+":"+field, 1)
		pipe.HIncrBy(ctx, bucketKey, field, 1)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStats) Snapshot(ctx context.Context) (Snapshot, error) {
	pipe := s.rdb.Pipeline()
	total := pipe.HGetAll(ctx, s.prefix+":total")
	classes := pipe.HGetAll(ctx, s.prefix+":classes")
	minute := pipe.HGetAll(ctx, s.minuteKey(s.now()))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Snapshot{}, fmt.Errorf("failed to read rate limit stats: %w", err)
	}

	snap := Snapshot{
		Total:         countsFromHash(total.Val()),
		Classes:       make(map[string]Counts),
		CurrentMinute: countsFromHash(minute.Val()),
	}

	for field, raw := range classes.Val() {
		idx := strings.LastIndex(field, ":")
		if idx <= 0 {
			continue
		}
		class, name := field[:idx], field[idx+1:]
		c := snap.Classes[class]
		setCount(&c, name, raw)
		snap.Classes[class] = c
	}

	return snap, nil
}

func (s *RedisStats) minuteKey(at time.Time) string {
	return s.prefix + ":minute:" + at.UTC().Format(minuteLayout)
}

func eventFields(ev Event) []string {
	fields := []string{"denied"}
	if ev.Allowed {
		fields[0] = "allowed"
	}
	if ev.Degraded {
		fields = append(fields, "degraded")
	}
	return fields
}

func countsFromHash(h map[string]string) Counts {
	var c Counts
	for name, raw := range h {
		setCount(&c, name, raw)
	}
	return c
}

func setCount(c *Counts, name, raw string) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return
	}
	switch name {
	case "allowed":
		c.Allowed = n
	case "denied":
		c.Denied = n
	case "degraded":
		c.Degraded = n
	}
}

// MemoryStats is the process-local Recorder used with the memory store.
type MemoryStats struct {
	mu      sync.Mutex
	total   Counts
	classes map[string]Counts
	minutes map[string]Counts
	now     func() time.Time
}

func NewMemoryStats() *MemoryStats {
	return &MemoryStats{
		classes: make(map[string]Counts),
		minutes: make(map[string]Counts),
		now:     time.Now,
	}
}

func (s *MemoryStats) Record(_ context.Context, ev Event) error {
	at := ev.At
	if at.IsZero() {
		at = s.now()
	}
	bucket := at.UTC().Format(minuteLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev)

	c := s.classes[ev.Class]
	c.add(ev)
	s.classes[ev.Class] = c

	m := s.minutes[bucket]
	m.add(ev)
	s.minutes = map[string]Counts{bucket: m}

	return nil
}

func (s *MemoryStats) Snapshot(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	classes := make(map[string]Counts, len(s.classes))
	for k, v := range s.classes {
		classes[k] = v
	}

	return Snapshot{
		Total:         s.total,
		Classes:       classes,
		CurrentMinute: s.minutes[s.now().UTC().Format(minuteLayout)],
	}, nil
}
