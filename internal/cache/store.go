// Package cache stores HTTP response envelopes in the shared key-value store.
// Every operation is best-effort: failures are logged and reported as a miss
// or a no-op, never returned.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/aman-churiwal/request-governance/internal/logger"
	"github.com/aman-churiwal/request-governance/internal/storage"
)

const (
	DefaultTTL       = 60 * time.Second
	DefaultBatchSize = 100
)

type Store struct {
	kv        storage.Store
	log       *slog.Logger
	now       func() time.Time
	ttl       time.Duration
	batchSize int
}

type Option func(*Store)

func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultTTL sets the TTL used when Set is called with ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithBatchSize bounds how many keys one delete call may carry.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func New(kv storage.Store, opts ...Option) *Store {
	s := &Store{
		kv:        kv,
		log:       logger.Discard(),
		now:       time.Now,
		ttl:       DefaultTTL,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("cache"))
	return s
}

func (s *Store) Now() time.Time {
	return s.now()
}

func (s *Store) DefaultTTL() time.Duration {
	return s.ttl
}

// Set writes env under prefix and key. The body must be valid JSON.
func (s *Store) Set(ctx context.Context, prefix, key string, env Envelope, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	full := FullKey(prefix, key)

	raw, err := json.Marshal(env)
	if err != nil {
		s.log.Warn("failed to encode cache envelope", logger.Key(full), logger.Error(err))
		return
	}

	if err := s.kv.Set(ctx, full, string(raw), ttl); err != nil {
		s.log.Warn("failed to write cache entry", logger.Key(full), logger.Error(err))
	}
}

// Get returns the envelope stored under prefix and key. Any failure,
// including a corrupt entry, is reported as a miss.
func (s *Store) Get(ctx context.Context, prefix, key string) (*Envelope, bool) {
	full := FullKey(prefix, key)

	raw, err := s.kv.Get(ctx, full)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("failed to read cache entry", logger.Key(full), logger.Error(err))
		}
		return nil, false
	}

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		s.log.Warn("failed to decode cache envelope", logger.Key(full), logger.Error(err))
		return nil, false
	}

	return &env, true
}

func (s *Store) Delete(ctx context.Context, prefix, key string) {
	full := FullKey(prefix, key)
	if err := s.kv.Delete(ctx, full); err != nil {
		s.log.Warn("failed to delete cache entry", logger.Key(full), logger.Error(err))
	}
}

// DeleteBatch removes keys under prefix and returns how many existed.
func (s *Store) DeleteBatch(ctx context.Context, prefix string, keys []string) int {
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, FullKey(prefix, k))
	}
	return s.deleteFull(ctx, full)
}

func (s *Store) Exists(ctx context.Context, prefix, key string) bool {
	full := FullKey(prefix, key)

	ok, err := s.kv.Exists(ctx, full)
	if err != nil {
		s.log.Warn("failed to check cache entry", logger.Key(full), logger.Error(err))
		return false
	}
	return ok
}

// ClearByPrefix deletes every key under prefix and returns how many were
// removed. Keys written while the clear runs may survive it.
func (s *Store) ClearByPrefix(ctx context.Context, prefix string) int {
	pattern := prefixRoot(prefix) + ":*"

	keys, err := s.kv.Scan(ctx, pattern)
	if err != nil {
		s.log.Warn("failed to scan cache prefix", slog.String("pattern", pattern), logger.Error(err))
		return 0
	}

	n := s.deleteFull(ctx, keys)
	s.log.Debug("cleared cache prefix", slog.String("pattern", pattern), logger.Count("deleted", n))

	return n
}

func (s *Store) deleteFull(ctx context.Context, keys []string) int {
	var total int64
	for start := 0; start < len(keys); start += s.batchSize {
		end := min(start+s.batchSize, len(keys))

		n, err := s.kv.DeleteMany(ctx, keys[start:end]...)
		if err != nil {
			s.log.Warn("failed to delete cache batch", logger.Count("batch_size", end-start), logger.Error(err))
			continue
		}
		total += n
	}
	return int(total)
}
