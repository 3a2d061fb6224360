package cache

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/aman-churiwal/request-governance/internal/logger"
)

const maxParallelDeletes = 8

// Invalidation names what to evict after a write. ClearAll wins over Keys.
type Invalidation struct {
	Prefix   string   `json:"prefix" binding:"required"`
	Keys     []string `json:"keys,omitempty"`
	ClearAll bool     `json:"clearAll,omitempty"`
}

// Invalidate evicts the entries described by inv and returns how many keys
// were removed. Failures are logged by the store and never returned.
func (s *Store) Invalidate(ctx context.Context, inv Invalidation) int {
	if inv.ClearAll {
		return s.ClearByPrefix(ctx, inv.Prefix)
	}
	if len(inv.Keys) == 0 {
		return 0
	}

	var removed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDeletes)

	for _, key := range inv.Keys {
		key := key
		g.Go(func() error {
			removed.Add(int64(s.DeleteBatch(gctx, inv.Prefix, []string{key})))
			return nil
		})
	}
	_ = g.Wait()

	n := int(removed.Load())
	s.log.Debug("invalidated cache keys",
		slog.String("prefix", inv.Prefix),
		logger.Count("requested", len(inv.Keys)),
		logger.Count("deleted", n),
	)

	return n
}
