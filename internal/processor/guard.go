package processor

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/adverant/nexus/recipe-extractor/internal/errors"
)

// GuardConfig bounds concurrent pipeline runs.
type GuardConfig struct {
	// MaxConcurrent runs execute at once.
	MaxConcurrent int
	// MaxQueued runs may wait for a slot; beyond that callers get Overloaded.
	MaxQueued int
}

// Guard is a bounded admission gate: a weighted semaphore for running slots
// and an atomic counter capping how many callers may wait.
type Guard struct {
	slots    *semaphore.Weighted
	capacity int64
	pending  atomic.Int64
}

// NewGuard creates an admission guard
func NewGuard(cfg GuardConfig) *Guard {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.MaxQueued < 0 {
		cfg.MaxQueued = 0
	}
	return &Guard{
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		capacity: int64(cfg.MaxConcurrent + cfg.MaxQueued),
	}
}

// Acquire takes a running slot, waiting if the queue has room. It fails fast
// with Overloaded when running plus waiting callers would exceed capacity,
// and returns ctx.Err() if the context ends while waiting.
func (g *Guard) Acquire(ctx context.Context) (release func(), err error) {
	if g.pending.Add(1) > g.capacity {
		g.pending.Add(-1)
		return nil, errors.NewOverloadedError(int(g.capacity))
	}

	if err := g.slots.Acquire(ctx, 1); err != nil {
		g.pending.Add(-1)
		return nil, err
	}

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			g.slots.Release(1)
			g.pending.Add(-1)
		}
	}, nil
}

// InFlight reports running plus waiting callers.
func (g *Guard) InFlight() int64 {
	return g.pending.Load()
}
