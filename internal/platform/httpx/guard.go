// SPDX-License-Identifier: MIT

package httpx

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/metrics"
)

const (
	defaultGuardCapacity = 10
	baseBackpressureWait = 50 * time.Millisecond
	maxBackpressureWait  = 2 * time.Second
)

// Guard caps concurrent outbound HTTP per process. Callers past the cap
// sleep before re-trying the slot, and the sleeps grow with both the
// caller's own attempts and the number of waiters, so a deep backlog
// drains instead of stampeding.
type Guard struct {
	sem     *semaphore.Weighted
	waiting atomic.Int64
	clk     clock.Clock
}

// NewGuard returns a Guard admitting capacity concurrent calls.
// capacity <= 0 means the default of 10; a nil clk means the system
// clock.
func NewGuard(capacity int64, clk clock.Clock) *Guard {
	if capacity <= 0 {
		capacity = defaultGuardCapacity
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Guard{sem: semaphore.NewWeighted(capacity), clk: clk}
}

// Waiting reports how many callers are parked behind the cap.
func (g *Guard) Waiting() int64 { return g.waiting.Load() }

// Acquire blocks until a slot is free or ctx is done. The returned
// release function must be called exactly once.
func (g *Guard) Acquire(ctx context.Context, resource string) (func(), error) {
	if g.sem.TryAcquire(1) {
		return g.release, nil
	}

	metrics.RecordBackpressureWait(resource)
	waiters := g.waiting.Add(1)
	defer g.waiting.Add(-1)
	logger := log.WithComponent("httpx")
	logger.Debug().
		Str("resource", resource).
		Int64("waiters", waiters).
		Msg("outbound request waiting for a slot")

	for attempt := int64(1); ; attempt++ {
		wait := baseBackpressureWait * time.Duration(attempt)
		if w := g.waiting.Load(); w > 1 {
			wait *= time.Duration(w)
		}
		if wait > maxBackpressureWait {
			wait = maxBackpressureWait
		}
		if err := g.clk.Sleep(ctx, wait); err != nil {
			return nil, err
		}
		if g.sem.TryAcquire(1) {
			return g.release, nil
		}
	}
}

func (g *Guard) release() { g.sem.Release(1) }
