// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"time"

	"github.com/crateworks/linernotes/internal/queue"
	"github.com/crateworks/linernotes/internal/resilience"
)

// checkTimeout bounds each individual probe so a hung dependency cannot
// stall the whole readiness response.
const checkTimeout = 3 * time.Second

// PingChecker probes a dependency through a ping function. Required
// dependencies report unhealthy on failure, optional ones degraded.
type PingChecker struct {
	name     string
	ping     func(ctx context.Context) error
	optional bool
}

// NewPingChecker returns a checker whose failure marks the daemon
// unhealthy (not ready).
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

// NewOptionalPingChecker returns a checker whose failure only degrades:
// the pipeline keeps draining without the dependency.
func NewOptionalPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping, optional: true}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := c.ping(ctx); err != nil {
		status := StatusUnhealthy
		if c.optional {
			status = StatusDegraded
		}
		return CheckResult{Status: status, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "reachable"}
}

// QueueChecker verifies the message queues answer a stats query. Workers
// cannot lease anything when this fails, so failure means not ready.
type QueueChecker struct {
	queue  queue.Queue
	queues []string
}

// NewQueueChecker probes the named queues; nil names means all stages.
func NewQueueChecker(q queue.Queue, names []string) *QueueChecker {
	if len(names) == 0 {
		names = queue.All()
	}
	return &QueueChecker{queue: q, queues: names}
}

func (c *QueueChecker) Name() string { return "queues" }

func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var depth int64
	for _, name := range c.queues {
		stats, err := c.queue.Stats(ctx, name)
		if err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Error:   err.Error(),
				Message: fmt.Sprintf("stats query failed for %s", name),
			}
		}
		depth += stats.Depth
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d queues, %d pending", len(c.queues), depth),
	}
}

// BreakerChecker reports on the circuit breakers. Open breakers degrade
// the daemon: it is still processing, but an upstream is being skipped.
type BreakerChecker struct {
	registry *resilience.Registry
}

// NewBreakerChecker returns a checker over the breaker registry.
func NewBreakerChecker(registry *resilience.Registry) *BreakerChecker {
	return &BreakerChecker{registry: registry}
}

func (c *BreakerChecker) Name() string { return "circuit_breakers" }

func (c *BreakerChecker) Check(_ context.Context) CheckResult {
	var open []string
	for _, snap := range c.registry.Snapshots() {
		if snap.State == resilience.StateOpen {
			open = append(open, snap.Name)
		}
	}
	if len(open) > 0 {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("open: %v", open),
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "all closed"}
}
