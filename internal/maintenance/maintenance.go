// SPDX-License-Identifier: MIT

// Package maintenance runs the upkeep no worker poll should pay for:
// recovering stalled messages, snapshotting queue health, rolling up
// processing metrics, flagging dead-letter growth, and pruning the
// append-only tables.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/metrics"
	"github.com/crateworks/linernotes/internal/queue"
	"github.com/crateworks/linernotes/internal/store"
)

// Task names written to maintenance_logs, and the issue type written to
// worker_issues when a stalled message is made visible again.
const (
	taskStalledRecovery = "stalled_recovery"
	taskHealthSnapshot  = "health_snapshot"
	taskMetricsRollup   = "metrics_rollup"
	taskDeadLetterAlert = "dead_letter_alert"
	taskRetentionPrune  = "retention_prune"

	issueStalledRecovered = "stalled_message_recovered"
)

const (
	// A leased message whose visibility timeout expired this long ago was
	// abandoned by a worker that died mid-flight.
	defaultStalledAfter = 30 * time.Minute

	defaultSummaryWindow = time.Hour
	defaultPruneEvery    = 24 * time.Hour

	// Error share of a queue's processed messages above which the roll-up
	// logs a warning instead of passing silently.
	errorRateWarn = 0.5
)

// Config tunes one maintenance loop. Zero values take the defaults above;
// Retention <= 0 disables pruning entirely.
type Config struct {
	Queues        []string
	StalledAfter  time.Duration
	SummaryWindow time.Duration
	Retention     time.Duration
	PruneEvery    time.Duration
	Clock         clock.Clock
}

func (c Config) withDefaults() Config {
	if len(c.Queues) == 0 {
		c.Queues = queue.All()
	}
	if c.StalledAfter <= 0 {
		c.StalledAfter = defaultStalledAfter
	}
	if c.SummaryWindow <= 0 {
		c.SummaryWindow = defaultSummaryWindow
	}
	if c.PruneEvery <= 0 {
		c.PruneEvery = defaultPruneEvery
	}
	if c.Clock == nil {
		c.Clock = clock.System()
	}
	return c
}

// Loop owns the periodic maintenance pass over the queues and runtime
// tables. Run it from a single goroutine; RunOnce is not reentrant.
type Loop struct {
	cfg       Config
	queue     queue.Queue
	rec       store.Recorder
	lastPrune time.Time
}

// New returns a Loop over q and rec.
func New(q queue.Queue, rec store.Recorder, cfg Config) (*Loop, error) {
	if q == nil {
		return nil, fmt.Errorf("maintenance: queue is nil")
	}
	if rec == nil {
		return nil, fmt.Errorf("maintenance: recorder is nil")
	}
	cfg = cfg.withDefaults()
	for _, name := range cfg.Queues {
		if err := queue.ValidateName(name); err != nil {
			return nil, fmt.Errorf("maintenance: %w", err)
		}
	}
	return &Loop{cfg: cfg, queue: q, rec: rec}, nil
}

// Run executes RunOnce every interval until ctx is done. Task failures
// are logged and retried on the next cycle; only ctx ends the loop.
func (l *Loop) Run(ctx context.Context, interval time.Duration) error {
	for {
		if err := l.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logger := log.WithComponent("maintenance")
			logger.Error().Err(err).Msg("maintenance cycle failed")
		}
		if err := l.cfg.Clock.Sleep(ctx, clock.Jitter(interval, 0.9, 1.1)); err != nil {
			return err
		}
	}
}

// RunOnce executes every maintenance task once. Tasks are independent: a
// failing task is joined into the returned error and the rest still run.
func (l *Loop) RunOnce(ctx context.Context) error {
	tasks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{taskStalledRecovery, l.recoverStalled},
		{taskHealthSnapshot, l.snapshotHealth},
		{taskMetricsRollup, l.rollupMetrics},
		{taskDeadLetterAlert, l.flagDeadLetters},
		{taskRetentionPrune, l.prune},
	}

	var errs []error
	for _, t := range tasks {
		status := "ok"
		if err := t.fn(ctx); err != nil {
			status = "error"
			errs = append(errs, err)
		}
		metrics.RecordMaintenanceRun(t.name, status)
	}
	return errors.Join(errs...)
}

// recoverStalled clears the visibility timeout of messages abandoned
// longer than StalledAfter so another worker can pick them up, and files
// a worker_issues row for each.
func (l *Loop) recoverStalled(ctx context.Context) error {
	logger := log.WithComponent("maintenance")
	now := l.cfg.Clock.Now()

	recovered := make(map[string]int64)
	var errs []error
	for _, name := range l.cfg.Queues {
		msgs, err := l.queue.Stalled(ctx, name, l.cfg.StalledAfter)
		if err != nil {
			errs = append(errs, fmt.Errorf("list stalled on %s: %w", name, err))
			continue
		}
		for _, msg := range msgs {
			if err := l.queue.SetVT(ctx, name, msg.ID, 0); err != nil {
				errs = append(errs, fmt.Errorf("reset visibility of %s/%d: %w", name, msg.ID, err))
				continue
			}
			recovered[name]++

			details := map[string]any{
				"readCount":  msg.ReadCount,
				"enqueuedAt": msg.EnqueuedAt.UTC().Format(time.RFC3339),
				"stalledFor": now.Sub(msg.VisibleAt).String(),
			}
			if err := l.rec.RecordWorkerIssue(ctx, name, msg.ID, issueStalledRecovered, details); err != nil {
				logger.Warn().Err(err).
					Str(log.FieldQueue, name).
					Int64(log.FieldMessageID, msg.ID).
					Msg("stalled recovery not recorded")
			}
			logger.Warn().
				Str(log.FieldQueue, name).
				Int64(log.FieldMessageID, msg.ID).
				Int64(log.FieldReadCount, msg.ReadCount).
				Str("stalled_for", now.Sub(msg.VisibleAt).String()).
				Msg("stalled message made visible again")
		}
		if n := recovered[name]; n > 0 {
			metrics.RecordStalledRecovered(name, int(n))
		}
	}

	if len(recovered) > 0 {
		if err := l.rec.RecordMaintenanceLog(ctx, taskStalledRecovery, "ok",
			map[string]any{"recovered": recovered}); err != nil {
			errs = append(errs, fmt.Errorf("record stalled recovery: %w", err))
		}
	}
	return errors.Join(errs...)
}

// snapshotHealth writes one queue_health_logs row per queue and refreshes
// the depth gauges.
func (l *Loop) snapshotHealth(ctx context.Context) error {
	var errs []error
	for _, name := range l.cfg.Queues {
		s, err := l.queue.Stats(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("stats for %s: %w", name, err))
			continue
		}
		metrics.SetQueueDepth(name, s.Depth)
		metrics.SetQueueOldestAge(name, s.OldestAge.Seconds())

		details := map[string]any{"totalMessages": s.TotalMessages}
		if err := l.rec.RecordQueueHealth(ctx, name, s.Depth, s.OldestAge.Seconds(), details); err != nil {
			errs = append(errs, fmt.Errorf("record health for %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// rollupMetrics aggregates the last SummaryWindow of queue_metrics into a
// maintenance_logs row and warns on queues whose error share crossed
// errorRateWarn.
func (l *Loop) rollupMetrics(ctx context.Context) error {
	now := l.cfg.Clock.Now()
	summaries, err := l.rec.MetricsSummary(ctx, now.Add(-l.cfg.SummaryWindow))
	if err != nil {
		return fmt.Errorf("summarize queue metrics: %w", err)
	}

	queues := make([]map[string]any, 0, len(summaries))
	for _, s := range summaries {
		var rate float64
		if s.Total > 0 {
			rate = float64(s.Errors) / float64(s.Total)
		}
		queues = append(queues, map[string]any{
			"queue":     s.Queue,
			"processed": s.Total,
			"errors":    s.Errors,
			"errorRate": rate,
			"avgMs":     s.AvgMS,
			"maxMs":     s.MaxMS,
		})
		if rate >= errorRateWarn && s.Errors > 0 {
			logger := log.WithComponent("maintenance")
			logger.Warn().
				Str(log.FieldQueue, s.Queue).
				Int64("processed", s.Total).
				Int64("errors", s.Errors).
				Msg("queue error rate elevated")
		}
	}

	details := map[string]any{
		"window": l.cfg.SummaryWindow.String(),
		"queues": queues,
	}
	if err := l.rec.RecordMaintenanceLog(ctx, taskMetricsRollup, "ok", details); err != nil {
		return fmt.Errorf("record metrics rollup: %w", err)
	}
	return nil
}

// flagDeadLetters surfaces parked messages so they are replayed instead
// of forgotten. Nothing is written when the dead letter store is empty.
func (l *Loop) flagDeadLetters(ctx context.Context) error {
	counts, err := l.rec.DeadLetterCounts(ctx)
	if err != nil {
		return fmt.Errorf("count dead letters: %w", err)
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return nil
	}

	logger := log.WithComponent("maintenance")
	logger.Warn().
		Int64("parked", total).
		Interface("counts", counts).
		Msg("dead letters awaiting replay")

	details := map[string]any{"total": total, "counts": counts}
	if err := l.rec.RecordMaintenanceLog(ctx, taskDeadLetterAlert, "warning", details); err != nil {
		return fmt.Errorf("record dead letter alert: %w", err)
	}
	return nil
}

// prune deletes append-only rows older than Retention, at most once per
// PruneEvery.
func (l *Loop) prune(ctx context.Context) error {
	if l.cfg.Retention <= 0 {
		return nil
	}
	now := l.cfg.Clock.Now()
	if !l.lastPrune.IsZero() && now.Sub(l.lastPrune) < l.cfg.PruneEvery {
		return nil
	}

	cutoff := now.Add(-l.cfg.Retention)
	removed, err := l.rec.PruneAppendOnly(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune append-only tables: %w", err)
	}
	l.lastPrune = now

	logger := log.WithComponent("maintenance")
	logger.Info().
		Int64("removed_rows", removed).
		Time("cutoff", cutoff.UTC()).
		Msg("append-only tables pruned")

	details := map[string]any{
		"removedRows": removed,
		"cutoff":      cutoff.UTC().Format(time.RFC3339),
	}
	if err := l.rec.RecordMaintenanceLog(ctx, taskRetentionPrune, "ok", details); err != nil {
		return fmt.Errorf("record retention prune: %w", err)
	}
	return nil
}
