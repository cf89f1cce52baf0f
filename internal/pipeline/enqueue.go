// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"

	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/metrics"
	"github.com/crateworks/linernotes/internal/queue"
	"github.com/crateworks/linernotes/internal/store"
	"github.com/crateworks/linernotes/internal/telemetry"
)

// Enqueuer hands messages to downstream queues with the sender's span
// attached, so the receiving stage records the sender as its parent.
// Source names the producing side ("api" for HTTP-seeded messages).
type Enqueuer struct {
	queue    queue.Queue
	recorder store.Recorder
	source   string
}

// NewEnqueuer returns an Enqueuer that records depth snapshots via rec.
func NewEnqueuer(q queue.Queue, rec store.Recorder, source string) *Enqueuer {
	if source == "" {
		source = "unknown"
	}
	return &Enqueuer{queue: q, recorder: rec, source: source}
}

// Enqueue sends payload to target and returns the new message id.
func (e *Enqueuer) Enqueue(ctx context.Context, target string, payload any) (int64, error) {
	body, err := Wrap(payload, telemetry.Inject(ctx, "enqueue "+target))
	if err != nil {
		return 0, errcat.Wrap(errcat.Validation, err, "encode outgoing message")
	}
	id, err := e.queue.Send(ctx, target, body)
	if err != nil {
		return 0, err
	}
	metrics.RecordEnqueue(e.source, target)

	// Depth is advisory; a failed snapshot must not fail the enqueue.
	if stats, err := e.queue.Stats(ctx, target); err == nil {
		metrics.SetQueueDepth(target, stats.Depth)
		if err := e.recorder.RecordQueueDepth(ctx, e.source, target, stats.Depth); err != nil {
			logger := log.WithComponentFromContext(ctx, "pipeline")
			logger.Warn().Err(err).
				Str("target", target).Msg("queue depth record failed")
		}
	}
	return id, nil
}
