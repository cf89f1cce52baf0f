// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Processing outcome values recorded per message in queue_metrics.
const (
	StatusSuccess        = "success"
	StatusError          = "error"
	StatusPartialFailure = "partial_failure"
)

// QueueMetric is one processed-message record.
type QueueMetric struct {
	Queue        string
	MsgID        int64
	Status       string
	ProcessingMS int64
	SpanID       string
	Details      any
}

// DeadLetterItem is a message parked after exhausting its retry budget.
type DeadLetterItem struct {
	Queue     string
	MsgID     int64
	Message   json.RawMessage
	FailCount int64
	Details   any
}

// QueueMetricSummary aggregates queue_metrics rows over a window.
type QueueMetricSummary struct {
	Queue    string
	Total    int64
	Errors   int64
	AvgMS    float64
	MaxMS    int64
	LastSeen time.Time
}

// Recorder is the write surface for the pipeline's runtime tables. The
// Postgres implementation is Runtime; Memory backs tests.
type Recorder interface {
	RecordQueueMetric(ctx context.Context, m QueueMetric) error
	RecordQueueDepth(ctx context.Context, sourceQueue, targetQueue string, depth int64) error
	InsertDeadLetter(ctx context.Context, item DeadLetterItem) error
	RecordWorkerIssue(ctx context.Context, queue string, msgID int64, issueType string, details any) error
	RecordMaintenanceLog(ctx context.Context, task, status string, details any) error
	RecordQueueHealth(ctx context.Context, queue string, pending int64, oldestAgeSec float64, details any) error
	RecordValidationReport(ctx context.Context, queue string, msgID int64, validationErrors []string, message json.RawMessage) error
	DeadLetterCounts(ctx context.Context) (map[string]int64, error)
	MetricsSummary(ctx context.Context, since time.Time) ([]QueueMetricSummary, error)
	PruneAppendOnly(ctx context.Context, olderThan time.Time) (int64, error)
}

// Runtime writes the pipeline's operational records to Postgres.
type Runtime struct {
	pool *pgxpool.Pool
}

// NewRuntime returns a Runtime backed by pool.
func NewRuntime(pool *pgxpool.Pool) *Runtime {
	return &Runtime{pool: pool}
}

var _ Recorder = (*Runtime)(nil)

// RecordQueueMetric appends one processed-message record.
func (r *Runtime) RecordQueueMetric(ctx context.Context, m QueueMetric) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO queue_metrics (queue, msg_id, status, processing_ms, span_id, details)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		m.Queue, m.MsgID, m.Status, m.ProcessingMS, m.SpanID, toJSON(m.Details))
	return Categorize(err, "insert queue metric")
}

// RecordQueueDepth appends the target queue depth observed after an enqueue.
func (r *Runtime) RecordQueueDepth(ctx context.Context, sourceQueue, targetQueue string, depth int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO queue_depth_metrics (source_queue, target_queue, depth)
		VALUES ($1, $2, $3)`,
		sourceQueue, targetQueue, depth)
	return Categorize(err, "insert queue depth metric")
}

// InsertDeadLetter parks a poisoned message for inspection and replay.
func (r *Runtime) InsertDeadLetter(ctx context.Context, item DeadLetterItem) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pgmq_dead_letter_items (queue, msg_id, message, fail_count, failed_at, details)
		VALUES ($1, $2, $3, $4, now(), $5)`,
		item.Queue, item.MsgID, item.Message, item.FailCount, toJSON(item.Details))
	return Categorize(err, "insert dead letter item")
}

// RecordWorkerIssue appends an operational anomaly such as a stalled
// message recovery.
func (r *Runtime) RecordWorkerIssue(ctx context.Context, queue string, msgID int64, issueType string, details any) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO worker_issues (queue, msg_id, issue_type, details)
		VALUES ($1, $2, $3, $4)`,
		queue, msgID, issueType, toJSON(details))
	return Categorize(err, "insert worker issue")
}

// RecordMaintenanceLog appends the outcome of one maintenance task run.
func (r *Runtime) RecordMaintenanceLog(ctx context.Context, task, status string, details any) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO maintenance_logs (task, status, details)
		VALUES ($1, $2, $3)`,
		task, status, toJSON(details))
	return Categorize(err, "insert maintenance log")
}

// RecordQueueHealth appends one per-queue health snapshot.
func (r *Runtime) RecordQueueHealth(ctx context.Context, queue string, pending int64, oldestAgeSec float64, details any) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO queue_health_logs (queue, pending, oldest_age_sec, details)
		VALUES ($1, $2, $3, $4)`,
		queue, pending, oldestAgeSec, toJSON(details))
	return Categorize(err, "insert queue health log")
}

// RecordValidationReport stores the schema errors of a rejected message
// next to the offending payload.
func (r *Runtime) RecordValidationReport(ctx context.Context, queue string, msgID int64, validationErrors []string, message json.RawMessage) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO validation_reports (queue, msg_id, errors, message)
		VALUES ($1, $2, $3, $4)`,
		queue, msgID, toJSON(validationErrors), message)
	return Categorize(err, "insert validation report")
}

// DeadLetterCounts returns the number of parked messages per queue.
func (r *Runtime) DeadLetterCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT queue, count(*) FROM pgmq_dead_letter_items GROUP BY queue`)
	if err != nil {
		return nil, Categorize(err, "count dead letter items")
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var queue string
		var n int64
		if err := rows.Scan(&queue, &n); err != nil {
			return nil, Categorize(err, "scan dead letter count")
		}
		counts[queue] = n
	}
	return counts, Categorize(rows.Err(), "iterate dead letter counts")
}

// MetricsSummary aggregates per-queue outcomes since the given time.
func (r *Runtime) MetricsSummary(ctx context.Context, since time.Time) ([]QueueMetricSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT queue,
		       count(*),
		       count(*) FILTER (WHERE status = 'error'),
		       coalesce(avg(processing_ms), 0),
		       coalesce(max(processing_ms), 0),
		       max(created_at)
		FROM queue_metrics
		WHERE created_at >= $1
		GROUP BY queue
		ORDER BY queue`, since)
	if err != nil {
		return nil, Categorize(err, "summarize queue metrics")
	}
	defer rows.Close()

	var out []QueueMetricSummary
	for rows.Next() {
		var s QueueMetricSummary
		if err := rows.Scan(&s.Queue, &s.Total, &s.Errors, &s.AvgMS, &s.MaxMS, &s.LastSeen); err != nil {
			return nil, Categorize(err, "scan queue metric summary")
		}
		out = append(out, s)
	}
	return out, Categorize(rows.Err(), "iterate queue metric summaries")
}

// PruneAppendOnly deletes rows older than the cutoff from the append-only
// tables and reports how many were removed.
func (r *Runtime) PruneAppendOnly(ctx context.Context, olderThan time.Time) (int64, error) {
	tables := []struct{ name, column string }{
		{"queue_metrics", "created_at"},
		{"queue_depth_metrics", "created_at"},
		{"queue_health_logs", "created_at"},
		{"worker_issues", "created_at"},
		{"maintenance_logs", "created_at"},
		{"validation_reports", "created_at"},
		{"circuit_breaker_events", "created_at"},
		{"traces", "started_at"},
	}

	var total int64
	for _, t := range tables {
		tag, err := r.pool.Exec(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s < $1", t.name, t.column), olderThan)
		if err != nil {
			return total, Categorize(err, "prune "+t.name)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// toJSON renders details for a jsonb column, NULL when absent.
func toJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	return raw
}
