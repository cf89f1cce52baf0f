// SPDX-License-Identifier: MIT

package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crateworks/linernotes/internal/telemetry"
)

// TraceStore persists finished spans to the traces table. It satisfies
// telemetry.SpanSink, so the exporter batches land here.
type TraceStore struct {
	pool *pgxpool.Pool
}

// NewTraceStore returns a TraceStore backed by pool.
func NewTraceStore(pool *pgxpool.Pool) *TraceStore {
	return &TraceStore{pool: pool}
}

var _ telemetry.SpanSink = (*TraceStore)(nil)

// SaveSpans inserts a batch of span records in one round trip.
func (s *TraceStore) SaveSpans(ctx context.Context, spans []telemetry.SpanRecord) error {
	if len(spans) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, sp := range spans {
		batch.Queue(`
			INSERT INTO traces (trace_id, span_id, parent_id, service, operation,
			                    started_at, duration_ms, status, attributes, error_details)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, NULLIF($10, ''))`,
			sp.TraceID, sp.SpanID, sp.ParentID, sp.Service, sp.Operation,
			sp.StartedAt, sp.DurationMS, sp.Status, toJSON(sp.Attributes), sp.ErrorDetails)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range spans {
		if _, err := results.Exec(); err != nil {
			return Categorize(err, "insert trace span")
		}
	}
	return nil
}
