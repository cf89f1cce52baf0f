// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SpanRecord is the persisted form of a finished span, one row in the
// traces table.
type SpanRecord struct {
	TraceID    string
	SpanID     string
	ParentID   string
	Service    string
	Operation  string
	StartedAt  time.Time
	DurationMS int64
	Status     string
	Attributes map[string]string
	// ErrorDetails carries the recorded error message, empty on success.
	ErrorDetails string
}

// SpanSink persists finished spans. Implemented by the trace store; a nil
// sink disables persistence.
type SpanSink interface {
	SaveSpans(ctx context.Context, spans []SpanRecord) error
}

// SinkExporter adapts a SpanSink to the OpenTelemetry SpanExporter
// interface so it can run behind the SDK batcher.
type SinkExporter struct {
	service string
	sink    SpanSink
}

// NewSinkExporter wraps sink as a batched span exporter.
func NewSinkExporter(service string, sink SpanSink) *SinkExporter {
	return &SinkExporter{service: service, sink: sink}
}

// ExportSpans converts a batch of finished spans to records and hands them
// to the sink.
func (e *SinkExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}

	records := make([]SpanRecord, 0, len(spans))
	for _, s := range spans {
		sc := s.SpanContext()
		rec := SpanRecord{
			TraceID:    sc.TraceID().String(),
			SpanID:     sc.SpanID().String(),
			Service:    e.service,
			Operation:  s.Name(),
			StartedAt:  s.StartTime().UTC(),
			DurationMS: s.EndTime().Sub(s.StartTime()).Milliseconds(),
			Status:     statusString(s),
		}
		if parent := s.Parent(); parent.HasSpanID() {
			rec.ParentID = parent.SpanID().String()
		}
		if attrs := s.Attributes(); len(attrs) > 0 {
			rec.Attributes = make(map[string]string, len(attrs))
			for _, kv := range attrs {
				rec.Attributes[string(kv.Key)] = kv.Value.Emit()
			}
		}
		for _, ev := range s.Events() {
			if ev.Name != "exception" {
				continue
			}
			for _, kv := range ev.Attributes {
				if kv.Key == "exception.message" {
					rec.ErrorDetails = kv.Value.Emit()
				}
			}
		}
		if rec.ErrorDetails == "" && s.Status().Description != "" {
			rec.ErrorDetails = s.Status().Description
		}
		records = append(records, rec)
	}

	return e.sink.SaveSpans(ctx, records)
}

// Shutdown implements sdktrace.SpanExporter.
func (e *SinkExporter) Shutdown(ctx context.Context) error { return nil }

func statusString(s sdktrace.ReadOnlySpan) string {
	switch s.Status().Code.String() {
	case "Error":
		return "error"
	default:
		return "ok"
	}
}
