// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// TraceContext is the envelope carried inside queue messages so spans link
// across stages. SpanID is the sender's active span; the receiver starts
// its processing span under it, making the sender the recorded parent.
type TraceContext struct {
	TraceID    string            `json:"traceId"`
	SpanID     string            `json:"spanId"`
	ParentID   string            `json:"parentId,omitempty"`
	Service    string            `json:"service,omitempty"`
	Operation  string            `json:"operation,omitempty"`
	Timestamp  time.Time         `json:"timestamp,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Inject captures the active span as a TraceContext for an outgoing
// message. Returns nil when no span is recording, so seed messages start
// fresh traces downstream.
func Inject(ctx context.Context, operation string) *TraceContext {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return &TraceContext{
		TraceID:   sc.TraceID().String(),
		SpanID:    sc.SpanID().String(),
		Service:   ServiceName,
		Operation: operation,
		Timestamp: time.Now().UTC(),
	}
}

// Extract returns a context whose remote parent is the span carried in tc.
// Spans started from the returned context record tc.SpanID as their parent
// and share tc.TraceID. An absent or malformed context is ignored.
func Extract(ctx context.Context, tc *TraceContext) context.Context {
	if tc == nil {
		return ctx
	}

	traceID, err := trace.TraceIDFromHex(tc.TraceID)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(tc.SpanID)
	if err != nil {
		return ctx
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}
