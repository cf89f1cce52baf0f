// SPDX-License-Identifier: MIT

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestNewProvider_NoneWithoutSink(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		ServiceName:  "test-service",
		ExporterType: "none",
	})
	require.NoError(t, err)
	assert.Nil(t, provider.tp, "expected noop provider")

	tracer := otel.Tracer("test")
	_, span := tracer.Start(context.Background(), "noop-check")
	assert.False(t, span.IsRecording(), "noop tracer span should not record")
	span.End()

	assert.NoError(t, provider.Shutdown(context.Background()))
	assert.NoError(t, provider.ForceFlush(context.Background()))
}

func TestNewProvider_InvalidExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{
		ServiceName:  "test-service",
		ExporterType: "carrier-pigeon",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter type")
}

func TestNewProvider_SinkOnlyStillRecords(t *testing.T) {
	sink := &captureSink{}
	provider, err := NewProvider(context.Background(), Config{
		ServiceName:  "test-service",
		ExporterType: "none",
		SpanSink:     sink,
	})
	require.NoError(t, err)
	require.NotNil(t, provider.tp, "sink alone must keep the SDK provider active")

	tracer := otel.Tracer("test")
	_, span := tracer.Start(context.Background(), "persisted-op")
	span.End()

	require.NoError(t, provider.Shutdown(context.Background()))
	require.Len(t, sink.records, 1)
	assert.Equal(t, "persisted-op", sink.records[0].Operation)
	assert.Equal(t, "test-service", sink.records[0].Service)
}
