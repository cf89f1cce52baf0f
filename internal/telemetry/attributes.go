// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the pipeline.
const (
	// Queue attributes
	QueueNameKey      = "queue.name"
	QueueMsgIDKey     = "queue.msg_id"
	QueueReadCountKey = "queue.read_count"
	QueueTargetKey    = "queue.target"

	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Upstream attributes
	UpstreamResourceKey = "upstream.resource"
	UpstreamAttemptKey  = "upstream.attempt"

	// Domain attributes
	ArtistIDKey   = "artist.id"
	AlbumIDKey    = "album.id"
	TrackIDKey    = "track.id"
	ProducerIDKey = "producer.id"

	// Error attributes
	ErrorKey         = "error"
	ErrorCategoryKey = "error.category"
)

// QueueAttributes creates queue message span attributes.
func QueueAttributes(queue string, msgID int64, readCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(QueueNameKey, queue),
		attribute.Int64(QueueMsgIDKey, msgID),
		attribute.Int(QueueReadCountKey, readCount),
	}
}

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// UpstreamAttributes creates span attributes for outbound API calls.
func UpstreamAttributes(resource string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(UpstreamResourceKey, resource),
		attribute.Int(UpstreamAttemptKey, attempt),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(category string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorCategoryKey, category),
	}
}
