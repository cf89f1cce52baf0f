package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outboundInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linernotes_outbound_http_in_flight",
		Help: "Outbound HTTP requests currently in flight",
	})

	outboundDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linernotes_outbound_http_duration_seconds",
		Help:    "Outbound HTTP request duration by resource and status code",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"resource", "status"})

	backpressureWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linernotes_outbound_backpressure_waits_total",
		Help: "Times an outbound request had to wait for a concurrency slot",
	}, []string{"resource"})

	upstreamRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linernotes_upstream_retries_total",
		Help: "Retried upstream calls by resource",
	}, []string{"resource"})
)

// OutboundStarted marks an outbound request as in flight.
func OutboundStarted() { outboundInFlight.Inc() }

// OutboundFinished records a completed outbound request.
func OutboundFinished(resource string, status int, elapsed time.Duration) {
	outboundInFlight.Dec()
	outboundDuration.WithLabelValues(resource, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// RecordBackpressureWait counts a request that waited for a slot.
func RecordBackpressureWait(resource string) {
	backpressureWaits.WithLabelValues(resource).Inc()
}

// RecordUpstreamRetry counts one retried call against resource.
func RecordUpstreamRetry(resource string) {
	upstreamRetries.WithLabelValues(resource).Inc()
}
