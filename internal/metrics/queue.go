package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linernotes_queue_processed_total",
		Help: "Total number of queue messages processed by queue and outcome",
	}, []string{"queue", "status"})

	queueProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linernotes_queue_processing_duration_seconds",
		Help:    "Time spent processing a single queue message",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 180},
	}, []string{"queue"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "linernotes_queue_depth",
		Help: "Number of visible messages currently waiting in a queue",
	}, []string{"queue"})

	queueEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linernotes_queue_enqueued_total",
		Help: "Total number of messages enqueued by source and target queue",
	}, []string{"source", "target"})

	deadLetterTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linernotes_dead_letter_total",
		Help: "Total number of messages routed to the dead letter store",
	}, []string{"queue", "category"})

	stalledRecoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linernotes_stalled_recovered_total",
		Help: "Total number of stalled messages made visible again by maintenance",
	}, []string{"queue"})
)

// RecordQueueMessage records the outcome of one processed message.
func RecordQueueMessage(queue, status string, elapsed time.Duration) {
	if status == "" {
		status = "unknown"
	}
	queueProcessedTotal.WithLabelValues(queue, status).Inc()
	queueProcessingDuration.WithLabelValues(queue).Observe(elapsed.Seconds())
}

// SetQueueDepth records the current visible depth of a queue.
func SetQueueDepth(queue string, depth int64) {
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordEnqueue counts a message handed from one queue's worker to another
// queue. Source is "api" for messages seeded over HTTP.
func RecordEnqueue(source, target string) {
	if source == "" {
		source = "unknown"
	}
	queueEnqueuedTotal.WithLabelValues(source, target).Inc()
}

// RecordDeadLetter counts a message moved to the dead letter store.
func RecordDeadLetter(queue, category string) {
	if category == "" {
		category = "unknown"
	}
	deadLetterTotal.WithLabelValues(queue, category).Inc()
}

// RecordStalledRecovered counts messages reset to visible by maintenance.
func RecordStalledRecovered(queue string, n int) {
	if n <= 0 {
		return
	}
	stalledRecoveredTotal.WithLabelValues(queue).Add(float64(n))
}
