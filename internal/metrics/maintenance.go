package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	maintenanceRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linernotes_maintenance_runs_total",
		Help: "Maintenance task executions by task and outcome",
	}, []string{"task", "status"})

	queueOldestAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "linernotes_queue_oldest_message_age_seconds",
		Help: "Age of the oldest visible message per queue",
	}, []string{"queue"})
)

// RecordMaintenanceRun counts one maintenance task execution.
func RecordMaintenanceRun(task, status string) {
	maintenanceRunsTotal.WithLabelValues(task, status).Inc()
}

// SetQueueOldestAge records the oldest visible message age for a queue.
func SetQueueOldestAge(queue string, seconds float64) {
	queueOldestAge.WithLabelValues(queue).Set(seconds)
}
