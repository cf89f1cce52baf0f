package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linernotes_rate_limit_decisions_total",
		Help: "Rate limiter decisions by resource key and outcome (allowed, limited, fail_open)",
	}, []string{"resource", "outcome"})

	rateLimitResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linernotes_rate_limit_resets_total",
		Help: "Rate limiter window resets forced by upstream Retry-After responses",
	}, []string{"resource"})
)

// RecordRateLimitDecision counts one limiter decision for a resource.
func RecordRateLimitDecision(resource, outcome string) {
	rateLimitDecisions.WithLabelValues(resource, outcome).Inc()
}

// RecordRateLimitReset counts a forced window reset for a resource.
func RecordRateLimitReset(resource string) {
	rateLimitResets.WithLabelValues(resource).Inc()
}
