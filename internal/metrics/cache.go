package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linernotes_cache_requests_total",
		Help: "Cache lookups by result (hit, miss, stale_hit)",
	}, []string{"result"})

	cacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linernotes_cache_evictions_total",
		Help: "Cache evictions by reason (expired, lru)",
	}, []string{"reason"})

	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linernotes_cache_entries",
		Help: "Number of entries currently held by the cache",
	})
)

// RecordCacheLookup counts one cache lookup result.
func RecordCacheLookup(result string) {
	cacheRequestsTotal.WithLabelValues(result).Inc()
}

// RecordCacheEviction counts evicted entries by reason.
func RecordCacheEviction(reason string, n int) {
	if n <= 0 {
		return
	}
	cacheEvictionsTotal.WithLabelValues(reason).Add(float64(n))
}

// SetCacheEntries records the current cache entry count.
func SetCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}
