package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics: метрики кэша маршрутов.
type CacheMetrics struct {
	requests    *prometheus.CounterVec
	breakerOpen prometheus.Gauge
}

func NewCacheMetrics() *CacheMetrics {
	return NewCacheMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewCacheMetricsWithRegisterer(registerer prometheus.Registerer) *CacheMetrics {
	return &CacheMetrics{
		requests: counterVec(registerer, "lms_route_cache_requests_total",
			"Total number of route cache lookups grouped by view and result.",
			"view", "result"),
		breakerOpen: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lms_route_cache_breaker_open",
			Help: "1 when the route cache circuit breaker is open.",
		}), "lms_route_cache_breaker_open"),
	}
}

// RecordLookup фиксирует результат чтения (hit, miss, error, bypass).
func (m *CacheMetrics) RecordLookup(view, result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(view, result).Inc()
}

// SetBreakerOpen отражает состояние circuit breaker.
func (m *CacheMetrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breakerOpen.Set(1)
		return
	}
	m.breakerOpen.Set(0)
}
