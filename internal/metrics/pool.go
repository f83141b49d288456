package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolMetrics: метрики пула обработчиков.
type PoolMetrics struct {
	queueDepth *prometheus.GaugeVec
	tasks      *prometheus.CounterVec
}

func NewPoolMetrics() *PoolMetrics {
	return NewPoolMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewPoolMetricsWithRegisterer(registerer prometheus.Registerer) *PoolMetrics {
	return &PoolMetrics{
		queueDepth: gaugeVec(registerer, "lms_pool_queue_depth",
			"Current number of queued tasks per pool worker.", "worker"),
		tasks: counterVec(registerer, "lms_pool_tasks_total",
			"Total number of pool tasks grouped by result (ok, error, saturated).", "result"),
	}
}

// SetQueueDepth обновляет глубину очереди воркера.
func (m *PoolMetrics) SetQueueDepth(worker, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(strconv.Itoa(worker)).Set(float64(depth))
}

// RecordTask фиксирует результат задачи.
func (m *PoolMetrics) RecordTask(result string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(result).Inc()
}
