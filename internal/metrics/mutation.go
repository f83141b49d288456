package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MutationMetrics: метрики исполнителя мутаций и публикации ревизий.
type MutationMetrics struct {
	mutations *prometheus.CounterVec
	attempts  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	revisions *prometheus.CounterVec
}

// NewMutationMetrics создаёт метрики в DefaultRegisterer.
func NewMutationMetrics() *MutationMetrics {
	return NewMutationMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMutationMetricsWithRegisterer создаёт метрики в указанном registerer.
func NewMutationMetricsWithRegisterer(registerer prometheus.Registerer) *MutationMetrics {
	return &MutationMetrics{
		mutations: counterVec(registerer, "lms_mutations_total",
			"Total number of entity mutations grouped by kind, operation and result.",
			"kind", "op", "result"),
		attempts: counterVec(registerer, "lms_mutation_attempts_total",
			"Total number of read-validate-write attempts including retries after version conflicts.",
			"kind", "op"),
		duration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lms_mutation_duration_seconds",
			Help:    "Duration of entity mutations in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"kind", "op"}), "lms_mutation_duration_seconds"),
		revisions: counterVec(registerer, "lms_revisions_published_total",
			"Total number of revision events handed to the transport grouped by result.",
			"kind", "event", "result"),
	}
}

// RecordMutation фиксирует исход мутации и её длительность.
func (m *MutationMetrics) RecordMutation(kind, op, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(kind, op, result).Inc()
	m.duration.WithLabelValues(kind, op).Observe(duration.Seconds())
}

// RecordAttempt увеличивает счётчик попыток.
func (m *MutationMetrics) RecordAttempt(kind, op string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(kind, op).Inc()
}

// RecordRevision фиксирует результат публикации ревизии (sent, parked, failed).
func (m *MutationMetrics) RecordRevision(kind, event, result string) {
	if m == nil {
		return
	}
	m.revisions.WithLabelValues(kind, event, result).Inc()
}
