package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics: метрики воркера повторной публикации ревизий.
type OutboxMetrics struct {
	attempts      *prometheus.CounterVec
	pending       prometheus.Gauge
	oldestPending prometheus.Gauge
}

func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	return &OutboxMetrics{
		attempts: counterVec(registerer, "lms_outbox_publish_attempts_total",
			"Total number of outbox publish attempts grouped by result.", "result"),
		pending: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lms_outbox_pending_records",
			Help: "Current number of pending records in the revision outbox.",
		}), "lms_outbox_pending_records"),
		oldestPending: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lms_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		}), "lms_outbox_oldest_pending_age_seconds"),
	}
}

// RecordAttempt фиксирует попытку публикации (sent, retry_error, failed, dlq_failed).
func (m *OutboxMetrics) RecordAttempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер backlog и возраст самой старой записи.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.pending.Set(float64(pending))
	m.oldestPending.Set(oldestAge.Seconds())
}

// InboxMetrics: метрики очистки inbox.
type InboxMetrics struct {
	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

func NewInboxMetrics() *InboxMetrics {
	return NewInboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewInboxMetricsWithRegisterer(registerer prometheus.Registerer) *InboxMetrics {
	return &InboxMetrics{
		runs: counterVec(registerer, "lms_inbox_cleanup_runs_total",
			"Total number of inbox cleanup runs grouped by result.", "result"),
		deleted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lms_inbox_cleanup_deleted_total",
			Help: "Total number of deleted expired inbox records.",
		}), "lms_inbox_cleanup_deleted_total"),
		lastDeleted: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lms_inbox_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run.",
		}), "lms_inbox_cleanup_last_deleted"),
	}
}

func (m *InboxMetrics) RecordRun(result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
}

// RecordDeleted добавляет удалённые записи одного batch.
func (m *InboxMetrics) RecordDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deleted.Add(float64(n))
}

func (m *InboxMetrics) SetLastDeleted(n int) {
	if m == nil {
		return
	}
	m.lastDeleted.Set(float64(n))
}
