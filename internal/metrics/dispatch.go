package metrics

import "github.com/prometheus/client_golang/prometheus"

// DispatchMetrics: метрики обработки входящих команд и задач.
type DispatchMetrics struct {
	messages *prometheus.CounterVec
	tasks    *prometheus.CounterVec
}

func NewDispatchMetrics() *DispatchMetrics {
	return NewDispatchMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewDispatchMetricsWithRegisterer(registerer prometheus.Registerer) *DispatchMetrics {
	return &DispatchMetrics{
		messages: counterVec(registerer, "lms_dispatch_messages_total",
			"Total number of inbound command messages grouped by kind, event type and outcome.",
			"kind", "event", "outcome"),
		tasks: counterVec(registerer, "lms_route_tasks_total",
			"Total number of route lookup tasks grouped by result.", "result"),
	}
}

// RecordMessage фиксирует исход команды (applied, rejected, conflict, malformed, duplicate, retry).
func (m *DispatchMetrics) RecordMessage(kind, event, outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind, event, outcome).Inc()
}

// RecordTask фиксирует исход задачи поиска маршрута (found, not_found, malformed, error).
func (m *DispatchMetrics) RecordTask(result string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(result).Inc()
}
