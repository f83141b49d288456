package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).Write(metric); err != nil {
		t.Fatalf("failed to read counter: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestMutationMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMutationMetricsWithRegisterer(reg)

	m.RecordAttempt("cargo", "update")
	m.RecordAttempt("cargo", "update")
	m.RecordMutation("cargo", "update", "applied", 15*time.Millisecond)
	m.RecordRevision("cargo", "UPDATE", "sent")

	if got := counterValue(t, m.attempts, "cargo", "update"); got != 2 {
		t.Fatalf("expected 2 attempts, got %v", got)
	}
	if got := counterValue(t, m.mutations, "cargo", "update", "applied"); got != 1 {
		t.Fatalf("expected 1 mutation, got %v", got)
	}
	if got := counterValue(t, m.revisions, "cargo", "UPDATE", "sent"); got != 1 {
		t.Fatalf("expected 1 revision, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(families) != 4 {
		t.Fatalf("expected 4 metric families, got %d", len(families))
	}
}

func TestRegister_ReusesExistingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewCacheMetricsWithRegisterer(reg)
	second := NewCacheMetricsWithRegisterer(reg)

	first.RecordLookup("id", "hit")
	if got := counterValue(t, second.requests, "id", "hit"); got != 1 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

func TestRegister_PanicsOnTypeMismatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{Name: "lms_pool_tasks_total", Help: "conflict"}))

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for mismatched collector type")
		}
	}()
	NewPoolMetricsWithRegisterer(reg)
}

func TestCacheMetrics_BreakerGauge(t *testing.T) {
	m := NewCacheMetricsWithRegisterer(prometheus.NewRegistry())

	m.SetBreakerOpen(true)
	metric := &dto.Metric{}
	_ = m.breakerOpen.Write(metric)
	if metric.GetGauge().GetValue() != 1 {
		t.Fatalf("expected breaker gauge 1, got %v", metric.GetGauge().GetValue())
	}
	m.SetBreakerOpen(false)
	metric.Reset()
	_ = m.breakerOpen.Write(metric)
	if metric.GetGauge().GetValue() != 0 {
		t.Fatalf("expected breaker gauge 0, got %v", metric.GetGauge().GetValue())
	}
}

func TestPoolAndDispatchMetrics(t *testing.T) {
	pool := NewPoolMetricsWithRegisterer(prometheus.NewRegistry())
	pool.SetQueueDepth(2, 7)
	pool.RecordTask("saturated")

	metric := &dto.Metric{}
	_ = pool.queueDepth.WithLabelValues("2").Write(metric)
	if metric.GetGauge().GetValue() != 7 {
		t.Fatalf("expected depth 7, got %v", metric.GetGauge().GetValue())
	}
	if got := counterValue(t, pool.tasks, "saturated"); got != 1 {
		t.Fatalf("expected 1 saturated task, got %v", got)
	}

	dispatch := NewDispatchMetricsWithRegisterer(prometheus.NewRegistry())
	dispatch.RecordMessage("cargo", "CREATE", "applied")
	dispatch.RecordTask("found")
	if got := counterValue(t, dispatch.messages, "cargo", "CREATE", "applied"); got != 1 {
		t.Fatalf("expected 1 message, got %v", got)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var (
		mutation *MutationMetrics
		cache    *CacheMetrics
		pool     *PoolMetrics
		dispatch *DispatchMetrics
		outbox   *OutboxMetrics
		inbox    *InboxMetrics
	)
	mutation.RecordMutation("cargo", "create", "applied", time.Millisecond)
	mutation.RecordAttempt("cargo", "create")
	mutation.RecordRevision("cargo", "CREATE", "sent")
	cache.RecordLookup("id", "hit")
	cache.SetBreakerOpen(true)
	pool.SetQueueDepth(0, 1)
	pool.RecordTask("ok")
	dispatch.RecordMessage("cargo", "CREATE", "applied")
	dispatch.RecordTask("found")
	outbox.RecordAttempt("sent")
	outbox.SetBacklog(1, time.Second)
	inbox.RecordRun("ok")
	inbox.RecordDeleted(3)
	inbox.SetLastDeleted(3)
}

func TestOutboxAndInboxMetrics(t *testing.T) {
	outbox := NewOutboxMetricsWithRegisterer(prometheus.NewRegistry())
	outbox.RecordAttempt("sent")
	outbox.SetBacklog(4, -time.Second)

	if got := counterValue(t, outbox.attempts, "sent"); got != 1 {
		t.Fatalf("expected 1 sent attempt, got %v", got)
	}
	metric := &dto.Metric{}
	_ = outbox.pending.Write(metric)
	if metric.GetGauge().GetValue() != 4 {
		t.Fatalf("expected 4 pending, got %v", metric.GetGauge().GetValue())
	}
	metric.Reset()
	_ = outbox.oldestPending.Write(metric)
	if metric.GetGauge().GetValue() != 0 {
		t.Fatalf("negative age must be clamped, got %v", metric.GetGauge().GetValue())
	}

	inbox := NewInboxMetricsWithRegisterer(prometheus.NewRegistry())
	inbox.RecordDeleted(5)
	inbox.RecordDeleted(0)
	metric.Reset()
	_ = inbox.deleted.Write(metric)
	if metric.GetCounter().GetValue() != 5 {
		t.Fatalf("expected 5 deleted, got %v", metric.GetCounter().GetValue())
	}
}
