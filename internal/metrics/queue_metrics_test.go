package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestQueueMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewQueueMetricsWithRegisterer(reg)

	m.RecordOrderCreated()
	m.RecordOrderCreated()
	m.RecordAdmissionRejected("QUEUE_FULL")
	m.RecordAdmissionRejected("")
	m.RecordTransition("PENDING", "CONFIRMED")
	m.SetQueueDepth("shop-1", 3)
	m.RecordReorderDuration(2 * time.Millisecond)
	m.RecordOperationDuration("create_order", 10*time.Millisecond)
	m.RecordTimelineEvent()

	if got := testutil.ToFloat64(m.ordersCreated); got != 2 {
		t.Errorf("expected 2 orders created, got %f", got)
	}
	if got := testutil.ToFloat64(m.admissionsRejected.WithLabelValues("QUEUE_FULL")); got != 1 {
		t.Errorf("expected 1 queue full rejection, got %f", got)
	}
	if got := testutil.ToFloat64(m.admissionsRejected.WithLabelValues("INTERNAL")); got != 1 {
		t.Errorf("expected empty kind to be recorded as INTERNAL, got %f", got)
	}
	if got := testutil.ToFloat64(m.statusTransitions.WithLabelValues("PENDING", "CONFIRMED")); got != 1 {
		t.Errorf("expected 1 transition, got %f", got)
	}
	if got := testutil.ToFloat64(m.queueDepth.WithLabelValues("shop-1")); got != 3 {
		t.Errorf("expected depth 3, got %f", got)
	}

	metric := &dto.Metric{}
	if err := m.reorderDuration.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 1 {
		t.Errorf("expected 1 reorder sample, got %d", metric.Histogram.GetSampleCount())
	}
}

func TestQueueMetricsReRegistrationReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewQueueMetricsWithRegisterer(reg)
	second := NewQueueMetricsWithRegisterer(reg)

	first.RecordOrderCreated()
	if got := testutil.ToFloat64(second.ordersCreated); got != 1 {
		t.Fatalf("expected shared collector, got %f", got)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var q *QueueMetrics
	q.RecordOrderCreated()
	q.SetQueueDepth("shop", 1)
	q.RecordReorderDuration(time.Second)

	var n *NotificationMetrics
	n.RecordAttempt("confirmation")
	n.RecordDropped("confirmation")
}

func TestNotificationMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewNotificationMetricsWithRegisterer(reg)

	m.RecordAttempt("confirmation")
	m.RecordAttempt("confirmation")
	m.RecordResult("confirmation", "sent")
	m.RecordDropped("queue_update")
	m.Queued("confirmation", 1)
	m.Queued("confirmation", -1)

	if got := testutil.ToFloat64(m.attempts.WithLabelValues("confirmation")); got != 2 {
		t.Errorf("expected 2 attempts, got %f", got)
	}
	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("confirmation", "sent")); got != 1 {
		t.Errorf("expected 1 delivery, got %f", got)
	}
	if got := testutil.ToFloat64(m.dropped.WithLabelValues("queue_update")); got != 1 {
		t.Errorf("expected 1 dropped, got %f", got)
	}
	if got := testutil.ToFloat64(m.inFlight.WithLabelValues("confirmation")); got != 0 {
		t.Errorf("expected empty buffer, got %f", got)
	}
}
