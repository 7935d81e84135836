package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics содержит метрики приёма заказов и очередей кофеен.
// Все методы безопасны для nil-получателя, чтобы сервисы работали без метрик в тестах.
type QueueMetrics struct {
	ordersCreated      prometheus.Counter
	admissionsRejected *prometheus.CounterVec
	statusTransitions  *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec
	reorderDuration    prometheus.Histogram
	operationDuration  *prometheus.HistogramVec
	timelineEvents     prometheus.Counter
}

// NewQueueMetrics создаёт метрики в DefaultRegisterer.
func NewQueueMetrics() *QueueMetrics {
	return NewQueueMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewQueueMetricsWithRegisterer создаёт метрики в заданном реестре.
func NewQueueMetricsWithRegisterer(registerer prometheus.Registerer) *QueueMetrics {
	return &QueueMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cqs_orders_created_total",
			Help: "Total number of orders admitted to a shop queue",
		}),
		admissionsRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cqs_order_admissions_rejected_total",
			Help: "Total number of rejected order creations grouped by error kind",
		}, []string{"kind"}),
		statusTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cqs_order_status_transitions_total",
			Help: "Total number of applied order status transitions",
		}, []string{"from", "to"}),
		queueDepth: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "cqs_queue_depth",
			Help: "Number of active orders in a shop queue",
		}, []string{"shop_id"}),
		reorderDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "cqs_queue_reorder_duration_seconds",
			Help:    "Duration of queue re-sequencing in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "cqs_order_operation_duration_seconds",
			Help:    "Duration of order operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cqs_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
	}
}

// RecordOrderCreated увеличивает счётчик принятых заказов.
func (m *QueueMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordAdmissionRejected учитывает отказ в создании заказа.
func (m *QueueMetrics) RecordAdmissionRejected(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "INTERNAL"
	}
	m.admissionsRejected.WithLabelValues(kind).Inc()
}

// RecordTransition учитывает смену статуса.
func (m *QueueMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

// SetQueueDepth фиксирует текущую длину очереди кофейни.
func (m *QueueMetrics) SetQueueDepth(shopID string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(shopID).Set(float64(depth))
}

// RecordReorderDuration записывает время пересчёта очереди.
func (m *QueueMetrics) RecordReorderDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.reorderDuration.Observe(d.Seconds())
}

// RecordOperationDuration записывает время выполнения операции над заказом.
func (m *QueueMetrics) RecordOperationDuration(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *QueueMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}
