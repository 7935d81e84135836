package metrics

import "github.com/prometheus/client_golang/prometheus"

// NotificationMetrics содержит метрики доставки уведомлений.
type NotificationMetrics struct {
	deliveries *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	inFlight   *prometheus.GaugeVec
}

// NewNotificationMetrics создаёт метрики в DefaultRegisterer.
func NewNotificationMetrics() *NotificationMetrics {
	return NewNotificationMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewNotificationMetricsWithRegisterer создаёт метрики в заданном реестре.
func NewNotificationMetricsWithRegisterer(registerer prometheus.Registerer) *NotificationMetrics {
	return &NotificationMetrics{
		deliveries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cqs_notifications_total",
			Help: "Total number of notifications grouped by kind and final result",
		}, []string{"kind", "result"}),
		attempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cqs_notification_attempts_total",
			Help: "Total number of notification send attempts grouped by kind",
		}, []string{"kind"}),
		dropped: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cqs_notifications_dropped_total",
			Help: "Notifications dropped because the dispatch buffer was full or closed",
		}, []string{"kind"}),
		inFlight: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "cqs_notifications_queued",
			Help: "Notifications waiting in the dispatch buffer",
		}, []string{"kind"}),
	}
}

// RecordAttempt учитывает одну попытку отправки.
func (m *NotificationMetrics) RecordAttempt(kind string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(kind).Inc()
}

// RecordResult учитывает итог доставки: sent или failed.
func (m *NotificationMetrics) RecordResult(kind, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(kind, result).Inc()
}

// RecordDropped учитывает уведомление, которое не удалось поставить в буфер.
func (m *NotificationMetrics) RecordDropped(kind string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(kind).Inc()
}

// Queued изменяет число уведомлений в буфере.
func (m *NotificationMetrics) Queued(kind string, delta float64) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(kind).Add(delta)
}
