package main

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const (
	callsMetric   = "loadtest_calls_total"
	latencyMetric = "loadtest_call_duration_seconds"

	// scenarioCall — псевдовызов, которым меряется сценарий целиком.
	scenarioCall = "scenario"

	outcomeOK        = "ok"
	outcomeQueueFull = "queue_full"
)

// meter копит результаты вызовов в собственном реестре Prometheus.
// Квантили задержек считает Summary, отчёт строится из Gather.
type meter struct {
	reg     *prometheus.Registry
	calls   *prometheus.CounterVec
	latency *prometheus.SummaryVec

	mu        sync.Mutex
	positions map[int]int
}

func newMeter() *meter {
	m := &meter{
		reg: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: callsMetric,
			Help: "Load test calls by outcome.",
		}, []string{"call", "outcome"}),
		latency: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       latencyMetric,
			Help:       "Load test call latency.",
			Objectives: map[float64]float64{0.5: 0.05, 0.95: 0.01, 0.99: 0.001},
			MaxAge:     24 * time.Hour,
		}, []string{"call"}),
		positions: make(map[int]int),
	}
	m.reg.MustRegister(m.calls, m.latency)
	return m
}

func (m *meter) observe(call string, took time.Duration, outcome string) {
	m.calls.WithLabelValues(call, outcome).Inc()
	m.latency.WithLabelValues(call).Observe(took.Seconds())
}

func (m *meter) position(p int) {
	m.mu.Lock()
	m.positions[p]++
	m.mu.Unlock()
}

// duplicates — сколько заказов получили уже выданную позицию.
func (m *meter) duplicates() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for _, seen := range m.positions {
		n += max(seen-1, 0)
	}
	return n
}

// succeeded: 2xx или успешно завершённый сценарий.
func succeeded(outcome string) bool {
	return outcome == outcomeOK || strings.HasPrefix(outcome, "2")
}

func (m *meter) snapshot(startedAt time.Time, elapsed time.Duration) (report, error) {
	families, err := m.reg.Gather()
	if err != nil {
		return report{}, fmt.Errorf("gather load metrics: %w", err)
	}

	calls := make(map[string]callReport)
	get := func(name string) callReport {
		if r, ok := calls[name]; ok {
			return r
		}
		return callReport{Outcomes: make(map[string]int64)}
	}

	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			name := labelValue(metric, "call")
			r := get(name)
			switch mf.GetName() {
			case callsMetric:
				outcome := labelValue(metric, "outcome")
				n := int64(metric.GetCounter().GetValue())
				r.Calls += n
				r.Outcomes[outcome] += n
				if succeeded(outcome) {
					r.Succeeded += n
				} else {
					r.Failed += n
				}
			case latencyMetric:
				r.LatencyMs = summarize(metric.GetSummary())
			}
			calls[name] = r
		}
	}

	out := report{StartedAt: startedAt.UTC(), Seconds: elapsed.Seconds(), Calls: calls}
	if s, ok := calls[scenarioCall]; ok {
		delete(calls, scenarioCall)
		out.Scenarios = s.Calls
		out.Succeeded = s.Succeeded
		out.QueueFull = s.Outcomes[outcomeQueueFull]
		out.Failed = s.Failed - out.QueueFull
		out.ErrorRate = share(out.Failed, out.Scenarios)
		out.LatencyMs = s.LatencyMs
	}
	for name, r := range calls {
		r.ErrorRate = share(r.Failed, r.Calls)
		calls[name] = r
	}
	if elapsed > 0 {
		out.RPS = float64(out.Scenarios) / elapsed.Seconds()
	}
	return out, nil
}

func summarize(s *dto.Summary) latency {
	var l latency
	if s.GetSampleCount() == 0 {
		return l
	}
	l.Mean = toMs(s.GetSampleSum() / float64(s.GetSampleCount()))
	for _, q := range s.GetQuantile() {
		v := toMs(q.GetValue())
		switch q.GetQuantile() {
		case 0.5:
			l.P50 = v
		case 0.95:
			l.P95 = v
		case 0.99:
			l.P99 = v
		}
	}
	return l
}

func toMs(seconds float64) float64 {
	if math.IsNaN(seconds) {
		return 0
	}
	return seconds * 1000
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func share(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
