// Package health отдаёт состояние зависимостей сервиса для проб и мониторинга.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Status — состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

const defaultProbeTimeout = 2 * time.Second

// Check — результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	Optional   bool   `json:"optional,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Ready сообщает, можно ли направлять трафик на сервис.
func (r Response) Ready() bool { return r.Status != StatusUnhealthy }

// Checker проверяет один компонент.
type Checker interface {
	Check(ctx context.Context) Check
}

type probe struct {
	name     string
	checker  Checker
	optional bool
}

// ProbeOption настраивает регистрацию проверки.
type ProbeOption func(*probe)

// Optional помечает компонент необязательным: его отказ понижает сервис
// только до degraded и не снимает readiness.
func Optional() ProbeOption {
	return func(p *probe) { p.optional = true }
}

// Handler агрегирует проверки и отдаёт их по HTTP.
type Handler struct {
	mu      sync.RWMutex
	probes  []probe
	timeout time.Duration

	version string
	started time.Time
	flight  singleflight.Group
}

// NewHandler создаёт health handler с версией сборки в ответе.
func NewHandler(version string) *Handler {
	return &Handler{
		version: version,
		started: time.Now(),
		timeout: defaultProbeTimeout,
	}
}

// SetTimeout ограничивает время одной проверки. Неположительное значение игнорируется.
func (h *Handler) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	h.mu.Lock()
	h.timeout = timeout
	h.mu.Unlock()
}

// Register добавляет проверку. Повторная регистрация имени заменяет прежнюю.
func (h *Handler) Register(name string, checker Checker, opts ...ProbeOption) {
	p := probe{name: name, checker: checker}
	for _, opt := range opts {
		opt(&p)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = slices.DeleteFunc(h.probes, func(existing probe) bool { return existing.name == name })
	h.probes = append(h.probes, p)
}

// Run выполняет все проверки параллельно. Одновременные вызовы получают общий результат,
// поэтому отмена ctx одного вызывающего не прерывает проверки: их ограничивает таймаут.
func (h *Handler) Run(ctx context.Context) Response {
	shared := context.WithoutCancel(ctx)
	v, _, _ := h.flight.Do("run", func() (any, error) {
		return h.evaluate(shared), nil
	})
	return v.(Response)
}

func (h *Handler) evaluate(ctx context.Context) Response {
	h.mu.RLock()
	probes := slices.Clone(h.probes)
	timeout := h.timeout
	h.mu.RUnlock()

	results := make([]Check, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i] = p.run(probeCtx)
			return nil
		})
	}
	_ = g.Wait()

	resp := Response{
		Status:        StatusHealthy,
		Timestamp:     time.Now().UTC(),
		Checks:        make(map[string]Check, len(results)),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	for _, check := range results {
		resp.Checks[check.Name] = check
		effective := check.Status
		if check.Optional && effective == StatusUnhealthy {
			effective = StatusDegraded
		}
		if effective.rank() > resp.Status.rank() {
			resp.Status = effective
		}
	}
	return resp
}

// run не даёт зависшей или паникующей проверке сорвать общий отчёт.
func (p probe) run(ctx context.Context) Check {
	start := time.Now()
	done := make(chan Check, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Check{Status: StatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r)}
			}
		}()
		done <- p.checker.Check(ctx)
	}()

	var check Check
	select {
	case check = <-done:
	case <-ctx.Done():
		check = Check{Status: StatusUnhealthy, Message: "check timed out"}
	}
	check.Name = p.name
	check.Optional = p.optional
	if check.Status == "" {
		check.Status = StatusHealthy
	}
	if check.DurationMs == 0 {
		check.DurationMs = time.Since(start).Milliseconds()
	}
	return check
}

// Watch периодически выполняет проверки и сообщает fn о смене статуса.
// Первый результат передаётся всегда. Возвращается при отмене ctx.
func (h *Handler) Watch(ctx context.Context, interval time.Duration, fn func(Response)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last Status
	for {
		resp := h.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if resp.Status != last {
			last = resp.Status
			fn(resp)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ServeHTTP отдаёт подробный отчёт. Unhealthy даёт 503, degraded остаётся 200.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.Run(r.Context())

	code := http.StatusOK
	if !resp.Ready() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// ReadinessHandler отвечает 503, пока хотя бы один обязательный компонент unhealthy.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.Run(r.Context()).Ready() {
		plain(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	plain(w, http.StatusOK, "ready")
}

// LivenessHandler отвечает 200, пока процесс жив.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	plain(w, http.StatusOK, "ok")
}

func plain(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// CheckFunc превращает функцию в Checker: ошибка означает unhealthy.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) Check {
	if err := f(ctx); err != nil {
		return Check{Status: StatusUnhealthy, Message: err.Error()}
	}
	return Check{Status: StatusHealthy}
}

// Gauge сообщает degraded, когда измеряемое значение достигает порога Limit.
// Ошибка измерения означает unhealthy. Limit<=0 отключает порог.
type Gauge struct {
	Measure func(ctx context.Context) (int, error)
	Limit   int
	Label   string
}

func (g Gauge) Check(ctx context.Context) Check {
	value, err := g.Measure(ctx)
	if err != nil {
		return Check{Status: StatusUnhealthy, Message: err.Error()}
	}
	if g.Limit > 0 && value >= g.Limit {
		return Check{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%s at %d of %d", g.Label, value, g.Limit),
		}
	}
	return Check{Status: StatusHealthy}
}
