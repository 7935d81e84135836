// Package httpapi публикует операции с заказами и очередью по HTTP/JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
	"github.com/vladislavdragonenkov/coffee-queue/internal/metrics"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/ordering"
)

const (
	maxBodyBytes          = 1 << 20
	defaultRequestTimeout = 10 * time.Second
	defaultHistoryLimit   = 100
)

// OrderService — операции с заказами, которые обслуживает API.
type OrderService interface {
	CreateOrder(ctx context.Context, req ordering.CreateOrderRequest) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error)
	GetQueueStatus(ctx context.Context, orderID, customerID string) (ordering.QueueStatus, error)
	CancelOrder(ctx context.Context, orderID, customerID string) (domain.Order, error)
	ListCustomerOrders(ctx context.Context, customerID string, limit int) ([]domain.Order, error)
	ApplyShopStatusUpdate(ctx context.Context, shopID, orderID string, next domain.OrderStatus) (domain.Order, error)
}

// Options задаёт параметры Handler.
type Options struct {
	Logger         *log.Entry
	Metrics        *metrics.HTTPMetrics
	Idempotency    domain.IdempotencyRepository
	IdempotencyTTL time.Duration
	RequestTimeout time.Duration
	MaxInFlight    int
	Now            func() time.Time
}

// Option настраивает Handler.
type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithIdempotency включает обработку заголовка Idempotency-Key для создания заказов.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(o *Options) {
		o.Idempotency = repo
		o.IdempotencyTTL = ttl
	}
}

func WithRequestTimeout(timeout time.Duration) Option {
	return func(o *Options) { o.RequestTimeout = timeout }
}

// WithMaxInFlight ограничивает число одновременно обрабатываемых запросов; лишние получают 429.
func WithMaxInFlight(limit int) Option {
	return func(o *Options) { o.MaxInFlight = limit }
}

func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// Handler — HTTP API сервиса заказов.
type Handler struct {
	orders         OrderService
	logger         *log.Entry
	metrics        *metrics.HTTPMetrics
	idem           domain.IdempotencyRepository
	idemTTL        time.Duration
	requestTimeout time.Duration
	maxInFlight    int
	now            func() time.Time
}

// NewHandler создаёт Handler.
func NewHandler(orders OrderService, options ...Option) *Handler {
	opts := Options{
		IdempotencyTTL: defaultIdempotencyTTL,
		RequestTimeout: defaultRequestTimeout,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "http-api")
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = defaultIdempotencyTTL
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		orders:         orders,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		idem:           opts.Idempotency,
		idemTTL:        opts.IdempotencyTTL,
		requestTimeout: opts.RequestTimeout,
		maxInFlight:    opts.MaxInFlight,
		now:            opts.Now,
	}
}

// Routes возвращает chi-роутер со всеми маршрутами API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.observe)
	r.Use(middleware.Recoverer)
	if h.maxInFlight > 0 {
		r.Use(middleware.Throttle(h.maxInFlight))
	}
	r.Use(middleware.Timeout(h.requestTimeout))

	r.NotFound(h.serve(func(r *http.Request) (int, any) {
		return http.StatusNotFound, newErrorResponse(r, http.StatusNotFound, codeNotFound, "Not Found",
			"The requested resource was not found on this server.", h.now())
	}))
	r.MethodNotAllowed(h.serve(func(r *http.Request) (int, any) {
		return http.StatusMethodNotAllowed, newErrorResponse(r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Method Not Allowed", fmt.Sprintf("method %s is not allowed", r.Method), h.now())
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", h.withIdempotency(h.createOrder))
		r.Get("/orders/{orderID}", h.serve(h.getOrder))
		r.Get("/orders/{orderID}/queue-position", h.serve(h.queuePosition))
		r.Delete("/orders/{orderID}", h.serve(h.cancelOrder))
		r.Get("/customers/{customerID}/orders", h.serve(h.customerOrders))
		r.Get("/customers/{customerID}/history", h.serve(h.customerOrders))
		r.Put("/shops/{shopID}/orders/status", h.serve(h.updateStatus))
	})
	return r
}

// apiFunc возвращает HTTP-статус и тело ответа.
type apiFunc func(r *http.Request) (int, any)

func (h *Handler) serve(fn apiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := fn(r)
		writeJSON(w, status, body)
	}
}

func (h *Handler) createOrder(r *http.Request) (int, any) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		return h.fail(r, err)
	}
	order, err := h.orders.CreateOrder(r.Context(), req.toCommand())
	if err != nil {
		return h.fail(r, err)
	}
	return http.StatusCreated, toOrderResponse(order)
}

func (h *Handler) getOrder(r *http.Request) (int, any) {
	orderID := chi.URLParam(r, "orderID")
	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		return h.fail(r, err)
	}
	resp := toOrderResponse(order)

	events, err := h.orders.Timeline(r.Context(), orderID)
	if err != nil {
		h.logger.WithError(err).WithField("order_id", orderID).Warn("failed to load order timeline")
	} else {
		resp.Timeline = toTimelineResponse(events)
	}
	return http.StatusOK, resp
}

func (h *Handler) queuePosition(r *http.Request) (int, any) {
	customerID, err := requiredQuery(r, "customerId")
	if err != nil {
		return h.fail(r, err)
	}
	status, err := h.orders.GetQueueStatus(r.Context(), chi.URLParam(r, "orderID"), customerID)
	if err != nil {
		return h.fail(r, err)
	}
	return http.StatusOK, toQueuePositionResponse(status)
}

func (h *Handler) cancelOrder(r *http.Request) (int, any) {
	customerID, err := requiredQuery(r, "customerId")
	if err != nil {
		return h.fail(r, err)
	}
	order, err := h.orders.CancelOrder(r.Context(), chi.URLParam(r, "orderID"), customerID)
	if err != nil {
		return h.fail(r, err)
	}
	return http.StatusOK, toOrderResponse(order)
}

func (h *Handler) customerOrders(r *http.Request) (int, any) {
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return h.fail(r, domain.Errorf(domain.KindValidation, "limit must be a positive integer"))
		}
		limit = parsed
	}
	orders, err := h.orders.ListCustomerOrders(r.Context(), chi.URLParam(r, "customerID"), limit)
	if err != nil {
		return h.fail(r, err)
	}
	return http.StatusOK, toOrderResponses(orders)
}

func (h *Handler) updateStatus(r *http.Request) (int, any) {
	var req statusUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		return h.fail(r, err)
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return h.fail(r, domain.Errorf(domain.KindValidation, "orderId is required"))
	}
	if strings.TrimSpace(req.NewStatus) == "" {
		return h.fail(r, domain.Errorf(domain.KindValidation, "newStatus is required"))
	}

	next := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.NewStatus)))
	order, err := h.orders.ApplyShopStatusUpdate(r.Context(), chi.URLParam(r, "shopID"), req.OrderID, next)
	if err != nil {
		return h.fail(r, err)
	}
	return http.StatusAccepted, toOrderResponse(order)
}

// fail переводит ошибку сервиса в ответ. Бизнес-ошибки логируются на уровне Info.
func (h *Handler) fail(r *http.Request, err error) (int, any) {
	resp := errorFor(r, err, h.now())
	entry := h.logger.WithError(err).WithFields(log.Fields{
		"method":     r.Method,
		"path":       r.URL.Path,
		"status":     resp.Status,
		"request_id": resp.RequestID,
	})
	if resp.Status >= http.StatusInternalServerError && resp.Code == codeInternal {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}
	return resp.Status, resp
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Errorf(domain.KindValidation, "request body is required")
		}
		return domain.Errorf(domain.KindValidation, "invalid request body: %v", err)
	}
	return nil
}

func requiredQuery(r *http.Request, name string) (string, error) {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		return "", domain.Errorf(domain.KindValidation, "query parameter %s is required", name)
	}
	return value, nil
}

// observe пишет access-лог и метрики по шаблону маршрута.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		h.metrics.ObserveRequest(route, r.Method, status, elapsed)
		h.logger.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"route":      route,
			"status":     status,
			"bytes":      ww.BytesWritten(),
			"elapsed_ms": elapsed.Milliseconds(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}
