package ordering

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
	"github.com/vladislavdragonenkov/coffee-queue/internal/metrics"
)

const tracerName = "github.com/vladislavdragonenkov/coffee-queue/internal/service/ordering"

// Options задаёт общие зависимости Processor и Lifecycle.
type Options struct {
	Logger   *log.Entry
	Metrics  *metrics.QueueMetrics
	Tracer   trace.Tracer
	Notifier domain.NotificationGateway
	Timeline domain.TimelineRepository
	Now      func() time.Time
	NewID    func() string
}

// Option настраивает сервисы заказов.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики заказов и очередей.
func WithMetrics(m *metrics.QueueMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithTracer задаёт tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(opts *Options) {
		opts.Tracer = tracer
	}
}

// WithNotifier задаёт шлюз уведомлений.
func WithNotifier(notifier domain.NotificationGateway) Option {
	return func(opts *Options) {
		opts.Notifier = notifier
	}
}

// WithTimeline включает запись истории статусов.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(opts *Options) {
		opts.Timeline = repo
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(newID func() string) Option {
	return func(opts *Options) {
		opts.NewID = newID
	}
}

type deps struct {
	logger   *log.Entry
	metrics  *metrics.QueueMetrics
	tracer   trace.Tracer
	notifier domain.NotificationGateway
	timeline domain.TimelineRepository
	now      func() time.Time
	newID    func() string
}

func newDeps(component string, options []Option) deps {
	var opts Options
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", component)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.Notifier == nil {
		opts.Notifier = noopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		// ULID сортируется в порядке создания.
		opts.NewID = func() string { return ulid.Make().String() }
	}

	return deps{
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		notifier: opts.Notifier,
		timeline: opts.Timeline,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// recordStatus добавляет переход в историю заказа. Ошибка записи не влияет на результат операции.
func (d deps) recordStatus(ctx context.Context, order domain.Order, from domain.OrderStatus, actor domain.Actor) {
	if d.timeline == nil {
		return
	}
	event := domain.StatusChanged(order.ID, from, order.Status, actor, order.UpdatedAt)
	if err := d.timeline.Append(ctx, event); err != nil {
		d.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to append timeline event")
		return
	}
	d.metrics.RecordTimelineEvent()
}

// logFailure пишет бизнес-ошибки на уровне Info, остальные как Error.
func (d deps) logFailure(entry *log.Entry, err error, msg string) {
	if kind := domain.KindOf(err); kind != "" {
		entry.WithField("error_kind", kind).WithError(err).Info(msg)
		return
	}
	entry.WithError(err).Error(msg)
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// rejectionReason возвращает метку отказа в приёме заказа.
// Отмена запроса вызывающим отказом не считается.
func rejectionReason(err error) (string, bool) {
	if kind := domain.KindOf(err); kind != "" {
		return string(kind), true
	}
	if errors.Is(err, context.Canceled) {
		return "", false
	}
	return "INTERNAL", true
}

// describeNotFound уточняет sentinel-ошибку хранилища идентификатором сущности.
func describeNotFound(err error, sentinel *domain.Error, what, id string) error {
	if errors.Is(err, sentinel) {
		return domain.Errorf(sentinel.Kind, "%s %s not found", what, id)
	}
	return err
}

type noopNotifier struct{}

func (noopNotifier) NotifyConfirmation(domain.Order) {}
func (noopNotifier) NotifyCancellation(domain.Order) {}
func (noopNotifier) NotifyQueueUpdate(domain.Order)  {}
