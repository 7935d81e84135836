package queue

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
	"github.com/vladislavdragonenkov/coffee-queue/internal/metrics"
)

// DefaultAveragePrepMinutes — среднее время приготовления одного заказа.
const DefaultAveragePrepMinutes = 5

const tracerName = "github.com/vladislavdragonenkov/coffee-queue/internal/service/queue"

// Options задаёт параметры менеджера очередей.
type Options struct {
	Logger             *log.Entry
	Metrics            *metrics.QueueMetrics
	Tracer             trace.Tracer
	AveragePrepMinutes int
	Now                func() time.Time
}

// Option настраивает Manager.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики очередей.
func WithMetrics(m *metrics.QueueMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithTracer задаёт tracer; по умолчанию используется глобальный provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(opts *Options) {
		opts.Tracer = tracer
	}
}

// WithAveragePrepMinutes задаёт минуты ожидания на одну позицию в очереди.
func WithAveragePrepMinutes(minutes int) Option {
	return func(opts *Options) {
		opts.AveragePrepMinutes = minutes
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// Manager назначает места в очереди, оценивает ожидание и перенумеровывает
// активные заказы кофейни. Изменения очереди одной кофейни сериализуются
// через WithShopLock; разные кофейни не блокируют друг друга.
type Manager struct {
	tx          domain.TxManager
	locks       *shopLocks
	logger      *log.Entry
	metrics     *metrics.QueueMetrics
	tracer      trace.Tracer
	avgPrepMins int
	now         func() time.Time
}

// NewManager создаёт менеджер очередей.
func NewManager(tx domain.TxManager, options ...Option) *Manager {
	opts := Options{AveragePrepMinutes: DefaultAveragePrepMinutes}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "queue-manager")
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.AveragePrepMinutes <= 0 {
		opts.AveragePrepMinutes = DefaultAveragePrepMinutes
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Manager{
		tx:          tx,
		locks:       newShopLocks(),
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		avgPrepMins: opts.AveragePrepMinutes,
		now:         opts.Now,
	}
}

// WithShopLock выполняет fn в критической секции очереди кофейни.
func (m *Manager) WithShopLock(ctx context.Context, shopID string, fn func(ctx context.Context) error) error {
	unlock, err := m.locks.acquire(ctx, shopID)
	if err != nil {
		return fmt.Errorf("acquire queue lock for shop %s: %w", shopID, err)
	}
	defer unlock()
	return fn(ctx)
}

// AssignPosition возвращает следующую позицию: число активных заказов + 1.
// Вызывать внутри WithShopLock, иначе две заявки получат одинаковую позицию.
func (m *Manager) AssignPosition(ctx context.Context, orders domain.OrderStore, shopID string) (int, error) {
	count, err := orders.CountActive(ctx, shopID)
	if err != nil {
		return 0, fmt.Errorf("count active orders: %w", err)
	}
	return count + 1, nil
}

// EstimateWait оценивает ожидание в минутах для позиции.
func (m *Manager) EstimateWait(position int) int {
	if position <= 0 {
		return 0
	}
	return position * m.avgPrepMins
}

// Reorder перенумеровывает активные заказы кофейни позициями 1..k по (CreatedAt, ID)
// и пересчитывает ожидание. Изменённые заказы сохраняются одной операцией SaveAll.
// Возвращает заказы, чья позиция изменилась, с актуальной версией.
func (m *Manager) Reorder(ctx context.Context, orders domain.OrderStore, shopID string) ([]domain.Order, error) {
	started := time.Now()
	defer func() { m.metrics.RecordReorderDuration(time.Since(started)) }()

	active, err := orders.FindActiveOrderedByCreation(ctx, shopID)
	if err != nil {
		return nil, fmt.Errorf("load active orders: %w", err)
	}

	now := m.now()
	var (
		dirty   []domain.Order
		changed []domain.Order
	)
	for i := range active {
		order := active[i]
		position := i + 1
		wait := m.EstimateWait(position)
		if order.QueuePosition == position && order.EstimatedWaitMinutes == wait {
			continue
		}

		moved := order.QueuePosition != position
		order.QueuePosition = position
		order.EstimatedWaitMinutes = wait
		order.UpdatedAt = now
		dirty = append(dirty, order)
		if moved {
			changed = append(changed, order)
		}
	}

	if len(dirty) > 0 {
		if err := orders.SaveAll(ctx, dirty); err != nil {
			return nil, fmt.Errorf("save reordered queue: %w", err)
		}
	}
	for i := range changed {
		changed[i].Version++
	}

	m.metrics.SetQueueDepth(shopID, len(active))
	if len(changed) > 0 {
		m.logger.WithFields(log.Fields{
			"shop_id":      shopID,
			"active":       len(active),
			"repositioned": len(changed),
		}).Debug("queue reordered")
	}
	return changed, nil
}

// ReorderQueue перенумеровывает очередь кофейни в отдельной транзакции под блокировкой очереди.
func (m *Manager) ReorderQueue(ctx context.Context, shopID string) ([]domain.Order, error) {
	ctx, span := m.tracer.Start(ctx, "queue.ReorderQueue", trace.WithAttributes(attribute.String("shop_id", shopID)))
	defer span.End()

	var changed []domain.Order
	err := m.WithShopLock(ctx, shopID, func(ctx context.Context) error {
		return m.tx.InTx(ctx, func(repos domain.Repositories) error {
			if err := repos.Orders.LockQueue(ctx, shopID); err != nil {
				return err
			}
			var err error
			changed, err = m.Reorder(ctx, repos.Orders, shopID)
			return err
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("repositioned", len(changed)))
	return changed, nil
}

// SetDepth обновляет метрику длины очереди.
func (m *Manager) SetDepth(shopID string, depth int) {
	m.metrics.SetQueueDepth(shopID, depth)
}
