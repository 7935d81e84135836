package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
	"github.com/vladislavdragonenkov/coffee-queue/internal/metrics"
)

const (
	defaultWorkers             = 4
	defaultBufferSize          = 1024
	defaultConfirmationRetries = 3
	defaultConfirmationDelay   = time.Second
	defaultSendTimeout         = 5 * time.Second
)

// ErrDispatcherClosed возвращается проверкой здоровья после Shutdown.
var ErrDispatcherClosed = errors.New("notification dispatcher is closed")

// RetryPolicy — число попыток и фиксированная пауза между ними.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Options задаёт параметры диспетчера.
type Options struct {
	Logger       *log.Entry
	Metrics      *metrics.NotificationMetrics
	Workers      int
	BufferSize   int
	SendTimeout  time.Duration
	Confirmation RetryPolicy
}

// Option настраивает Dispatcher.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики доставки.
func WithMetrics(m *metrics.NotificationMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithWorkers задаёт число воркеров доставки.
func WithWorkers(workers int) Option {
	return func(opts *Options) {
		opts.Workers = workers
	}
}

// WithBufferSize задаёт размер буфера уведомлений.
func WithBufferSize(size int) Option {
	return func(opts *Options) {
		opts.BufferSize = size
	}
}

// WithSendTimeout ограничивает одну попытку отправки.
func WithSendTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.SendTimeout = timeout
	}
}

// WithConfirmationRetry задаёт повторы для подтверждений заказа.
func WithConfirmationRetry(maxAttempts int, delay time.Duration) Option {
	return func(opts *Options) {
		opts.Confirmation = RetryPolicy{MaxAttempts: maxAttempts, Delay: delay}
	}
}

// Dispatcher доставляет уведомления в фоне пулом воркеров.
// Постановка в очередь никогда не блокирует вызывающего: при полном буфере
// уведомление отбрасывается с предупреждением. Подтверждения повторяются
// согласно RetryPolicy, отмена и изменения очереди отправляются один раз.
type Dispatcher struct {
	sender       Sender
	logger       *log.Entry
	metrics      *metrics.NotificationMetrics
	workers      int
	sendTimeout  time.Duration
	confirmation RetryPolicy

	jobs chan Message

	mu      sync.RWMutex
	started bool
	closed  bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher создаёт диспетчер. Воркеры запускаются методом Start.
func NewDispatcher(sender Sender, options ...Option) *Dispatcher {
	opts := Options{
		Workers:      defaultWorkers,
		BufferSize:   defaultBufferSize,
		SendTimeout:  defaultSendTimeout,
		Confirmation: RetryPolicy{MaxAttempts: defaultConfirmationRetries, Delay: defaultConfirmationDelay},
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "notification-dispatcher")
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Confirmation.MaxAttempts <= 0 {
		opts.Confirmation.MaxAttempts = defaultConfirmationRetries
	}
	if opts.Confirmation.Delay < 0 {
		opts.Confirmation.Delay = 0
	}
	if sender == nil {
		sender = NewLogSender(opts.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sender:       sender,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		workers:      opts.Workers,
		sendTimeout:  opts.SendTimeout,
		confirmation: opts.Confirmation,
		jobs:         make(chan Message, opts.BufferSize),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start запускает воркеров. Повторный вызов ничего не делает.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.WithField("workers", d.workers).Info("notification dispatcher started")
}

// Shutdown прекращает приём уведомлений и ждёт доставки уже принятых.
// Если ctx истекает раньше, текущие попытки прерываются.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	started := d.started
	d.mu.Unlock()

	if !started {
		d.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// Check сообщает об ошибке, если диспетчер остановлен.
func (d *Dispatcher) Check() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	return nil
}

// Pending возвращает число уведомлений в буфере.
func (d *Dispatcher) Pending() int {
	return len(d.jobs)
}

// NotifyConfirmation ставит в очередь подтверждение заказа.
func (d *Dispatcher) NotifyConfirmation(order domain.Order) {
	d.Submit(NewMessage(KindConfirmation, order))
}

// NotifyCancellation ставит в очередь уведомление об отмене.
func (d *Dispatcher) NotifyCancellation(order domain.Order) {
	d.Submit(NewMessage(KindCancellation, order))
}

// NotifyQueueUpdate ставит в очередь уведомление об изменении позиции или статуса.
func (d *Dispatcher) NotifyQueueUpdate(order domain.Order) {
	d.Submit(NewMessage(KindQueueUpdate, order))
}

// Submit ставит уведомление в буфер без блокировки.
func (d *Dispatcher) Submit(msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(msg, "dispatcher is closed")
		return false
	}

	select {
	case d.jobs <- msg:
		d.metrics.Queued(string(msg.Kind), 1)
		return true
	default:
		d.drop(msg, "dispatch buffer is full")
		return false
	}
}

func (d *Dispatcher) drop(msg Message, reason string) {
	d.metrics.RecordDropped(string(msg.Kind))
	d.logger.WithFields(log.Fields{
		"kind":     msg.Kind,
		"order_id": msg.OrderID,
		"reason":   reason,
	}).Warn("notification dropped")
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for msg := range d.jobs {
		d.metrics.Queued(string(msg.Kind), -1)
		d.deliver(msg)
	}
}

func (d *Dispatcher) policyFor(kind Kind) RetryPolicy {
	if kind == KindConfirmation {
		return d.confirmation
	}
	return RetryPolicy{MaxAttempts: 1}
}

func (d *Dispatcher) deliver(msg Message) {
	policy := d.policyFor(msg.Kind)
	fields := log.Fields{
		"notification_id": msg.ID,
		"kind":            msg.Kind,
		"order_id":        msg.OrderID,
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		d.metrics.RecordAttempt(string(msg.Kind))

		ctx, cancel := context.WithTimeout(d.ctx, d.sendTimeout)
		err := d.sender.Send(ctx, msg)
		cancel()
		if err == nil {
			d.metrics.RecordResult(string(msg.Kind), "sent")
			d.logger.WithFields(fields).WithField("attempt", attempt).Debug("notification delivered")
			return
		}
		lastErr = err

		if attempt >= policy.MaxAttempts {
			break
		}
		d.logger.WithError(err).WithFields(fields).WithFields(log.Fields{
			"attempt":      attempt,
			"max_attempts": policy.MaxAttempts,
			"retry_in":     policy.Delay.String(),
		}).Warn("notification delivery failed, retrying")

		select {
		case <-d.ctx.Done():
			lastErr = d.ctx.Err()
			attempt = policy.MaxAttempts
		case <-time.After(policy.Delay):
		}
	}

	d.metrics.RecordResult(string(msg.Kind), "failed")
	d.logger.WithError(lastErr).WithFields(fields).WithField("max_attempts", policy.MaxAttempts).
		Error("notification delivery failed")
}

var _ domain.NotificationGateway = (*Dispatcher)(nil)
