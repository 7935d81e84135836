// Package outbox доставляет уведомления из журнала outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
	"github.com/vladislavdragonenkov/coffee-queue/internal/metrics"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
	defaultMaxAttempts  = 5
	defaultBackoffBase  = time.Second
	defaultBackoffCap   = 5 * time.Minute
)

// Relay за один проход публикует каждое наступившее сообщение один раз.
// Неудача не блокирует проход: следующая попытка планируется в журнале с
// экспоненциальной паузой, после MaxAttempts сообщение уходит в DLQ и хоронится.
type Relay struct {
	journal     domain.OutboxRepository
	publisher   domain.OutboxPublisher
	deadLetters domain.OutboxPublisher
	logger      *log.Entry
	metrics     *metrics.OutboxMetrics

	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	backoffBase  time.Duration
	backoffCap   time.Duration
	now          func() time.Time
}

// Option настраивает Relay.
type Option func(*Relay)

func WithLogger(logger *log.Entry) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithDeadLetters задаёт получателя сообщений, исчерпавших попытки.
func WithDeadLetters(publisher domain.OutboxPublisher) Option {
	return func(r *Relay) { r.deadLetters = publisher }
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithBackoff задаёт паузу перед второй попыткой и её верхнюю границу. base=0 повторяет сразу на следующем проходе.
func WithBackoff(base, ceiling time.Duration) Option {
	return func(r *Relay) {
		if base >= 0 {
			r.backoffBase = base
		}
		if ceiling > 0 {
			r.backoffCap = ceiling
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRelay создаёт Relay поверх журнала и основного publisher.
func NewRelay(journal domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Relay {
	r := &Relay{
		journal:      journal,
		publisher:    publisher,
		logger:       log.WithField("component", "outbox-relay"),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		backoffBase:  defaultBackoffBase,
		backoffCap:   defaultBackoffCap,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Run повторяет проходы до отмены ctx.
func (r *Relay) Run(ctx context.Context) error {
	if r.journal == nil || r.publisher == nil {
		r.logger.Warn("outbox relay disabled: journal or publisher missing")
		return nil
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		r.Drain(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Outcome — итог одного прохода.
type Outcome struct {
	Delivered   int
	Rescheduled int
	Buried      int
}

// Drain выполняет один проход по наступившим сообщениям.
func (r *Relay) Drain(ctx context.Context) Outcome {
	var out Outcome
	if ctx.Err() != nil {
		return out
	}
	defer r.reportBacklog(ctx)

	now := r.now()
	due, err := r.journal.Due(ctx, now, r.batchSize)
	if err != nil {
		r.logger.WithError(err).Warn("outbox: failed to load due messages")
		return out
	}

	for _, msg := range due {
		if ctx.Err() != nil {
			break
		}
		entry := r.logger.WithFields(log.Fields{
			"outbox_id":  msg.ID,
			"event_type": msg.EventType,
			"order_id":   msg.AggregateID,
			"attempt":    msg.Attempts + 1,
		})

		publishErr := r.publisher.Publish(ctx, msg)
		switch {
		case publishErr == nil:
			r.metrics.RecordPublish("sent")
			if err := r.journal.Acknowledge(ctx, msg.ID); err != nil {
				entry.WithError(err).Warn("outbox: delivered message not acknowledged, it may be published again")
				continue
			}
			out.Delivered++
		case ctx.Err() != nil:
			// Остановка посреди публикации: сообщение остаётся в журнале без учёта попытки.
			return out
		case msg.Attempts+1 < r.maxAttempts:
			r.metrics.RecordPublish("retry_error")
			next := now.Add(r.backoff(msg.Attempts + 1))
			if err := r.journal.Retry(ctx, msg.ID, next, publishErr.Error()); err != nil {
				entry.WithError(err).Warn("outbox: failed to reschedule message")
				continue
			}
			entry.WithError(publishErr).WithField("next_attempt_at", next).Debug("outbox: publish failed, rescheduled")
			out.Rescheduled++
		default:
			r.metrics.RecordPublish("failed")
			entry.WithError(publishErr).Error("outbox: attempts exhausted")
			r.bury(ctx, entry, msg, publishErr)
			out.Buried++
		}
	}
	return out
}

func (r *Relay) bury(ctx context.Context, entry *log.Entry, msg domain.OutboxMessage, cause error) {
	if err := r.sendToDLQ(ctx, msg, cause); err != nil {
		r.metrics.RecordPublish("dlq_failed")
		entry.WithError(err).Warn("outbox: dead letter not published")
	}
	reason := fmt.Sprintf("%v after %d attempts: %v", domain.ErrOutboxPublish, msg.Attempts+1, cause)
	if err := r.journal.Bury(ctx, msg.ID, reason); err != nil {
		entry.WithError(err).Warn("outbox: failed to bury message")
	}
}

// backoff — пауза перед попыткой attempt+1: base, 2*base, 4*base... не больше backoffCap.
func (r *Relay) backoff(attempt int) time.Duration {
	if r.backoffBase <= 0 {
		return 0
	}
	delay := r.backoffBase
	for i := 1; i < attempt; i++ {
		if delay >= r.backoffCap/2 {
			return r.backoffCap
		}
		delay *= 2
	}
	return min(delay, r.backoffCap)
}

func (r *Relay) reportBacklog(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	stats, err := r.journal.Stats(ctx)
	if err != nil {
		r.logger.WithError(err).Debug("outbox: backlog stats unavailable")
		return
	}
	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = r.now().Sub(stats.OldestPendingAt)
	}
	r.metrics.SetBacklog(stats.PendingCount, age)
}

// DeadLetter — тело сообщения в DLQ для уведомления, которое не удалось опубликовать.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	PublishError  string          `json:"publish_error"`
	FirstQueuedAt time.Time       `json:"first_queued_at"`
	PublishedAt   time.Time       `json:"dlq_published_at"`
}

func (r *Relay) sendToDLQ(ctx context.Context, msg domain.OutboxMessage, cause error) error {
	if r.deadLetters == nil {
		return nil
	}

	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(msg.Payload))
	}
	body, err := json.Marshal(DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		Attempts:      msg.Attempts + 1,
		PublishError:  cause.Error(),
		FirstQueuedAt: msg.CreatedAt,
		PublishedAt:   r.now(),
	})
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	letter := msg
	letter.Payload = body
	return r.deadLetters.Publish(ctx, letter)
}
