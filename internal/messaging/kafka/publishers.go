package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/notification"
)

// HeaderEventType и HeaderAttempt дублируют поля Envelope в заголовках,
// чтобы потребители могли фильтровать сообщения без разбора тела.
const (
	HeaderEventType = "x-event-type"
	HeaderAttempt   = "x-attempt"
)

var errPublisherNotReady = errors.New("kafka publisher is not initialized")

// topicWriter пишет Envelope в один topic. Ключ — заказ, поэтому все сообщения
// одного заказа попадают в одну партицию и читаются по порядку.
type topicWriter struct {
	producer *Producer
	topic    string
}

func newTopicWriter(producer *Producer, topic string) topicWriter {
	if topic == "" {
		topic = TopicNotifications
	}
	return topicWriter{producer: producer, topic: topic}
}

func (w topicWriter) write(ctx context.Context, env Envelope, attempt int) error {
	if w.producer == nil {
		return errPublisherNotReady
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := env.AggregateID
	if key == "" {
		key = env.ID
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return w.producer.Publish(w.topic, key, value, map[string]string{
		HeaderEventType: env.EventType,
		HeaderAttempt:   strconv.Itoa(attempt),
	})
}

// NotificationPublisher отправляет уведомления в Kafka сразу, минуя outbox.
type NotificationPublisher struct {
	out topicWriter
}

func NewNotificationPublisher(producer *Producer, topic string) *NotificationPublisher {
	return &NotificationPublisher{out: newTopicWriter(producer, topic)}
}

func (p *NotificationPublisher) Send(ctx context.Context, msg notification.Message) error {
	if p == nil {
		return errPublisherNotReady
	}
	env, err := NewNotificationEnvelope(msg)
	if err != nil {
		return err
	}
	return p.out.write(ctx, env, 1)
}

// OutboxPublisher ретранслирует записи журнала outbox. Payload уже содержит JSON
// уведомления и кладётся в Envelope без повторного кодирования.
type OutboxPublisher struct {
	out topicWriter
}

func NewOutboxPublisher(producer *Producer, topic string) *OutboxPublisher {
	return &OutboxPublisher{out: newTopicWriter(producer, topic)}
}

func (p *OutboxPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil {
		return errPublisherNotReady
	}
	return p.out.write(ctx, Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   time.Now().UTC(),
	}, msg.Attempts+1)
}

var (
	_ notification.Sender    = (*NotificationPublisher)(nil)
	_ domain.OutboxPublisher = (*OutboxPublisher)(nil)
)
