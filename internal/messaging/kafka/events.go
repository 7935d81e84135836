package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/coffee-queue/internal/service/notification"
)

// Topics для Kafka.
const (
	TopicNotifications   = "cqs.notifications"
	TopicDeadLetterQueue = "cqs.dlq"
)

// Kafka headers для retry логики.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// Envelope — формат всех сообщений сервиса в Kafka: и напрямую отправленных
// уведомлений, и ретранслированных из outbox.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewNotificationEnvelope упаковывает уведомление в Envelope.
func NewNotificationEnvelope(msg notification.Message) (Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal notification: %w", err)
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: "order",
		AggregateID:   msg.OrderID,
		EventType:     notification.OutboxEventPrefix + string(msg.Kind),
		Payload:       payload,
		PublishedAt:   time.Now().UTC(),
	}, nil
}

// ParseEnvelope разбирает Envelope из сообщения Kafka.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return env, nil
}

// ParseNotification извлекает уведомление из сообщения Kafka.
func ParseNotification(message *sarama.ConsumerMessage) (notification.Message, error) {
	env, err := ParseEnvelope(message)
	if err != nil {
		return notification.Message{}, err
	}
	if !strings.HasPrefix(env.EventType, notification.OutboxEventPrefix) {
		return notification.Message{}, fmt.Errorf("unexpected event type %q", env.EventType)
	}

	var msg notification.Message
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return notification.Message{}, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	if msg.OrderID == "" {
		return notification.Message{}, fmt.Errorf("notification %s has no order_id", env.ID)
	}
	return msg, nil
}
