package notification

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
)

// LogSender пишет уведомление в лог. Канал по умолчанию для локального запуска.
type LogSender struct {
	logger *log.Entry
}

// NewLogSender создаёт LogSender.
func NewLogSender(logger *log.Entry) *LogSender {
	if logger == nil {
		logger = log.WithField("component", "notification-log-sender")
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.WithFields(log.Fields{
		"notification_id": msg.ID,
		"kind":            msg.Kind,
		"order_id":        msg.OrderID,
		"customer_id":     msg.CustomerID,
		"queue_position":  msg.QueuePosition,
		"wait_minutes":    msg.EstimatedWaitMinutes,
	}).Info(msg.Text)
	return nil
}

// OutboxEventPrefix — префикс EventType для уведомлений в outbox.
const OutboxEventPrefix = "notification."

// OutboxSender кладёт уведомление в transactional outbox; доставку в брокер
// с повторами и DLQ выполняет outbox worker.
type OutboxSender struct {
	repo domain.OutboxRepository
}

// NewOutboxSender создаёт OutboxSender.
func NewOutboxSender(repo domain.OutboxRepository) *OutboxSender {
	return &OutboxSender{repo: repo}
}

func (s *OutboxSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if _, err := s.repo.Enqueue(ctx, domain.OutboxMessage{
		ID:            msg.ID,
		AggregateType: "order",
		AggregateID:   msg.OrderID,
		EventType:     OutboxEventPrefix + string(msg.Kind),
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// SenderFunc адаптирует функцию к интерфейсу Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

var (
	_ Sender = (*LogSender)(nil)
	_ Sender = (*OutboxSender)(nil)
	_ Sender = SenderFunc(nil)
)
