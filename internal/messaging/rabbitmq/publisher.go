package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-queue/internal/service/notification"
)

// ExchangeNotifications — fanout exchange для уведомлений клиентам.
const ExchangeNotifications = "notifications_fanout"

const (
	defaultPublishTimeout = 10 * time.Second
	defaultDialAttempts   = 5
)

// Channel — часть *amqp.Channel, которая нужна паблишеру.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher отправляет уведомления в RabbitMQ.
type Publisher struct {
	channel  Channel
	conn     *amqp.Connection
	exchange string
	timeout  time.Duration
	logger   *log.Entry
}

// Dial подключается к брокеру с повторами и объявляет exchange уведомлений.
func Dial(ctx context.Context, url string, logger *log.Entry) (*Publisher, error) {
	if logger == nil {
		logger = log.WithField("component", "rabbitmq-publisher")
	}

	var lastErr error
	for attempt := 1; attempt <= defaultDialAttempts; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			ch, chErr := conn.Channel()
			if chErr == nil {
				publisher, declErr := NewPublisher(ch, ExchangeNotifications, logger)
				if declErr == nil {
					publisher.conn = conn
					return publisher, nil
				}
				chErr = declErr
			}
			_ = conn.Close()
			err = chErr
		}
		lastErr = err

		if attempt == defaultDialAttempts {
			break
		}
		wait := time.Duration(attempt) * time.Second
		logger.WithError(err).WithField("retry_in", wait).Warn("rabbitmq connection failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", defaultDialAttempts, lastErr)
}

// NewPublisher объявляет durable fanout exchange на канале ch.
func NewPublisher(ch Channel, exchange string, logger *log.Entry) (*Publisher, error) {
	if exchange == "" {
		exchange = ExchangeNotifications
	}
	if logger == nil {
		logger = log.WithField("component", "rabbitmq-publisher")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{
		channel:  ch,
		exchange: exchange,
		timeout:  defaultPublishTimeout,
		logger:   logger,
	}, nil
}

// Send публикует уведомление как persistent JSON-сообщение.
func (p *Publisher) Send(ctx context.Context, msg notification.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.channel.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         notification.OutboxEventPrefix + string(msg.Kind),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"exchange": p.exchange,
			"order_id": msg.OrderID,
		}).Error("failed to publish notification")
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"exchange": p.exchange,
		"order_id": msg.OrderID,
		"kind":     msg.Kind,
	}).Debug("notification published")
	return nil
}

// Close закрывает канал и соединение.
func (p *Publisher) Close() error {
	if err := p.channel.Close(); err != nil {
		return fmt.Errorf("close channel: %w", err)
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("close connection: %w", err)
		}
	}
	return nil
}

var _ notification.Sender = (*Publisher)(nil)
