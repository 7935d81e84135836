package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries    = 3
	defaultRetryDelay    = 200 * time.Millisecond
	defaultRetryDelayCap = 5 * time.Second
)

// MessageHandler обрабатывает сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку обработчика как неисправимую: сообщение уходит в DLQ без повторов.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent сообщает, что повтор обработки бесполезен.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type consumerSettings struct {
	logger     *log.Entry
	dlq        *Producer
	maxRetries int
	retryDelay time.Duration
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*consumerSettings)

func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(s *consumerSettings) { s.logger = logger }
}

// WithDLQ включает перекладку сообщений, исчерпавших попытки, в TopicDeadLetterQueue.
func WithDLQ(producer *Producer) ConsumerOption {
	return func(s *consumerSettings) { s.dlq = producer }
}

// WithRetries задаёт число попыток и первую паузу. Каждая следующая пауза вдвое длиннее,
// но не больше defaultRetryDelayCap.
func WithRetries(maxRetries int, delay time.Duration) ConsumerOption {
	return func(s *consumerSettings) {
		s.maxRetries = maxRetries
		s.retryDelay = delay
	}
}

// Consumer читает топики в составе consumer group.
type Consumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	logger     *log.Entry
	dlq        *Producer
	maxRetries int
	retryDelay time.Duration

	wg sync.WaitGroup
}

// NewConsumer подключается к брокерам как участник группы groupID.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = DefaultClientID
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("join consumer group %s: %w", groupID, err)
	}
	return newConsumer(group, topics, handler, options...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, options ...ConsumerOption) *Consumer {
	s := consumerSettings{maxRetries: defaultMaxRetries, retryDelay: defaultRetryDelay}
	for _, option := range options {
		option(&s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "kafka-consumer")
	}
	if s.maxRetries <= 0 {
		s.maxRetries = defaultMaxRetries
	}

	return &Consumer{
		group:      group,
		topics:     topics,
		handler:    handler,
		logger:     s.logger,
		dlq:        s.dlq,
		maxRetries: s.maxRetries,
		retryDelay: max(s.retryDelay, 0),
	}
}

// Start запускает чтение в фоне до отмены ctx.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается после каждой перебалансировки группы.
		for ctx.Err() == nil {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("consume session ended with error")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop покидает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("leave consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim фиксирует offset только обработанных или переложенных в DLQ сообщений.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			entry := c.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			})
			if err := c.deliver(ctx, message, entry); err != nil {
				// Без MarkMessage сообщение перечитается после перезапуска.
				entry.WithError(err).Error("message left uncommitted")
				continue
			}
			session.MarkMessage(message, "")
		}
	}
}

// deliver вызывает обработчик, пока не кончатся попытки. Отсчёт продолжается
// с x-retry-count. Сообщение, отправленное в DLQ, считается обработанным.
func (c *Consumer) deliver(ctx context.Context, message *sarama.ConsumerMessage, entry *log.Entry) error {
	attempt := priorAttempts(message)
	delay := c.retryDelay

	var err error
	for {
		if err = c.handler(ctx, message); err == nil {
			return nil
		}
		attempt++
		if IsPermanent(err) || attempt >= c.maxRetries {
			break
		}

		entry.WithError(err).WithFields(log.Fields{
			"attempt":     attempt,
			"max_retries": c.maxRetries,
			"backoff":     delay,
		}).Warn("handler failed, retrying")
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, defaultRetryDelayCap)
		}
	}

	if c.dlq == nil {
		return err
	}
	if dlqErr := c.deadLetter(message, attempt, err); dlqErr != nil {
		return fmt.Errorf("dead-letter after %d attempts: %w", attempt, dlqErr)
	}
	entry.WithError(err).WithField("attempt", attempt).Warn("message moved to DLQ")
	return nil
}

// priorAttempts читает счётчик попыток, накопленный до этого чтения.
func priorAttempts(message *sarama.ConsumerMessage) int {
	for _, h := range message.Headers {
		if h == nil || string(h.Key) != HeaderRetryCount {
			continue
		}
		if n, err := strconv.Atoi(string(h.Value)); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}

// deadLetter публикует исходное значение как есть. Причина и исходный топик идут в заголовках.
func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, attempts int, cause error) error {
	headers := map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  cause.Error(),
		HeaderFailedAt:      time.Now().UTC().Format(time.RFC3339),
		HeaderRetryCount:    strconv.Itoa(attempts),
	}
	for _, h := range message.Headers {
		if h != nil && string(h.Key) == HeaderEventType {
			headers[HeaderEventType] = string(h.Value)
		}
	}
	return c.dlq.Publish(TopicDeadLetterQueue, string(message.Key), message.Value, headers)
}
