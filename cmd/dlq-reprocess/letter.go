package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/coffee-queue/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/outbox"
)

// headerReplayedFrom указывает позицию в DLQ, откуда взято повторённое сообщение.
const headerReplayedFrom = "x-replayed-from"

// errForeign — сообщение не похоже ни на один известный формат DLQ.
var errForeign = errors.New("unrecognised dlq message")

// letter — сообщение DLQ, подготовленное к повторной публикации.
type letter struct {
	topic     string
	key       string
	value     []byte
	eventType string
	orderID   string
	attempts  int
	reason    string
}

// decodeLetter понимает два формата:
// consumer кладёт исходное значение и заголовок x-original-topic,
// relay outbox кладёт Envelope с outbox.DeadLetter внутри.
func decodeLetter(msg *sarama.ConsumerMessage, outboxTopic string) (letter, error) {
	if topic := headerValue(msg, kafka.HeaderOriginalTopic); topic != "" {
		return consumerLetter(msg, topic), nil
	}

	var env kafka.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil || len(env.Payload) == 0 {
		return letter{}, errForeign
	}
	var dead outbox.DeadLetter
	if err := json.Unmarshal(env.Payload, &dead); err != nil {
		return letter{}, fmt.Errorf("outbox dead letter %s: %w", env.ID, err)
	}
	if len(dead.Payload) == 0 || string(dead.Payload) == "null" {
		return letter{}, fmt.Errorf("outbox dead letter %s carries no payload", env.ID)
	}

	restored := kafka.Envelope{
		ID:            pick(dead.OutboxID, env.ID),
		AggregateType: pick(dead.AggregateType, env.AggregateType),
		AggregateID:   pick(dead.AggregateID, env.AggregateID),
		EventType:     pick(dead.EventType, env.EventType),
		Payload:       dead.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(restored)
	if err != nil {
		return letter{}, fmt.Errorf("encode restored envelope: %w", err)
	}
	return letter{
		topic:     outboxTopic,
		key:       pick(restored.AggregateID, restored.ID),
		value:     value,
		eventType: restored.EventType,
		orderID:   restored.AggregateID,
		attempts:  dead.Attempts,
		reason:    dead.PublishError,
	}, nil
}

func consumerLetter(msg *sarama.ConsumerMessage, topic string) letter {
	l := letter{
		topic:  topic,
		key:    string(msg.Key),
		value:  msg.Value,
		reason: headerValue(msg, kafka.HeaderErrorMessage),
	}
	l.attempts, _ = strconv.Atoi(headerValue(msg, kafka.HeaderRetryCount))

	// Тип и заказ нужны только фильтру, поэтому битый JSON здесь не ошибка.
	var env kafka.Envelope
	if json.Unmarshal(msg.Value, &env) == nil {
		l.eventType = env.EventType
		l.orderID = env.AggregateID
	}
	l.eventType = pick(headerValue(msg, kafka.HeaderEventType), l.eventType)
	// Ключ сообщения — ID заказа.
	l.orderID = pick(l.key, l.orderID)
	return l
}

// headers формирует заголовки повтора. Счётчик попыток не переносится:
// повтор начинает цепочку ретраев заново.
func (l letter) headers(source *sarama.ConsumerMessage) map[string]string {
	h := map[string]string{
		headerReplayedFrom: fmt.Sprintf("%s/%d/%d", source.Topic, source.Partition, source.Offset),
	}
	if l.eventType != "" {
		h[kafka.HeaderEventType] = l.eventType
	}
	return h
}

// filter ограничивает повтор событиями одного типа или одного заказа.
type filter struct {
	eventPrefix string
	orderID     string
}

func (f filter) normalize() filter {
	return filter{eventPrefix: strings.TrimSpace(f.eventPrefix), orderID: strings.TrimSpace(f.orderID)}
}

func (f filter) match(l letter) bool {
	if f.eventPrefix != "" && !strings.HasPrefix(l.eventType, f.eventPrefix) {
		return false
	}
	return f.orderID == "" || l.orderID == f.orderID
}

func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return strings.TrimSpace(string(h.Value))
		}
	}
	return ""
}

func pick(preferred, fallback string) string {
	if strings.TrimSpace(preferred) != "" {
		return preferred
	}
	return fallback
}
