package main

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/coffee-queue/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/outbox"
)

const readyValue = `{"id":"evt-1","aggregate_id":"order-1","event_type":"notification.ready","payload":{"order_id":"order-1"}}`

func failedDelivery(partition int32, offset int64, key string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:     kafka.TopicDeadLetterQueue,
		Partition: partition,
		Offset:    offset,
		Key:       []byte(key),
		Value:     []byte(readyValue),
		Headers: []*sarama.RecordHeader{
			{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(kafka.TopicNotifications)},
			{Key: []byte(kafka.HeaderErrorMessage), Value: []byte("sms gateway timeout")},
			{Key: []byte(kafka.HeaderRetryCount), Value: []byte("3")},
		},
	}
}

func buriedOutbox(t *testing.T, orderID, eventType string, payload json.RawMessage) []byte {
	t.Helper()

	dead, err := json.Marshal(outbox.DeadLetter{
		OutboxID:      "outbox-" + orderID,
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       payload,
		Attempts:      5,
		PublishError:  "broker unavailable",
	})
	require.NoError(t, err)
	value, err := json.Marshal(kafka.Envelope{ID: "dlq-" + orderID, EventType: "outbox.dead_letter", Payload: dead})
	require.NoError(t, err)
	return value
}

func TestDecodeLetter_FailedDelivery(t *testing.T) {
	l, err := decodeLetter(failedDelivery(0, 7, "order-1"), "unused")
	require.NoError(t, err)

	require.Equal(t, kafka.TopicNotifications, l.topic)
	require.Equal(t, "order-1", l.key)
	require.JSONEq(t, readyValue, string(l.value))
	require.Equal(t, "notification.ready", l.eventType)
	require.Equal(t, "order-1", l.orderID)
	require.Equal(t, 3, l.attempts)
	require.Equal(t, "sms gateway timeout", l.reason)

	h := l.headers(failedDelivery(0, 7, "order-1"))
	require.Equal(t, "cqs.dlq/0/7", h[headerReplayedFrom])
	require.Equal(t, "notification.ready", h[kafka.HeaderEventType])
	require.NotContains(t, h, kafka.HeaderRetryCount)
}

func TestDecodeLetter_FailedDeliveryWithOpaqueBody(t *testing.T) {
	msg := failedDelivery(1, 0, "order-9")
	msg.Value = []byte("not json")
	msg.Headers = append(msg.Headers, &sarama.RecordHeader{Key: []byte(kafka.HeaderEventType), Value: []byte("notification.cancelled")})

	l, err := decodeLetter(msg, kafka.TopicNotifications)
	require.NoError(t, err)
	require.Equal(t, "notification.cancelled", l.eventType)
	require.Equal(t, "order-9", l.orderID, "order is taken from the message key")
}

func TestDecodeLetter_BuriedOutboxMessage(t *testing.T) {
	msg := &sarama.ConsumerMessage{Value: buriedOutbox(t, "order-2", "notification.confirmation", json.RawMessage(`{"order_id":"order-2"}`))}

	l, err := decodeLetter(msg, kafka.TopicNotifications)
	require.NoError(t, err)
	require.Equal(t, kafka.TopicNotifications, l.topic)
	require.Equal(t, "order-2", l.key)
	require.Equal(t, 5, l.attempts)
	require.Equal(t, "broker unavailable", l.reason)

	var env kafka.Envelope
	require.NoError(t, json.Unmarshal(l.value, &env))
	require.Equal(t, "outbox-order-2", env.ID)
	require.Equal(t, "notification.confirmation", env.EventType)
	require.JSONEq(t, `{"order_id":"order-2"}`, string(env.Payload))
	require.False(t, env.PublishedAt.IsZero())
}

func TestDecodeLetter_Rejects(t *testing.T) {
	for name, value := range map[string][]byte{
		"plain text":     []byte("plain text"),
		"empty envelope": []byte(`{"id":"x"}`),
	} {
		_, err := decodeLetter(&sarama.ConsumerMessage{Value: value}, kafka.TopicNotifications)
		require.ErrorIs(t, err, errForeign, name)
	}

	_, err := decodeLetter(&sarama.ConsumerMessage{Value: []byte(`{"id":"x","payload":"not-an-object"}`)}, kafka.TopicNotifications)
	require.Error(t, err)
	require.NotErrorIs(t, err, errForeign)

	_, err = decodeLetter(&sarama.ConsumerMessage{Value: buriedOutbox(t, "order-3", "notification.ready", nil)}, kafka.TopicNotifications)
	require.ErrorContains(t, err, "carries no payload")
}

func TestFilter(t *testing.T) {
	l := letter{eventType: "notification.ready", orderID: "order-1"}

	require.True(t, filter{}.match(l))
	require.True(t, filter{eventPrefix: "notification."}.match(l))
	require.False(t, filter{eventPrefix: "notification.cancel"}.match(l))
	require.True(t, filter{orderID: "order-1"}.match(l))
	require.False(t, filter{eventPrefix: "notification.", orderID: "order-2"}.match(l))
	require.Equal(t, filter{eventPrefix: "a", orderID: "b"}, filter{eventPrefix: " a ", orderID: "b\n"}.normalize())
}

func TestPick(t *testing.T) {
	require.Equal(t, "x", pick("x", "y"))
	require.Equal(t, "y", pick("  ", "y"))
	require.Empty(t, pick("", ""))
}
