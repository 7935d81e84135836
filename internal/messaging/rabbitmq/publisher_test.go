package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/coffee-queue/internal/service/notification"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	declareErr error
	publishErr error
	published  []published
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if f.declareErr != nil {
		return f.declareErr
	}
	if kind != amqp.ExchangeFanout || !durable {
		return errors.New("unexpected exchange type")
	}
	f.declared = append(f.declared, name)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestNewPublisher_DeclaresFanoutExchange(t *testing.T) {
	ch := &fakeChannel{}
	_, err := NewPublisher(ch, "", nil)
	require.NoError(t, err)
	require.Equal(t, []string{ExchangeNotifications}, ch.declared)
}

func TestNewPublisher_DeclareError(t *testing.T) {
	_, err := NewPublisher(&fakeChannel{declareErr: errors.New("access refused")}, "", nil)
	require.Error(t, err)
}

func TestPublisher_Send(t *testing.T) {
	ch := &fakeChannel{}
	publisher, err := NewPublisher(ch, "", nil)
	require.NoError(t, err)

	msg := notification.Message{
		ID:            "n-1",
		Kind:          notification.KindConfirmation,
		OrderID:       "order-1",
		QueuePosition: 1,
	}
	require.NoError(t, publisher.Send(context.Background(), msg))
	require.Len(t, ch.published, 1)

	got := ch.published[0]
	require.Equal(t, ExchangeNotifications, got.exchange)
	require.Empty(t, got.key)
	require.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	require.Equal(t, "notification.confirmation", got.msg.Type)
	require.Equal(t, "n-1", got.msg.MessageId)

	var decoded notification.Message
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	require.Equal(t, "order-1", decoded.OrderID)
	require.Equal(t, 1, decoded.QueuePosition)

	require.NoError(t, publisher.Close())
	require.True(t, ch.closed)
}

func TestPublisher_SendError(t *testing.T) {
	publisher, err := NewPublisher(&fakeChannel{publishErr: amqp.ErrClosed}, "", nil)
	require.NoError(t, err)
	require.ErrorIs(t, publisher.Send(context.Background(), notification.Message{OrderID: "order-2"}), amqp.ErrClosed)
}
