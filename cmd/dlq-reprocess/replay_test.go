package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/coffee-queue/internal/messaging/kafka"
)

func baseConfig() config {
	return config{
		sourceTopic: kafka.TopicDeadLetterQueue,
		targetTopic: kafka.TopicNotifications,
		limit:       10,
		idleTimeout: 20 * time.Millisecond,
	}
}

func newTestReplayer(t *testing.T, cfg config, conns connections) *replayer {
	t.Helper()
	r, err := newReplayer(cfg, conns, nil)
	require.NoError(t, err)
	return r
}

func TestNewReplayer_RequiresConnections(t *testing.T) {
	_, err := newReplayer(baseConfig(), connections{}, nil)
	require.Error(t, err)

	cfg := baseConfig()
	cfg.execute = true
	_, err = newReplayer(cfg, connections{broker: &fakeBroker{}, streams: &fakeStreams{}}, nil)
	require.ErrorContains(t, err, "producer")
}

func TestReplay_DryRunPublishesNothing(t *testing.T) {
	b := newFakeBroker(map[int32][2]int64{0: {0, 2}})
	streams := &fakeStreams{feeds: map[int32]*fakeStream{
		0: drained(failedDelivery(0, 0, "order-1"), failedDelivery(0, 1, "order-2")),
	}}
	out := &fakePublisher{}

	got, err := newTestReplayer(t, baseConfig(), connections{broker: b, streams: streams, out: out}).replay(context.Background())
	require.NoError(t, err)
	require.Equal(t, tally{scanned: 2, replayed: 2}, got)
	require.Empty(t, out.sent)
	require.Equal(t, []opened{{partition: 0, offset: 0}}, streams.opened)
}

func TestReplay_ExecuteFromTail(t *testing.T) {
	cfg := baseConfig()
	cfg.execute = true
	cfg.tail = true
	cfg.limit = 2

	b := newFakeBroker(map[int32][2]int64{0: {3, 10}})
	streams := &fakeStreams{feeds: map[int32]*fakeStream{
		0: drained(
			failedDelivery(0, 8, "order-8"),
			&sarama.ConsumerMessage{Topic: kafka.TopicDeadLetterQueue, Offset: 9, Value: buriedOutbox(t, "order-9", "notification.ready", json.RawMessage(`{}`))},
		),
	}}
	out := &fakePublisher{}

	got, err := newTestReplayer(t, cfg, connections{broker: b, streams: streams, out: out}).replay(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, got.replayed)
	require.Equal(t, int64(8), streams.opened[0].offset)
	require.Len(t, out.sent, 2)
	require.Equal(t, "order-8", out.sent[0].key)
	require.Equal(t, "order-9", out.sent[1].key)
	require.Equal(t, "cqs.dlq/0/9", out.sent[1].headers[headerReplayedFrom])
}

func TestReplay_FilterAndSkip(t *testing.T) {
	cfg := baseConfig()
	cfg.execute = true
	cfg.only = filter{orderID: "order-2"}

	b := newFakeBroker(map[int32][2]int64{0: {0, 4}})
	streams := &fakeStreams{feeds: map[int32]*fakeStream{
		0: drained(
			failedDelivery(0, 0, "order-1"),
			failedDelivery(0, 1, "order-2"),
			&sarama.ConsumerMessage{Offset: 2, Value: []byte("garbage")},
			&sarama.ConsumerMessage{Offset: 3, Value: []byte(`{"id":"x","payload":"not-an-object"}`)},
		),
	}}
	out := &fakePublisher{}

	got, err := newTestReplayer(t, cfg, connections{broker: b, streams: streams, out: out}).replay(context.Background())
	require.NoError(t, err)
	require.Equal(t, tally{scanned: 4, replayed: 1, filtered: 1, skipped: 2}, got)
	require.Len(t, out.sent, 1)
	require.Equal(t, "order-2", out.sent[0].key)
}

func TestReplay_LimitSpansPartitionsInOrder(t *testing.T) {
	cfg := baseConfig()
	cfg.limit = 1

	b := newFakeBroker(map[int32][2]int64{2: {0, 1}, 0: {0, 1}})
	b.partitions = []int32{2, 0}
	streams := &fakeStreams{feeds: map[int32]*fakeStream{
		0: drained(failedDelivery(0, 0, "order-1")),
		2: drained(failedDelivery(2, 0, "order-2")),
	}}

	got, err := newTestReplayer(t, cfg, connections{broker: b, streams: streams}).replay(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, got.scanned)
	require.Equal(t, []opened{{partition: 0, offset: 0}}, streams.opened)
}

func TestReplay_EmptyPartitionsAreNotOpened(t *testing.T) {
	b := newFakeBroker(map[int32][2]int64{0: {5, 5}})
	streams := &fakeStreams{}

	got, err := newTestReplayer(t, baseConfig(), connections{broker: b, streams: streams}).replay(context.Background())
	require.NoError(t, err)
	require.Zero(t, got)
	require.Empty(t, streams.opened)

	got, err = newTestReplayer(t, baseConfig(), connections{broker: &fakeBroker{}, streams: streams}).replay(context.Background())
	require.NoError(t, err)
	require.Zero(t, got)
}

func TestReplay_Failures(t *testing.T) {
	cfg := baseConfig()
	cfg.execute = true
	ctx := context.Background()
	okBroker := newFakeBroker(map[int32][2]int64{0: {0, 2}})

	oneLetter := &fakeStreams{feeds: map[int32]*fakeStream{0: drained(failedDelivery(0, 0, "order-1"))}}
	failing := &fakeStreams{feeds: map[int32]*fakeStream{0: broken(errors.New("consumer boom"))}}

	cases := map[string]connections{
		"partitions": {broker: &fakeBroker{partitionsErr: errors.New("metadata")}, streams: &fakeStreams{}, out: &fakePublisher{}},
		"offsets":    {broker: &fakeBroker{partitions: []int32{0}, offsetErr: errors.New("offset")}, streams: &fakeStreams{}, out: &fakePublisher{}},
		"open":       {broker: okBroker, streams: &fakeStreams{openErr: errors.New("open")}, out: &fakePublisher{}},
		"stream":     {broker: okBroker, streams: failing, out: &fakePublisher{}},
		"publish":    {broker: okBroker, streams: oneLetter, out: &fakePublisher{err: errors.New("send")}},
	}
	for name, conns := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newTestReplayer(t, cfg, conns).replay(ctx)
			require.Error(t, err)
		})
	}
}

func TestScan_IdleTimeoutAndCancel(t *testing.T) {
	b := newFakeBroker(map[int32][2]int64{0: {0, 2}})

	quiet := &fakeStreams{feeds: map[int32]*fakeStream{0: silent()}}
	got, err := newTestReplayer(t, baseConfig(), connections{broker: b, streams: quiet}).replay(context.Background())
	require.NoError(t, err)
	require.Zero(t, got.scanned)
	require.True(t, quiet.feeds[0].closed)

	cfg := baseConfig()
	cfg.idleTimeout = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newTestReplayer(t, cfg, connections{broker: b, streams: &fakeStreams{feeds: map[int32]*fakeStream{0: silent()}}}).replay(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

type fakeBroker struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32][2]int64
	offsetErr     error
	closed        bool
}

func newFakeBroker(offsets map[int32][2]int64) *fakeBroker {
	b := &fakeBroker{offsets: offsets}
	for p := range offsets {
		b.partitions = append(b.partitions, p)
	}
	return b
}

func (b *fakeBroker) Partitions(string) ([]int32, error) {
	return append([]int32(nil), b.partitions...), b.partitionsErr
}

func (b *fakeBroker) GetOffset(_ string, partition int32, at int64) (int64, error) {
	if b.offsetErr != nil {
		return 0, b.offsetErr
	}
	switch at {
	case sarama.OffsetOldest:
		return b.offsets[partition][0], nil
	case sarama.OffsetNewest:
		return b.offsets[partition][1], nil
	}
	return 0, fmt.Errorf("unexpected offset marker %d", at)
}

func (b *fakeBroker) Close() error {
	b.closed = true
	return nil
}

type opened struct {
	partition int32
	offset    int64
}

type fakeStreams struct {
	feeds   map[int32]*fakeStream
	openErr error
	opened  []opened
	closed  bool
}

func (s *fakeStreams) ConsumePartition(_ string, partition int32, offset int64) (partitionStream, error) {
	s.opened = append(s.opened, opened{partition: partition, offset: offset})
	if s.openErr != nil {
		return nil, s.openErr
	}
	feed, ok := s.feeds[partition]
	if !ok {
		return nil, fmt.Errorf("no feed for partition %d", partition)
	}
	return feed, nil
}

func (s *fakeStreams) Close() error {
	s.closed = true
	return nil
}

type fakeStream struct {
	messages chan *sarama.ConsumerMessage
	errs     chan *sarama.ConsumerError
	closed   bool
}

func (s *fakeStream) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *fakeStream) Errors() <-chan *sarama.ConsumerError     { return s.errs }
func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// drained отдаёт сообщения и закрывает канал, как раздел без новых записей.
func drained(msgs ...*sarama.ConsumerMessage) *fakeStream {
	s := &fakeStream{messages: make(chan *sarama.ConsumerMessage, len(msgs)), errs: make(chan *sarama.ConsumerError)}
	for _, m := range msgs {
		s.messages <- m
	}
	close(s.messages)
	return s
}

func silent() *fakeStream {
	return &fakeStream{messages: make(chan *sarama.ConsumerMessage), errs: make(chan *sarama.ConsumerError)}
}

func broken(err error) *fakeStream {
	s := silent()
	s.errs = make(chan *sarama.ConsumerError, 1)
	s.errs <- &sarama.ConsumerError{Err: err}
	return s
}

type sentMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type fakePublisher struct {
	err    error
	sent   []sentMessage
	closed bool
}

func (p *fakePublisher) Publish(topic, key string, value []byte, headers map[string]string) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentMessage{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}
