package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// broker — метаданные топика. Реализуется sarama.Client.
type broker interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Close() error
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type streamOpener interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

// publisher реализуется *kafka.Producer.
type publisher interface {
	Publish(topic, key string, value []byte, headers map[string]string) error
	Close() error
}

type saramaStreams struct {
	consumer sarama.Consumer
}

func (s saramaStreams) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

func (s saramaStreams) Close() error { return s.consumer.Close() }

// window — диапазон смещений [from, to) одного раздела, зафиксированный на старте.
type window struct {
	partition int32
	from, to  int64
}

type tally struct {
	scanned  int
	replayed int
	filtered int
	skipped  int
}

func (t *tally) merge(o tally) {
	t.scanned += o.scanned
	t.replayed += o.replayed
	t.filtered += o.filtered
	t.skipped += o.skipped
}

type replayer struct {
	cfg     config
	broker  broker
	streams streamOpener
	out     publisher
	log     *log.Entry
}

func newReplayer(cfg config, conns connections, logger *log.Entry) (*replayer, error) {
	if conns.broker == nil || conns.streams == nil {
		return nil, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && conns.out == nil {
		return nil, errors.New("execute mode needs a producer")
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &replayer{cfg: cfg, broker: conns.broker, streams: conns.streams, out: conns.out, log: logger}, nil
}

// replay обходит разделы по возрастанию номера, пока не исчерпан лимит сканирования.
func (r *replayer) replay(ctx context.Context) (tally, error) {
	var total tally

	partitions, err := r.broker.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.log.Warn("dlq topic has no partitions")
		return total, nil
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		budget := r.cfg.limit - total.scanned
		if budget <= 0 {
			break
		}
		w, err := r.window(partition, budget)
		if err != nil {
			return total, err
		}
		if w.from >= w.to {
			continue
		}
		got, err := r.scan(ctx, w, budget)
		total.merge(got)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *replayer) window(partition int32, budget int) (window, error) {
	oldest, err := r.broker.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return window{}, fmt.Errorf("partition %d: oldest offset: %w", partition, err)
	}
	newest, err := r.broker.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return window{}, fmt.Errorf("partition %d: newest offset: %w", partition, err)
	}
	w := window{partition: partition, from: oldest, to: newest}
	if r.cfg.tail {
		w.from = max(newest-int64(budget), oldest)
	}
	return w, nil
}

// scan читает раздел до конца окна, исчерпания бюджета или тишины дольше idleTimeout.
func (r *replayer) scan(ctx context.Context, w window, budget int) (tally, error) {
	var got tally

	stream, err := r.streams.ConsumePartition(r.cfg.sourceTopic, w.partition, w.from)
	if err != nil {
		return got, fmt.Errorf("partition %d: open stream: %w", w.partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for got.scanned < budget {
		select {
		case <-ctx.Done():
			return got, ctx.Err()
		case <-idle.C:
			r.log.WithField("partition", w.partition).Debug("partition went quiet")
			return got, nil
		case cerr := <-stream.Errors():
			if cerr != nil {
				return got, fmt.Errorf("partition %d: %w", w.partition, cerr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil || msg.Offset >= w.to {
				return got, nil
			}
			idle.Reset(r.cfg.idleTimeout)
			got.scanned++
			if err := r.handle(msg, &got); err != nil {
				return got, err
			}
			if msg.Offset+1 >= w.to {
				return got, nil
			}
		}
	}
	return got, nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage, got *tally) error {
	entry := r.log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	l, err := decodeLetter(msg, r.cfg.targetTopic)
	switch {
	case errors.Is(err, errForeign):
		got.skipped++
		return nil
	case err != nil:
		got.skipped++
		entry.WithError(err).Warn("skip malformed dlq message")
		return nil
	case !r.cfg.only.match(l):
		got.filtered++
		return nil
	}

	entry = entry.WithFields(log.Fields{
		"target_topic": l.topic,
		"key":          l.key,
		"event_type":   l.eventType,
		"attempts":     l.attempts,
		"reason":       l.reason,
	})
	if !r.cfg.execute {
		entry.Info("replay candidate")
		got.replayed++
		return nil
	}
	if err := r.out.Publish(l.topic, l.key, l.value, l.headers(msg)); err != nil {
		return fmt.Errorf("republish offset %d: %w", msg.Offset, err)
	}
	entry.Debug("replayed")
	got.replayed++
	return nil
}
