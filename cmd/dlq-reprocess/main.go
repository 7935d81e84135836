// Команда dlq-reprocess перечитывает DLQ и возвращает сообщения в рабочие топики.
// По умолчанию работает в режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-queue/internal/messaging/kafka"
)

const (
	envKafkaBrokers = "CQS_KAFKA_BROKERS"
	replayClientID  = kafka.DefaultClientID + "-dlq-replay"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	tail        bool
	idleTimeout time.Duration
	only        filter
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := readConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig(args []string, getenv func(string) string) (config, error) {
	cfg := config{}
	var brokers string

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers, falls back to "+envKafkaBrokers)
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to read")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicNotifications, "destination for outbox dead letters")
	fs.IntVar(&cfg.limit, "limit", 100, "max messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish replays instead of printing them")
	fs.BoolVar(&cfg.tail, "from-newest", false, "scan only the last -limit messages of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", 2*time.Second, "stop reading a partition after this much silence")
	fs.StringVar(&cfg.only.eventPrefix, "event-type", "", "replay only events whose type starts with this prefix")
	fs.StringVar(&cfg.only.orderID, "order-id", "", "replay only events of this order")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv(envKafkaBrokers)
	}
	cfg.brokers = parseBrokers(brokers)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.only = cfg.only.normalize()

	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("no kafka brokers: pass -brokers or set %s", envKafkaBrokers)
	}
	if cfg.sourceTopic == "" || cfg.targetTopic == "" {
		return config{}, errors.New("source and target topics must not be empty")
	}
	if cfg.limit < 1 {
		return config{}, fmt.Errorf("limit must be positive, got %d", cfg.limit)
	}
	if cfg.idleTimeout <= 0 {
		return config{}, fmt.Errorf("idle-timeout must be positive, got %s", cfg.idleTimeout)
	}
	return cfg, nil
}

func parseBrokers(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' })
	brokers := fields[:0]
	for _, field := range fields {
		if field = strings.TrimSpace(field); field != "" {
			brokers = append(brokers, field)
		}
	}
	if len(brokers) == 0 {
		return nil
	}
	return brokers
}

// connections — всё, что команде нужно от Kafka. Закрывается одним вызовом.
type connections struct {
	broker  broker
	streams streamOpener
	out     publisher
}

func (c connections) close() {
	if c.out != nil {
		_ = c.out.Close()
	}
	if c.streams != nil {
		_ = c.streams.Close()
	}
	if c.broker != nil {
		_ = c.broker.Close()
	}
}

// dial подменяется в тестах.
var dial = func(cfg config) (connections, error) {
	sc := sarama.NewConfig()
	sc.ClientID = replayClientID
	sc.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, sc)
	if err != nil {
		return connections{}, fmt.Errorf("connect to kafka: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return connections{}, fmt.Errorf("create dlq consumer: %w", err)
	}
	conns := connections{broker: client, streams: saramaStreams{consumer}}
	if !cfg.execute {
		return conns, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers, replayClientID)
	if err != nil {
		conns.close()
		return connections{}, err
	}
	conns.out = producer
	return conns, nil
}

func run(ctx context.Context, cfg config) error {
	logger := log.WithFields(log.Fields{
		"component": "dlq-reprocess",
		"source":    cfg.sourceTopic,
		"execute":   cfg.execute,
	})

	conns, err := dial(cfg)
	if err != nil {
		return err
	}
	defer conns.close()

	r, err := newReplayer(cfg, conns, logger)
	if err != nil {
		return err
	}
	got, err := r.replay(ctx)
	logger.WithFields(log.Fields{
		"scanned":  got.scanned,
		"replayed": got.replayed,
		"filtered": got.filtered,
		"skipped":  got.skipped,
	}).Info("dlq replay finished")
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
