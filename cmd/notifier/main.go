package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-queue/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/coffee-queue/internal/metrics"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/notification"
	"github.com/vladislavdragonenkov/coffee-queue/internal/version"
)

const (
	envKafkaBrokers = "CQS_KAFKA_BROKERS"
	envLogLevel     = "CQS_LOG_LEVEL"

	defaultGroupID    = "cqs-notifier"
	defaultMaxRetries = 3
	defaultRetryDelay = 500 * time.Millisecond
	defaultDedupSize  = 10000
	shutdownTimeout   = 5 * time.Second
)

type config struct {
	brokers     []string
	groupID     string
	topic       string
	maxRetries  int
	retryDelay  time.Duration
	dedupSize   int
	metricsAddr string
	logLevel    string
}

// consumerRunner реализуется *kafka.Consumer.
type consumerRunner interface {
	Start(ctx context.Context) error
	Stop() error
}

var newConsumerRunner = func(cfg config, handler kafka.MessageHandler, logger *log.Entry) (consumerRunner, io.Closer, error) {
	producer, err := kafka.NewProducer(cfg.brokers, kafka.DefaultClientID+"-notifier")
	if err != nil {
		return nil, nil, err
	}
	consumer, err := kafka.NewConsumer(cfg.brokers, cfg.groupID, []string{cfg.topic}, handler,
		kafka.WithConsumerLogger(logger),
		kafka.WithDLQ(producer),
		kafka.WithRetries(cfg.maxRetries, cfg.retryDelay),
	)
	if err != nil {
		_ = producer.Close()
		return nil, nil, err
	}
	return consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := readConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}
	if level, err := log.ParseLevel(cfg.logLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("version", version.String()).Info("starting notifier")
	if err := run(ctx, cfg, prometheus.DefaultRegisterer); err != nil {
		stop()
		fail("notifier failed: %v", err)
	}
}

func readConfig(args []string, getenv func(string) string) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	fs := flag.NewFlagSet("notifier", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&cfg.groupID, "group", defaultGroupID, "consumer group id")
	fs.StringVar(&cfg.topic, "topic", kafka.TopicNotifications, "notifications topic")
	fs.IntVar(&cfg.maxRetries, "max-retries", defaultMaxRetries, "delivery attempts before a message goes to DLQ")
	fs.DurationVar(&cfg.retryDelay, "retry-delay", defaultRetryDelay, "pause between delivery attempts")
	fs.IntVar(&cfg.dedupSize, "dedup-size", defaultDedupSize, "number of recent notification ids remembered for deduplication")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "optional address for /metrics")
	fs.StringVar(&cfg.logLevel, "log-level", "", "log level (fallback: "+envLogLevel+", default info)")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv(envKafkaBrokers)
	}
	cfg.brokers = parseBrokers(brokersRaw)
	cfg.logLevel = strings.ToLower(strings.TrimSpace(cfg.logLevel))
	if cfg.logLevel == "" {
		cfg.logLevel = strings.ToLower(strings.TrimSpace(getenv(envLogLevel)))
	}
	if cfg.logLevel == "" {
		cfg.logLevel = "info"
	}

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case strings.TrimSpace(cfg.groupID) == "":
		return config{}, errors.New("group is required")
	case strings.TrimSpace(cfg.topic) == "":
		return config{}, errors.New("topic is required")
	case cfg.maxRetries <= 0:
		return config{}, errors.New("max-retries must be > 0")
	case cfg.retryDelay < 0:
		return config{}, errors.New("retry-delay must be >= 0")
	case cfg.dedupSize <= 0:
		return config{}, errors.New("dedup-size must be > 0")
	}
	if _, err := log.ParseLevel(cfg.logLevel); err != nil {
		return config{}, fmt.Errorf("invalid log level %q", cfg.logLevel)
	}
	return cfg, nil
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// run читает уведомления до отмены ctx и доставляет их клиентам.
func run(ctx context.Context, cfg config, registerer prometheus.Registerer) error {
	logger := log.WithField("component", "notifier")

	d, err := newDeliverer(
		notification.NewLogSender(log.WithField("component", "customer-delivery")),
		metrics.NewNotificationMetricsWithRegisterer(registerer),
		cfg.dedupSize,
		logger,
	)
	if err != nil {
		return err
	}

	consumer, producer, err := newConsumerRunner(cfg, d.handle, logger)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer func() {
		if producer != nil {
			if err := producer.Close(); err != nil {
				logger.WithError(err).Warn("failed to close dlq producer")
			}
		}
	}()

	var metricsServer *http.Server
	if cfg.metricsAddr != "" {
		ln, err := net.Listen("tcp", cfg.metricsAddr)
		if err != nil {
			return fmt.Errorf("listen metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics server failed")
			}
		}()
		logger.WithField("addr", ln.Addr().String()).Info("metrics server started")
	}

	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	logger.WithFields(log.Fields{
		"topic": cfg.topic,
		"group": cfg.groupID,
	}).Info("notifier started")

	<-ctx.Done()
	logger.Info("shutting down notifier")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("metrics server shutdown failed")
		}
	}
	return consumer.Stop()
}

// deliverer выполняет последнюю доставку уведомления клиенту.
// Kafka доставляет сообщения at-least-once, поэтому недавние id запоминаются.
type deliverer struct {
	sender  notification.Sender
	metrics *metrics.NotificationMetrics
	seen    *lru.Cache[string, struct{}]
	logger  *log.Entry
}

func newDeliverer(sender notification.Sender, m *metrics.NotificationMetrics, dedupSize int, logger *log.Entry) (*deliverer, error) {
	seen, err := lru.New[string, struct{}](dedupSize)
	if err != nil {
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}
	if logger == nil {
		logger = log.WithField("component", "notifier")
	}
	return &deliverer{sender: sender, metrics: m, seen: seen, logger: logger}, nil
}

func (d *deliverer) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	msg, err := kafka.ParseNotification(message)
	if err != nil {
		// Повтор не исправит битое сообщение.
		return kafka.Permanent(err)
	}

	entry := d.logger.WithFields(log.Fields{
		"notification_id": msg.ID,
		"order_id":        msg.OrderID,
		"kind":            msg.Kind,
	})
	if d.seen.Contains(msg.ID) {
		entry.Debug("duplicate notification skipped")
		d.metrics.RecordResult(string(msg.Kind), "duplicate")
		return nil
	}

	d.metrics.RecordAttempt(string(msg.Kind))
	if err := d.sender.Send(ctx, msg); err != nil {
		d.metrics.RecordResult(string(msg.Kind), "failed")
		return fmt.Errorf("deliver notification %s: %w", msg.ID, err)
	}
	d.metrics.RecordResult(string(msg.Kind), "sent")
	d.seen.Add(msg.ID, struct{}{})
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
