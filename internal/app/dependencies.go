package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-queue/internal/catalog"
	"github.com/vladislavdragonenkov/coffee-queue/internal/domain"
	"github.com/vladislavdragonenkov/coffee-queue/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/coffee-queue/internal/messaging/rabbitmq"
	"github.com/vladislavdragonenkov/coffee-queue/internal/service/notification"
	"github.com/vladislavdragonenkov/coffee-queue/internal/storage/memory"
	"github.com/vladislavdragonenkov/coffee-queue/internal/storage/postgres"
)

// storageDeps — хранилища выбранного драйвера.
type storageDeps struct {
	tx          domain.TxManager
	outbox      domain.OutboxRepository
	timeline    domain.TimelineRepository
	idempotency domain.IdempotencyRepository
	ping        func(ctx context.Context) error
	closeFn     func() error
}

// deliveryDeps — канал доставки уведомлений и, для outbox, ретрансляция в Kafka.
type deliveryDeps struct {
	sender notification.Sender
	// relay и dlq заданы только для NotifySenderOutbox.
	relay   domain.OutboxPublisher
	dlq     domain.OutboxPublisher
	closeFn func() error
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*storageDeps, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return &storageDeps{
			tx:          store,
			outbox:      memory.NewOutboxRepository(),
			timeline:    memory.NewTimelineRepository(),
			idempotency: memory.NewIdempotencyRepository(),
			ping:        store.Ping,
			closeFn:     func() error { return nil },
		}, nil
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithLogger(logger.WithField("subsystem", "postgres")))
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			applied, err := store.Migrator(postgres.WithMigratorLogger(logger.WithField("subsystem", "migrator"))).Up(ctx, 0)
			if err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.WithField("applied", applied).Info("postgres schema is up to date")
		}
		logger.Info("using postgres storage")
		return &storageDeps{
			tx:          store,
			outbox:      postgres.NewOutboxRepository(store),
			timeline:    postgres.NewTimelineRepository(store),
			idempotency: postgres.NewIdempotencyRepository(store),
			ping:        store.Ping,
			closeFn:     store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// seedCatalog загружает справочники из YAML, если файл задан.
func seedCatalog(ctx context.Context, path string, tx domain.TxManager, logger *log.Entry) error {
	if path == "" {
		return nil
	}
	c, err := catalog.LoadFile(path)
	if err != nil {
		return err
	}
	if err := catalog.Seed(ctx, tx, c); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	logger.WithFields(log.Fields{
		"file":       path,
		"customers":  len(c.Customers),
		"shops":      len(c.Shops),
		"menu_items": len(c.MenuItems),
	}).Info("catalog seeded")
	return nil
}

func initDelivery(ctx context.Context, cfg Config, outbox domain.OutboxRepository, logger *log.Entry) (*deliveryDeps, error) {
	noop := func() error { return nil }

	switch cfg.NotifySender {
	case NotifySenderLog:
		return &deliveryDeps{
			sender:  notification.NewLogSender(logger.WithField("subsystem", "notifications")),
			closeFn: noop,
		}, nil
	case NotifySenderKafka:
		producer, err := kafka.NewProducer(cfg.Brokers(), kafka.DefaultClientID)
		if err != nil {
			return nil, err
		}
		logger.WithField("brokers", cfg.Brokers()).Info("kafka notification publisher initialized")
		return &deliveryDeps{
			sender:  kafka.NewNotificationPublisher(producer, kafka.TopicNotifications),
			closeFn: producer.Close,
		}, nil
	case NotifySenderOutbox:
		producer, err := kafka.NewProducer(cfg.Brokers(), kafka.DefaultClientID)
		if err != nil {
			return nil, err
		}
		logger.WithField("brokers", cfg.Brokers()).Info("outbox relay to kafka initialized")
		return &deliveryDeps{
			sender:  notification.NewOutboxSender(outbox),
			relay:   kafka.NewOutboxPublisher(producer, kafka.TopicNotifications),
			dlq:     kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
			closeFn: producer.Close,
		}, nil
	case NotifySenderRabbitMQ:
		publisher, err := rabbitmq.Dial(ctx, cfg.RabbitMQURL, logger.WithField("subsystem", "rabbitmq"))
		if err != nil {
			return nil, err
		}
		return &deliveryDeps{sender: publisher, closeFn: publisher.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported notification sender %q", cfg.NotifySender)
	}
}

// closeAll вызывает closers в обратном порядке и собирает ошибки.
func closeAll(logger *log.Entry, closers ...func() error) {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if closers[i] == nil {
			continue
		}
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.WithError(err).Warn("failed to release resources")
	}
}
