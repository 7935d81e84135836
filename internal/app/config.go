package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

const (
	NotifySenderLog      = "log"
	NotifySenderKafka    = "kafka"
	NotifySenderRabbitMQ = "rabbitmq"
	NotifySenderOutbox   = "outbox"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string
	LogLevel    string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// SeedFile — YAML с клиентами, кофейнями и меню. Пустое значение отключает загрузку.
	SeedFile string

	AvgPrepMinutes     int
	HTTPRequestTimeout time.Duration
	HTTPMaxInFlight    int
	ShutdownTimeout    time.Duration

	NotifySender          string
	NotifyWorkers         int
	NotifyBuffer          int
	NotifyConfirmAttempts int
	NotifyConfirmDelay    time.Duration
	// KafkaBrokers — адреса брокеров через запятую.
	KafkaBrokers string
	RabbitMQURL  string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending — порог backlog, после которого /healthz сообщает degraded. 0 отключает проверку.
	OutboxMaxPending int

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		AvgPrepMinutes:     5,
		HTTPRequestTimeout: 10 * time.Second,
		HTTPMaxInFlight:    0,
		ShutdownTimeout:    10 * time.Second,

		NotifySender:          NotifySenderLog,
		NotifyWorkers:         4,
		NotifyBuffer:          1024,
		NotifyConfirmAttempts: 3,
		NotifyConfirmDelay:    time.Second,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   time.Second,
		OutboxMaxPending:   1000,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// Validate проверяет согласованность настроек и возвращает все найденные проблемы сразу.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.NotifySender {
	case NotifySenderLog:
	case NotifySenderKafka, NotifySenderOutbox:
		if len(c.Brokers()) == 0 {
			errs = append(errs, fmt.Errorf("kafka brokers are required for %s notifications", c.NotifySender))
		}
	case NotifySenderRabbitMQ:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			errs = append(errs, errors.New("rabbitmq url is required for rabbitmq notifications"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported notification sender %q", c.NotifySender))
	}

	if c.AvgPrepMinutes <= 0 {
		errs = append(errs, errors.New("average prep minutes must be > 0"))
	}
	if c.NotifyWorkers <= 0 {
		errs = append(errs, errors.New("notification workers must be > 0"))
	}
	if c.NotifyBuffer <= 0 {
		errs = append(errs, errors.New("notification buffer must be > 0"))
	}
	if c.NotifyConfirmAttempts <= 0 {
		errs = append(errs, errors.New("confirmation attempts must be > 0"))
	}
	if c.HTTPMaxInFlight < 0 {
		errs = append(errs, errors.New("http max in-flight must be >= 0"))
	}

	return errors.Join(errs...)
}

// Brokers разбирает KafkaBrokers в список адресов.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
