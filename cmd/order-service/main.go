package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-queue/internal/app"
	"github.com/vladislavdragonenkov/coffee-queue/internal/version"
)

const (
	envHTTPAddr            = "CQS_HTTP_ADDR"
	envGRPCAddr            = "CQS_GRPC_ADDR"
	envMetricsAddr         = "CQS_METRICS_ADDR"
	envLogLevel            = "CQS_LOG_LEVEL"
	envLogFormat           = "CQS_LOG_FORMAT"
	envStorageDriver       = "CQS_STORAGE_DRIVER"
	envPostgresDSN         = "CQS_POSTGRES_DSN"
	envPostgresAutoMigrate = "CQS_POSTGRES_AUTO_MIGRATE"
	envSeedFile            = "CQS_SEED_FILE"

	envAvgPrepMinutes     = "CQS_AVG_PREP_MINUTES"
	envHTTPRequestTimeout = "CQS_HTTP_REQUEST_TIMEOUT"
	envHTTPMaxInFlight    = "CQS_HTTP_MAX_IN_FLIGHT"
	envShutdownTimeout    = "CQS_SHUTDOWN_TIMEOUT"

	envNotifySender          = "CQS_NOTIFY_SENDER"
	envNotifyWorkers         = "CQS_NOTIFY_WORKERS"
	envNotifyBuffer          = "CQS_NOTIFY_BUFFER"
	envNotifyConfirmAttempts = "CQS_NOTIFY_CONFIRM_ATTEMPTS"
	envNotifyConfirmDelay    = "CQS_NOTIFY_CONFIRM_DELAY"
	envKafkaBrokers          = "CQS_KAFKA_BROKERS"
	envRabbitMQURL           = "CQS_RABBITMQ_URL"

	envOutboxPollInterval = "CQS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "CQS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "CQS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "CQS_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending   = "CQS_OUTBOX_MAX_PENDING"

	envIdempotencyTTL              = "CQS_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "CQS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "CQS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
)

type envLookup func(string) (string, bool)

// setter разбирает строковое значение переменной и записывает его в поле конфигурации.
type setter func(raw string) error

type binding struct {
	key string
	set setter
}

// bindings перечисляет все переменные окружения сервиса.
func bindings(cfg *app.Config) []binding {
	return []binding{
		{envHTTPAddr, text(&cfg.HTTPAddr, strings.TrimSpace)},
		{envGRPCAddr, text(&cfg.GRPCAddr, strings.TrimSpace)},
		{envMetricsAddr, text(&cfg.MetricsAddr, strings.TrimSpace)},
		{envLogLevel, text(&cfg.LogLevel, normalizeName)},
		{envStorageDriver, text(&cfg.StorageDriver, normalizeName)},
		{envPostgresDSN, text(&cfg.PostgresDSN, strings.TrimSpace)},
		{envPostgresAutoMigrate, boolean(&cfg.PostgresAutoMigrate)},
		{envSeedFile, text(&cfg.SeedFile, strings.TrimSpace)},

		{envAvgPrepMinutes, count(&cfg.AvgPrepMinutes, 1)},
		{envHTTPRequestTimeout, span(&cfg.HTTPRequestTimeout, true)},
		{envHTTPMaxInFlight, count(&cfg.HTTPMaxInFlight, 0)},
		{envShutdownTimeout, span(&cfg.ShutdownTimeout, true)},

		{envNotifySender, text(&cfg.NotifySender, normalizeName)},
		{envNotifyWorkers, count(&cfg.NotifyWorkers, 1)},
		{envNotifyBuffer, count(&cfg.NotifyBuffer, 1)},
		{envNotifyConfirmAttempts, count(&cfg.NotifyConfirmAttempts, 1)},
		{envNotifyConfirmDelay, span(&cfg.NotifyConfirmDelay, false)},
		{envKafkaBrokers, text(&cfg.KafkaBrokers, strings.TrimSpace)},
		{envRabbitMQURL, text(&cfg.RabbitMQURL, strings.TrimSpace)},

		{envOutboxPollInterval, span(&cfg.OutboxPollInterval, true)},
		{envOutboxBatchSize, count(&cfg.OutboxBatchSize, 1)},
		{envOutboxMaxAttempts, count(&cfg.OutboxMaxAttempts, 1)},
		{envOutboxRetryDelay, span(&cfg.OutboxRetryDelay, false)},
		{envOutboxMaxPending, count(&cfg.OutboxMaxPending, 0)},

		{envIdempotencyTTL, span(&cfg.IdempotencyTTL, true)},
		{envIdempotencyCleanupInterval, span(&cfg.IdempotencyCleanupInterval, true)},
		{envIdempotencyCleanupBatchSize, count(&cfg.IdempotencyCleanupBatchSize, 1)},
	}
}

// readConfigFromEnv накладывает переменные окружения на конфигурацию по умолчанию.
// Пустые значения игнорируются. Некорректные не роняют старт: поле сохраняет значение
// по умолчанию, а причина возвращается предупреждением.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	for _, b := range bindings(&cfg) {
		raw, ok := lookup(b.key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if err := b.set(raw); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", b.key, err))
		}
	}
	return cfg, warnings
}

func text(dst *string, normalize func(string) string) setter {
	return func(raw string) error {
		*dst = normalize(raw)
		return nil
	}
}

func boolean(dst *bool) setter {
	return func(raw string) error {
		switch normalizeName(raw) {
		case "1", "true", "yes", "y", "on":
			*dst = true
		case "0", "false", "no", "n", "off":
			*dst = false
		default:
			return fmt.Errorf("%q is not a boolean", raw)
		}
		return nil
	}
}

// count принимает целые не меньше floor.
func count(dst *int, floor int) setter {
	return func(raw string) error {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%q is not an integer", raw)
		}
		if v < floor {
			return fmt.Errorf("%d is below %d", v, floor)
		}
		*dst = v
		return nil
	}
}

// span принимает длительности; strict запрещает ноль.
func span(dst *time.Duration, strict bool) setter {
	return func(raw string) error {
		v, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%q is not a duration", raw)
		}
		if v < 0 || (strict && v == 0) {
			return fmt.Errorf("%s is out of range", v)
		}
		*dst = v
		return nil
	}
}

func normalizeName(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// setupLogger настраивает стандартный логгер logrus: текст с полным временем
// или JSON при CQS_LOG_FORMAT=json. Неизвестный уровень заменяется на info.
func setupLogger(level, format string) {
	if err := configureLogger(log.StandardLogger(), level, format); err != nil {
		log.WithError(err).Warn("invalid log level, using info")
	}
}

func configureLogger(logger *log.Logger, level, format string) error {
	switch normalizeName(format) {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		logger.SetLevel(log.InfoLevel)
		return err
	}
	logger.SetLevel(parsed)
	return nil
}

func main() {
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	format, _ := os.LookupEnv(envLogFormat)
	setupLogger(cfg.LogLevel, format)
	for _, warning := range warnings {
		log.WithField("config", "env").Warn(warning + ", using default")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":       version.String(),
		"http_addr":     cfg.HTTPAddr,
		"grpc_addr":     cfg.GRPCAddr,
		"metrics_addr":  cfg.MetricsAddr,
		"storage":       cfg.StorageDriver,
		"notify_sender": cfg.NotifySender,
	}).Info("запускаем coffee-queue")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("coffee-queue остановлен")
}
