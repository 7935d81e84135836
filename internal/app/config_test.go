package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	require.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	require.Equal(t, NotifySenderLog, cfg.NotifySender)
	require.True(t, cfg.PostgresAutoMigrate)
	require.Equal(t, 5, cfg.AvgPrepMinutes)
	require.Equal(t, 3, cfg.NotifyConfirmAttempts)
	require.Positive(t, cfg.OutboxBatchSize)
	require.Positive(t, cfg.IdempotencyCleanupBatchSize)
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]struct {
		mutate  func(*Config)
		message string
	}{
		"postgres without dsn": {
			mutate:  func(c *Config) { c.StorageDriver = StorageDriverPostgres },
			message: "postgres dsn is required",
		},
		"unknown storage": {
			mutate:  func(c *Config) { c.StorageDriver = "redis" },
			message: "unsupported storage driver",
		},
		"kafka without brokers": {
			mutate:  func(c *Config) { c.NotifySender = NotifySenderKafka; c.KafkaBrokers = " , " },
			message: "kafka brokers are required",
		},
		"outbox without brokers": {
			mutate:  func(c *Config) { c.NotifySender = NotifySenderOutbox },
			message: "kafka brokers are required for outbox",
		},
		"rabbitmq without url": {
			mutate:  func(c *Config) { c.NotifySender = NotifySenderRabbitMQ },
			message: "rabbitmq url is required",
		},
		"unknown sender": {
			mutate:  func(c *Config) { c.NotifySender = "sms" },
			message: "unsupported notification sender",
		},
		"bad log level": {
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			message: "log level",
		},
		"zero workers": {
			mutate:  func(c *Config) { c.NotifyWorkers = 0 },
			message: "notification workers",
		},
		"zero prep minutes": {
			mutate:  func(c *Config) { c.AvgPrepMinutes = 0 },
			message: "average prep minutes",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tc.message)
		})
	}
}

func TestConfig_ValidateReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = StorageDriverPostgres
	cfg.NotifySender = NotifySenderRabbitMQ

	err := cfg.Validate()
	require.ErrorContains(t, err, "postgres dsn")
	require.ErrorContains(t, err, "rabbitmq url")
}

func TestConfig_Brokers(t *testing.T) {
	cfg := Config{KafkaBrokers: " kafka-1:9092, ,kafka-2:9092 "}
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers())
	require.Empty(t, Config{}.Brokers())
}

func TestConfig_Comparable(t *testing.T) {
	require.Equal(t, DefaultConfig(), DefaultConfig())

	modified := DefaultConfig()
	modified.HTTPAddr = ":8081"
	require.NotEqual(t, DefaultConfig(), modified)
}
