package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/lms/internal/domain"
)

// StorageDriver определяет backend хранения сущностей.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска сервиса сущностей.
// Все поля скалярные, чтобы конфигурации можно было сравнивать.
type Config struct {
	Kinds       string `env:"LMS_KINDS"`
	HTTPAddr    string `env:"LMS_HTTP_ADDR"`
	GRPCAddr    string `env:"LMS_GRPC_ADDR"`
	MetricsAddr string `env:"LMS_METRICS_ADDR"`

	StorageDriver       StorageDriver `env:"LMS_STORAGE_DRIVER"`
	PostgresDSN         string        `env:"LMS_POSTGRES_DSN"`
	PostgresAutoMigrate bool          `env:"LMS_POSTGRES_AUTO_MIGRATE"`

	KafkaBrokers       string        `env:"LMS_KAFKA_BROKERS"`
	KafkaGroupID       string        `env:"LMS_KAFKA_GROUP_ID"`
	TopicPrefix        string        `env:"LMS_TOPIC_PREFIX"`
	ConsumerMaxRetries int           `env:"LMS_CONSUMER_MAX_RETRIES"`
	ConsumerRetryDelay time.Duration `env:"LMS_CONSUMER_RETRY_DELAY"`

	RedisAddr     string        `env:"LMS_REDIS_ADDR"`
	RedisPassword string        `env:"LMS_REDIS_PASSWORD"`
	RedisDB       int           `env:"LMS_REDIS_DB"`
	CacheTTL      time.Duration `env:"LMS_CACHE_TTL"`

	MutationMaxAttempts int           `env:"LMS_MUTATION_MAX_ATTEMPTS"`
	MutationRetryDelay  time.Duration `env:"LMS_MUTATION_RETRY_DELAY"`

	PoolWorkers   int `env:"LMS_POOL_WORKERS"`
	PoolQueueSize int `env:"LMS_POOL_QUEUE_SIZE"`

	OutboxPollInterval time.Duration `env:"LMS_OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `env:"LMS_OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `env:"LMS_OUTBOX_MAX_ATTEMPTS"`
	OutboxRetryDelay   time.Duration `env:"LMS_OUTBOX_RETRY_DELAY"`

	InboxTTL              time.Duration `env:"LMS_INBOX_TTL"`
	InboxCleanupInterval  time.Duration `env:"LMS_INBOX_CLEANUP_INTERVAL"`
	InboxCleanupBatchSize int           `env:"LMS_INBOX_CLEANUP_BATCH_SIZE"`

	OTLPEndpoint string `env:"LMS_OTLP_ENDPOINT"`
	LogLevel     string `env:"LMS_LOG_LEVEL"`
	LogFormat    string `env:"LMS_LOG_FORMAT"`
}

// DefaultConfig возвращает базовые настройки: все виды, memory storage, без Kafka и Redis.
func DefaultConfig() Config {
	return Config{
		Kinds:       "cargo,order,store,route",
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaGroupID:       "lms-entity-service",
		TopicPrefix:        "lms",
		ConsumerMaxRetries: 3,
		ConsumerRetryDelay: 200 * time.Millisecond,

		CacheTTL: 10 * time.Minute,

		MutationMaxAttempts: 5,
		MutationRetryDelay:  100 * time.Millisecond,

		PoolWorkers:   8,
		PoolQueueSize: 64,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		InboxTTL:              24 * time.Hour,
		InboxCleanupInterval:  10 * time.Minute,
		InboxCleanupBatchSize: 500,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfig читает необязательные .env-файлы и переменные окружения поверх DefaultConfig.
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	if _, err := c.ParsedKinds(); err != nil {
		return err
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("LMS_POSTGRES_DSN is required for postgres storage")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	return nil
}

// ParsedKinds возвращает обслуживаемые виды сущностей без повторов.
func (c Config) ParsedKinds() ([]domain.Kind, error) {
	seen := make(map[domain.Kind]bool)
	var kinds []domain.Kind
	for _, part := range strings.Split(c.Kinds, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, err := domain.ParseKind(part)
		if err != nil {
			return nil, err
		}
		if !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}
	if len(kinds) == 0 {
		return nil, errors.New("LMS_KINDS must name at least one entity kind")
	}
	return kinds, nil
}
