package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// StorageDriver выбирает backend PersistentStore.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverRedis    StorageDriver = "redis"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска сервиса корзины.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	RedisAddr           string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// MaxSessions — сколько корзин держать в памяти; остальные читаются из storage по запросу.
	MaxSessions int
	SessionTTL  time.Duration

	// InventoryURL пустой — используется встроенный демо-каталог.
	InventoryURL          string
	InventoryTimeout      time.Duration
	InventoryMaxAttempts  int
	InventoryBreakerLimit int
	InventoryBreakerReset time.Duration

	// KafkaBrokers — список через запятую; пустая строка отключает Kafka.
	KafkaBrokers        string
	KafkaConsumeRetries int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxRetention — сколько хранить опубликованные события до очистки.
	OutboxRetention       time.Duration
	OutboxCleanupInterval time.Duration

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:              ":50051",
		HTTPAddr:              ":8080",
		MetricsAddr:           ":9090",
		StorageDriver:         StorageDriverMemory,
		RedisAddr:             "localhost:6379",
		PostgresAutoMigrate:   true,
		MaxSessions:           10000,
		SessionTTL:            30 * time.Minute,
		InventoryTimeout:      2 * time.Second,
		InventoryMaxAttempts:  3,
		InventoryBreakerLimit: 5,
		InventoryBreakerReset: 10 * time.Second,
		KafkaConsumeRetries:   3,
		OutboxPollInterval:    time.Second,
		OutboxBatchSize:       100,
		OutboxMaxAttempts:     5,
		OutboxRetryDelay:      time.Second,
		OutboxRetention:       24 * time.Hour,
		OutboxCleanupInterval: 10 * time.Minute,
		ShutdownTimeout:       5 * time.Second,
	}
}

// Validate проверяет согласованность настроек до старта.
func (c Config) Validate() error {
	var errs []error
	if c.GRPCAddr == "" && c.HTTPAddr == "" {
		errs = append(errs, errors.New("at least one of grpc or http address is required"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for redis storage"))
		}
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.MaxSessions <= 0 {
		errs = append(errs, errors.New("max sessions must be positive"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	if c.InventoryURL != "" && c.InventoryMaxAttempts <= 0 {
		errs = append(errs, errors.New("inventory max attempts must be positive"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be positive"))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be positive"))
	}
	if c.OutboxRetention < 0 {
		errs = append(errs, errors.New("outbox retention must be >= 0"))
	}
	return errors.Join(errs...)
}

// Brokers разбирает KafkaBrokers, отбрасывая пустые элементы и пробелы.
func (c Config) Brokers() []string {
	if strings.TrimSpace(c.KafkaBrokers) == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, part := range parts {
		if broker := strings.TrimSpace(part); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}
