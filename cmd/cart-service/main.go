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

	"github.com/vladislavdragonenkov/cart/internal/app"
	"github.com/vladislavdragonenkov/cart/internal/version"
)

const (
	envLogLevel              = "CART_LOG_LEVEL"
	envGRPCAddr              = "CART_GRPC_ADDR"
	envHTTPAddr              = "CART_HTTP_ADDR"
	envMetricsAddr           = "CART_METRICS_ADDR"
	envStorageDriver         = "CART_STORAGE_DRIVER"
	envRedisAddr             = "CART_REDIS_ADDR"
	envPostgresDSN           = "CART_POSTGRES_DSN"
	envPostgresAutoMigrate   = "CART_POSTGRES_AUTO_MIGRATE"
	envMaxSessions           = "CART_MAX_SESSIONS"
	envSessionTTL            = "CART_SESSION_TTL"
	envInventoryURL          = "CART_INVENTORY_URL"
	envInventoryTimeout      = "CART_INVENTORY_TIMEOUT"
	envInventoryMaxAttempts  = "CART_INVENTORY_MAX_ATTEMPTS"
	envKafkaBrokers          = "KAFKA_BROKERS"
	envKafkaConsumeRetries   = "CART_KAFKA_CONSUME_RETRIES"
	envOutboxPollInterval    = "CART_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize       = "CART_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts     = "CART_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay      = "CART_OUTBOX_RETRY_DELAY"
	envOutboxRetention       = "CART_OUTBOX_RETENTION"
	envOutboxCleanupInterval = "CART_OUTBOX_CLEANUP_INTERVAL"
	envShutdownTimeout       = "CART_SHUTDOWN_TIMEOUT"
)

type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if raw, ok := lookup(envLogLevel); ok {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).Warnf("invalid %s, using info", envLogLevel)
			return
		}
		log.SetLevel(level)
	}
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения пропускаются, для каждого возвращается предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string
	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
	}

	stringVar := func(key string, target *string) {
		if raw, ok := lookup(key); ok && strings.TrimSpace(raw) != "" {
			*target = strings.TrimSpace(raw)
		}
	}
	boolVar := func(key string, target *bool) {
		raw, ok := lookup(key)
		if !ok {
			return
		}
		value, err := parseBool(raw)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*target = value
	}
	intVar := func(key string, target *int, valid func(int) bool, rule string) {
		raw, ok := lookup(key)
		if !ok {
			return
		}
		value, err := parseInt(raw, valid, rule)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*target = value
	}
	durationVar := func(key string, target *time.Duration, valid func(time.Duration) bool, rule string) {
		raw, ok := lookup(key)
		if !ok {
			return
		}
		value, err := parseDuration(raw, valid, rule)
		if err != nil {
			warn(key, raw, err)
			return
		}
		*target = value
	}
	positive := func(v int) bool { return v > 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	stringVar(envGRPCAddr, &cfg.GRPCAddr)
	stringVar(envHTTPAddr, &cfg.HTTPAddr)
	stringVar(envMetricsAddr, &cfg.MetricsAddr)

	var driver string
	stringVar(envStorageDriver, &driver)
	if driver != "" {
		cfg.StorageDriver = app.StorageDriver(strings.ToLower(driver))
	}
	stringVar(envRedisAddr, &cfg.RedisAddr)
	stringVar(envPostgresDSN, &cfg.PostgresDSN)
	boolVar(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	intVar(envMaxSessions, &cfg.MaxSessions, positive, "must be > 0")
	durationVar(envSessionTTL, &cfg.SessionTTL, positiveDuration, "must be > 0")

	stringVar(envInventoryURL, &cfg.InventoryURL)
	durationVar(envInventoryTimeout, &cfg.InventoryTimeout, positiveDuration, "must be > 0")
	intVar(envInventoryMaxAttempts, &cfg.InventoryMaxAttempts, positive, "must be > 0")

	stringVar(envKafkaBrokers, &cfg.KafkaBrokers)
	intVar(envKafkaConsumeRetries, &cfg.KafkaConsumeRetries, positive, "must be > 0")

	durationVar(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	intVar(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	intVar(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	durationVar(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	durationVar(envOutboxRetention, &cfg.OutboxRetention, nonNegativeDuration, "must be >= 0")
	durationVar(envOutboxCleanupInterval, &cfg.OutboxCleanupInterval, positiveDuration, "must be > 0")
	durationVar(envShutdownTimeout, &cfg.ShutdownTimeout, positiveDuration, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-version" || os.Args[1] == "--version") {
		fmt.Println(version.String())
		return
	}

	setupLogger(os.LookupEnv)
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v, commit, date := version.Info()
	log.WithFields(log.Fields{
		"version":      v,
		"commit":       commit,
		"built_at":     date,
		"grpc_addr":    cfg.GRPCAddr,
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
	}).Info("запускаем CartService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("CartService остановлен")
}
