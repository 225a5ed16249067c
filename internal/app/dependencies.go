package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/cart/internal/health"
	"github.com/vladislavdragonenkov/cart/internal/service/inventory"
	"github.com/vladislavdragonenkov/cart/internal/storage/memory"
	"github.com/vladislavdragonenkov/cart/internal/storage/postgres"
	"github.com/vladislavdragonenkov/cart/internal/storage/redis"
)

// runtimeDependencies — хранилища и внешние сервисы, собранные по Config.
type runtimeDependencies struct {
	kv         domain.PersistentStore
	outboxRepo domain.OutboxRepository
	stock      domain.StockService
	catalog    domain.CatalogService
	checkers   map[string]healthcheck.Checker
	closers    []func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close dependency")
		}
	}
}

// initRuntimeDependencies открывает хранилище и клиента склада.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}

	if err := initStorage(ctx, cfg, deps, logger); err != nil {
		deps.close(logger)
		return nil, err
	}
	initInventory(cfg, deps, logger)
	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) error {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		deps.kv = memory.NewKVStore()
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.checkers["storage"] = healthcheck.NewSimpleChecker("storage", func() error { return nil })
		logger.Info("using in-memory storage")
		return nil

	case StorageDriverRedis:
		if cfg.RedisAddr == "" {
			return errors.New("redis address is required")
		}
		store, err := redis.Open(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("open redis: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)
		deps.kv = store
		// Outbox живёт в памяти: Redis хранит только корзины.
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.checkers["storage"] = healthcheck.NewPingChecker("storage", store.Ping)
		logger.WithField("addr", cfg.RedisAddr).Info("using redis storage")
		return nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return errors.New("postgres dsn is required")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				return fmt.Errorf("migrate postgres: %w", err)
			}
		}
		deps.kv = postgres.NewKVStore(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.checkers["storage"] = healthcheck.NewPingChecker("storage", store.Ping)
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres storage")
		return nil

	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// initInventory выбирает склад: HTTP-клиент с retry и circuit breaker
// или встроенный демо-каталог, если адрес не задан.
func initInventory(cfg Config, deps *runtimeDependencies, logger *log.Entry) {
	if cfg.InventoryURL == "" {
		demo := inventory.NewDemoService()
		deps.stock, deps.catalog = demo, demo
		logger.Warn("inventory url is not set, using demo catalog")
		return
	}

	inventoryLogger := logger.WithField("component", "inventory")
	client := inventory.NewClient(cfg.InventoryURL, cfg.InventoryTimeout, inventoryLogger)

	retry := inventory.DefaultRetryConfig()
	if cfg.InventoryMaxAttempts > 0 {
		retry.MaxAttempts = cfg.InventoryMaxAttempts
	}
	var breaker *inventory.CircuitBreaker
	if cfg.InventoryBreakerLimit > 0 {
		breaker = inventory.NewCircuitBreaker(cfg.InventoryBreakerLimit, cfg.InventoryBreakerReset, inventoryLogger)
	}

	resilient := inventory.NewResilient(client, retry, breaker, inventoryLogger)
	deps.stock, deps.catalog = resilient, resilient
	// Недоступный склад не выводит сервис из ready: корзина читается и без него.
	deps.checkers["inventory"] = healthcheck.NewSoftChecker("inventory", client.Ping)
	logger.WithField("url", cfg.InventoryURL).Info("inventory client initialized")
}
