package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pingTimeout = 5 * time.Second

var errStoreClosed = errors.New("postgres store is not initialized")

// PoolConfig — параметры пула соединений database/sql.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig подходит сервису корзины: запросы короткие, по одному ключу.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// OpenOption меняет PoolConfig перед открытием.
type OpenOption func(*PoolConfig)

// WithMaxConns ограничивает пул. Утилитам вроде migrate хватает одного соединения.
func WithMaxConns(open, idle int) OpenOption {
	return func(c *PoolConfig) {
		c.MaxOpenConns = open
		c.MaxIdleConns = min(idle, open)
	}
}

// Store — подключение к базе, где лежат корзины (cart_storage) и outbox (cart_outbox).
type Store struct {
	db *sql.DB
}

// Open подключается через драйвер pgx и сразу проверяет, что база отвечает.
func Open(ctx context.Context, dsn string, options ...OpenOption) (*Store, error) {
	pool := DefaultPoolConfig()
	for _, opt := range options {
		opt(&pool)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB отдаёт пул репозиториям пакета и тестам.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping используется readiness-проверкой.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close закрывает пул. Безопасно для nil.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
