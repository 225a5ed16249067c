package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

const (
	defaultOpTimeout   = 3 * time.Second
	defaultPingTimeout = 5 * time.Second
)

// KVStore — PersistentStore поверх Redis (строковые ключи, SET/GET).
type KVStore struct {
	client    *goredis.Client
	opTimeout time.Duration
}

// Open создаёт клиента по адресу "host:port" или URL вида redis://… и проверяет соединение.
func Open(ctx context.Context, addr string) (*KVStore, error) {
	opts, err := goredis.ParseURL(addr)
	if err != nil {
		opts = &goredis.Options{
			Addr:         addr,
			MinIdleConns: 1,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			PoolTimeout:  4 * time.Second,
		}
	}

	store := NewKVStore(goredis.NewClient(opts))
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return store, nil
}

// NewKVStore оборачивает готовый клиент.
func NewKVStore(client *goredis.Client) *KVStore {
	return &KVStore{client: client, opTimeout: defaultOpTimeout}
}

// Get возвращает значение или ErrKeyNotFound.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	value, err := s.client.Get(opCtx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return value, nil
}

// Set перезаписывает значение без TTL.
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Set(opCtx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Ping проверяет доступность Redis.
func (s *KVStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis store is not initialized")
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	return s.client.Ping(pingCtx).Err()
}

// Close закрывает пул соединений.
func (s *KVStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ domain.PersistentStore = (*KVStore)(nil)
