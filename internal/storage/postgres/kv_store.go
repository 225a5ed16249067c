package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

const opTimeout = 5 * time.Second

type kvStore struct {
	db *sql.DB
}

// NewKVStore создаёт PostgreSQL-реализацию PersistentStore (таблица cart_storage).
func NewKVStore(store *Store) domain.PersistentStore {
	return &kvStore{db: store.DB()}
}

func (s *kvStore) Get(ctx context.Context, key string) ([]byte, error) {
	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var value []byte
	err := s.db.QueryRowContext(queryCtx, `
		SELECT value
		FROM cart_storage
		WHERE key = $1
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cart storage key %q: %w", key, err)
	}

	return value, nil
}

func (s *kvStore) Set(ctx context.Context, key string, value []byte) error {
	execCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(execCtx, `
		INSERT INTO cart_storage (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    updated_at = EXCLUDED.updated_at
	`, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("set cart storage key %q: %w", key, err)
	}

	return nil
}

var _ domain.PersistentStore = (*kvStore)(nil)
