// Package storage содержит общие обёртки над реализациями PersistentStore.
package storage

import (
	"context"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

// prefixedStore добавляет префикс ко всем ключам нижележащего хранилища.
type prefixedStore struct {
	backend domain.PersistentStore
	prefix  string
}

// Prefixed возвращает хранилище, в котором ключ key хранится как prefix+key.
// Так одна и та же константа CartStorageKey изолируется по сессиям.
func Prefixed(backend domain.PersistentStore, prefix string) domain.PersistentStore {
	if prefix == "" {
		return backend
	}
	return &prefixedStore{backend: backend, prefix: prefix}
}

// SessionPrefix возвращает префикс ключей для сессии.
func SessionPrefix(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	return "session:" + sessionID + ":"
}

func (s *prefixedStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.backend.Get(ctx, s.prefix+key)
}

func (s *prefixedStore) Set(ctx context.Context, key string, value []byte) error {
	return s.backend.Set(ctx, s.prefix+key, value)
}
