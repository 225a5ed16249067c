package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

// kvStoreInMemory — простая in-memory реализация PersistentStore.
type kvStoreInMemory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewKVStore возвращает in-memory хранилище для локальной разработки и тестов.
func NewKVStore() *kvStoreInMemory {
	return &kvStoreInMemory{
		items: make(map[string][]byte),
	}
}

// Get возвращает копию значения или ErrKeyNotFound.
func (s *kvStoreInMemory) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.items[key]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return append([]byte(nil), value...), nil
}

// Set сохраняет копию значения, чтобы вызывающий мог переиспользовать буфер.
func (s *kvStoreInMemory) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = append([]byte(nil), value...)
	return nil
}

// Keys возвращает количество сохранённых ключей (используется в тестах).
func (s *kvStoreInMemory) Keys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

var _ domain.PersistentStore = (*kvStoreInMemory)(nil)
