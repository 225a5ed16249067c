package redis

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

const defaultLocalIntegrationAddr = "localhost:6379"

func openRedisStoreForIntegrationTest(t *testing.T) *KVStore {
	t.Helper()

	addr := strings.TrimSpace(os.Getenv("CART_REDIS_TEST_ADDR"))
	if addr == "" {
		addr = defaultLocalIntegrationAddr
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store, err := Open(ctx, addr)
	if err != nil {
		t.Skipf("redis is not available for integration tests: %v", err)
		return nil
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestKVStore_SetGetIntegration(t *testing.T) {
	store := openRedisStoreForIntegrationTest(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString() + ":" + domain.CartStorageKey

	if _, err := store.Get(ctx, key); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}

	if err := store.Set(ctx, key, []byte(`[]`)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.client.Del(context.Background(), key).Err()
	})

	value, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(value) != "[]" {
		t.Fatalf("unexpected value: %s", value)
	}
}

func TestKVStore_NilPing(t *testing.T) {
	var store *KVStore
	if err := store.Ping(context.Background()); err == nil {
		t.Fatal("expected error for nil store")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close on nil store should be a no-op, got %v", err)
	}
}
