package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/cart/internal/domain"
	"github.com/vladislavdragonenkov/cart/internal/storage/memory"
)

func TestKVStore_GetMissing(t *testing.T) {
	store := memory.NewKVStore()

	_, err := store.Get(context.Background(), domain.CartStorageKey)
	if !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestKVStore_SetGet(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKVStore()

	value := []byte(`[{"id":1,"amount":1}]`)
	if err := store.Set(ctx, domain.CartStorageKey, value); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	// Буфер вызывающего не должен влиять на сохранённое значение.
	value[0] = 'X'

	stored, err := store.Get(ctx, domain.CartStorageKey)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(stored) != `[{"id":1,"amount":1}]` {
		t.Fatalf("unexpected stored value: %s", stored)
	}
	if store.Keys() != 1 {
		t.Fatalf("expected 1 key, got %d", store.Keys())
	}
}

func TestKVStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKVStore()

	if err := store.Set(ctx, "k", []byte("1")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, "k", []byte("2")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	stored, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(stored) != "2" {
		t.Fatalf("expected overwritten value, got %s", stored)
	}
}
