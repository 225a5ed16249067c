package cart

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cart/internal/domain"
	"github.com/vladislavdragonenkov/cart/internal/service/inventory"
	"github.com/vladislavdragonenkov/cart/internal/storage"
	"github.com/vladislavdragonenkov/cart/internal/storage/memory"
)

func TestRegistry_IssuesSessionID(t *testing.T) {
	inv := inventory.NewDemoService()
	registry := NewRegistry(memory.NewKVStore(), inv, inv)

	store, sessionID, err := registry.Session(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, store)
	_, err = uuid.Parse(sessionID)
	require.NoError(t, err)
	require.Equal(t, sessionID, store.SessionID())
	require.Equal(t, 1, registry.Len())
}

func TestRegistry_ReusesStoreForSession(t *testing.T) {
	inv := inventory.NewDemoService()
	registry := NewRegistry(memory.NewKVStore(), inv, inv)
	ctx := context.Background()

	first, id, err := registry.Session(ctx, "")
	require.NoError(t, err)
	second, sameID, err := registry.Session(ctx, id)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, id, sameID)
}

func TestRegistry_RejectsInvalidSessionID(t *testing.T) {
	inv := inventory.NewDemoService()
	registry := NewRegistry(memory.NewKVStore(), inv, inv)

	_, _, err := registry.Session(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, domain.ErrInvalidSessionID)
	require.Zero(t, registry.Len())
}

func TestRegistry_SessionsAreIsolated(t *testing.T) {
	kv := memory.NewKVStore()
	inv := inventory.NewDemoService()
	registry := NewRegistry(kv, inv, inv)
	ctx := context.Background()

	alice, aliceID, err := registry.Session(ctx, uuid.NewString())
	require.NoError(t, err)
	bob, bobID, err := registry.Session(ctx, uuid.NewString())
	require.NoError(t, err)

	require.NoError(t, alice.AddProduct(ctx, 1))
	require.NoError(t, bob.AddProduct(ctx, 2))
	require.NoError(t, bob.AddProduct(ctx, 2))

	require.Len(t, alice.Snapshot(), 1)
	require.Equal(t, int64(1), alice.Snapshot()[0].ID)
	require.Equal(t, 2, bob.Snapshot()[0].Amount)

	aliceStored := storedCart(t, storage.Prefixed(kv, storage.SessionPrefix(aliceID)))
	require.Equal(t, alice.Snapshot(), aliceStored)
	bobStored := storedCart(t, storage.Prefixed(kv, storage.SessionPrefix(bobID)))
	require.Equal(t, bob.Snapshot(), bobStored)
}

func TestRegistry_RestoresSessionFromBackend(t *testing.T) {
	kv := memory.NewKVStore()
	inv := inventory.NewDemoService()
	ctx := context.Background()
	sessionID := uuid.NewString()

	store, _, err := NewRegistry(kv, inv, inv).Session(ctx, sessionID)
	require.NoError(t, err)
	require.NoError(t, store.AddProduct(ctx, 3))

	// Новый реестр, как после рестарта процесса.
	restored, _, err := NewRegistry(kv, inv, inv).Session(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, store.Snapshot(), restored.Snapshot())
}

// flakyStore отказывает в первых failures чтениях, дальше читает из memory.
type flakyStore struct {
	domain.PersistentStore
	failures atomic.Int32
	reads    atomic.Int32
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.reads.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("redis: i/o timeout")
	}
	return f.PersistentStore.Get(ctx, key)
}

func TestRegistry_ReadFailureIsNotCached(t *testing.T) {
	kv := memory.NewKVStore()
	inv := inventory.NewMockService()
	inv.AddProduct(shoe, 5)
	inv.AddProduct(domain.Product{ID: 2, Title: "Sock", Price: 10}, 5)
	ctx := context.Background()
	sessionID := uuid.NewString()

	seed, _, err := NewRegistry(kv, inv, inv).Session(ctx, sessionID)
	require.NoError(t, err)
	require.NoError(t, seed.AddProduct(ctx, shoe.ID))

	flaky := &flakyStore{PersistentStore: kv}
	flaky.failures.Store(1)
	registry := NewRegistry(flaky, inv, inv)

	_, _, err = registry.Session(ctx, sessionID)
	require.ErrorIs(t, err, domain.ErrCartUnavailable)
	require.Zero(t, registry.Len())

	store, _, err := registry.Session(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, domain.Cart{{Product: shoe, Amount: 1}}, store.Snapshot())

	// Запись после восстановления дополняет сохранённую корзину, а не затирает её.
	require.NoError(t, store.AddProduct(ctx, 2))
	stored := storedCart(t, storage.Prefixed(kv, storage.SessionPrefix(sessionID)))
	require.Len(t, stored, 2)
	require.Equal(t, shoe.ID, stored[0].ID)
}

// ctxStore отказывает, если контекст чтения уже отменён.
type ctxStore struct {
	domain.PersistentStore
}

func (c ctxStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("read without deadline")
	}
	return c.PersistentStore.Get(ctx, key)
}

func TestRegistry_LoadIgnoresCancelledRequest(t *testing.T) {
	inv := inventory.NewDemoService()
	registry := NewRegistry(ctxStore{memory.NewKVStore()}, inv, inv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store, _, err := registry.Session(ctx, uuid.NewString())
	require.NoError(t, err)
	require.NotNil(t, store)
}

func TestRegistry_EvictsLeastRecentlyUsed(t *testing.T) {
	kv := memory.NewKVStore()
	inv := inventory.NewDemoService()
	registry := NewBoundedRegistry(Limits{MaxSessions: 2}, kv, inv, inv)
	ctx := context.Background()

	first, firstID, err := registry.Session(ctx, uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, first.AddProduct(ctx, 1))

	for range 3 {
		_, _, err := registry.Session(ctx, uuid.NewString())
		require.NoError(t, err)
	}
	require.Equal(t, 2, registry.Len())

	reloaded, _, err := registry.Session(ctx, firstID)
	require.NoError(t, err)
	require.NotSame(t, first, reloaded)
	require.Equal(t, first.Snapshot(), reloaded.Snapshot())
	require.Equal(t, 2, registry.Len())
}

func TestRegistry_ExpiresStores(t *testing.T) {
	inv := inventory.NewDemoService()
	registry := NewBoundedRegistry(Limits{MaxSessions: 10, StoreTTL: 20 * time.Millisecond}, memory.NewKVStore(), inv, inv)
	ctx := context.Background()

	first, sessionID, err := registry.Session(ctx, uuid.NewString())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		next, _, err := registry.Session(ctx, sessionID)
		return err == nil && next != first
	}, time.Second, 10*time.Millisecond)
}

func TestRegistry_ConcurrentLoadsShareStore(t *testing.T) {
	kv := memory.NewKVStore()
	flaky := &flakyStore{PersistentStore: kv}
	inv := inventory.NewDemoService()
	registry := NewRegistry(flaky, inv, inv)
	sessionID := uuid.NewString()

	const workers = 16
	stores := make([]*Store, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := range workers {
		go func() {
			defer wg.Done()
			stores[i], _, errs[i] = registry.Session(context.Background(), sessionID)
		}()
	}
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		require.Same(t, stores[0], stores[i])
	}
	require.Equal(t, 1, registry.Len())
	require.Equal(t, int32(1), flaky.reads.Load())
}

func TestRegistry_View(t *testing.T) {
	inv := inventory.NewDemoService()
	registry := NewRegistry(memory.NewKVStore(), inv, inv)
	ctx := context.Background()

	t.Run("without session does not load a store", func(t *testing.T) {
		cart, sessionID, err := registry.View(ctx, "")
		require.NoError(t, err)
		require.NotNil(t, cart)
		require.Empty(t, cart)
		_, err = uuid.Parse(sessionID)
		require.NoError(t, err)
		require.Zero(t, registry.Len())
	})

	t.Run("existing session", func(t *testing.T) {
		store, sessionID, err := registry.Session(ctx, "")
		require.NoError(t, err)
		require.NoError(t, store.AddProduct(ctx, 1))

		cart, sameID, err := registry.View(ctx, sessionID)
		require.NoError(t, err)
		require.Equal(t, sessionID, sameID)
		require.Equal(t, store.Snapshot(), cart)
	})

	t.Run("invalid session", func(t *testing.T) {
		_, _, err := registry.View(ctx, "not-a-uuid")
		require.ErrorIs(t, err, domain.ErrInvalidSessionID)
	})
}
