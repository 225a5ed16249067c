package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/cart/internal/domain"
	"github.com/vladislavdragonenkov/cart/internal/storage"
)

// Limits ограничивает число корзин, которые реестр держит в памяти.
// Вытесненная корзина при следующем обращении перечитывается из storage.
type Limits struct {
	// MaxSessions — сколько корзин держать одновременно; лишние вытесняются по LRU.
	MaxSessions int
	// StoreTTL — сколько загруженная корзина живёт в памяти.
	StoreTTL time.Duration
	// LoadTimeout ограничивает чтение корзины из storage.
	LoadTimeout time.Duration
}

// DefaultLimits возвращает ограничения по умолчанию.
func DefaultLimits() Limits {
	return Limits{
		MaxSessions: 10000,
		StoreTTL:    30 * time.Minute,
		LoadTimeout: 5 * time.Second,
	}
}

// Registry держит по одному Store на сессию. Корзины разных сессий лежат в
// общем хранилище под разными префиксами ключа.
type Registry struct {
	backend domain.PersistentStore
	stock   domain.StockService
	catalog domain.CatalogService
	options []Option

	loadTimeout time.Duration
	stores      *expirable.LRU[string, *Store]
	loads       singleflight.Group
}

// NewRegistry создаёт реестр корзин с DefaultLimits.
func NewRegistry(backend domain.PersistentStore, stock domain.StockService, catalog domain.CatalogService, options ...Option) *Registry {
	return NewBoundedRegistry(DefaultLimits(), backend, stock, catalog, options...)
}

// NewBoundedRegistry создаёт реестр с заданными ограничениями.
func NewBoundedRegistry(limits Limits, backend domain.PersistentStore, stock domain.StockService, catalog domain.CatalogService, options ...Option) *Registry {
	defaults := DefaultLimits()
	if limits.MaxSessions <= 0 {
		limits.MaxSessions = defaults.MaxSessions
	}
	if limits.StoreTTL <= 0 {
		limits.StoreTTL = defaults.StoreTTL
	}
	if limits.LoadTimeout <= 0 {
		limits.LoadTimeout = defaults.LoadTimeout
	}

	evicted := func(sessionID string, _ *Store) {
		log.WithFields(log.Fields{
			"component":  "cart-registry",
			"session_id": sessionID,
		}).Debug("cart unloaded from memory")
	}

	return &Registry{
		backend:     backend,
		stock:       stock,
		catalog:     catalog,
		options:     options,
		loadTimeout: limits.LoadTimeout,
		stores:      expirable.NewLRU[string, *Store](limits.MaxSessions, evicted, limits.StoreTTL),
	}
}

// Session возвращает корзину сессии. Пустой sessionID означает новую сессию:
// идентификатор выдаётся здесь и возвращается вторым значением.
//
// Если сохранённую корзину не удалось прочитать, возвращается ошибка с
// domain.ErrCartUnavailable и ничего не кэшируется: следующий вызов прочитает снова.
func (r *Registry) Session(ctx context.Context, sessionID string) (*Store, string, error) {
	sessionID, err := normalizeSessionID(sessionID)
	if err != nil {
		return nil, "", err
	}
	store, err := r.load(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	return store, sessionID, nil
}

// View возвращает содержимое корзины без изменения. Для запроса без сессии
// выдаётся новый идентификатор и пустая корзина, в памяти ничего не создаётся.
func (r *Registry) View(ctx context.Context, sessionID string) (domain.Cart, string, error) {
	if sessionID == "" {
		return domain.Cart{}, uuid.NewString(), nil
	}
	store, sessionID, err := r.Session(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	return store.Snapshot(), sessionID, nil
}

// Len возвращает число корзин в памяти.
func (r *Registry) Len() int {
	return r.stores.Len()
}

func (r *Registry) load(ctx context.Context, sessionID string) (*Store, error) {
	if store, ok := r.stores.Get(sessionID); ok {
		return store, nil
	}

	// Конкурентные запросы одной сессии читают storage один раз и получают один Store.
	loaded, err, _ := r.loads.Do(sessionID, func() (any, error) {
		if store, ok := r.stores.Get(sessionID); ok {
			return store, nil
		}

		// Отмена клиентского запроса не должна оставлять сессию без корзины.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
		defer cancel()

		store, err := Load(loadCtx, storage.Prefixed(r.backend, storage.SessionPrefix(sessionID)),
			r.stock, r.catalog, r.sessionOptions(sessionID)...)
		if err != nil {
			return nil, err
		}
		r.stores.Add(sessionID, store)
		return store, nil
	})
	if err != nil {
		return nil, err
	}
	return loaded.(*Store), nil
}

func (r *Registry) sessionOptions(sessionID string) []Option {
	opts := make([]Option, 0, len(r.options)+1)
	opts = append(opts, r.options...)
	return append(opts, WithSessionID(sessionID))
}

func normalizeSessionID(sessionID string) (string, error) {
	if sessionID == "" {
		return uuid.NewString(), nil
	}
	parsed, err := uuid.Parse(sessionID)
	if err != nil {
		return "", domain.ErrInvalidSessionID
	}
	return parsed.String(), nil
}
