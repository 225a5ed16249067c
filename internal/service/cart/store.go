package cart

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
	"github.com/vladislavdragonenkov/cart/internal/metrics"
)

// Названия операций для логов и метрик.
const (
	opAdd    = "add_product"
	opRemove = "remove_product"
	opUpdate = "update_product_amount"
)

// Options задаёт зависимости Store, которые не обязательны для работы.
type Options struct {
	Logger    *log.Entry
	Notifier  domain.Notifier
	Metrics   *metrics.CartMetrics
	Outbox    domain.OutboxRepository
	SessionID string
}

// Option настраивает Store.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithNotifier задаёт канал пользовательских уведомлений.
func WithNotifier(notifier domain.Notifier) Option {
	return func(opts *Options) {
		opts.Notifier = notifier
	}
}

// WithMetrics задаёт метрики операций.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithOutbox включает запись событий корзины в outbox.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(opts *Options) {
		opts.Outbox = repo
	}
}

// WithSessionID помечает уведомления и события идентификатором сессии.
func WithSessionID(sessionID string) Option {
	return func(opts *Options) {
		opts.SessionID = sessionID
	}
}

// Store хранит состояние одной корзины и выполняет над ней операции.
//
// Изменения сериализуются writeMu на всё время операции, включая обращения к
// складу и каталогу. Snapshot берёт только stateMu и не ждёт сетевых вызовов.
type Store struct {
	storage  domain.PersistentStore
	stock    domain.StockService
	catalog  domain.CatalogService
	notifier domain.Notifier
	outbox   domain.OutboxRepository
	metrics  *metrics.CartMetrics
	logger   *log.Entry

	sessionID string

	writeMu sync.Mutex
	stateMu sync.RWMutex
	cart    domain.Cart
}

// New создаёт Store и восстанавливает корзину из storage.
// Ошибка чтения или разбора не возвращается: корзина начинается пустой.
func New(ctx context.Context, storage domain.PersistentStore, stock domain.StockService, catalog domain.CatalogService, options ...Option) *Store {
	s := newStore(storage, stock, catalog, options...)
	cart, err := s.hydrate(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("failed to read stored cart, starting empty")
	}
	s.cart = cart
	return s
}

// Load как New, но ошибку чтения storage возвращает вместо пустой корзины:
// иначе первая же запись затёрла бы сохранённую корзину. Отсутствующий ключ,
// битые данные и нарушение инвариантов по-прежнему дают пустую корзину.
func Load(ctx context.Context, storage domain.PersistentStore, stock domain.StockService, catalog domain.CatalogService, options ...Option) (*Store, error) {
	s := newStore(storage, stock, catalog, options...)
	cart, err := s.hydrate(ctx)
	if err != nil {
		return nil, errors.Join(domain.ErrCartUnavailable, err)
	}
	s.cart = cart
	return s, nil
}

func newStore(storage domain.PersistentStore, stock domain.StockService, catalog domain.CatalogService, options ...Option) *Store {
	var opts Options
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "cart-store")
	}
	if opts.SessionID != "" {
		logger = logger.WithField("session_id", opts.SessionID)
	}

	return &Store{
		storage:   storage,
		stock:     stock,
		catalog:   catalog,
		notifier:  opts.Notifier,
		outbox:    opts.Outbox,
		metrics:   opts.Metrics,
		logger:    logger,
		sessionID: opts.SessionID,
	}
}

// SessionID возвращает идентификатор сессии, к которой привязана корзина.
func (s *Store) SessionID() string {
	return s.sessionID
}

// Snapshot возвращает копию текущей корзины.
func (s *Store) Snapshot() domain.Cart {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.cart.Clone()
}

// AddProduct добавляет единицу товара в корзину.
func (s *Store) AddProduct(ctx context.Context, productID int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.cart
	existing, inCart := current.Item(productID)

	stock, err := s.lookupStock(ctx, productID)
	if err != nil {
		return s.fail(ctx, opAdd, domain.FailureAddFailed, productID, err)
	}

	if inCart {
		if existing.Amount >= stock.Amount {
			return s.fail(ctx, opAdd, domain.FailureOutOfStock, productID, nil)
		}
		next := current.WithIncremented(productID)
		s.commit(ctx, opAdd, next, EventProductIncremented, productID)
		return nil
	}

	if stock.Amount <= 0 {
		return s.fail(ctx, opAdd, domain.FailureOutOfStock, productID, nil)
	}

	product, err := s.lookupProduct(ctx, productID)
	if err != nil {
		return s.fail(ctx, opAdd, domain.FailureAddFailed, productID, err)
	}
	if product == nil {
		return s.fail(ctx, opAdd, domain.FailureAddFailed, productID, domain.ErrProductNotFound)
	}

	item := domain.LineItem{Product: *product, Amount: 1}
	// Каталог может вернуть другой id; позиция всегда привязана к запрошенному.
	item.ID = productID

	next := current.WithAppended(item)
	s.commit(ctx, opAdd, next, EventProductAdded, productID)
	return nil
}

// RemoveProduct удаляет позицию товара целиком.
func (s *Store) RemoveProduct(ctx context.Context, productID int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.cart
	if !current.Contains(productID) {
		return s.fail(ctx, opRemove, domain.FailureRemoveFailed, productID, nil)
	}

	s.commit(ctx, opRemove, current.Without(productID), EventProductRemoved, productID)
	return nil
}

// UpdateProductAmount устанавливает количество товара.
// amount <= 0 игнорируется без уведомления. Если товара нет в корзине,
// корзина сохраняется без изменений.
func (s *Store) UpdateProductAmount(ctx context.Context, update domain.AmountUpdate) error {
	if update.Amount <= 0 {
		s.metrics.RecordOperation(opUpdate, metrics.ResultNoop)
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stock, err := s.lookupStock(ctx, update.ProductID)
	if err != nil {
		return s.fail(ctx, opUpdate, domain.FailureUpdateFailed, update.ProductID, err)
	}
	if update.Amount > stock.Amount {
		return s.fail(ctx, opUpdate, domain.FailureOutOfStock, update.ProductID, nil)
	}

	current := s.cart
	eventType := EventAmountUpdated
	if !current.Contains(update.ProductID) {
		// Содержимое не меняется: корзина перезаписывается, события нет.
		s.logger.WithField("product_id", update.ProductID).Debug("amount update for product not in cart")
		eventType = ""
	}

	s.commit(ctx, opUpdate, current.WithAmount(update.ProductID, update.Amount), eventType, update.ProductID)
	return nil
}

func (s *Store) lookupStock(ctx context.Context, productID int64) (domain.Stock, error) {
	if s.stock == nil {
		return domain.Stock{}, errors.New("stock service is not configured")
	}
	start := time.Now()
	stock, err := s.stock.Stock(ctx, productID)
	s.metrics.RecordLookupDuration("stock", time.Since(start))
	return stock, err
}

func (s *Store) lookupProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	if s.catalog == nil {
		return nil, errors.New("catalog service is not configured")
	}
	start := time.Now()
	product, err := s.catalog.Product(ctx, productID)
	s.metrics.RecordLookupDuration("catalog", time.Since(start))
	if errors.Is(err, domain.ErrProductNotFound) {
		return nil, nil
	}
	return product, err
}

// commit подменяет корзину и сразу пишет её в storage под тем же замком,
// поэтому читатель не увидит состояние между подменой и записью.
// Ошибка записи только логируется. Пустой eventType означает коммит без события.
func (s *Store) commit(ctx context.Context, operation string, next domain.Cart, eventType string, productID int64) {
	s.stateMu.Lock()
	s.cart = next
	s.persistLocked(ctx, next)
	s.stateMu.Unlock()

	s.metrics.RecordOperation(operation, metrics.ResultSuccess)
	s.metrics.SetLineItems(next.Size())
	s.logger.WithFields(log.Fields{
		"operation":  operation,
		"product_id": productID,
		"line_items": next.Size(),
	}).Debug("cart committed")

	if eventType != "" {
		s.enqueueEvent(eventType, productID, next)
	}
}

func (s *Store) persistLocked(ctx context.Context, next domain.Cart) {
	if s.storage == nil {
		return
	}

	data, err := encodeCart(next)
	if err != nil {
		s.logger.WithError(err).Error("failed to encode cart")
		s.metrics.RecordPersistFailure()
		return
	}
	if err := s.storage.Set(ctx, domain.CartStorageKey, data); err != nil {
		s.logger.WithError(err).Error("failed to persist cart")
		s.metrics.RecordPersistFailure()
	}
}

func (s *Store) hydrate(ctx context.Context) (domain.Cart, error) {
	if s.storage == nil {
		return domain.Cart{}, nil
	}

	data, err := s.storage.Get(ctx, domain.CartStorageKey)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return domain.Cart{}, nil
	}
	if err != nil {
		return domain.Cart{}, err
	}

	stored, err := decodeCart(data)
	if err != nil {
		s.logger.WithError(err).Warn("failed to decode stored cart, starting empty")
		return domain.Cart{}, nil
	}
	if errs := stored.Validate(); len(errs) > 0 {
		s.logger.WithError(errors.Join(errs...)).Warn("stored cart violates invariants, starting empty")
		return domain.Cart{}, nil
	}
	s.metrics.SetLineItems(stored.Size())
	return stored, nil
}

// fail сообщает об отказе пользователю и возвращает ошибку категории.
// Состояние корзины при этом не меняется.
func (s *Store) fail(ctx context.Context, operation string, kind domain.FailureKind, productID int64, cause error) error {
	entry := s.logger.WithFields(log.Fields{
		"operation":  operation,
		"product_id": productID,
		"kind":       kind,
	})
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Info("cart operation rejected")

	s.metrics.RecordOperation(operation, string(kind))
	s.metrics.RecordNotification(string(kind))

	if s.notifier != nil {
		n := domain.NewNotification(kind, productID)
		n.SessionID = s.sessionID
		s.notifier.Notify(ctx, n)
	}

	if cause == nil {
		return kind.Err()
	}
	return errors.Join(kind.Err(), cause)
}

func encodeCart(c domain.Cart) ([]byte, error) {
	if c == nil {
		c = domain.Cart{}
	}
	return json.Marshal(c)
}

func decodeCart(data []byte) (domain.Cart, error) {
	var c domain.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c == nil {
		c = domain.Cart{}
	}
	return c, nil
}
