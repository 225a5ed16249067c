package domain

import (
	"context"
	"encoding/json"
	"time"
)

// StockService отдаёт текущий остаток товара (GET /stock/{id}).
type StockService interface {
	Stock(ctx context.Context, productID int64) (Stock, error)
}

// CatalogService отдаёт витринные данные товара (GET /products/{id}).
// Отсутствие товара — (nil, nil).
type CatalogService interface {
	Product(ctx context.Context, productID int64) (*Product, error)
}

// PersistentStore — долговременное key-value хранилище корзины.
type PersistentStore interface {
	// Get возвращает значение или ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set перезаписывает значение под ключом.
	Set(ctx context.Context, key string, value []byte) error
}

// Notifier доставляет пользователю уведомление об отказе операции.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxCleaner удаляет обработанные (sent/failed) события, последний раз
// обновлённые раньше before. Возвращает число удалённых записей, не больше limit.
type OutboxCleaner interface {
	DeleteProcessedBefore(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxFailure — содержимое сообщения DLQ для события, которое не удалось
// опубликовать. Payload — исходный снимок корзины.
type OutboxFailure struct {
	EventID        string          `json:"event_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	Attempts       int             `json:"attempts"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// CommandType — тип асинхронной команды над корзиной.
type CommandType string

const (
	CommandAddProduct          CommandType = "add_product"
	CommandRemoveProduct       CommandType = "remove_product"
	CommandUpdateProductAmount CommandType = "update_product_amount"
)

// CartCommand — команда над корзиной сессии, пришедшая из брокера.
type CartCommand struct {
	Type      CommandType `json:"type"`
	SessionID string      `json:"session_id"`
	ProductID int64       `json:"product_id"`
	Amount    int         `json:"amount,omitempty"`
}

// CommandApplier применяет команды к корзинам.
type CommandApplier interface {
	Apply(ctx context.Context, cmd CartCommand) error
}
