package cart

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

// Типы событий корзины, которые уходят в outbox.
const (
	EventProductAdded       = "cart.product_added"
	EventProductIncremented = "cart.product_incremented"
	EventProductRemoved     = "cart.product_removed"
	EventAmountUpdated      = "cart.amount_updated"
)

// AggregateType — тип агрегата в outbox.
const AggregateType = "cart"

// Event — содержимое события корзины: операция и корзина после неё.
type Event struct {
	SessionID  string      `json:"session_id,omitempty"`
	ProductID  int64       `json:"product_id"`
	Cart       domain.Cart `json:"cart"`
	Total      float64     `json:"total"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func (s *Store) enqueueEvent(eventType string, productID int64, c domain.Cart) {
	if s.outbox == nil {
		return
	}

	payload, err := json.Marshal(Event{
		SessionID:  s.sessionID,
		ProductID:  productID,
		Cart:       c,
		Total:      c.Total(),
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to marshal cart event")
		return
	}

	aggregateID := s.sessionID
	if aggregateID == "" {
		aggregateID = domain.CartStorageKey
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: AggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"event_type": eventType,
			"product_id": productID,
		}).Warn("failed to enqueue cart event")
	}
}
