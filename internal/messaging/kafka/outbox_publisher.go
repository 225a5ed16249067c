package kafka

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

var errPublisherNotReady = errors.New("kafka cart event publisher is not initialized")

// CartEventPublisher выгружает события корзины из outbox в Kafka topic.
//
// Ключ сообщения — сессия корзины: Kafka держит порядок только внутри партиции,
// а подписчикам важна последовательность add/update/remove одной корзины.
type CartEventPublisher struct {
	producer *Producer
	topic    string
}

// NewCartEventPublisher создаёт паблишер. Пустой topic — cart.events.
func NewCartEventPublisher(producer *Producer, topic string) *CartEventPublisher {
	if topic == "" {
		topic = TopicCartEvents
	}
	return &CartEventPublisher{producer: producer, topic: topic}
}

// Publish отправляет событие в конверте EventEnvelope. Payload вкладывается как есть.
func (p *CartEventPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotReady
	}

	envelope := EventEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	}

	headers := []sarama.RecordHeader{header(HeaderEventType, event.EventType)}
	if event.AggregateID != "" && event.AggregateID != domain.CartStorageKey {
		headers = append(headers, header(HeaderSessionID, event.AggregateID))
	}
	return p.producer.PublishEvent(p.topic, partitionKey(event), envelope, headers...)
}

// partitionKey выбирает ключ партиционирования. Без сессии все события
// агрегата идут под его типом, чтобы не потерять порядок; id события — крайний случай.
func partitionKey(event domain.OutboxMessage) string {
	switch {
	case event.AggregateID != "":
		return event.AggregateID
	case event.AggregateType != "":
		return event.AggregateType
	default:
		return event.ID
	}
}

var _ domain.OutboxPublisher = (*CartEventPublisher)(nil)
