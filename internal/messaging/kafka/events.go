package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

// Topics для Kafka
const (
	TopicCartEvents        = "cart.events"
	TopicCartNotifications = "cart.notifications"
	TopicCartCommands      = "cart.commands"
	TopicDeadLetterQueue   = "cart.dlq" // Dead Letter Queue для failed messages
)

// ConsumerGroupCommands — consumer group сервиса для topic команд.
const ConsumerGroupCommands = "cart-service"

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderSessionID     = "x-session-id"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// EventEnvelope — сообщение topic событий корзины.
type EventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NotificationMessage — уведомление об отказе операции в виде сообщения topic.
type NotificationMessage struct {
	domain.Notification
	Timestamp string `json:"timestamp"`
}

// ParseCommand разбирает команду корзины из сообщения.
func ParseCommand(message *sarama.ConsumerMessage) (domain.CartCommand, error) {
	var cmd domain.CartCommand
	if err := json.Unmarshal(message.Value, &cmd); err != nil {
		return domain.CartCommand{}, fmt.Errorf("failed to unmarshal cart command: %w", err)
	}
	if cmd.Type == "" {
		return domain.CartCommand{}, fmt.Errorf("cart command without type")
	}
	return cmd, nil
}

// ParseNotification разбирает уведомление из сообщения.
func ParseNotification(message *sarama.ConsumerMessage) (*NotificationMessage, error) {
	var n NotificationMessage
	if err := json.Unmarshal(message.Value, &n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	return &n, nil
}
