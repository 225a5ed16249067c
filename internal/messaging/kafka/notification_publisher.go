package kafka

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

// NotificationPublisher доставляет уведомления об отказах в topic cart.notifications.
// Ошибка публикации не возвращается: уведомление best-effort.
type NotificationPublisher struct {
	producer *Producer
	topic    string
	logger   *log.Entry
}

// NewNotificationPublisher создаёт publisher уведомлений.
func NewNotificationPublisher(producer *Producer, topic string, logger *log.Entry) *NotificationPublisher {
	if topic == "" {
		topic = TopicCartNotifications
	}
	if logger == nil {
		logger = log.WithField("component", "kafka-notification-publisher")
	}
	return &NotificationPublisher{producer: producer, topic: topic, logger: logger}
}

// Notify публикует уведомление.
func (p *NotificationPublisher) Notify(_ context.Context, n domain.Notification) {
	if p == nil || p.producer == nil {
		return
	}

	msg := NotificationMessage{
		Notification: n,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := p.producer.PublishEvent(p.topic, n.SessionID, msg, header(HeaderEventType, string(n.Kind))); err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"kind":       n.Kind,
			"product_id": n.ProductID,
		}).Warn("failed to publish notification")
	}
}

var _ domain.Notifier = (*NotificationPublisher)(nil)
