// Package notify доставляет пользовательские уведомления об отказах операций корзины.
package notify

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

// LogNotifier пишет уведомления в лог.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", "notifier")
	}
	return &LogNotifier{logger: logger}
}

// Notify логирует уведомление на уровне warn.
func (n *LogNotifier) Notify(_ context.Context, notification domain.Notification) {
	n.logger.WithFields(log.Fields{
		"session_id": notification.SessionID,
		"kind":       notification.Kind,
		"product_id": notification.ProductID,
	}).Warn(notification.Message)
}

// Multi рассылает уведомление всем получателям по очереди.
type Multi []domain.Notifier

// Notify реализует domain.Notifier.
func (m Multi) Notify(ctx context.Context, notification domain.Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, notification)
		}
	}
}

var (
	_ domain.Notifier = (*LogNotifier)(nil)
	_ domain.Notifier = Multi(nil)
)
