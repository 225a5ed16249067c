package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
	"github.com/vladislavdragonenkov/cart/internal/messaging/kafka"
)

// initKafkaProducer инициализирует Kafka producer если brokers не пустой.
// Возвращает nil, nil если brokers пустой.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initCommandConsumer подписывается на команды корзины; сообщения,
// исчерпавшие попытки, уходят в DLQ через producer.
func initCommandConsumer(brokers []string, applier domain.CommandApplier, producer *kafka.Producer, maxRetries int, logger *log.Entry) (*kafka.Consumer, error) {
	if len(brokers) == 0 || producer == nil {
		return nil, nil
	}

	handler := kafka.NewCommandHandler(applier, logger.WithField("component", "cart-commands"))
	consumer, err := kafka.NewConsumerWithDLQ(
		brokers,
		kafka.ConsumerGroupCommands,
		[]string{kafka.TopicCartCommands},
		handler,
		producer,
		maxRetries,
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka consumer, cart commands are disabled")
		return nil, err
	}
	return consumer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// stopConsumer останавливает consumer если он не nil.
func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
