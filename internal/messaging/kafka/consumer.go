package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

// ErrMalformedMessage — сообщение нельзя обработать ни с какой попытки; уходит в DLQ сразу.
var ErrMalformedMessage = errors.New("malformed message")

const defaultConsumerRetryDelay = 100 * time.Millisecond

// MessageHandler обрабатывает сообщение из Kafka
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer читает topic в составе consumer group, повторяет неудачную
// обработку и отправляет сообщения, исчерпавшие попытки, в DLQ.
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	maxRetries  int
	retryDelay  time.Duration
}

// NewConsumer создает новый Kafka consumer
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler) (*Consumer, error) {
	return NewConsumerWithDLQ(brokers, groupID, topics, handler, nil, 3)
}

// NewConsumerWithDLQ создает consumer с поддержкой Dead Letter Queue
func NewConsumerWithDLQ(brokers []string, groupID string, topics []string, handler MessageHandler, dlqProducer *Producer, maxRetries int) (*Consumer, error) {
	config := sarama.NewConfig()
	config.ClientID = "cart-service"
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Consumer{
		consumer:    group,
		topics:      topics,
		handler:     handler,
		logger:      log.WithField("component", "kafka-consumer"),
		dlqProducer: dlqProducer,
		maxRetries:  maxRetries,
		retryDelay:  defaultConsumerRetryDelay,
	}, nil
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume завершается при каждом rebalance, поэтому вызывается в цикле.
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessageWithRetry(session.Context(), message); err != nil {
				// Без отметки: сообщение будет перечитано после рестарта или rebalance.
				c.logger.WithError(err).WithFields(fields).Error("message processing failed after all retries")
				continue
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessageWithRetry обрабатывает сообщение с повторами в процессе.
// Часть попыток могла быть израсходована раньше: их число берётся из заголовка.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	retryCount := c.getRetryCount(message)
	attempts := c.maxRetries - retryCount
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = c.handler(ctx, message)
		if err == nil {
			return nil
		}
		retryCount++
		if errors.Is(err, ErrMalformedMessage) {
			break
		}
		if attempt == attempts {
			break
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": retryCount,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will retry")

		if c.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}

	if c.dlqProducer == nil {
		return err
	}

	if dlqErr := c.sendToDLQ(message, err, retryCount); dlqErr != nil {
		c.logger.WithError(dlqErr).Error("failed to send message to DLQ")
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": retryCount,
	}).Info("message sent to DLQ")
	return nil
}

// getRetryCount извлекает retry count из headers сообщения
func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	for _, h := range message.Headers {
		if h != nil && string(h.Key) == HeaderRetryCount {
			if count, err := strconv.Atoi(string(h.Value)); err == nil {
				return count
			}
		}
	}
	return 0
}

// sendToDLQ отправляет исходное сообщение в DLQ; причина и происхождение — в headers.
// retryCount — сколько попыток обработки уже потрачено, включая прошлые доставки.
func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error, retryCount int) error {
	return c.dlqProducer.PublishRaw(
		TopicDeadLetterQueue,
		string(message.Key),
		message.Value,
		header(HeaderOriginalTopic, message.Topic),
		header(HeaderErrorMessage, processingErr.Error()),
		header(HeaderFailedAt, time.Now().UTC().Format(time.RFC3339)),
		header(HeaderRetryCount, strconv.Itoa(retryCount)),
	)
}

// NewCommandHandler возвращает обработчик topic команд корзины.
// Отказы операций (нет остатка и т.п.) уже доставлены пользователю уведомлением
// и считаются обработанными; нераспознанные команды уходят в DLQ.
func NewCommandHandler(applier domain.CommandApplier, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "kafka-command-handler")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		cmd, err := ParseCommand(message)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}

		err = applier.Apply(ctx, cmd)
		switch {
		case err == nil:
			return nil
		case domain.IsCartFailure(err):
			logger.WithError(err).WithFields(log.Fields{
				"type":       cmd.Type,
				"session_id": cmd.SessionID,
				"product_id": cmd.ProductID,
			}).Info("cart command rejected")
			return nil
		case errors.Is(err, domain.ErrInvalidSessionID), errors.Is(err, domain.ErrUnknownCommand):
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		default:
			return err
		}
	}
}
