package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/cart/internal/domain"
	"github.com/vladislavdragonenkov/cart/internal/messaging/kafka"
)

var errNotReplayable = errors.New("message is not replayable")

// extractReplayMessage восстанавливает исходное сообщение из DLQ.
//
// Consumer кладёт в DLQ исходное сообщение как есть и указывает topic в
// заголовке x-original-topic. Outbox worker публикует конверт, внутри которого
// лежит исходное событие; его возвращаем в eventsTopic.
func extractReplayMessage(msg *sarama.ConsumerMessage, eventsTopic string) (*sarama.ProducerMessage, error) {
	headers := headerMap(msg)

	if original := headers[kafka.HeaderOriginalTopic]; original != "" {
		var replayHeaders []sarama.RecordHeader
		if retries := headers[kafka.HeaderRetryCount]; retries != "" {
			replayHeaders = append(replayHeaders, sarama.RecordHeader{
				Key:   []byte(kafka.HeaderRetryCount),
				Value: []byte(retries),
			})
		}
		return &sarama.ProducerMessage{
			Topic:   original,
			Key:     sarama.ByteEncoder(msg.Key),
			Value:   sarama.ByteEncoder(msg.Value),
			Headers: replayHeaders,
		}, nil
	}

	var envelope kafka.EventEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return nil, fmt.Errorf("%w: unknown dlq message format", errNotReplayable)
	}

	var failure domain.OutboxFailure
	if err := json.Unmarshal(envelope.Payload, &failure); err != nil {
		return nil, fmt.Errorf("%w: decode outbox failure: %v", errNotReplayable, err)
	}
	if len(failure.Payload) == 0 {
		return nil, fmt.Errorf("%w: outbox failure does not contain original event payload", errNotReplayable)
	}

	replay := kafka.EventEnvelope{
		ID:            firstNonEmpty(failure.EventID, envelope.ID),
		AggregateType: firstNonEmpty(failure.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(failure.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(failure.EventType, envelope.EventType),
		Payload:       failure.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return nil, fmt.Errorf("encode replay envelope: %w", err)
	}

	return &sarama.ProducerMessage{
		Topic: eventsTopic,
		Key:   sarama.StringEncoder(firstNonEmpty(replay.AggregateID, replay.ID)),
		Value: sarama.ByteEncoder(encoded),
		Headers: []sarama.RecordHeader{{
			Key:   []byte(kafka.HeaderEventType),
			Value: []byte(replay.EventType),
		}},
	}, nil
}

func headerMap(msg *sarama.ConsumerMessage) map[string]string {
	out := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		if h != nil {
			out[string(h.Key)] = string(h.Value)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
