package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cart/internal/domain"
	"github.com/vladislavdragonenkov/cart/internal/messaging/kafka"
)

func TestParseBrokers(t *testing.T) {
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, parseBrokers(" broker-1:9092, ,broker-2:9092 "))
	require.Empty(t, parseBrokers(""))
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, func(string) string { return "" })
	require.NoError(t, err)
	require.Len(t, cfg.brokers, 2)
	require.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	require.Equal(t, kafka.TopicCartEvents, cfg.eventsTopic)
	require.Equal(t, 10, cfg.limit)
	require.True(t, cfg.execute)
	require.True(t, cfg.fromNewest)
	require.Equal(t, 3*time.Second, cfg.idleTimeout)
	require.Equal(t, "execute", cfg.mode())

	cfg, err = parseConfig(nil, func(key string) string {
		if key == "KAFKA_BROKERS" {
			return "env-broker:9092"
		}
		return ""
	})
	require.NoError(t, err)
	require.Equal(t, []string{"env-broker:9092"}, cfg.brokers)
	require.Equal(t, "dry-run", cfg.mode())
}

func TestParseConfig_ValidationErrors(t *testing.T) {
	noEnv := func(string) string { return "" }
	testCases := []struct {
		args    []string
		wantErr string
	}{
		{args: []string{"-brokers="}, wantErr: "kafka brokers are required"},
		{args: []string{"-brokers=b:9092", "-source-topic= "}, wantErr: "source-topic is required"},
		{args: []string{"-brokers=b:9092", "-events-topic="}, wantErr: "events-topic is required"},
		{args: []string{"-brokers=b:9092", "-limit=0"}, wantErr: "limit must be > 0"},
		{args: []string{"-brokers=b:9092", "-idle-timeout=0s"}, wantErr: "idle-timeout must be > 0"},
	}

	for _, tc := range testCases {
		t.Run(tc.wantErr, func(t *testing.T) {
			_, err := parseConfig(tc.args, noEnv)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestExtractReplayMessage_ConsumerDLQ(t *testing.T) {
	msg := &sarama.ConsumerMessage{
		Key:   []byte("session-1"),
		Value: []byte(`{"type":"add_product","session_id":"session-1","product_id":1}`),
		Headers: []*sarama.RecordHeader{
			{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(kafka.TopicCartCommands)},
			{Key: []byte(kafka.HeaderErrorMessage), Value: []byte("inventory temporary error")},
			{Key: []byte(kafka.HeaderRetryCount), Value: []byte("2")},
		},
	}

	got, err := extractReplayMessage(msg, "fallback-topic")
	require.NoError(t, err)
	require.Equal(t, kafka.TopicCartCommands, got.Topic)
	require.Equal(t, sarama.ByteEncoder("session-1"), got.Key)
	require.Equal(t, sarama.ByteEncoder(msg.Value), got.Value)
	require.Len(t, got.Headers, 1)
	require.Equal(t, kafka.HeaderRetryCount, string(got.Headers[0].Key))
	require.Equal(t, "2", string(got.Headers[0].Value))
}

func TestExtractReplayMessage_OutboxDLQ(t *testing.T) {
	raw := outboxDLQMessage(t, "evt-1", "session-1")

	got, err := extractReplayMessage(&sarama.ConsumerMessage{Value: raw}, kafka.TopicCartEvents)
	require.NoError(t, err)
	require.Equal(t, kafka.TopicCartEvents, got.Topic)
	require.Equal(t, sarama.StringEncoder("session-1"), got.Key)
	require.Equal(t, "cart.product_added", string(got.Headers[0].Value))

	encoded, err := got.Value.Encode()
	require.NoError(t, err)
	var replay kafka.EventEnvelope
	require.NoError(t, json.Unmarshal(encoded, &replay))
	require.Equal(t, "evt-1", replay.ID)
	require.Equal(t, "cart", replay.AggregateType)
	require.JSONEq(t, `{"product_id":1}`, string(replay.Payload))
}

func TestExtractReplayMessage_NotReplayable(t *testing.T) {
	testCases := map[string][]byte{
		"not json":          []byte("garbage"),
		"no payload":        []byte(`{"id":"evt-1"}`),
		"bad nested":        []byte(`{"id":"evt-1","payload":"not-an-object"}`),
		"no nested payload": []byte(`{"id":"evt-1","payload":{"event_id":"evt-1"}}`),
	}

	for name, value := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := extractReplayMessage(&sarama.ConsumerMessage{Value: value}, kafka.TopicCartEvents)
			require.ErrorIs(t, err, errNotReplayable)
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	require.Equal(t, "b", firstNonEmpty("", "b", "c"))
	require.Empty(t, firstNonEmpty("", ""))
}

func TestReplayPartition_DryRun(t *testing.T) {
	deps := replayDeps{
		client: &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}},
		consumer: &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{
				commandDLQMessage(0),
				{Offset: 1, Value: []byte("garbage")},
			}),
		}},
	}

	stats, err := runReplay(context.Background(), testConfig(false), deps)
	require.NoError(t, err)
	require.Equal(t, replayStats{processed: 2, replayed: 1, skipped: 1}, stats)
}

func TestReplayPartition_Execute(t *testing.T) {
	producer := &stubReplayProducer{}
	deps := replayDeps{
		client: &stubOffsetClient{partitions: []int32{1, 0}, offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 1},
			1: {oldest: 5, newest: 6},
		}},
		consumer: &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{commandDLQMessage(0)}),
			1: closedPartitionConsumer([]*sarama.ConsumerMessage{{Offset: 5, Value: outboxDLQMessage(t, "evt-2", "session-2")}}),
		}},
		producer: producer,
	}

	stats, err := runReplay(context.Background(), testConfig(true), deps)
	require.NoError(t, err)
	require.Equal(t, replayStats{processed: 2, replayed: 2}, stats)
	require.Len(t, producer.sent, 2)
	require.Equal(t, kafka.TopicCartCommands, producer.sent[0].Topic)
	require.Equal(t, kafka.TopicCartEvents, producer.sent[1].Topic)
}

func TestReplayPartition_FromNewestRespectsLimit(t *testing.T) {
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{commandDLQMessage(8), commandDLQMessage(9)}),
	}}
	deps := replayDeps{
		client:   &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 10}}},
		consumer: source,
	}
	cfg := testConfig(false)
	cfg.fromNewest = true
	cfg.limit = 2

	stats, err := runReplay(context.Background(), cfg, deps)
	require.NoError(t, err)
	require.Equal(t, 2, stats.processed)
	require.Equal(t, []consumeCall{{partition: 0, offset: 8}}, source.calls)
}

func TestRunReplay_Errors(t *testing.T) {
	_, err := runReplay(context.Background(), testConfig(false), replayDeps{})
	require.ErrorContains(t, err, "kafka client and consumer are required")

	_, err = runReplay(context.Background(), testConfig(true), replayDeps{
		client:   &stubOffsetClient{},
		consumer: &stubPartitionConsumerSource{},
	})
	require.ErrorContains(t, err, "producer is required")

	_, err = runReplay(context.Background(), testConfig(false), replayDeps{
		client:   &stubOffsetClient{partitionsErr: errors.New("boom")},
		consumer: &stubPartitionConsumerSource{},
	})
	require.ErrorContains(t, err, "get partitions")

	_, err = runReplay(context.Background(), testConfig(false), replayDeps{
		client:   &stubOffsetClient{partitions: []int32{0}, offsetErr: map[int32]error{0: errors.New("boom")}},
		consumer: &stubPartitionConsumerSource{},
	})
	require.ErrorContains(t, err, "get oldest offset")

	_, err = runReplay(context.Background(), testConfig(false), replayDeps{
		client:   &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}},
		consumer: &stubPartitionConsumerSource{consumeErr: errors.New("boom")},
	})
	require.ErrorContains(t, err, "consume partition 0")

	stats, err := runReplay(context.Background(), testConfig(true), replayDeps{
		client: &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}},
		consumer: &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{commandDLQMessage(0)}),
		}},
		producer: &stubReplayProducer{sendErr: errors.New("broker down")},
	})
	require.ErrorContains(t, err, "publish replay message")
	require.Equal(t, 1, stats.processed)
	require.Zero(t, stats.replayed)
}

func TestReplayPartition_EmptyTopicAndIdle(t *testing.T) {
	stats, err := runReplay(context.Background(), testConfig(false), replayDeps{
		client:   &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 3, newest: 3}}},
		consumer: &stubPartitionConsumerSource{},
	})
	require.NoError(t, err)
	require.Zero(t, stats.processed)

	// Сообщений нет и канал открыт: проход завершается по idle timeout.
	open := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	cfg := testConfig(false)
	cfg.idleTimeout = 20 * time.Millisecond
	stats, err = runReplay(context.Background(), cfg, replayDeps{
		client:   &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 5}}},
		consumer: &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: open}},
	})
	require.NoError(t, err)
	require.Zero(t, stats.processed)
	require.True(t, open.closed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg.idleTimeout = time.Minute
	_, err = runReplay(ctx, cfg, replayDeps{
		client: &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 5}}},
		consumer: &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: &stubPartitionConsumer{
			messages: make(chan *sarama.ConsumerMessage),
			errors:   make(chan *sarama.ConsumerError),
		}}},
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_UsesDependencies(t *testing.T) {
	original := newReplayDeps
	t.Cleanup(func() { newReplayDeps = original })

	client := &stubOffsetClient{}
	consumer := &stubPartitionConsumerSource{}
	newReplayDeps = func(config) (replayDeps, error) {
		return replayDeps{client: client, consumer: consumer}, nil
	}
	require.NoError(t, run(context.Background(), testConfig(false)))
	require.True(t, client.closed)
	require.True(t, consumer.closed)

	newReplayDeps = func(config) (replayDeps, error) {
		return replayDeps{}, errors.New("no kafka")
	}
	require.ErrorContains(t, run(context.Background(), testConfig(false)), "no kafka")
}

func testConfig(execute bool) config {
	return config{
		brokers:     []string{"broker:9092"},
		sourceTopic: kafka.TopicDeadLetterQueue,
		eventsTopic: kafka.TopicCartEvents,
		limit:       defaultReplayLimit,
		execute:     execute,
		idleTimeout: time.Second,
	}
}

func commandDLQMessage(offset int64) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Offset: offset,
		Key:    []byte("session-1"),
		Value:  []byte(`{"type":"add_product","session_id":"session-1","product_id":1}`),
		Headers: []*sarama.RecordHeader{
			{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(kafka.TopicCartCommands)},
		},
	}
}

func outboxDLQMessage(t *testing.T, eventID, sessionID string) []byte {
	t.Helper()
	failure, err := json.Marshal(domain.OutboxFailure{
		EventID:        eventID,
		AggregateType:  "cart",
		AggregateID:    sessionID,
		EventType:      "cart.product_added",
		Payload:        json.RawMessage(`{"product_id":1}`),
		PublishError:   "timeout",
		Attempts:       3,
		DLQPublishedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	raw, err := json.Marshal(kafka.EventEnvelope{
		ID:            eventID,
		AggregateType: "cart",
		AggregateID:   sessionID,
		EventType:     "cart.product_added",
		Payload:       failure,
		PublishedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	return raw
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}
	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	// Канал ошибок остаётся открытым: закрытый канал давал бы nil-ошибки в select.
	return &stubPartitionConsumer{messages: msgCh, errors: make(chan *sarama.ConsumerError)}
}

type stubReplayProducer struct {
	sendErr error
	sent    []*sarama.ProducerMessage
	closed  bool
}

func (s *stubReplayProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	s.sent = append(s.sent, msg)
	if s.sendErr != nil {
		return 0, 0, s.sendErr
	}
	return 0, int64(len(s.sent)), nil
}

func (s *stubReplayProducer) Close() error {
	s.closed = true
	return nil
}
