package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	defaultMaxRetryDelay  = 5 * time.Second
	defaultDrainTimeout   = 5 * time.Second
)

var (
	outboxPublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_outbox_publish_attempts_total",
		Help: "Total number of cart event publish attempts grouped by result.",
	}, []string{"result"})
	outboxPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cart_outbox_pending_records",
		Help: "Current number of cart events waiting for publication.",
	})
	outboxOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cart_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest unpublished cart event.",
	})
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger         *log.Entry
	DLQPublisher   domain.OutboxPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
	DrainTimeout   time.Duration
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithDLQPublisher задаёт publisher для отправки в DLQ после исчерпания retry.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(opts *WorkerOptions) {
		opts.DLQPublisher = publisher
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток публикации перед failed/DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.RetryBaseDelay = delay
	}
}

// WithMaxRetryDelay ограничивает рост backoff.
func WithMaxRetryDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.MaxRetryDelay = delay
	}
}

// WithDrainTimeout задаёт, сколько времени даётся последнему проходу при остановке.
// Ноль отключает финальный проход.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.DrainTimeout = timeout
	}
}

// Worker публикует события корзины из outbox в брокер.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlqPublisher   domain.OutboxPublisher
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	maxRetryDelay  time.Duration
	drainTimeout   time.Duration
	now            func() time.Time
}

// PassResult — итог одного прохода по outbox.
type PassResult struct {
	Sent   int
	Failed int
	// Deferred — события, оставленные pending из-за остановки воркера.
	Deferred int
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
		MaxRetryDelay:  defaultMaxRetryDelay,
		DrainTimeout:   defaultDrainTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		dlqPublisher:   opts.DLQPublisher,
		logger:         opts.Logger,
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: max(opts.RetryBaseDelay, 0),
		maxRetryDelay:  opts.MaxRetryDelay,
		drainTimeout:   max(opts.DrainTimeout, 0),
		now:            func() time.Time { return time.Now().UTC() },
	}
	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	if w.maxRetryDelay <= 0 {
		w.maxRetryDelay = defaultMaxRetryDelay
	}
	return w
}

// Run опрашивает outbox до отмены ctx, затем делает финальный проход с
// отдельным таймаутом, чтобы события последних операций не ждали рестарта.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)

		select {
		case <-ctx.Done():
			if w.drainTimeout > 0 {
				drainCtx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
				result := w.ProcessOnce(drainCtx)
				cancel()
				w.logger.WithFields(log.Fields{
					"sent":     result.Sent,
					"failed":   result.Failed,
					"deferred": result.Deferred,
				}).Info("outbox drained on shutdown")
			}
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует одну порцию pending-событий в порядке постановки.
// Событие, исчерпавшее попытки, уходит в DLQ и помечается failed. Если ctx
// отменён посреди retry, событие и остаток порции остаются pending.
func (w *Worker) ProcessOnce(ctx context.Context) PassResult {
	var result PassResult
	if ctx.Err() != nil {
		return result
	}
	defer w.refreshBacklogMetrics()

	events, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return result
	}

	for i, event := range events {
		attempts, err := w.publishWithRetry(ctx, event)
		switch {
		case err == nil:
			result.Sent++
			if markErr := w.repo.MarkSent(event.ID); markErr != nil {
				w.logger.WithError(markErr).WithField("event_id", event.ID).Warn("failed to mark outbox as sent")
			}
		case ctx.Err() != nil:
			result.Deferred = len(events) - i
			return result
		default:
			result.Failed++
			w.fail(event, attempts, err)
		}
	}
	return result
}

func (w *Worker) fail(event domain.OutboxMessage, attempts int, publishErr error) {
	entry := w.logger.WithFields(log.Fields{
		"event_id":   event.ID,
		"event_type": event.EventType,
		"session_id": event.AggregateID,
		"attempts":   attempts,
	})
	entry.WithError(publishErr).Error("cart event publish failed after retries")
	outboxPublishAttempts.WithLabelValues("failed").Inc()

	if err := w.publishToDLQ(event, attempts, publishErr); err != nil {
		entry.WithError(err).Warn("failed to publish to DLQ")
		outboxPublishAttempts.WithLabelValues("dlq_failed").Inc()
	}
	if err := w.repo.MarkFailed(event.ID); err != nil {
		entry.WithError(err).Warn("failed to mark outbox as failed")
	}
}

// publishWithRetry возвращает число сделанных попыток и последнюю ошибку.
func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = w.publisher.Publish(event)
		if lastErr == nil {
			outboxPublishAttempts.WithLabelValues("sent").Inc()
			return attempt, nil
		}
		outboxPublishAttempts.WithLabelValues("retry_error").Inc()

		if attempt == w.maxAttempts {
			break
		}
		if delay := w.retryBackoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return w.maxAttempts, fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

func (w *Worker) refreshBacklogMetrics() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxPendingRecords.Set(float64(stats.PendingCount))
	age := 0.0
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = max(w.now().Sub(stats.OldestPendingAt).Seconds(), 0)
	}
	outboxOldestPendingAge.Set(age)
}

// retryBackoff — base * 2^(attempt-1), не больше maxRetryDelay.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 || attempt < 1 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay >= w.maxRetryDelay/2 {
			return w.maxRetryDelay
		}
		delay *= 2
	}
	return min(delay, w.maxRetryDelay)
}

func (w *Worker) publishToDLQ(event domain.OutboxMessage, attempts int, publishErr error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(domain.OutboxFailure{
		EventID:        event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(event.Payload),
		PublishError:   publishErr.Error(),
		Attempts:       attempts,
		DLQPublishedAt: w.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dlqEvent := event
	dlqEvent.Payload = payload
	if err := w.dlqPublisher.Publish(dlqEvent); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
