package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	defaultRetention        = 24 * time.Hour
)

var (
	outboxCleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_outbox_cleanup_runs_total",
		Help: "Total number of outbox cleanup runs grouped by result.",
	}, []string{"result"})
	outboxCleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_outbox_cleanup_deleted_total",
		Help: "Total number of deleted processed cart events.",
	})
	outboxCleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cart_outbox_cleanup_last_deleted",
		Help: "Number of deleted cart events during the last cleanup run.",
	})
)

// CleanupOptions задаёт параметры воркера очистки outbox.
type CleanupOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	Retention time.Duration
}

// CleanupOption настраивает Cleaner.
type CleanupOption func(*CleanupOptions)

// WithCleanupLogger задаёт logger для воркера очистки.
func WithCleanupLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Logger = logger
	}
}

// WithCleanupInterval задаёт интервал между проходами.
func WithCleanupInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Interval = interval
	}
}

// WithCleanupBatchSize задаёт размер одной порции удаления.
func WithCleanupBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.BatchSize = batchSize
	}
}

// WithRetention задаёт, сколько хранить опубликованные события.
func WithRetention(retention time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Retention = retention
	}
}

// Cleaner периодически удаляет из outbox события, которые уже опубликованы
// или ушли в DLQ и старше retention.
type Cleaner struct {
	repo      domain.OutboxCleaner
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	retention time.Duration
	now       func() time.Time
}

// NewCleaner создаёт воркер очистки outbox.
func NewCleaner(repo domain.OutboxCleaner, options ...CleanupOption) *Cleaner {
	opts := CleanupOptions{
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
		Retention: defaultRetention,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-cleaner")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.Retention < 0 {
		opts.Retention = defaultRetention
	}

	return &Cleaner{
		repo:      repo,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		retention: opts.Retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (c *Cleaner) Run(ctx context.Context) {
	if c.repo == nil {
		c.logger.Warn("outbox cleaner is disabled: repo is nil")
		return
	}

	c.cleanup(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *Cleaner) cleanup(ctx context.Context) {
	deleted, err := c.DeleteProcessed(ctx, c.now().Add(-c.retention))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		outboxCleanupRunsTotal.WithLabelValues("error").Inc()
		c.logger.WithError(err).Warn("outbox cleanup run failed")
		return
	}

	outboxCleanupRunsTotal.WithLabelValues("ok").Inc()
	outboxCleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		c.logger.WithField("deleted", deleted).Info("outbox cleanup completed")
	}
}

// DeleteProcessed удаляет обработанные события старше before порциями batchSize.
func (c *Cleaner) DeleteProcessed(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = c.now()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := c.repo.DeleteProcessedBefore(before, c.batchSize)
		if err != nil {
			return total, err
		}

		total += deleted
		if deleted > 0 {
			outboxCleanupDeletedTotal.Add(float64(deleted))
		}
		if deleted < c.batchSize {
			return total, nil
		}
	}
}
