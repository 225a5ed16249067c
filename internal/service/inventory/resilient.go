package inventory

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
)

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}
}

// Backend — то, что умеет отвечать и на запрос остатка, и на запрос товара.
type Backend interface {
	domain.StockService
	domain.CatalogService
}

// Resilient оборачивает склад и каталог retry-логикой и circuit breaker.
// Повторяются только временные ошибки (ErrInventoryTemporary).
type Resilient struct {
	backend Backend
	config  RetryConfig
	breaker *CircuitBreaker
	logger  *log.Entry
}

// NewResilient создаёт обёртку. breaker может быть nil.
func NewResilient(backend Backend, config RetryConfig, breaker *CircuitBreaker, logger *log.Entry) *Resilient {
	if logger == nil {
		logger = log.WithField("component", "inventory-resilient")
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}

	return &Resilient{
		backend: backend,
		config:  config,
		breaker: breaker,
		logger:  logger,
	}
}

// Stock запрашивает остаток с повторными попытками.
func (r *Resilient) Stock(ctx context.Context, productID int64) (domain.Stock, error) {
	var stock domain.Stock
	err := r.executeWithRetry(ctx, "stock", productID, func() error {
		var err error
		stock, err = r.backend.Stock(ctx, productID)
		return err
	})
	return stock, err
}

// Product запрашивает товар с повторными попытками.
func (r *Resilient) Product(ctx context.Context, productID int64) (*domain.Product, error) {
	var product *domain.Product
	err := r.executeWithRetry(ctx, "product", productID, func() error {
		var err error
		product, err = r.backend.Product(ctx, productID)
		return err
	})
	return product, err
}

func (r *Resilient) executeWithRetry(ctx context.Context, operation string, productID int64, fn func() error) error {
	var lastErr error
	delay := r.config.InitialDelay

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := r.call(operation, fn)
		if err == nil {
			if attempt > 1 {
				r.logger.WithFields(log.Fields{
					"operation":  operation,
					"product_id": productID,
					"attempt":    attempt,
				}).Info("inventory call succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !shouldRetry(err) || attempt == r.config.MaxAttempts {
			break
		}

		r.logger.WithError(err).WithFields(log.Fields{
			"operation":  operation,
			"product_id": productID,
			"attempt":    attempt,
			"delay":      delay,
		}).Warn("inventory call failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * r.config.BackoffFactor)
		if r.config.MaxDelay > 0 && delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}

	return lastErr
}

func (r *Resilient) call(operation string, fn func() error) error {
	if r.breaker == nil {
		return fn()
	}
	return r.breaker.Execute(operation, fn)
}

// shouldRetry определяет, стоит ли повторять запрос при данной ошибке.
func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, domain.ErrCircuitOpen) {
		return false
	}
	return errors.Is(err, domain.ErrInventoryTemporary)
}

// CircuitState — состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker блокирует запросы к складу после серии временных ошибок.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration

	failures    int
	lastFailure time.Time
	state       CircuitState
	logger      *log.Entry
}

// NewCircuitBreaker создаёт новый circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 1
	}

	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        CircuitClosed,
		logger:       logger,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет операцию через circuit breaker. Бизнес-ответы (не временные
// ошибки) не считаются отказами.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if time.Since(cb.lastFailure) <= cb.resetTimeout {
			cb.mu.Unlock()
			return domain.ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && errors.Is(err, domain.ErrInventoryTemporary) {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = CircuitOpen
			cb.logger.WithFields(log.Fields{
				"operation": operation,
				"failures":  cb.failures,
			}).Warn("circuit breaker opened")
		}
		return err
	}

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	cb.failures = 0
	return err
}

var _ Backend = (*Resilient)(nil)
