package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций корзины для label "result".
const (
	ResultSuccess = "success"
	ResultNoop    = "noop"
)

// CartMetrics содержит метрики операций корзины.
type CartMetrics struct {
	// Счётчики операций
	operations    *prometheus.CounterVec
	notifications *prometheus.CounterVec

	// Время обращения к складу и каталогу
	lookupDuration *prometheus.HistogramVec

	persistFailures prometheus.Counter
	lineItems       prometheus.Gauge
}

// NewCartMetrics создаёт метрики в DefaultRegisterer.
func NewCartMetrics() *CartMetrics {
	return NewCartMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCartMetricsWithRegisterer создаёт метрики в заданном registerer (удобно для тестов).
func NewCartMetricsWithRegisterer(registerer prometheus.Registerer) *CartMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CartMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_operations_total",
			Help: "Total number of cart operations grouped by operation and result",
		}, []string{"operation", "result"}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "cart_notifications_total",
			Help: "Total number of user notifications grouped by failure kind",
		}, []string{"kind"}),
		lookupDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "cart_inventory_lookup_duration_seconds",
			Help:    "Duration of stock and catalog lookups in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"service"}),
		persistFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "cart_persist_failures_total",
			Help: "Total number of failed writes of the cart to persistent storage",
		}),
		lineItems: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "cart_line_items",
			Help: "Number of line items in the most recently committed cart",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOperation увеличивает счётчик операции с указанным результатом.
// nil-получатель допустим: метрики опциональны.
func (m *CartMetrics) RecordOperation(operation, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

// RecordNotification увеличивает счётчик уведомлений по категории.
func (m *CartMetrics) RecordNotification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

// RecordLookupDuration записывает время запроса к складу или каталогу.
func (m *CartMetrics) RecordLookupDuration(service string, duration time.Duration) {
	if m == nil {
		return
	}
	m.lookupDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordPersistFailure увеличивает счётчик неудачных записей в хранилище.
func (m *CartMetrics) RecordPersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// SetLineItems выставляет размер последней закоммиченной корзины.
func (m *CartMetrics) SetLineItems(n int) {
	if m == nil {
		return
	}
	m.lineItems.Set(float64(n))
}
