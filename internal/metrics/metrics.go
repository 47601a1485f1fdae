package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for the delivery engine
type Metrics struct {
	// Delivery counters
	MessagesSentTotal     *prometheus.CounterVec
	MessagesFailedTotal   *prometheus.CounterVec
	MessagesDeferredTotal prometheus.Counter
	MessagesEnqueuedTotal prometheus.Counter

	// Cycle instrumentation
	CyclesTotal          prometheus.Counter
	CycleDurationSeconds prometheus.Histogram

	// Queue gauges, refreshed after every cycle
	QueueQueued  prometheus.Gauge
	QueueSending prometheus.Gauge
	QueueFailed  prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flexmaild_messages_sent_total",
				Help: "Total number of successfully delivered messages",
			},
			[]string{"domain"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flexmaild_messages_failed_total",
				Help: "Total number of permanently failed messages",
			},
			[]string{"domain", "error_type"},
		),
		MessagesDeferredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flexmaild_messages_deferred_total",
				Help: "Total number of messages deferred by the hourly rate cap",
			},
		),
		MessagesEnqueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flexmaild_messages_enqueued_total",
				Help: "Total number of messages accepted into the queue",
			},
		),

		CyclesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flexmaild_cycles_total",
				Help: "Total number of delivery cycles run",
			},
		),
		CycleDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flexmaild_cycle_duration_seconds",
				Help:    "Delivery cycle duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		QueueQueued: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flexmaild_queue_queued",
				Help: "Number of items waiting for delivery",
			},
		),
		QueueSending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flexmaild_queue_sending",
				Help: "Number of items currently being delivered",
			},
		),
		QueueFailed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flexmaild_queue_failed",
				Help: "Number of items that exhausted their attempts",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flexmaild_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flexmaild_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flexmaild_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.MessagesDeferredTotal,
		m.MessagesEnqueuedTotal,
		m.CyclesTotal,
		m.CycleDurationSeconds,
		m.QueueQueued,
		m.QueueSending,
		m.QueueFailed,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncMessagesSent increments the sent message counter
func IncMessagesSent(domain string) {
	m := Global()
	if m != nil {
		m.MessagesSentTotal.WithLabelValues(domain).Inc()
	}
}

// IncMessagesFailed increments the failed message counter
func IncMessagesFailed(domain, errorType string) {
	m := Global()
	if m != nil {
		m.MessagesFailedTotal.WithLabelValues(domain, errorType).Inc()
	}
}

// IncMessagesDeferred increments the deferred message counter
func IncMessagesDeferred() {
	m := Global()
	if m != nil {
		m.MessagesDeferredTotal.Inc()
	}
}

// IncMessagesEnqueued increments the enqueued message counter
func IncMessagesEnqueued() {
	m := Global()
	if m != nil {
		m.MessagesEnqueuedTotal.Inc()
	}
}

// IncAPIErrors increments the API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
