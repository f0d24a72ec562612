package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Metrics holds the service's Prometheus collectors. All methods are safe
// to call on a nil *Metrics.
type Metrics struct {
	Transitions      *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	StockRejections  *prometheus.CounterVec
	ExpiredOrders    prometheus.Counter
	OutboxPublished  *prometheus.CounterVec
	Requests         *prometheus.CounterVec
	RequestLatencyMS *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order lifecycle events committed, by event type.",
		}, []string{"event"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "notifications_total",
			Help:      "Notification dispatch attempts, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		StockRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "stock_rejections_total",
			Help:      "Placements and confirmations rejected for insufficient stock.",
		}, []string{"stage"}),
		ExpiredOrders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "expired_total",
			Help:      "Pending orders cancelled because their confirmation window passed.",
		}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "messages_total",
			Help:      "Outbox messages handled, by event type and outcome.",
		}, []string{"event", "outcome"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		RequestLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.Transitions,
		m.Notifications,
		m.StockRejections,
		m.ExpiredOrders,
		m.OutboxPublished,
		m.Requests,
		m.RequestLatencyMS,
	)

	return m
}

// NewWithDefaultRegistry registers against a fresh registry that also
// carries the Go runtime and process collectors.
func NewWithDefaultRegistry() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(reg)
}

// Handler serves the registered metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Transition counts a committed lifecycle event
func (m *Metrics) Transition(event string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(event).Inc()
}

// Notification counts a dispatch attempt
func (m *Metrics) Notification(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	m.Notifications.WithLabelValues(kind, outcome).Inc()
}

// StockRejected counts an insufficient stock rejection at stage
func (m *Metrics) StockRejected(stage string) {
	if m == nil {
		return
	}
	m.StockRejections.WithLabelValues(stage).Inc()
}

// Expired counts orders cancelled by expiry
func (m *Metrics) Expired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ExpiredOrders.Add(float64(n))
}

// OutboxMessage counts a relayed outbox message
func (m *Metrics) OutboxMessage(event, outcome string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(event, outcome).Inc()
}

// Request records one served HTTP request
func (m *Metrics) Request(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestLatencyMS.WithLabelValues(route).Observe(float64(elapsed.Milliseconds()))
}
