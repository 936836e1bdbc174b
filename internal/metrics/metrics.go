// Package metrics exposes Prometheus collectors for the ledger node.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"VeilSum/internal/ledger"
)

const namespace = "veilsum"

// Metrics holds the node collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	operations  *prometheus.CounterVec   // operations counts ledger operations by op and result
	events      *prometheus.CounterVec   // events counts committed events by kind
	pending     prometheus.Gauge         // pending tracks requests awaiting delivery
	requests    *prometheus.CounterVec   // requests counts API calls by route and status
	apiDuration *prometheus.HistogramVec // apiDuration observes API latency by route
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by operation and result kind",
		}, []string{"op", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_total",
			Help:      "Committed ledger events by kind",
		}, []string{"kind"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "pending_decryptions",
			Help:      "Decryption requests issued and not yet completed since start",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by method, route and status",
		}, []string{"method", "route", "status"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.operations,
		m.events,
		m.pending,
		m.requests,
		m.apiDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Observe implements ledger.Observer.
func (m *Metrics) Observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = ledger.Kind(err)
	}

	m.operations.WithLabelValues(op, result).Inc()
}

// Attach counts the events committed by l.
func (m *Metrics) Attach(l *ledger.Ledger) error {
	return l.Subscribe(ledger.TopicAll, m.onEvent)
}

func (m *Metrics) onEvent(e ledger.Event) {
	m.events.WithLabelValues(e.Kind).Inc()

	switch e.Kind {
	case ledger.EventDecryptionRequested:
		m.pending.Inc()
	case ledger.EventDecryptionCompleted:
		m.pending.Dec()
	}
}

// ObserveRequest records one API call.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, http.StatusText(status)).Inc()
	m.apiDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
