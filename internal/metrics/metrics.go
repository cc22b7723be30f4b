package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the gateway emits. Names, labels
// and buckets are part of the external contract; changing them breaks
// dashboards and alerts.
type Metrics struct {
	RequestLatency   prometheus.Histogram
	RequestTotal     *prometheus.CounterVec
	InFlight         prometheus.Gauge
	ModelCallLatency *prometheus.HistogramVec
	ModelCallRetries *prometheus.CounterVec
	CircuitState     *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates and registers the metric set on a private registry.
// model_call_latency labels are pre-initialised for every configured model
// so the series exist before the first request.
func New(modelNames []string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		RequestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "guardrail_request_latency_seconds",
			Help:    "Total request latency",
			Buckets: []float64{0.01, 0.025, 0.05, 0.075, 0.1, 0.15, 0.2, 0.5},
		}),
		RequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardrail_request_total",
			Help: "Total requests",
		}, []string{"status", "flagged"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "guardrail_in_flight_requests",
			Help: "Number of in-flight requests",
		}),
		ModelCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guardrail_model_call_latency_seconds",
			Help:    "Latency of downstream model calls",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 1.0},
		}, []string{"model_name"}),
		ModelCallRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardrail_model_call_retries_total",
			Help: "Total number of retries for model calls",
		}, []string{"model_name", "retry_number"}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guardrail_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		}, []string{"model_name"}),
		registry: registry,
	}

	registry.MustRegister(
		m.RequestLatency,
		m.RequestTotal,
		m.InFlight,
		m.ModelCallLatency,
		m.ModelCallRetries,
		m.CircuitState,
	)

	for _, name := range modelNames {
		m.ModelCallLatency.WithLabelValues(name)
	}

	return m
}

// SetCircuitState records a breaker state for a model (0=closed, 1=open,
// 2=half_open).
func (m *Metrics) SetCircuitState(model string, state float64) {
	m.CircuitState.WithLabelValues(model).Set(state)
}

// Handler returns the Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather exposes the underlying registry for tests.
func (m *Metrics) Gather() prometheus.Gatherer {
	return m.registry
}
