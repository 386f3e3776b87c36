// Package observability collects Prometheus metrics for the
// conversation orchestrator and its collaborators.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks orchestrator activity. All methods are safe on a nil
// receiver so metrics stay optional in tests and tools.
type Metrics struct {
	// InvocationCounter counts orchestrator runs.
	// Labels: status (success|error)
	InvocationCounter *prometheus.CounterVec

	// ModelRequestDuration measures model invocation latency in seconds.
	// Labels: provider
	ModelRequestDuration *prometheus.HistogramVec

	// ProviderConnectCounter counts tool-provider connection attempts.
	// Labels: status (ready|failed)
	ProviderConnectCounter *prometheus.CounterVec

	// PreprocessCounter counts content preprocessing outcomes.
	// Labels: outcome (passthrough|condensed|fallback)
	PreprocessCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default
// registry. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		InvocationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halcyon_invocations_total",
				Help: "Orchestrator invocations by terminal status.",
			},
			[]string{"status"},
		),
		ModelRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "halcyon_model_request_duration_seconds",
				Help:    "Model invocation latency.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
		ProviderConnectCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halcyon_provider_connects_total",
				Help: "Tool provider connection attempts by outcome.",
			},
			[]string{"status"},
		),
		PreprocessCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "halcyon_preprocess_total",
				Help: "Content preprocessing outcomes.",
			},
			[]string{"outcome"},
		),
	}
}

// RecordInvocation records a run's terminal status.
func (m *Metrics) RecordInvocation(status string) {
	if m == nil {
		return
	}
	m.InvocationCounter.WithLabelValues(status).Inc()
}

// ObserveModelDuration records model invocation latency.
func (m *Metrics) ObserveModelDuration(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.ModelRequestDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordProviderConnects records connect outcomes for a run.
func (m *Metrics) RecordProviderConnects(ready, failed int) {
	if m == nil {
		return
	}
	m.ProviderConnectCounter.WithLabelValues("ready").Add(float64(ready))
	m.ProviderConnectCounter.WithLabelValues("failed").Add(float64(failed))
}

// RecordPreprocess records a preprocessing outcome.
func (m *Metrics) RecordPreprocess(outcome string) {
	if m == nil {
		return
	}
	m.PreprocessCounter.WithLabelValues(outcome).Inc()
}
