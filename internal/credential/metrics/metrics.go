// Package metrics provides Prometheus metrics for credential issuance and verification.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the credential metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	VerificationsTotal          *prometheus.CounterVec   // Verdicts by reason
	VerificationDurationSeconds *prometheus.HistogramVec // End-to-end verify latency by outcome
	IssuancesTotal              *prometheus.CounterVec   // Issued credentials by algorithm and payload mode
	IssuanceFailuresTotal       *prometheus.CounterVec   // Failed issuances by error code
	RegistryFailuresTotal       *prometheus.CounterVec   // Registry call failures by operation
	RegistryDurationSeconds     *prometheus.HistogramVec // Registry call latency by operation
	EventsAppliedTotal          *prometheus.CounterVec   // Registry events applied by type and result
}

// New registers the metrics with the default Prometheus registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sumbandila_credential_verifications_total",
			Help: "Total number of credential verifications by verdict reason",
		}, []string{"reason"}),

		VerificationDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sumbandila_credential_verification_duration_seconds",
			Help:    "Duration of credential verification by outcome",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}, []string{"outcome"}),

		IssuancesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sumbandila_credential_issuances_total",
			Help: "Total number of issued credentials by signature algorithm and payload mode",
		}, []string{"algorithm", "mode"}),

		IssuanceFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sumbandila_credential_issuance_failures_total",
			Help: "Total number of failed issuances by error code",
		}, []string{"code"}),

		RegistryFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sumbandila_registry_failures_total",
			Help: "Total number of failed registry calls by operation",
		}, []string{"operation"}),

		RegistryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sumbandila_registry_call_duration_seconds",
			Help:    "Duration of registry calls by operation",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		}, []string{"operation"}),

		EventsAppliedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sumbandila_registry_events_applied_total",
			Help: "Total number of registry events applied by type and result",
		}, []string{"type", "result"}),
	}
}

// ObserveVerification records one verdict.
func (m *Metrics) ObserveVerification(reason string, valid bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(reason).Inc()
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	m.VerificationDurationSeconds.WithLabelValues(outcome).Observe(durationSeconds)
}

func (m *Metrics) IncrementIssuance(algorithm, mode string) {
	if m == nil {
		return
	}
	m.IssuancesTotal.WithLabelValues(algorithm, mode).Inc()
}

func (m *Metrics) IncrementIssuanceFailure(code string) {
	if m == nil {
		return
	}
	m.IssuanceFailuresTotal.WithLabelValues(code).Inc()
}

// ObserveRegistryCall records the latency of a registry call and counts it
// as a failure when failed is true.
func (m *Metrics) ObserveRegistryCall(operation string, failed bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RegistryDurationSeconds.WithLabelValues(operation).Observe(durationSeconds)
	if failed {
		m.RegistryFailuresTotal.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) IncrementEventApplied(eventType, result string) {
	if m == nil {
		return
	}
	m.EventsAppliedTotal.WithLabelValues(eventType, result).Inc()
}
