// Package metrics provides Prometheus metrics for the registry key cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the registry cache metrics. A nil *Metrics records nothing.
type Metrics struct {
	CacheHitsTotal             *prometheus.CounterVec   // Cache hits by entry type (key, active, record)
	CacheMissesTotal           *prometheus.CounterVec   // Cache misses by entry type
	CacheErrorsTotal           *prometheus.CounterVec   // Redis failures that fell through to the backing store
	CacheLookupDurationSeconds *prometheus.HistogramVec // Cache lookup latency by entry type
	CacheInvalidationsTotal    prometheus.Counter       // Active-key invalidations after rotation
	CircuitState               *prometheus.GaugeVec     // 0 closed, 1 open, 2 half-open, by circuit
	CircuitTransitionsTotal    *prometheus.CounterVec   // Breaker transitions by circuit and target state
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sumbandila_registry_cache_hits_total",
			Help: "Total number of registry cache hits by entry type",
		}, []string{"type"}),

		CacheMissesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sumbandila_registry_cache_misses_total",
			Help: "Total number of registry cache misses by entry type",
		}, []string{"type"}),

		CacheErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sumbandila_registry_cache_errors_total",
			Help: "Total number of registry cache errors by entry type",
		}, []string{"type"}),

		CacheLookupDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sumbandila_registry_cache_lookup_duration_seconds",
			Help:    "Duration of registry cache lookups by entry type",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
		}, []string{"type"}),

		CacheInvalidationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "sumbandila_registry_cache_invalidations_total",
			Help: "Total number of registry cache invalidations",
		}),

		CircuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sumbandila_registry_circuit_state",
			Help: "Registry circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"circuit"}),

		CircuitTransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sumbandila_registry_circuit_transitions_total",
			Help: "Total number of registry circuit breaker transitions by target state",
		}, []string{"circuit", "to"}),
	}
}

func (m *Metrics) RecordCacheHit(entryType string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(entryType).Inc()
	m.CacheLookupDurationSeconds.WithLabelValues(entryType).Observe(durationSeconds)
}

func (m *Metrics) RecordCacheMiss(entryType string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(entryType).Inc()
	m.CacheLookupDurationSeconds.WithLabelValues(entryType).Observe(durationSeconds)
}

func (m *Metrics) RecordCacheError(entryType string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(entryType).Inc()
}

func (m *Metrics) IncrementInvalidations() {
	if m == nil {
		return
	}
	m.CacheInvalidationsTotal.Inc()
}

func (m *Metrics) RecordCircuitTransition(circuit string, state int, to string) {
	if m == nil {
		return
	}
	m.CircuitState.WithLabelValues(circuit).Set(float64(state))
	m.CircuitTransitionsTotal.WithLabelValues(circuit, to).Inc()
}

// CacheHitRate is hits / (hits + misses), or 0 when nothing was looked up.
func CacheHitRate(hits, misses float64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return hits / total
}
