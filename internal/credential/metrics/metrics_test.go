package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.ObserveVerification("valid", true, 0.002)
	m.ObserveVerification("revoked", false, 0.003)
	m.ObserveVerification("revoked", false, 0.001)
	m.IncrementIssuance("RS256", "compact")
	m.ObserveRegistryCall("resolve_key", true, 0.5)
	m.ObserveRegistryCall("resolve_key", false, 0.01)
	m.IncrementEventApplied("credential.revoked", "ok")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.VerificationsTotal.WithLabelValues("valid")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.VerificationsTotal.WithLabelValues("revoked")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.IssuancesTotal.WithLabelValues("RS256", "compact")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RegistryFailuresTotal.WithLabelValues("resolve_key")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsAppliedTotal.WithLabelValues("credential.revoked", "ok")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveVerification("valid", true, 0.1)
		m.IncrementIssuance("RS256", "full")
		m.IncrementIssuanceFailure("invalid_key")
		m.ObserveRegistryCall("is_revoked", true, 0.1)
		m.IncrementEventApplied("issuer.key_registered", "failed")
	})
}
