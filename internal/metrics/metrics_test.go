package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RegistrationOutcome("confirmed")
	m.RegistrationOutcome("confirmed")
	m.SlotReleased("expired")
	m.Anomaly("charged_without_registration", true)
	m.GatewayCall("create_intent", "ok", 120*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.registrations.WithLabelValues("confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.slotReleases.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.anomalies.WithLabelValues("charged_without_registration", "escalated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gatewayCalls.WithLabelValues("create_intent", "ok")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RegistrationOutcome("x")
		m.Transition("a", "b")
		m.SlotReleased("x")
		m.WebhookEvent("k", "o")
		m.Anomaly("k", false)
		m.SweepRun("ok")
		m.GatewayCall("op", "ok", time.Second)
	})
}
