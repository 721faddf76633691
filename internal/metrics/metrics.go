// Package metrics exposes Prometheus instrumentation for registration and
// reconciliation. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "event_registration"

// Metrics holds the service's collectors.
type Metrics struct {
	registrations  *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	slotReleases   *prometheus.CounterVec
	webhookEvents  *prometheus.CounterVec
	anomalies      *prometheus.CounterVec
	sweepRuns      *prometheus.CounterVec
	gatewayCalls   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Registration requests by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Applied registration state transitions.",
		}, []string{"from", "to"}),
		slotReleases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_releases_total",
			Help:      "Capacity slots returned to the ledger, by reason.",
		}, []string{"reason"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Payment provider notifications by kind and outcome.",
		}, []string{"kind", "outcome"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Reconciliation anomalies by kind and severity.",
		}, []string{"kind", "severity"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Expiry sweep ticks by outcome.",
		}, []string{"outcome"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Payment gateway calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Payment gateway call latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.registrations,
			m.transitions,
			m.slotReleases,
			m.webhookEvents,
			m.anomalies,
			m.sweepRuns,
			m.gatewayCalls,
			m.gatewayLatency,
		)
	}
	return m
}

func (m *Metrics) RegistrationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) SlotReleased(reason string) {
	if m == nil {
		return
	}
	m.slotReleases.WithLabelValues(reason).Inc()
}

func (m *Metrics) WebhookEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Anomaly(kind string, escalated bool) {
	if m == nil {
		return
	}
	severity := "anomaly"
	if escalated {
		severity = "escalated"
	}
	m.anomalies.WithLabelValues(kind, severity).Inc()
}

func (m *Metrics) SweepRun(outcome string) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(outcome).Inc()
}

// GatewayCall records one logical gateway call, retries included.
func (m *Metrics) GatewayCall(operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(operation, outcome).Inc()
	m.gatewayLatency.WithLabelValues(operation).Observe(took.Seconds())
}
