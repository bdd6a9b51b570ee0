// ABOUTME: Prometheus collectors for connection, envelope, turn and probe activity
// ABOUTME: Every method is safe on a nil *Metrics so metrics stay optional

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Transport metrics
	ConnectionUp      prometheus.Gauge
	ReconnectAttempts prometheus.Counter
	EnvelopesSent     *prometheus.CounterVec
	EnvelopesReceived *prometheus.CounterVec
	EnvelopesDropped  prometheus.Counter

	// Orchestration metrics
	TurnRequests      *prometheus.CounterVec
	TurnTimeouts      prometheus.Counter
	TurnStatusChanges *prometheus.CounterVec

	// Availability metrics
	ProbeResults *prometheus.CounterVec
}

// New creates and registers all metrics with reg.
// Tests pass a fresh prometheus.NewRegistry() so instances never collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chorus_connection_up",
			Help: "1 while the backend websocket is open",
		}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "chorus_reconnect_attempts_total",
			Help: "Total number of scheduled reconnect attempts",
		}),
		EnvelopesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chorus_envelopes_sent_total",
			Help: "Outbound envelopes by type and result",
		}, []string{"type", "result"}),
		EnvelopesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chorus_envelopes_received_total",
			Help: "Inbound envelopes by type",
		}, []string{"type"}),
		EnvelopesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "chorus_envelopes_dropped_total",
			Help: "Inbound frames dropped because they could not be decoded",
		}),
		TurnRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chorus_turn_requests_total",
			Help: "Next-turn requests by result",
		}, []string{"result"}),
		TurnTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "chorus_turn_timeouts_total",
			Help: "Turns reverted to idle after waiting too long in generating",
		}),
		TurnStatusChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chorus_turn_status_changes_total",
			Help: "Turn status transitions by target status",
		}, []string{"status"}),
		ProbeResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chorus_probe_results_total",
			Help: "Backend reachability probes by result",
		}, []string{"result"}),
	}
}

// SetConnected records the connection state.
func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.ConnectionUp.Set(1)
	} else {
		m.ConnectionUp.Set(0)
	}
}

// RecordReconnect counts one scheduled reconnect.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// RecordSend counts one outbound envelope.
func (m *Metrics) RecordSend(envelopeType string, ok bool) {
	if m == nil {
		return
	}
	m.EnvelopesSent.WithLabelValues(envelopeType, result(ok)).Inc()
}

// RecordReceive counts one decoded inbound envelope.
func (m *Metrics) RecordReceive(envelopeType string) {
	if m == nil {
		return
	}
	m.EnvelopesReceived.WithLabelValues(envelopeType).Inc()
}

// RecordDrop counts one undecodable inbound frame.
func (m *Metrics) RecordDrop() {
	if m == nil {
		return
	}
	m.EnvelopesDropped.Inc()
}

// RecordTurnRequest counts one next-turn request outcome.
func (m *Metrics) RecordTurnRequest(outcome string) {
	if m == nil {
		return
	}
	m.TurnRequests.WithLabelValues(outcome).Inc()
}

// RecordTurnTimeout counts one timed-out turn.
func (m *Metrics) RecordTurnTimeout() {
	if m == nil {
		return
	}
	m.TurnTimeouts.Inc()
}

// RecordTurnStatus counts one turn status transition.
func (m *Metrics) RecordTurnStatus(status string) {
	if m == nil {
		return
	}
	m.TurnStatusChanges.WithLabelValues(status).Inc()
}

// RecordProbe counts one reachability probe.
func (m *Metrics) RecordProbe(reachable bool) {
	if m == nil {
		return
	}
	if reachable {
		m.ProbeResults.WithLabelValues("reachable").Inc()
	} else {
		m.ProbeResults.WithLabelValues("unreachable").Inc()
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
