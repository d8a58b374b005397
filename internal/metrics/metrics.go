// Package metrics registers the Prometheus series exported by the
// gateway, adapted in shape from the teacher's internal/metrics package
// (same MustRegister pattern, same Gauge/CounterVec families) but
// re-scoped to the proxy-gateway domain: sessions, protocol front-ends,
// relay budgets, and address-pool fallbacks.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_gateway_active_sessions",
		Help: "Number of active proxy sessions",
	})
	SessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_gateway_sessions_total",
		Help: "Sessions dispatched by detected protocol",
	}, []string{"protocol"})
	SessionErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_gateway_session_errors_total",
		Help: "Session outcomes by class (none, benign, warning, fatal)",
	}, []string{"class"})
	BytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_gateway_bytes_total",
		Help: "Bytes relayed by direction",
	}, []string{"dir"}) // ws_to_target, target_to_ws, h3_ingress_in, h3_ingress_out
	DialAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_gateway_dial_attempts_total",
		Help: "Address-pool dial attempts by outcome",
	}, []string{"outcome"}) // ok, fail, fallback
	RelayIterationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_gateway_relay_iterations_total",
		Help: "Cumulative relay loop iterations across all sessions",
	})
	RelayYieldsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_gateway_relay_yields_total",
		Help: "Cumulative voluntary relay yields across all sessions",
	})
	RelayBudgetExceededTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_gateway_relay_budget_exceeded_total",
		Help: "Relay terminations by exhausted budget kind",
	}, []string{"budget"}) // iterations, wall_clock, cpu
	BackpressureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_gateway_backpressure_total",
		Help: "Times the stream adaptor signalled not-ready due to a full buffer",
	})
	H3OversizeFramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_gateway_h3_oversize_frames_total",
		Help: "HTTP/3 ingress frames dropped for exceeding the configured max payload",
	})
	H3RejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_gateway_h3_rejected_total",
		Help: "HTTP/3 ingress requests rejected before a session started, by reason",
	}, []string{"reason"})
	H3HandshakesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_gateway_h3_handshakes_total",
		Help: "HTTP/3 ingress WebSocket handshakes completed",
	})
)

func init() {
	prometheus.MustRegister(
		ActiveSessions, SessionsTotal, SessionErrorsTotal, BytesTotal,
		DialAttemptsTotal, RelayIterationsTotal, RelayYieldsTotal,
		RelayBudgetExceededTotal, BackpressureTotal,
		H3OversizeFramesTotal, H3RejectedTotal, H3HandshakesTotal,
	)
}
