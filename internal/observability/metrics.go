package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects application metrics for the coaching backend.
//
// The metrics system is built on Prometheus and tracks:
//   - actions appended to the log, by type
//   - observer outcomes (nudges sent, suppressed by reason, triage calls)
//   - model call latency, token usage, and estimated cost
//   - tool-surface invocations
//   - connected UI clients and dropped egress frames
type Metrics struct {
	// ActionsLogged counts actions appended to the action log.
	// Labels: action_type
	ActionsLogged *prometheus.CounterVec

	// NudgesSent counts nudges delivered to the UI.
	NudgesSent prometheus.Counter

	// NudgesSuppressed counts nudges blocked after (or before) triage.
	// Labels: reason (cooldown|low_confidence|muted|flow_state)
	NudgesSuppressed *prometheus.CounterVec

	// TriageCalls counts classifier invocations.
	// Labels: status (success|error)
	TriageCalls *prometheus.CounterVec

	// ModelCallDuration measures model API call latency in seconds.
	// Labels: call_type, model
	ModelCallDuration *prometheus.HistogramVec

	// ModelTokensUsed tracks token consumption.
	// Labels: model, type (input|output)
	ModelTokensUsed *prometheus.CounterVec

	// ModelCostEstimate accumulates estimated spend in USD.
	// Labels: model
	ModelCostEstimate *prometheus.CounterVec

	// ToolInvocations counts tool-surface calls.
	// Labels: tool, status (success|error)
	ToolInvocations *prometheus.CounterVec

	// ConnectedClients tracks currently connected UI clients.
	ConnectedClients prometheus.Gauge

	// DroppedFrames counts low-priority frames dropped from slow client
	// egress queues. Labels: message_type
	DroppedFrames *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call once at startup; metrics are served at /metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ActionsLogged: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paige_actions_total",
				Help: "Total actions appended to the action log by type",
			},
			[]string{"action_type"},
		),

		NudgesSent: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "paige_nudges_sent_total",
				Help: "Total nudges delivered to the UI",
			},
		),

		NudgesSuppressed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paige_nudges_suppressed_total",
				Help: "Total nudges suppressed by reason",
			},
			[]string{"reason"},
		),

		TriageCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paige_triage_calls_total",
				Help: "Total observer classifier invocations by status",
			},
			[]string{"status"},
		),

		ModelCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "paige_model_call_duration_seconds",
				Help:    "Duration of model API calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"call_type", "model"},
		),

		ModelTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paige_model_tokens_total",
				Help: "Total tokens used by model and type",
			},
			[]string{"model", "type"},
		),

		ModelCostEstimate: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paige_model_cost_usd_total",
				Help: "Estimated model spend in USD",
			},
			[]string{"model"},
		),

		ToolInvocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paige_tool_invocations_total",
				Help: "Total tool-surface invocations by tool and status",
			},
			[]string{"tool", "status"},
		),

		ConnectedClients: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "paige_connected_clients",
				Help: "Currently connected UI clients",
			},
		),

		DroppedFrames: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paige_dropped_frames_total",
				Help: "Low-priority frames dropped from slow client queues",
			},
			[]string{"message_type"},
		),
	}
}
