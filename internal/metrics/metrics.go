package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the agent runtime.
type Metrics struct {
	registry *prometheus.Registry

	Executions   *prometheus.CounterVec
	Iterations   prometheus.Histogram
	ToolCalls    *prometheus.CounterVec
	Handoffs     prometheus.Counter
	TokensUsed   *prometheus.CounterVec
	GatedReplies prometheus.Counter
}

// New creates a Metrics with its own registry (keeps tests isolated from the
// global default registry).
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_executions_total",
			Help: "Reasoning-loop executions by agent kind and terminal status.",
		}, []string{"kind", "status"}),
		Iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "switchboard_execution_iterations",
			Help:    "Iterations used per execution.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_tool_calls_total",
			Help: "Tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		Handoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_handoffs_total",
			Help: "Conversations handed off to a human operator.",
		}),
		TokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_tokens_total",
			Help: "Tokens consumed by direction (prompt/completion).",
		}, []string{"direction"}),
		GatedReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_gated_replies_total",
			Help: "Inbound messages answered by the gate without a model call.",
		}),
	}

	reg.MustRegister(m.Executions, m.Iterations, m.ToolCalls, m.Handoffs, m.TokensUsed, m.GatedReplies)
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
