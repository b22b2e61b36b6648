package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine's prometheus collectors.
type Metrics struct {
	MessagesTotal    *prometheus.CounterVec
	DuplicatesTotal  prometheus.Counter
	EmergenciesTotal prometheus.Counter
	ToolInvocations  *prometheus.CounterVec
	LoopIterations   prometheus.Histogram
	ReasoningLatency prometheus.Histogram
	SessionsEvicted  prometheus.Counter
	SendFailures     *prometheus.CounterVec
}

// New creates the collectors and registers them with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medsense",
			Name:      "messages_total",
			Help:      "Inbound messages by platform and outcome.",
		}, []string{"platform", "outcome"}),
		DuplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medsense",
			Name:      "duplicate_messages_total",
			Help:      "Messages dropped by the deduplicator.",
		}),
		EmergenciesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medsense",
			Name:      "emergencies_total",
			Help:      "Messages that took the emergency short-circuit path.",
		}),
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medsense",
			Name:      "tool_invocations_total",
			Help:      "Tool registry invocations by tool name and status.",
		}, []string{"tool", "status"}),
		LoopIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medsense",
			Name:      "loop_iterations",
			Help:      "Reasoning iterations used per turn.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		ReasoningLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "medsense",
			Name:      "reasoning_latency_seconds",
			Help:      "Latency of reasoning adapter calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		SessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medsense",
			Name:      "sessions_evicted_total",
			Help:      "Sessions removed by TTL eviction.",
		}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medsense",
			Name:      "send_failures_total",
			Help:      "Outbound dispatch failures by platform.",
		}, []string{"platform"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.MessagesTotal,
			m.DuplicatesTotal,
			m.EmergenciesTotal,
			m.ToolInvocations,
			m.LoopIterations,
			m.ReasoningLatency,
			m.SessionsEvicted,
			m.SendFailures,
		)
	}
	return m
}

// NewNop returns collectors that are not registered anywhere, for tests.
func NewNop() *Metrics {
	return New(nil)
}
