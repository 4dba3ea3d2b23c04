// Package metrics registers Jarvis's Prometheus instrumentation on a shared
// registerer, in a single Metrics struct with collectors grouped by subsystem.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every Prometheus collector Jarvis exposes.
type Metrics struct {
	reg prometheus.Registerer

	PipelineOutcomesTotal *prometheus.CounterVec
	PipelineDuration      *prometheus.HistogramVec

	AttemptsTotal     *prometheus.CounterVec
	AttemptDuration   *prometheus.HistogramVec
	EscalationsTotal  *prometheus.CounterVec
	SuppressionsTotal prometheus.Counter

	SSHConnectionsOpen   prometheus.Gauge
	SSHConnectsTotal     *prometheus.CounterVec
	SSHCommandDuration   *prometheus.HistogramVec
	SSHCommandsTotal     *prometheus.CounterVec

	LearnerBypassTotal   *prometheus.CounterVec
	LearnerPatternCount  prometheus.Gauge

	QueueDepth       prometheus.Gauge
	QueueDroppedTotal prometheus.Counter

	HostStatusTotal *prometheus.CounterVec

	HandoffsTotal *prometheus.CounterVec

	LLMCallsTotal *prometheus.CounterVec
	LLMTokensIn   prometheus.Counter
	LLMTokensOut  prometheus.Counter
	LLMDuration   prometheus.Histogram

	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,

		PipelineOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jarvis_pipeline_outcomes_total",
			Help: "Alerts processed by final pipeline outcome.",
		}, []string{"outcome", "alert_name"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jarvis_pipeline_duration_seconds",
			Help:    "End-to-end processing time per alert.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"outcome"}),

		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jarvis_remediation_attempts_total",
			Help: "Remediation attempts by alert name and success.",
		}, []string{"alert_name", "success"}),
		AttemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jarvis_remediation_attempt_duration_seconds",
			Help:    "Duration of remediation attempt execution.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"alert_name"}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jarvis_escalations_total",
			Help: "Escalations to humans by reason.",
		}, []string{"reason"}),
		SuppressionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jarvis_suppressions_total",
			Help: "Alerts dropped due to an active cascading suppression.",
		}),

		SSHConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jarvis_ssh_connections_open",
			Help: "Currently pooled SSH connections.",
		}),
		SSHConnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jarvis_ssh_connects_total",
			Help: "SSH connection attempts by outcome.",
		}, []string{"host", "outcome"}),
		SSHCommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jarvis_ssh_command_duration_seconds",
			Help:    "Duration of individual SSH command executions.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"host"}),
		SSHCommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jarvis_ssh_commands_total",
			Help: "SSH command executions by host and outcome.",
		}, []string{"host", "outcome"}),

		LearnerBypassTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jarvis_learner_decisions_total",
			Help: "Learner match decisions by kind (bypass, hint, miss).",
		}, []string{"decision"}),
		LearnerPatternCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jarvis_learner_patterns",
			Help: "Number of enabled remediation patterns.",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jarvis_queue_depth",
			Help: "Current in-memory degraded-mode queue depth.",
		}),
		QueueDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jarvis_queue_dropped_total",
			Help: "Alerts dropped because the degraded-mode queue was full.",
		}),

		HostStatusTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jarvis_host_status_transitions_total",
			Help: "Host reachability transitions by host and new status.",
		}, []string{"host", "status"}),

		HandoffsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jarvis_self_restart_handoffs_total",
			Help: "Self-restart handoffs by terminal status.",
		}, []string{"status"}),

		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jarvis_llm_calls_total",
			Help: "LLM provider calls by outcome.",
		}, []string{"outcome"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jarvis_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jarvis_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jarvis_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),

		DBQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jarvis_db_query_duration_seconds",
			Help:    "Duration of individual database queries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "outcome"}),
	}

	reg.MustRegister(
		m.PipelineOutcomesTotal, m.PipelineDuration,
		m.AttemptsTotal, m.AttemptDuration, m.EscalationsTotal, m.SuppressionsTotal,
		m.SSHConnectionsOpen, m.SSHConnectsTotal, m.SSHCommandDuration, m.SSHCommandsTotal,
		m.LearnerBypassTotal, m.LearnerPatternCount,
		m.QueueDepth, m.QueueDroppedTotal,
		m.HostStatusTotal,
		m.HandoffsTotal,
		m.LLMCallsTotal, m.LLMTokensIn, m.LLMTokensOut, m.LLMDuration,
		m.DBQueryDuration,
	)

	return m
}

// Registry exposes the underlying Prometheus registerer, e.g. for components
// that register a collector set of their own.
func (m *Metrics) Registry() prometheus.Registerer { return m.reg }
