package metrics

import "github.com/prometheus/client_golang/prometheus"

// DecisionMetrics exposes counters/histograms for the decision-and-dispatch
// worker loop.
type DecisionMetrics struct {
	decisionsTotal       *prometheus.CounterVec
	escalationsTotal     *prometheus.CounterVec
	dispatchTotal        *prometheus.CounterVec
	stageFailures        *prometheus.CounterVec
	duplicatesSuppressed prometheus.Counter
	deadLetterTotal      *prometheus.CounterVec
	breakerTransitions   *prometheus.CounterVec
	pipelineLatency      *prometheus.HistogramVec
}

func NewDecisionMetrics(reg prometheus.Registerer) *DecisionMetrics {
	m := &DecisionMetrics{
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leaseline",
			Subsystem: "decisions",
			Name:      "total",
			Help:      "Reply pipeline decisions by outcome",
		}, []string{"outcome"}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leaseline",
			Subsystem: "decisions",
			Name:      "escalations_total",
			Help:      "Escalated messages by reason code",
		}, []string{"reason"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leaseline",
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Outbound dispatch attempts by platform and status",
		}, []string{"platform", "status"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leaseline",
			Subsystem: "dispatch",
			Name:      "stage_failures_total",
			Help:      "Per-platform failures by processing stage",
		}, []string{"platform", "stage"}),
		duplicatesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "leaseline",
			Subsystem: "dispatch",
			Name:      "duplicates_suppressed_total",
			Help:      "Dispatch attempts suppressed by the idempotency guard",
		}),
		deadLetterTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leaseline",
			Subsystem: "dispatch",
			Name:      "dead_letter_total",
			Help:      "Messages routed to the dead-letter queue",
		}, []string{"platform"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leaseline",
			Subsystem: "connector",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		}, []string{"platform", "action", "transition"}),
		pipelineLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "leaseline",
			Subsystem: "decisions",
			Name:      "pipeline_latency_seconds",
			Help:      "Latency of one reply pipeline evaluation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.decisionsTotal,
		m.escalationsTotal,
		m.dispatchTotal,
		m.stageFailures,
		m.duplicatesSuppressed,
		m.deadLetterTotal,
		m.breakerTransitions,
		m.pipelineLatency,
	)
	return m
}

func (m *DecisionMetrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(outcome).Inc()
}

func (m *DecisionMetrics) ObserveEscalation(reason string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(reason).Inc()
}

func (m *DecisionMetrics) ObserveDispatch(platform, status string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(platform, status).Inc()
}

func (m *DecisionMetrics) ObserveStageFailure(platform, stage string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(platform, stage).Inc()
}

func (m *DecisionMetrics) ObserveDuplicateSuppressed() {
	if m == nil {
		return
	}
	m.duplicatesSuppressed.Inc()
}

func (m *DecisionMetrics) ObserveDeadLetter(platform string) {
	if m == nil {
		return
	}
	m.deadLetterTotal.WithLabelValues(platform).Inc()
}

func (m *DecisionMetrics) ObserveBreakerTransition(platform, action, transition string) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(platform, action, transition).Inc()
}

func (m *DecisionMetrics) ObservePipelineLatency(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.pipelineLatency.WithLabelValues(outcome).Observe(seconds)
}
