package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/felixgeelhaar/loom/internal/errors"
)

// Metrics holds all Prometheus metrics for loom. Every Observe method is
// safe on a nil receiver so components can run without instrumentation.
type Metrics struct {
	// Command execution metrics
	CommandExecutions *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec

	// Planning metrics
	Candidates     *prometheus.CounterVec
	CandidateScore prometheus.Histogram
	PlanDuration   prometheus.Histogram
	Refinements    *prometheus.CounterVec

	// Scheduling metrics
	NodeExecutions *prometheus.CounterVec
	NodeDuration   *prometheus.HistogramVec
	NodesSkipped   *prometheus.CounterVec
	Waves          prometheus.Counter
	WaveSize       prometheus.Histogram
	WaveDuration   prometheus.Histogram

	// Risk gate metrics
	RiskDecisions *prometheus.CounterVec

	// Persistence metrics
	CheckpointWrites *prometheus.CounterVec

	// Error metrics (by structured error code)
	Errors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		CommandExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_command_executions_total",
				Help: "Total number of CLI command executions",
			},
			[]string{"command", "success"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_command_duration_seconds",
				Help:    "CLI command duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),

		Candidates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_plan_candidates_total",
				Help: "Total number of plan candidates by outcome",
			},
			[]string{"outcome"},
		),
		CandidateScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loom_plan_candidate_score",
				Help:    "Scores of scored plan candidates",
				Buckets: prometheus.LinearBuckets(1, 1, 10),
			},
		),
		PlanDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loom_plan_duration_seconds",
				Help:    "Time to generate, score and select a plan",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
		),
		Refinements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_refinement_rounds_total",
				Help: "Total number of refinement rounds by resulting state",
			},
			[]string{"state"},
		),

		NodeExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_node_executions_total",
				Help: "Total number of node executions by final status",
			},
			[]string{"status"},
		),
		NodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loom_node_duration_seconds",
				Help:    "Node execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0},
			},
			[]string{"status"},
		),
		NodesSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_nodes_skipped_total",
				Help: "Total number of nodes served from the execution history",
			},
			[]string{"reason"},
		),
		Waves: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "loom_waves_total",
				Help: "Total number of executed waves",
			},
		),
		WaveSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loom_wave_size",
				Help:    "Number of nodes per wave",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
		),
		WaveDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loom_wave_duration_seconds",
				Help:    "Wave duration in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0},
			},
		),

		RiskDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_risk_decisions_total",
				Help: "Total number of risk gate decisions",
			},
			[]string{"level", "decision"},
		),

		CheckpointWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_checkpoint_writes_total",
				Help: "Total number of checkpoint flushes",
			},
			[]string{"success"},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loom_errors_total",
				Help: "Total number of errors by error code",
			},
			[]string{"error_code", "component"},
		),
	}
}

// ObserveCommand records one CLI command execution.
func (m *Metrics) ObserveCommand(command string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.CommandExecutions.WithLabelValues(command, strconv.FormatBool(err == nil)).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(d.Seconds())
	m.ObserveError("cmd", err)
}

// ObserveCandidate records a scored candidate. A nil score counts as rejected.
func (m *Metrics) ObserveCandidate(score *float64) {
	if m == nil {
		return
	}
	if score == nil {
		m.Candidates.WithLabelValues("rejected").Inc()
		return
	}
	m.Candidates.WithLabelValues("scored").Inc()
	m.CandidateScore.Observe(*score)
}

// ObservePlan records the duration of one planning pass.
func (m *Metrics) ObservePlan(d time.Duration) {
	if m == nil {
		return
	}
	m.PlanDuration.Observe(d.Seconds())
}

// ObserveRefinement records a refinement round ending in state.
func (m *Metrics) ObserveRefinement(state string) {
	if m == nil {
		return
	}
	m.Refinements.WithLabelValues(state).Inc()
}

// ObserveNode records a node reaching a final status.
func (m *Metrics) ObserveNode(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.NodeExecutions.WithLabelValues(status).Inc()
	m.NodeDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveSkip records a node served from the execution history.
func (m *Metrics) ObserveSkip(reason string) {
	if m == nil {
		return
	}
	m.NodesSkipped.WithLabelValues(reason).Inc()
}

// ObserveWave records a drained wave.
func (m *Metrics) ObserveWave(size int, d time.Duration) {
	if m == nil {
		return
	}
	m.Waves.Inc()
	m.WaveSize.Observe(float64(size))
	m.WaveDuration.Observe(d.Seconds())
}

// ObserveRisk records a risk gate verdict.
func (m *Metrics) ObserveRisk(level string, approved, autoApplied bool) {
	if m == nil {
		return
	}
	decision := "denied"
	switch {
	case autoApplied:
		decision = "auto_applied"
	case approved:
		decision = "approved"
	}
	m.RiskDecisions.WithLabelValues(level, decision).Inc()
}

// ObserveCheckpoint records a store flush.
func (m *Metrics) ObserveCheckpoint(err error) {
	if m == nil {
		return
	}
	m.CheckpointWrites.WithLabelValues(strconv.FormatBool(err == nil)).Inc()
	m.ObserveError("checkpoint", err)
}

// ObserveError counts err under its error code. Uncoded errors count as
// "unknown"; nil is ignored.
func (m *Metrics) ObserveError(component string, err error) {
	if m == nil || err == nil {
		return
	}
	code := "unknown"
	if c, ok := errors.CodeOf(err); ok {
		code = string(c)
	}
	m.Errors.WithLabelValues(code, component).Inc()
}
