package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/felixgeelhaar/loom/internal/errors"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	tests := []struct {
		name   string
		metric interface{}
	}{
		{"CommandExecutions", m.CommandExecutions},
		{"CommandDuration", m.CommandDuration},
		{"Candidates", m.Candidates},
		{"CandidateScore", m.CandidateScore},
		{"PlanDuration", m.PlanDuration},
		{"Refinements", m.Refinements},
		{"NodeExecutions", m.NodeExecutions},
		{"NodeDuration", m.NodeDuration},
		{"NodesSkipped", m.NodesSkipped},
		{"Waves", m.Waves},
		{"WaveSize", m.WaveSize},
		{"WaveDuration", m.WaveDuration},
		{"RiskDecisions", m.RiskDecisions},
		{"CheckpointWrites", m.CheckpointWrites},
		{"Errors", m.Errors},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestPlanningMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	score := 8.5
	m.ObserveCandidate(&score)
	m.ObserveCandidate(nil)
	m.ObserveCandidate(nil)
	m.ObservePlan(2 * time.Second)
	m.ObserveRefinement("refine")

	if got := testutil.ToFloat64(m.Candidates.WithLabelValues("scored")); got != 1 {
		t.Errorf("Candidates scored = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Candidates.WithLabelValues("rejected")); got != 2 {
		t.Errorf("Candidates rejected = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.CandidateScore); got != 1 {
		t.Errorf("CandidateScore series = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Refinements.WithLabelValues("refine")); got != 1 {
		t.Errorf("Refinements = %v, want 1", got)
	}
}

func TestSchedulingMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveNode("complete", time.Second)
	m.ObserveNode("complete", 2*time.Second)
	m.ObserveNode("failed", time.Second)
	m.ObserveSkip("unchanged_success")
	m.ObserveWave(3, 5*time.Second)
	m.ObserveWave(1, time.Second)

	if got := testutil.ToFloat64(m.NodeExecutions.WithLabelValues("complete")); got != 2 {
		t.Errorf("NodeExecutions complete = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.NodeExecutions.WithLabelValues("failed")); got != 1 {
		t.Errorf("NodeExecutions failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.NodesSkipped.WithLabelValues("unchanged_success")); got != 1 {
		t.Errorf("NodesSkipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Waves); got != 2 {
		t.Errorf("Waves = %v, want 2", got)
	}
}

func TestRiskMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveRisk("low", true, true)
	m.ObserveRisk("high", true, false)
	m.ObserveRisk("critical", false, false)

	tests := []struct {
		level, decision string
	}{
		{"low", "auto_applied"},
		{"high", "approved"},
		{"critical", "denied"},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(m.RiskDecisions.WithLabelValues(tt.level, tt.decision)); got != 1 {
			t.Errorf("RiskDecisions %s/%s = %v, want 1", tt.level, tt.decision, got)
		}
	}
}

func TestErrorMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveCheckpoint(nil)
	m.ObserveCheckpoint(&errors.PersistenceError{Op: "flush", Cause: fmt.Errorf("disk full")})
	m.ObserveError("engine", fmt.Errorf("plain"))
	m.ObserveError("engine", nil)
	m.ObserveCommand("run", time.Second, errors.New(errors.ErrCodeExecFailed, "boom"))

	if got := testutil.ToFloat64(m.CheckpointWrites.WithLabelValues("true")); got != 1 {
		t.Errorf("CheckpointWrites true = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CheckpointWrites.WithLabelValues("false")); got != 1 {
		t.Errorf("CheckpointWrites false = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Errors.WithLabelValues("STORE-001", "checkpoint")); got != 1 {
		t.Errorf("Errors STORE-001 = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Errors.WithLabelValues("unknown", "engine")); got != 1 {
		t.Errorf("Errors unknown = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Errors.WithLabelValues("EXEC-001", "cmd")); got != 1 {
		t.Errorf("Errors EXEC-001 = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CommandExecutions.WithLabelValues("run", "false")); got != 1 {
		t.Errorf("CommandExecutions = %v, want 1", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	score := 1.0

	m.ObserveCommand("run", time.Second, nil)
	m.ObserveCandidate(&score)
	m.ObservePlan(time.Second)
	m.ObserveRefinement("accept")
	m.ObserveNode("complete", time.Second)
	m.ObserveSkip("no_cache")
	m.ObserveWave(1, time.Second)
	m.ObserveRisk("low", true, true)
	m.ObserveCheckpoint(nil)
	m.ObserveError("x", fmt.Errorf("y"))
}
