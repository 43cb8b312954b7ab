package schedule

import (
	"time"

	"github.com/felixgeelhaar/loom/internal/checkpoint"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/policy"
)

// NodeReport is the outcome of one node within a run.
type NodeReport struct {
	NodeID   string        `json:"node_id"`
	Wave     int           `json:"wave,omitempty"`
	Status   graph.Status  `json:"status"`
	Duration time.Duration `json:"duration,omitempty"`
	Output   string        `json:"output,omitempty"`
	// Fingerprint is the executor's output fingerprint.
	Fingerprint string          `json:"fingerprint,omitempty"`
	Error       string          `json:"error,omitempty"`
	Err         error           `json:"-"`
	BlockedBy   string          `json:"blocked_by,omitempty"`
	SkipReason  string          `json:"skip_reason,omitempty"`
	Verdict     *policy.Verdict `json:"verdict,omitempty"`
}

// WaveReport summarizes one drained wave.
type WaveReport struct {
	Index           int           `json:"index"`
	Nodes           []string      `json:"nodes"`
	Completed       []string      `json:"completed,omitempty"`
	Failed          []string      `json:"failed,omitempty"`
	Blocked         []string      `json:"blocked,omitempty"`
	Duration        time.Duration `json:"duration"`
	CheckpointError string        `json:"checkpoint_error,omitempty"`
}

// Report is the outcome of a run. Node lists keep the order in which
// nodes reached their final status.
type Report struct {
	Status    string                 `json:"status"`
	Nodes     map[string]*NodeReport `json:"nodes"`
	Waves     []WaveReport           `json:"waves"`
	Completed []string               `json:"completed"`
	Failed    []string               `json:"failed"`
	Blocked   []string               `json:"blocked"`
	Skipped   []string               `json:"skipped,omitempty"`
	Cancelled bool                   `json:"cancelled,omitempty"`
	Duration  time.Duration          `json:"duration"`
	// Warnings collects persistence failures that did not stop the run.
	Warnings []error `json:"-"`
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{
		Nodes:     make(map[string]*NodeReport),
		Completed: []string{},
		Failed:    []string{},
		Blocked:   []string{},
	}
}

func (r *Report) node(id string) *NodeReport {
	nr, ok := r.Nodes[id]
	if !ok {
		nr = &NodeReport{NodeID: id}
		r.Nodes[id] = nr
	}
	return nr
}

// Skip records a node served from the execution history.
func (r *Report) Skip(id, reason string) {
	nr := r.node(id)
	nr.Status = graph.StatusComplete
	nr.SkipReason = reason
	r.Skipped = append(r.Skipped, id)
}

// Merge folds a later partial run, such as a retry or a refinement round,
// into r. Node entries from other replace those in r.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	offset := len(r.Waves)
	for _, w := range other.Waves {
		w.Index += offset
		r.Waves = append(r.Waves, w)
	}
	rerun := make(map[string]bool)
	for id, nr := range other.Nodes {
		if nr.Wave > 0 {
			nr.Wave += offset
		}
		r.Nodes[id] = nr
		rerun[id] = nr.SkipReason == ""
	}
	skipped := r.Skipped[:0]
	for _, id := range r.Skipped {
		if !rerun[id] {
			skipped = append(skipped, id)
		}
	}
	r.Skipped = append(skipped, other.Skipped...)
	r.Duration += other.Duration
	// A later round that ran to the end supersedes an earlier cancellation.
	r.Cancelled = other.Cancelled
	r.Warnings = append(r.Warnings, other.Warnings...)
	r.recount()
	r.Status = r.status()
}

// recount rebuilds the node lists from the node entries, keeping the
// existing order where it applies.
func (r *Report) recount() {
	seen := make(map[string]bool)
	var order []string
	for _, list := range [][]string{r.Completed, r.Failed, r.Blocked} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				order = append(order, id)
			}
		}
	}
	for _, w := range r.Waves {
		for _, id := range w.Nodes {
			if !seen[id] {
				seen[id] = true
				order = append(order, id)
			}
		}
	}
	for id := range r.Nodes {
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}

	r.Completed, r.Failed, r.Blocked = []string{}, []string{}, []string{}
	for _, id := range order {
		nr, ok := r.Nodes[id]
		if !ok || nr.SkipReason != "" {
			continue
		}
		switch nr.Status {
		case graph.StatusComplete:
			r.Completed = append(r.Completed, id)
		case graph.StatusFailed:
			r.Failed = append(r.Failed, id)
		case graph.StatusBlocked:
			r.Blocked = append(r.Blocked, id)
		}
	}
}

func (r *Report) status() string {
	switch {
	case r.Cancelled:
		return checkpoint.RunCancelled
	case len(r.Failed) > 0 || len(r.Blocked) > 0:
		return checkpoint.RunFailed
	default:
		return checkpoint.RunCompleted
	}
}

// Succeeded reports whether every scheduled node completed.
func (r *Report) Succeeded() bool {
	return r.Status == checkpoint.RunCompleted
}

// Executed returns the number of nodes that ran in this report.
func (r *Report) Executed() int {
	return len(r.Completed) + len(r.Failed)
}
