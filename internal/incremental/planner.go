package incremental

import (
	"fmt"

	"github.com/felixgeelhaar/loom/internal/checkpoint"
	"github.com/felixgeelhaar/loom/internal/fingerprint"
	"github.com/felixgeelhaar/loom/internal/graph"
)

// Decision is the classification of one node.
type Decision struct {
	NodeID              string     `json:"node_id"`
	Skip                bool       `json:"skip"`
	Reason              SkipReason `json:"reason"`
	CurrentFingerprint  string     `json:"current_fingerprint"`
	PreviousFingerprint string     `json:"previous_fingerprint,omitempty"`
}

// Plan is the skip/execute split for one run. It is derived from the graph
// and the store on demand and never persisted.
type Plan struct {
	// ToExecute and ToSkip list node ids in topological order.
	ToExecute []string            `json:"to_execute"`
	ToSkip    []string            `json:"to_skip"`
	Decisions map[string]Decision `json:"decisions"`
}

// Executes reports whether id must run.
func (p *Plan) Executes(id string) bool {
	d, ok := p.Decisions[id]
	return ok && !d.Skip
}

// Skipped reports whether id is served from cache.
func (p *Plan) Skipped(id string) bool {
	d, ok := p.Decisions[id]
	return ok && d.Skip
}

// SkipPercentage returns the share of skipped nodes in percent.
func (p *Plan) SkipPercentage() float64 {
	total := len(p.ToExecute) + len(p.ToSkip)
	if total == 0 {
		return 0
	}
	return float64(len(p.ToSkip)) / float64(total) * 100
}

// CountByReason tallies decisions per reason.
func (p *Plan) CountByReason() map[SkipReason]int {
	counts := make(map[SkipReason]int)
	for _, d := range p.Decisions {
		counts[d.Reason]++
	}
	return counts
}

// Options controls forced re-execution.
type Options struct {
	// ForceAll re-runs every node.
	ForceAll bool
	// Force re-runs the listed nodes.
	Force map[string]bool
}

// Planner classifies nodes against an execution history.
type Planner struct {
	store       checkpoint.Reader
	fingerprint fingerprint.Func
}

// NewPlanner creates a planner. A nil fingerprint func uses fingerprint.Node.
func NewPlanner(store checkpoint.Reader, fp fingerprint.Func) *Planner {
	if fp == nil {
		fp = fingerprint.Node
	}
	return &Planner{store: store, fingerprint: fp}
}

// Fingerprint computes the current fingerprint of a node.
func (p *Planner) Fingerprint(n graph.Node) (string, error) {
	return p.fingerprint(n)
}

// Compute walks the graph in topological order and applies, per node, the
// first matching rule:
//
//  1. no record                         -> execute, no_cache
//  2. a dependency executes             -> execute, dependency_changed
//  3. last status is not complete       -> execute, previous_failed
//  4. fingerprint differs from record   -> execute, hash_changed
//  5. forced (node or global)           -> execute, force_rerun
//  6. otherwise                         -> skip, unchanged_success
func (p *Planner) Compute(g *graph.Graph, opts Options) (*Plan, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	snapshot, err := p.store.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("read execution history: %w", err)
	}

	plan := &Plan{Decisions: make(map[string]Decision, len(order))}
	for _, id := range order {
		n, _ := g.Node(id)
		current, err := p.fingerprint(n)
		if err != nil {
			return nil, fmt.Errorf("fingerprint %s: %w", id, err)
		}

		d := Decision{NodeID: id, CurrentFingerprint: current}
		rec, ok := snapshot[id]
		if ok {
			d.PreviousFingerprint = rec.LastFingerprint
		}

		switch {
		case !ok:
			d.Reason = ReasonNoCache
		case plan.anyExecutes(g.Dependencies(id)):
			d.Reason = ReasonDependencyChanged
		case rec.LastStatus != graph.StatusComplete:
			d.Reason = ReasonPreviousFailed
		case current != rec.LastFingerprint:
			d.Reason = ReasonHashChanged
		case opts.ForceAll || opts.Force[id]:
			d.Reason = ReasonForceRerun
		default:
			d.Reason = ReasonUnchangedSuccess
			d.Skip = true
		}

		plan.Decisions[id] = d
		if d.Skip {
			plan.ToSkip = append(plan.ToSkip, id)
		} else {
			plan.ToExecute = append(plan.ToExecute, id)
		}
	}
	return plan, nil
}

func (p *Plan) anyExecutes(ids []string) bool {
	for _, id := range ids {
		if p.Executes(id) {
			return true
		}
	}
	return false
}
