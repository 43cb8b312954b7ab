package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/loom/internal/analysis"
	"github.com/felixgeelhaar/loom/internal/checkpoint"
	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/schedule"
)

// Retry re-runs a failed node of a finished run. When it succeeds and the
// blocked policy is auto_retry, the descendants it blocked are rescheduled
// in the same call; with manual they stay blocked until Reschedule.
func (e *Engine) Retry(ctx context.Context, res *RunResult, nodeID string) (*schedule.Report, error) {
	n, ok := res.Graph.Node(nodeID)
	if !ok {
		return nil, errors.New(errors.ErrCodeGraphUnknownNode, fmt.Sprintf("unknown node %s", nodeID))
	}
	if n.Status != graph.StatusFailed {
		return nil, errors.New(errors.ErrCodeExecFailed, fmt.Sprintf("node %s is %s, only failed nodes can be retried", nodeID, n.Status)).
			WithSuggestion("Use 'loom status' to list failed nodes")
	}

	if err := res.Graph.SetStatus(nodeID, graph.StatusPending); err != nil {
		return nil, err
	}
	e.logger.ForRun(res.RunID).ForNode(nodeID).Info("retrying node", "blocked_policy", string(e.cfg.BlockedPolicy))
	if err := e.rerun(ctx, res, []string{nodeID}); err != nil {
		return res.Report, err
	}

	if after, _ := res.Graph.Node(nodeID); after.Status != graph.StatusComplete || e.cfg.BlockedPolicy != BlockedAutoRetry {
		return res.Report, nil
	}
	return e.Reschedule(ctx, res)
}

// Reschedule returns blocked nodes whose dependencies are no longer failed
// or blocked to pending and runs them.
func (e *Engine) Reschedule(ctx context.Context, res *RunResult) (*schedule.Report, error) {
	ids := res.Graph.Unblock()
	if len(ids) == 0 {
		return res.Report, nil
	}
	e.logger.ForRun(res.RunID).Info("rescheduling unblocked nodes", "nodes", len(ids))
	err := e.rerun(ctx, res, ids)
	return res.Report, err
}

// rerun schedules ids in dependency order, runs them and folds the partial
// report into res.
func (e *Engine) rerun(ctx context.Context, res *RunResult, ids []string) error {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	waves, err := schedule.ComputeWaves(res.Graph, nil, e.cfg.Scheduling.Concurrency, res.critical)
	if err != nil {
		return err
	}

	res.started = time.Now().Add(-res.Report.Duration)
	err = e.runWaves(ctx, res, schedule.Subgraph(waves, set))
	e.complete(res)
	return err
}

// Resume rebuilds the result of an earlier run from its checkpoint so that
// Retry and Reschedule can continue it in a new process.
func (e *Engine) Resume(state *checkpoint.RunState) (*RunResult, error) {
	raw, ok := state.Metadata[MetaGraph]
	if !ok {
		return nil, errors.New(errors.ErrCodeStoreCorrupt, fmt.Sprintf("run checkpoint %s carries no graph", state.RunID))
	}
	g := graph.New()
	if err := g.UnmarshalJSON([]byte(raw)); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreCorrupt, fmt.Sprintf("run checkpoint %s has an invalid graph", state.RunID), err)
	}

	critical, err := analysis.ComputeCriticalPath(g, nil)
	if err != nil {
		return nil, err
	}

	rep := schedule.NewReport()
	for _, id := range g.IDs() {
		ns, ok := state.Nodes[id]
		if !ok || ns.Status == "" {
			continue
		}
		if err := g.SetStatus(id, ns.Status); err != nil {
			return nil, err
		}
		if ns.SkipReason != "" {
			rep.Skip(id, ns.SkipReason)
			continue
		}
		nr := &schedule.NodeReport{NodeID: id, Wave: ns.Wave, Status: ns.Status, Error: ns.Error}
		rep.Nodes[id] = nr
		switch ns.Status {
		case graph.StatusComplete:
			rep.Completed = append(rep.Completed, id)
		case graph.StatusFailed:
			rep.Failed = append(rep.Failed, id)
		case graph.StatusBlocked:
			rep.Blocked = append(rep.Blocked, id)
		}
	}
	rep.Status = state.Status

	return &RunResult{
		RunID:    state.RunID,
		Goal:     state.Goal,
		Graph:    g,
		Report:   rep,
		critical: critical,
		state:    state,
		started:  time.Now(),
	}, nil
}
