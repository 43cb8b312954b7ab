package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/felixgeelhaar/loom/internal/analysis"
	"github.com/felixgeelhaar/loom/internal/checkpoint"
	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/event"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/incremental"
	"github.com/felixgeelhaar/loom/internal/log"
	"github.com/felixgeelhaar/loom/internal/plan"
	"github.com/felixgeelhaar/loom/internal/refine"
	"github.com/felixgeelhaar/loom/internal/schedule"
)

// Metadata keys of run checkpoints.
const (
	MetaGraph = "graph"
	MetaPlan  = "plan_candidate"
)

// RunOptions controls one run.
type RunOptions struct {
	// RunID overrides the generated run id.
	RunID string
	// ForceAll re-runs every node regardless of history.
	ForceAll bool
	// Force re-runs the listed nodes.
	Force []string
}

func (o RunOptions) incremental() incremental.Options {
	opts := incremental.Options{ForceAll: o.ForceAll}
	if len(o.Force) > 0 {
		opts.Force = make(map[string]bool, len(o.Force))
		for _, id := range o.Force {
			opts.Force[id] = true
		}
	}
	return opts
}

// RunResult is the outcome of Run or Execute. Retry and Reschedule fold
// their partial runs into it.
type RunResult struct {
	RunID       string            `json:"run_id" yaml:"run_id"`
	Goal        string            `json:"goal,omitempty" yaml:"goal,omitempty"`
	Plan        *plan.Result      `json:"plan,omitempty" yaml:"plan,omitempty"`
	Incremental *incremental.Plan `json:"incremental" yaml:"incremental"`
	Waves       []schedule.Wave   `json:"waves" yaml:"waves"`
	Report      *schedule.Report  `json:"report" yaml:"report"`
	Refinement  *refine.Outcome   `json:"refinement,omitempty" yaml:"refinement,omitempty"`
	Graph       *graph.Graph      `json:"-" yaml:"-"`

	critical *analysis.CriticalPath
	state    *checkpoint.RunState
	started  time.Time
}

// State returns the run checkpoint.
func (r *RunResult) State() *checkpoint.RunState {
	return r.state
}

// Run executes g. Nodes whose history allows it are skipped; the rest run
// wave by wave. Node failures are reported in the result, not as an error;
// the error is non-nil only for invalid graphs and cancellation.
func (e *Engine) Run(ctx context.Context, goal string, g *graph.Graph, opts RunOptions) (*RunResult, error) {
	res, err := e.start(goal, g, opts)
	if err != nil {
		return nil, err
	}
	err = e.runWaves(ctx, res, res.Waves)
	e.complete(res)
	return res, err
}

// Execute plans goal, runs the selected plan and, when a judge is
// configured, refines the result.
func (e *Engine) Execute(ctx context.Context, goal string, opts RunOptions) (*RunResult, error) {
	planned, err := e.Plan(ctx, goal)
	if err != nil {
		return nil, err
	}

	res, err := e.start(goal, planned.Graph(), opts)
	if err != nil {
		return nil, err
	}
	res.Plan = planned
	res.state.SetMetadata(MetaPlan, planned.Selected.ID)

	err = e.runWaves(ctx, res, res.Waves)
	if err == nil && e.judge != nil {
		loop := refine.NewLoop(e.judge, e.runner(res), e.cfg.Refinement,
			refine.WithEvents(event.NewEmitter(e.sink, res.RunID)),
			refine.WithLogger(e.logger),
			refine.WithMetrics(e.metrics),
		)
		res.Refinement, err = loop.Refine(ctx, goal, res.Graph, res.Report)
	}
	e.complete(res)
	return res, err
}

// start classifies nodes, marks skipped ones complete and the rest pending,
// computes waves and opens the run checkpoint.
func (e *Engine) start(goal string, g *graph.Graph, opts RunOptions) (*RunResult, error) {
	if g == nil {
		return nil, errors.New(errors.ErrCodeGraphInvalidNode, "no graph to run")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = e.newRunID()
	}
	res := &RunResult{RunID: runID, Goal: goal, Graph: g, started: time.Now()}
	logger := e.logger.ForRun(runID)
	emitter := event.NewEmitter(e.sink, runID)

	durations, err := checkpoint.Durations(e.store)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreRead, "read execution history", err)
	}
	if res.critical, err = analysis.ComputeCriticalPath(g, analysis.HistoryWeight(durations)); err != nil {
		return nil, err
	}
	if res.Incremental, err = incremental.NewPlanner(e.store, nil).Compute(g, opts.incremental()); err != nil {
		return nil, err
	}

	res.Report = schedule.NewReport()
	res.state = checkpoint.NewRunState(runID, goal)
	for _, id := range res.Incremental.ToSkip {
		d := res.Incremental.Decisions[id]
		if err := g.SetStatus(id, graph.StatusComplete); err != nil {
			return nil, err
		}
		if err := g.SetFingerprint(id, d.CurrentFingerprint); err != nil {
			return nil, err
		}
		res.Report.Skip(id, d.Reason.String())
		res.state.MarkSkipped(id, d.Reason.String())
		emitter.Emit(event.NodeSkipped{NodeID: id, Reason: d.Reason.String()})
		e.metrics.ObserveSkip(d.Reason.String())
	}
	// The graph may carry statuses from an earlier run on it.
	for _, id := range res.Incremental.ToExecute {
		if err := g.SetStatus(id, graph.StatusPending); err != nil {
			return nil, err
		}
		if err := g.SetProgress(id, 0); err != nil {
			return nil, err
		}
		res.state.Nodes[id] = checkpoint.NodeState{Status: graph.StatusPending}
	}

	if res.Waves, err = schedule.ComputeWaves(g, res.Incremental, e.cfg.Scheduling.Concurrency, res.critical); err != nil {
		return nil, err
	}
	res.state.Waves = len(res.Waves)
	e.saveGraph(res)
	e.save(res, logger)

	logger.Info("run started",
		"goal", goal,
		"nodes", g.Len(),
		"to_execute", len(res.Incremental.ToExecute),
		"to_skip", len(res.Incremental.ToSkip),
		"waves", len(res.Waves),
	)
	emitter.Emit(event.RunStarted{
		Goal:      goal,
		Nodes:     g.Len(),
		ToExecute: len(res.Incremental.ToExecute),
		ToSkip:    len(res.Incremental.ToSkip),
		Waves:     len(res.Waves),
	})
	return res, nil
}

// runner builds a runner whose events carry the run id and whose
// after-wave hook updates the run checkpoint.
func (e *Engine) runner(res *RunResult) *schedule.Runner {
	opts := []schedule.Option{
		schedule.WithStore(e.store),
		schedule.WithEvents(event.NewEmitter(e.sink, res.RunID)),
		schedule.WithLogger(e.logger),
		schedule.WithMetrics(e.metrics),
		schedule.WithAfterWave(e.afterWave(res)),
	}
	if e.authorizer != nil {
		opts = append(opts, schedule.WithAuthorizer(e.authorizer))
	}
	return schedule.NewRunner(e.executor, e.cfg.Scheduling, opts...)
}

func (e *Engine) runWaves(ctx context.Context, res *RunResult, waves []schedule.Wave) error {
	rep, err := e.runner(res).Run(ctx, res.Graph, waves)
	res.Report.Merge(rep)
	return err
}

// afterWave copies the statuses of a drained wave into the run checkpoint
// and saves it.
func (e *Engine) afterWave(res *RunResult) schedule.AfterWaveFunc {
	return func(_ context.Context, w schedule.WaveReport) error {
		for _, id := range append(append([]string{}, w.Completed...), w.Failed...) {
			res.state.UpdateNode(id, graph.StatusRunning, nil)
			n, _ := res.Graph.Node(id)
			res.state.UpdateNode(id, n.Status, nil)
		}
		for _, id := range w.Blocked {
			res.state.UpdateNode(id, graph.StatusBlocked, nil)
		}
		res.state.Wave++
		if e.runs == nil {
			return nil
		}
		return e.runs.Save(res.state)
	}
}

// complete closes the run: final statuses and errors go to the checkpoint
// and RunCompleted is emitted.
func (e *Engine) complete(res *RunResult) {
	logger := e.logger.ForRun(res.RunID)
	rep := res.Report
	rep.Duration = time.Since(res.started)

	for id, nr := range rep.Nodes {
		if nr.SkipReason != "" {
			continue
		}
		ns := res.state.Nodes[id]
		ns.Status = nr.Status
		ns.Wave = nr.Wave
		ns.Error = nr.Error
		res.state.Nodes[id] = ns
	}
	res.state.Status = rep.Status
	if rep.Status == "" {
		res.state.Status = checkpoint.RunCompleted
	}
	res.state.Waves = len(rep.Waves)
	e.saveGraph(res)
	if err := e.save(res, logger); err != nil {
		rep.Warnings = append(rep.Warnings, err)
	}

	event.NewEmitter(e.sink, res.RunID).Emit(event.RunCompleted{
		Status:    res.state.Status,
		Completed: len(rep.Completed),
		Failed:    len(rep.Failed),
		Blocked:   len(rep.Blocked),
		Skipped:   len(rep.Skipped),
		Duration:  rep.Duration,
	})
	logger.Info("run finished",
		"status", res.state.Status,
		"completed", len(rep.Completed),
		"failed", len(rep.Failed),
		"blocked", len(rep.Blocked),
		"skipped", len(rep.Skipped),
		"duration", rep.Duration,
	)
}

func (e *Engine) saveGraph(res *RunResult) {
	data, err := json.Marshal(res.Graph)
	if err != nil {
		e.logger.ForRun(res.RunID).WithError(err).Warn("graph not stored in run checkpoint")
		return
	}
	res.state.SetMetadata(MetaGraph, string(data))
}

func (e *Engine) save(res *RunResult, logger *log.Logger) error {
	if e.runs == nil {
		return nil
	}
	if err := e.runs.Save(res.state); err != nil {
		logger.WithError(err).Warn("run checkpoint not saved")
		e.metrics.ObserveError("engine", err)
		return err
	}
	return nil
}
