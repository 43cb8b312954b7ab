package schedule

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/loom/internal/checkpoint"
	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/event"
	"github.com/felixgeelhaar/loom/internal/fingerprint"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/log"
	"github.com/felixgeelhaar/loom/internal/metrics"
	"github.com/felixgeelhaar/loom/internal/policy"
	"github.com/felixgeelhaar/loom/internal/telemetry"
)

// DefaultConcurrency is the worker pool size when none is configured.
const DefaultConcurrency = 4

// Result is what an executor reports for one node.
type Result struct {
	// Status is complete or failed. Empty means complete.
	Status graph.Status `json:"status"`
	Output string       `json:"output,omitempty"`
	// Fingerprint identifies the produced output, if the executor knows it.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Executor performs the work of a node. Implementations must honor ctx.
type Executor interface {
	Execute(ctx context.Context, n graph.Node) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, n graph.Node) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, n graph.Node) (Result, error) {
	return f(ctx, n)
}

// Config controls the worker pool.
type Config struct {
	// Concurrency caps the nodes executing at once.
	Concurrency int `mapstructure:"concurrency" json:"concurrency" yaml:"concurrency"`
	// NodeTimeout applies to nodes without their own timeout. Zero disables it.
	NodeTimeout time.Duration `mapstructure:"node_timeout" json:"node_timeout" yaml:"node_timeout"`
	// InterruptInFlight cancels running nodes when the run is cancelled.
	// Otherwise they finish and are recorded.
	InterruptInFlight bool `mapstructure:"interrupt_in_flight" json:"interrupt_in_flight" yaml:"interrupt_in_flight"`
}

// AfterWaveFunc runs after every wave, once the store has been flushed.
type AfterWaveFunc func(ctx context.Context, w WaveReport) error

// Option configures a Runner.
type Option func(*Runner)

// WithStore records execution outcomes in s.
func WithStore(s checkpoint.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithAuthorizer gates every node through the risk policy.
func WithAuthorizer(a *policy.Authorizer) Option {
	return func(r *Runner) { r.authorizer = a }
}

// WithEvents emits progress events.
func WithEvents(e *event.Emitter) Option {
	return func(r *Runner) { r.events = e }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) { r.logger = log.OrDiscard(l) }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithFingerprint sets the function computing the input fingerprint
// stored with each record. It must match the incremental planner's.
func WithFingerprint(fp fingerprint.Func) Option {
	return func(r *Runner) {
		if fp != nil {
			r.fingerprint = fp
		}
	}
}

// WithAfterWave adds a hook run after each wave.
func WithAfterWave(fn AfterWaveFunc) Option {
	return func(r *Runner) { r.afterWave = append(r.afterWave, fn) }
}

// Runner executes waves on a bounded worker pool. The goroutine calling
// Run is the only writer of graph state; workers report on a channel.
type Runner struct {
	executor    Executor
	cfg         Config
	store       checkpoint.Store
	authorizer  *policy.Authorizer
	events      *event.Emitter
	logger      *log.Logger
	metrics     *metrics.Metrics
	fingerprint fingerprint.Func
	afterWave   []AfterWaveFunc
}

// NewRunner creates a runner.
func NewRunner(executor Executor, cfg Config, opts ...Option) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	r := &Runner{
		executor:    executor,
		cfg:         cfg,
		logger:      log.Discard(),
		fingerprint: fingerprint.Node,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Concurrency returns the worker pool size.
func (r *Runner) Concurrency() int {
	return r.cfg.Concurrency
}

type outcome struct {
	node     graph.Node
	wave     int
	start    time.Time
	duration time.Duration
	result   Result
	err      error
}

// Run executes waves in order. A wave drains fully before the next one
// starts. Node failures never abort the run: the failed node's
// descendants are blocked and the remaining waves proceed. After
// cancellation no new wave starts; the returned error is then EXEC-003
// and the report covers everything that ran.
func (r *Runner) Run(ctx context.Context, g *graph.Graph, waves []Wave) (*Report, error) {
	start := time.Now()
	rep := NewReport()
	logger := r.logger.ForRun(r.events.RunID())

	ctx, span := telemetry.StartRunSpan(ctx, r.events.RunID(), len(waves))
	defer span.End()

	var runErr error
	for _, w := range waves {
		if err := ctx.Err(); err != nil {
			runErr = errors.Wrap(errors.ErrCodeExecCancelled, fmt.Sprintf("run cancelled before wave %d", w.Index), err)
			break
		}
		wr, err := r.runWave(ctx, g, w, rep)
		rep.Waves = append(rep.Waves, wr)
		if err != nil {
			runErr = err
			break
		}
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = errors.Wrap(errors.ErrCodeExecCancelled, "run cancelled", ctx.Err())
	}
	if errors.HasCode(runErr, errors.ErrCodeExecCancelled) {
		rep.Cancelled = true
		logger.Warn("run cancelled", "waves_run", len(rep.Waves), "waves", len(waves))
	}

	rep.Duration = time.Since(start)
	rep.Status = rep.status()
	if runErr != nil {
		telemetry.RecordError(span, runErr)
	} else {
		telemetry.RecordSuccess(span)
	}
	return rep, runErr
}

func (r *Runner) runWave(ctx context.Context, g *graph.Graph, w Wave, rep *Report) (WaveReport, error) {
	start := time.Now()
	logger := r.logger.ForWave(w.Index)
	wr := WaveReport{Index: w.Index, Nodes: w.Nodes}

	ctx, span := telemetry.StartWaveSpan(ctx, w.Index, w.Size())
	defer span.End()

	r.events.Emit(event.WaveStarted{Wave: w.Index, Nodes: w.Nodes})
	logger.Info("wave started", "nodes", w.Nodes)

	runnable, err := r.admit(ctx, g, w, rep, &wr)
	if err != nil {
		return wr, err
	}

	execCtx := ctx
	if !r.cfg.InterruptInFlight {
		execCtx = context.WithoutCancel(ctx)
	}

	results := make(chan outcome, len(runnable))
	go func() {
		var eg errgroup.Group
		eg.SetLimit(r.cfg.Concurrency)
		for _, n := range runnable {
			n := n
			eg.Go(func() error {
				results <- r.execute(execCtx, n, w.Index)
				return nil
			})
		}
		_ = eg.Wait()
		close(results)
	}()

	for out := range results {
		r.apply(g, out, rep, &wr)
	}

	wr.Duration = time.Since(start)
	r.checkpoint(ctx, rep, &wr)

	r.metrics.ObserveWave(len(runnable), wr.Duration)
	r.events.Emit(event.WaveCompleted{
		Wave:      w.Index,
		Completed: len(wr.Completed),
		Failed:    len(wr.Failed),
		Blocked:   len(wr.Blocked),
		Duration:  wr.Duration,
	})
	logger.Info("wave completed",
		"completed", len(wr.Completed),
		"failed", len(wr.Failed),
		"blocked", len(wr.Blocked),
		"duration", wr.Duration,
	)
	return wr, nil
}

// admit filters a wave down to the nodes that may run: blocked nodes and
// nodes with unfinished dependencies are skipped, the rest go through the
// risk gate. Admitted nodes are marked running.
func (r *Runner) admit(ctx context.Context, g *graph.Graph, w Wave, rep *Report, wr *WaveReport) ([]graph.Node, error) {
	var runnable []graph.Node
	for _, id := range w.Nodes {
		n, ok := g.Node(id)
		if !ok {
			return nil, errors.New(errors.ErrCodeGraphUnknownNode, fmt.Sprintf("wave %d references unknown node %s", w.Index, id))
		}
		if n.Status == graph.StatusBlocked {
			r.block(rep, wr, id, w.Index, "")
			continue
		}
		if dep, ok := unmetDependency(g, id); !ok {
			changed, _ := g.Block(id)
			for _, b := range changed {
				r.block(rep, wr, b, w.Index, dep)
			}
			continue
		}

		if r.authorizer != nil {
			v := r.authorize(ctx, n, rep)
			if !v.Approved {
				changed, _ := g.Block(id)
				for _, b := range changed {
					r.block(rep, wr, b, w.Index, id)
				}
				continue
			}
		}

		if err := g.SetStatus(id, graph.StatusRunning); err != nil {
			return nil, err
		}
		r.events.Emit(event.NodeStatus{NodeID: id, Status: graph.StatusRunning, Wave: w.Index})
		runnable = append(runnable, n)
	}
	return runnable, nil
}

func unmetDependency(g *graph.Graph, id string) (string, bool) {
	for _, dep := range g.Dependencies(id) {
		if n, _ := g.Node(dep); n.Status != graph.StatusComplete {
			return dep, false
		}
	}
	return "", true
}

func (r *Runner) authorize(ctx context.Context, n graph.Node, rep *Report) policy.Verdict {
	v, err := r.authorizer.Authorize(ctx, n)
	if err != nil {
		v.Approved = false
		v.Reason = err.Error()
		r.logger.ForNode(n.ID).WithError(err).Warn("review failed, blocking node")
	}
	autoApplied := v.Approved && !v.Reviewed
	r.metrics.ObserveRisk(string(v.Level), v.Approved, autoApplied)
	r.events.Emit(event.NodeReviewed{
		NodeID:      n.ID,
		Level:       v.Level,
		Approved:    v.Approved,
		AutoApplied: autoApplied,
		Reason:      v.Reason,
	})
	rep.node(n.ID).Verdict = &v
	return v
}

func (r *Runner) execute(ctx context.Context, n graph.Node, wave int) outcome {
	out := outcome{node: n, wave: wave, start: time.Now()}
	ctx, span := telemetry.StartNodeSpan(ctx, n.ID)
	defer span.End()

	if err := ctx.Err(); err != nil {
		out.err = errors.Wrap(errors.ErrCodeExecCancelled, fmt.Sprintf("node %s cancelled before start", n.ID), err)
	} else {
		timeout := n.Timeout
		if timeout <= 0 {
			timeout = r.cfg.NodeTimeout
		}
		out.result, out.err = r.call(ctx, n, timeout)
	}
	out.duration = time.Since(out.start)

	telemetry.RecordDuration(span, "node", out.duration)
	if out.err != nil {
		telemetry.RecordError(span, out.err)
	} else {
		telemetry.RecordSuccess(span)
	}
	return out
}

// call runs the executor under the node timeout. An executor that ignores
// its context is abandoned when the deadline passes.
func (r *Runner) call(ctx context.Context, n graph.Node, timeout time.Duration) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type reply struct {
		res Result
		err error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- reply{err: fmt.Errorf("executor panic: %v", p)}
			}
		}()
		res, err := r.executor.Execute(ctx, n)
		done <- reply{res: res, err: err}
	}()

	var rp reply
	select {
	case rp = <-done:
	case <-ctx.Done():
		rp.err = ctx.Err()
	}

	if rp.err != nil {
		switch {
		case timeout > 0 && stderrors.Is(ctx.Err(), context.DeadlineExceeded):
			return rp.res, &errors.TimeoutError{NodeID: n.ID, Timeout: timeout}
		case stderrors.Is(ctx.Err(), context.Canceled):
			return rp.res, errors.Wrap(errors.ErrCodeExecCancelled, fmt.Sprintf("node %s cancelled", n.ID), rp.err)
		default:
			return rp.res, &errors.ExecutionError{NodeID: n.ID, Cause: rp.err}
		}
	}

	switch rp.res.Status {
	case "", graph.StatusComplete:
		rp.res.Status = graph.StatusComplete
		return rp.res, nil
	case graph.StatusFailed:
		return rp.res, &errors.ExecutionError{NodeID: n.ID, Cause: fmt.Errorf("executor reported failure")}
	default:
		return rp.res, &errors.ExecutionError{NodeID: n.ID, Cause: fmt.Errorf("executor returned non-terminal status %q", rp.res.Status)}
	}
}

// apply folds one outcome into the graph, the store and the report.
func (r *Runner) apply(g *graph.Graph, out outcome, rep *Report, wr *WaveReport) {
	id := out.node.ID
	logger := r.logger.ForNode(id)

	nr := rep.node(id)
	nr.Wave = out.wave
	nr.Duration = out.duration
	nr.Output = out.result.Output
	nr.Fingerprint = out.result.Fingerprint

	inputFP, err := r.fingerprint(out.node)
	if err != nil {
		logger.WithError(err).Warn("fingerprint failed, node will re-run next time")
	}

	rec := checkpoint.Record{
		NodeID:            id,
		LastFingerprint:   inputFP,
		OutputFingerprint: out.result.Fingerprint,
		LastDurationMs:    out.duration.Milliseconds(),
		LastExecutedAt:    out.start.UTC(),
		Attempts:          1,
	}
	if r.store != nil {
		if prev, ok, err := r.store.Get(id); err == nil && ok {
			rec.Attempts = prev.Attempts + 1
		}
	}

	var blocked []string
	ev := event.NodeStatus{NodeID: id, Wave: out.wave, Duration: out.duration}
	if out.err == nil {
		_ = g.SetFingerprint(id, inputFP)
		_ = g.SetStatus(id, graph.StatusComplete)
		rec.LastStatus = graph.StatusComplete
		nr.Status = graph.StatusComplete
		wr.Completed = append(wr.Completed, id)
		rep.Completed = append(rep.Completed, id)
		ev.Status, ev.Progress = graph.StatusComplete, 100
		logger.Info("node complete", "duration", out.duration)
	} else {
		blocked, _ = g.MarkFailed(id)
		rec.LastStatus = graph.StatusFailed
		rec.Error = out.err.Error()
		nr.Status = graph.StatusFailed
		nr.Err = out.err
		nr.Error = out.err.Error()
		wr.Failed = append(wr.Failed, id)
		rep.Failed = append(rep.Failed, id)
		ev.Status, ev.Error = graph.StatusFailed, out.err.Error()
		logger.WithError(out.err).Warn("node failed", "blocked", blocked)
	}

	if r.store != nil {
		if err := r.store.Put(rec); err != nil {
			perr := &errors.PersistenceError{Op: "record " + id, Cause: err}
			rep.Warnings = append(rep.Warnings, perr)
			logger.WithError(perr).Warn("record not stored")
		}
	}
	r.metrics.ObserveNode(string(nr.Status), out.duration)
	r.events.Emit(ev)
	for _, b := range blocked {
		r.block(rep, wr, b, out.wave, id)
	}
}

// block reports id as blocked once. cause names the node that failed or
// was denied, if known.
func (r *Runner) block(rep *Report, wr *WaveReport, id string, wave int, cause string) {
	nr := rep.node(id)
	if nr.Status == graph.StatusBlocked {
		return
	}
	nr.Status = graph.StatusBlocked
	if nr.Wave == 0 {
		nr.Wave = wave
	}
	nr.BlockedBy = cause
	wr.Blocked = append(wr.Blocked, id)
	rep.Blocked = append(rep.Blocked, id)

	msg := ""
	if cause != "" {
		msg = "blocked by " + cause
	}
	r.events.Emit(event.NodeStatus{NodeID: id, Status: graph.StatusBlocked, Wave: nr.Wave, Error: msg})
	r.metrics.ObserveNode(string(graph.StatusBlocked), 0)
}

// checkpoint flushes the store, retrying once, then runs the after-wave
// hooks. Failures are logged and reported but never stop the run.
func (r *Runner) checkpoint(ctx context.Context, rep *Report, wr *WaveReport) {
	logger := r.logger.ForWave(wr.Index)
	ev := event.Checkpoint{Wave: wr.Index, Records: len(wr.Completed) + len(wr.Failed)}

	if r.store != nil {
		err := r.store.Flush()
		if err != nil {
			logger.WithError(err).Debug("checkpoint failed, retrying")
			err = r.store.Flush()
		}
		r.metrics.ObserveCheckpoint(err)
		if err != nil {
			var perr *errors.PersistenceError
			if !stderrors.As(err, &perr) {
				perr = &errors.PersistenceError{Op: "flush", Cause: err}
			}
			wr.CheckpointError = perr.Error()
			rep.Warnings = append(rep.Warnings, perr)
			ev.Error = perr.Error()
			logger.WithError(perr).Warn("checkpoint failed after retry")
		}
	}
	r.events.Emit(ev)

	for _, hook := range r.afterWave {
		if err := hook(ctx, *wr); err != nil {
			rep.Warnings = append(rep.Warnings, err)
			logger.WithError(err).Warn("after-wave hook failed")
		}
	}
}
