// Package engine wires planning, analysis, incremental scheduling, wave
// execution and refinement into the operations the CLI exposes.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/loom/internal/analysis"
	"github.com/felixgeelhaar/loom/internal/checkpoint"
	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/event"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/incremental"
	"github.com/felixgeelhaar/loom/internal/log"
	"github.com/felixgeelhaar/loom/internal/metrics"
	"github.com/felixgeelhaar/loom/internal/plan"
	"github.com/felixgeelhaar/loom/internal/policy"
	"github.com/felixgeelhaar/loom/internal/refine"
	"github.com/felixgeelhaar/loom/internal/schedule"
	"github.com/felixgeelhaar/loom/internal/telemetry"
)

// BlockedPolicy decides what happens to blocked descendants once the node
// that blocked them is retried successfully.
type BlockedPolicy string

const (
	// BlockedAutoRetry reschedules unblocked descendants right away.
	BlockedAutoRetry BlockedPolicy = "auto_retry"
	// BlockedManual leaves them blocked until Reschedule is called.
	BlockedManual BlockedPolicy = "manual"
)

// ParseBlockedPolicy validates a policy name. The empty string means auto_retry.
func ParseBlockedPolicy(s string) (BlockedPolicy, error) {
	switch BlockedPolicy(s) {
	case "", BlockedAutoRetry:
		return BlockedAutoRetry, nil
	case BlockedManual:
		return BlockedManual, nil
	}
	return "", errors.NewConfigInvalidError(fmt.Sprintf("unknown blocked policy %q (want auto_retry or manual)", s))
}

// Config is the engine configuration.
type Config struct {
	Planning            plan.Options
	Weights             plan.Weights
	Scheduling          schedule.Config
	BlockedPolicy       BlockedPolicy
	BottleneckThreshold int
	Refinement          refine.Config
}

// DefaultConfig returns the defaults used when no configuration file exists.
func DefaultConfig() Config {
	return Config{
		Planning:            plan.DefaultOptions(),
		Weights:             plan.DefaultWeights(),
		Scheduling:          schedule.Config{Concurrency: schedule.DefaultConcurrency},
		BlockedPolicy:       BlockedAutoRetry,
		BottleneckThreshold: analysis.DefaultBottleneckThreshold,
		Refinement:          refine.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if _, err := ParseBlockedPolicy(string(c.BlockedPolicy)); err != nil {
		return err
	}
	if c.Scheduling.Concurrency < 0 {
		return errors.NewConfigInvalidError(fmt.Sprintf("scheduling concurrency %d is negative", c.Scheduling.Concurrency))
	}
	if c.Scheduling.NodeTimeout < 0 {
		return errors.NewConfigInvalidError(fmt.Sprintf("scheduling node_timeout %s is negative", c.Scheduling.NodeTimeout))
	}
	return c.Refinement.Validate()
}

// Option configures an Engine.
type Option func(*Engine)

// WithProvider sets the plan provider used by Plan and Execute.
func WithProvider(p plan.Provider) Option {
	return func(e *Engine) { e.provider = p }
}

// WithStore sets the execution history store.
func WithStore(s checkpoint.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithRunManager persists a run checkpoint after every wave.
func WithRunManager(m *checkpoint.Manager) Option {
	return func(e *Engine) { e.runs = m }
}

// WithAuthorizer enables the risk gate.
func WithAuthorizer(a *policy.Authorizer) Option {
	return func(e *Engine) { e.authorizer = a }
}

// WithJudge enables the refinement loop in Execute.
func WithJudge(j refine.Judge) Option {
	return func(e *Engine) { e.judge = j }
}

// WithSink sets the progress sink.
func WithSink(s event.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine runs plans.
type Engine struct {
	cfg        Config
	executor   schedule.Executor
	provider   plan.Provider
	store      checkpoint.Store
	runs       *checkpoint.Manager
	authorizer *policy.Authorizer
	judge      refine.Judge
	sink       event.Sink
	logger     *log.Logger
	metrics    *metrics.Metrics
	scorer     *plan.Scorer
	newRunID   func() string
}

// New creates an engine. Without WithStore the execution history lives in
// memory only.
func New(executor schedule.Executor, cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Scheduling.Concurrency == 0 {
		cfg.Scheduling.Concurrency = schedule.DefaultConcurrency
	}
	if cfg.BlockedPolicy == "" {
		cfg.BlockedPolicy = BlockedAutoRetry
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		executor: executor,
		sink:     event.Discard,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = checkpoint.NewMemoryStore()
	}
	e.logger = log.OrDiscard(e.logger)
	e.scorer = plan.NewScorer(cfg.Weights, cfg.Scheduling.Concurrency)
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Store returns the execution history store.
func (e *Engine) Store() checkpoint.Store {
	return e.store
}

// Plan generates, scores and selects a plan for goal.
func (e *Engine) Plan(ctx context.Context, goal string) (*plan.Result, error) {
	if e.provider == nil {
		return nil, errors.New(errors.ErrCodePlanGeneration, "no plan provider configured").
			WithSuggestion("Pass a plan file with --plan or configure a provider")
	}

	opts := e.cfg.Planning
	ctx, span := telemetry.StartPlanSpan(ctx, goal, opts.Candidates)
	defer span.End()

	start := time.Now()
	planner := plan.NewPlanner(e.provider, e.scorer, event.NewEmitter(e.sink, ""), e.logger)
	result, err := planner.Plan(ctx, goal, opts)
	e.metrics.ObservePlan(time.Since(start))
	if err != nil {
		e.metrics.ObserveError("plan", err)
		telemetry.RecordError(span, err)
		return nil, err
	}
	for _, c := range result.Candidates {
		e.metrics.ObserveCandidate(c.Score)
	}
	telemetry.RecordSuccess(span)
	return result, nil
}

// Analysis is the static view of a graph against the execution history.
type Analysis struct {
	Metrics      plan.Metrics                 `json:"metrics" yaml:"metrics"`
	Score        float64                      `json:"score" yaml:"score"`
	CriticalPath *analysis.CriticalPath       `json:"critical_path" yaml:"critical_path"`
	Bottlenecks  []analysis.Bottleneck        `json:"bottlenecks" yaml:"bottlenecks"`
	Risks        map[string]policy.Assessment `json:"risks" yaml:"risks"`
	Incremental  *incremental.Plan            `json:"incremental" yaml:"incremental"`
	Waves        []schedule.Wave              `json:"waves" yaml:"waves"`
}

// Analyze scores g, finds its critical path and bottlenecks, assesses the
// risk of every node and previews the incremental plan and waves. Risk
// levels are recorded on g.
func (e *Engine) Analyze(g *graph.Graph, opts RunOptions) (*Analysis, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	a := &Analysis{}
	var err error
	if a.Metrics, a.Score, err = e.scorer.ScoreGraph(g); err != nil {
		return nil, err
	}

	durations, err := checkpoint.Durations(e.store)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreRead, "read execution history", err)
	}
	if a.CriticalPath, err = analysis.ComputeCriticalPath(g, analysis.HistoryWeight(durations)); err != nil {
		return nil, err
	}
	a.Bottlenecks = analysis.FindBottlenecks(g, e.cfg.BottleneckThreshold)

	assessor := policy.NewAssessor(policy.DefaultPolicy().Risk)
	if e.authorizer != nil {
		assessor = e.authorizer.Assessor()
	}
	if a.Risks, err = assessor.AssessGraph(g); err != nil {
		return nil, err
	}

	if a.Incremental, err = incremental.NewPlanner(e.store, nil).Compute(g, opts.incremental()); err != nil {
		return nil, err
	}
	if a.Waves, err = schedule.ComputeWaves(g, a.Incremental, e.cfg.Scheduling.Concurrency, a.CriticalPath); err != nil {
		return nil, err
	}
	return a, nil
}
