package refine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/event"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/log"
	"github.com/felixgeelhaar/loom/internal/metrics"
	"github.com/felixgeelhaar/loom/internal/schedule"
	"github.com/felixgeelhaar/loom/internal/telemetry"
)

// Scheduler runs waves over a graph. *schedule.Runner implements it.
type Scheduler interface {
	Run(ctx context.Context, g *graph.Graph, waves []schedule.Wave) (*schedule.Report, error)
	Concurrency() int
}

// Round records one scoring pass and the patch that followed it.
type Round struct {
	Round    int      `json:"round"`
	Score    float64  `json:"score"`
	State    State    `json:"state"`
	Issues   []string `json:"issues,omitempty"`
	Improved bool     `json:"improved"`
	Patch    *Patch   `json:"patch,omitempty"`
}

// Outcome is the terminal result of the loop.
type Outcome struct {
	State  State   `json:"state"`
	Score  float64 `json:"score"`
	Rounds []Round `json:"rounds"`
	// Refinements is the number of patch-and-rerun rounds performed.
	Refinements int `json:"refinements"`
}

// Option configures a Loop.
type Option func(*Loop)

// WithEvents sets the event emitter.
func WithEvents(e *event.Emitter) Option {
	return func(l *Loop) { l.events = e }
}

// WithLogger sets the logger.
func WithLogger(lg *log.Logger) Option {
	return func(l *Loop) { l.logger = lg }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// Loop drives scoring and refinement over an executed graph.
type Loop struct {
	judge     Judge
	scheduler Scheduler
	cfg       Config
	patcher   Patcher
	events    *event.Emitter
	logger    *log.Logger
	metrics   *metrics.Metrics
}

// NewLoop creates a loop.
func NewLoop(judge Judge, scheduler Scheduler, cfg Config, opts ...Option) *Loop {
	l := &Loop{judge: judge, scheduler: scheduler, cfg: cfg}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = log.OrDiscard(l.logger)
	return l
}

// Refine scores the graph and report produced by a run. While the score
// is below the threshold it patches the graph with the judge's issues and
// reruns only the patched nodes and their descendants, merging each
// partial report into report. Nodes outside that set are never executed
// again.
func (l *Loop) Refine(ctx context.Context, goal string, g *graph.Graph, report *schedule.Report) (*Outcome, error) {
	if err := l.cfg.Validate(); err != nil {
		return nil, err
	}
	out := &Outcome{State: StateScoring}
	logger := l.logger.ForRun(l.events.RunID())

	prev := 0.0
	stalls := 0
	for round := 1; ; round++ {
		rctx, span := telemetry.StartRefineSpan(ctx, round)
		r, err := l.round(rctx, goal, g, report, round, prev, &stalls, out)
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()

		if r != nil {
			out.Rounds = append(out.Rounds, *r)
			out.Score = r.Score
			out.State = r.State
			prev = r.Score
		}
		if err != nil {
			l.metrics.ObserveError("refine", err)
			return out, err
		}
		if r.State.Terminal() {
			logger.Info("refinement finished",
				"state", string(r.State),
				"score", r.Score,
				"refinements", out.Refinements,
			)
			return out, nil
		}
	}
}

func (l *Loop) round(ctx context.Context, goal string, g *graph.Graph, report *schedule.Report, round int, prev float64, stalls *int, out *Outcome) (*Round, error) {
	j, err := l.judge.Score(ctx, Artifact{Goal: goal, Round: round, Graph: g, Report: report})
	if err == nil {
		err = validateJudgement(j)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRefineJudge, fmt.Sprintf("score round %d", round), err)
	}

	r := &Round{Round: round, Score: j.Score, Issues: j.Issues}
	r.Improved = round == 1 || j.Score > prev
	if r.Improved {
		*stalls = 0
	} else {
		*stalls++
	}
	r.State = l.decide(j, *stalls, out.Refinements)
	l.metrics.ObserveRefinement(string(r.State))

	if r.State != StateRefine {
		l.emit(r)
		return r, nil
	}

	patch, err := l.patcher.Apply(g, round, j.Issues)
	r.Patch = &patch
	l.emit(r)
	if err != nil {
		return r, err
	}
	out.Refinements++

	waves, err := schedule.ComputeWaves(g, nil, l.scheduler.Concurrency(), nil)
	if err != nil {
		return r, errors.Wrap(errors.ErrCodeRefinePatch, "schedule patched graph", err)
	}
	affected := make(map[string]bool, len(patch.Affected))
	for _, id := range patch.Affected {
		affected[id] = true
	}
	waves = schedule.Subgraph(waves, affected)

	l.logger.Info("refinement round",
		"round", round,
		"score", j.Score,
		"modified", len(patch.Modified),
		"added", len(patch.Added),
		"waves", len(waves),
	)

	start := time.Now()
	partial, err := l.scheduler.Run(ctx, g, waves)
	report.Merge(partial)
	l.logger.Debug("refinement rerun finished", "duration", time.Since(start))
	return r, err
}

// decide applies the transition out of scoring.
func (l *Loop) decide(j Judgement, stalls, refinements int) State {
	switch {
	case j.Score >= l.cfg.Threshold:
		return StateAccept
	case stalls >= maxStalls:
		return StateAcceptWithRegression
	case refinements >= l.cfg.MaxRounds:
		return StateAccept
	case len(nonEmpty(j.Issues)) == 0:
		// Nothing to patch.
		return StateAccept
	default:
		return StateRefine
	}
}

func (l *Loop) emit(r *Round) {
	ev := event.RefinementRound{
		Round:  r.Round,
		Score:  r.Score,
		State:  string(r.State),
		Issues: r.Issues,
	}
	if r.Patch != nil {
		ev.Affected = r.Patch.Affected
	}
	l.events.Emit(ev)
}

func nonEmpty(issues []string) []string {
	var out []string
	for _, s := range issues {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
