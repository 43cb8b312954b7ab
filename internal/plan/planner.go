package plan

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/loom/internal/event"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/log"
)

// Refiner is implemented by providers that can revise a plan from
// structural feedback.
type Refiner interface {
	Refine(ctx context.Context, goal string, current *graph.Graph, feedback []string) (*graph.Graph, error)
}

// Options controls one planning round.
type Options struct {
	Candidates int
	Strategy   Strategy
	// RefinementRounds bounds plan-level refinement after selection.
	RefinementRounds int
}

// DefaultOptions returns five prompting candidates and one refinement round.
func DefaultOptions() Options {
	return Options{Candidates: 5, Strategy: StrategyPrompting, RefinementRounds: 1}
}

// Refinement records one plan-level refinement round.
type Refinement struct {
	Round    int      `json:"round" yaml:"round"`
	Feedback []string `json:"feedback" yaml:"feedback"`
	OldScore float64  `json:"old_score" yaml:"old_score"`
	NewScore float64  `json:"new_score,omitempty" yaml:"new_score,omitempty"`
	Improved bool     `json:"improved" yaml:"improved"`
	Error    string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// Result is the outcome of a planning round.
type Result struct {
	Goal string `json:"goal" yaml:"goal"`
	// Candidates holds every candidate, scored or rejected, for audit.
	Candidates  []Candidate  `json:"candidates" yaml:"candidates"`
	Selected    Candidate    `json:"selected" yaml:"selected"`
	Refinements []Refinement `json:"refinements,omitempty" yaml:"refinements,omitempty"`
}

// Graph returns a copy of the selected candidate's graph. Callers run and
// patch the copy; Candidates and Selected stay as they were scored.
func (r *Result) Graph() *graph.Graph {
	if r.Selected.Graph == nil {
		return nil
	}
	return r.Selected.Graph.Clone()
}

// Planner runs generation, scoring, selection and optional refinement.
type Planner struct {
	generator *Generator
	scorer    *Scorer
	refiner   Refiner
	events    *event.Emitter
	logger    *log.Logger
}

// NewPlanner creates a planner. When the provider implements Refiner it is
// used for plan-level refinement.
func NewPlanner(p Provider, scorer *Scorer, events *event.Emitter, logger *log.Logger) *Planner {
	logger = log.OrDiscard(logger)
	pl := &Planner{
		generator: NewGenerator(p, WithGeneratorLogger(logger)),
		scorer:    scorer,
		events:    events,
		logger:    logger,
	}
	if r, ok := p.(Refiner); ok {
		pl.refiner = r
	}
	return pl
}

// Plan produces the winning plan for goal.
func (p *Planner) Plan(ctx context.Context, goal string, opts Options) (*Result, error) {
	generated, err := p.generator.Generate(ctx, goal, opts.Candidates, opts.Strategy)
	if err != nil {
		return nil, err
	}

	scored := p.scorer.ScoreAll(generated)
	for _, c := range scored {
		if c.Rejected() {
			p.logger.ForCandidate(c.ID).Warn("candidate excluded", "reason", c.Rejection)
			p.events.Emit(event.CandidateRejected{CandidateID: c.ID, Reason: c.Rejection})
			continue
		}
		p.events.Emit(scoredEvent(c))
	}

	result := &Result{Goal: goal, Candidates: scored}
	selected, err := SelectForGoal(goal, scored)
	if err != nil {
		return nil, err
	}
	p.logger.ForCandidate(selected.ID).Info("plan selected",
		"score", selected.ScoreValue(), "reason", selected.SelectionReason)
	p.events.Emit(event.PlanSelected{
		CandidateID: selected.ID,
		Score:       selected.ScoreValue(),
		Reason:      selected.SelectionReason,
		Candidates:  len(scored),
	})

	result.Selected = selected
	if p.refiner != nil && opts.RefinementRounds > 0 {
		result.Selected, result.Refinements = p.refine(ctx, goal, selected, opts.RefinementRounds)
	}
	return result, nil
}

// refine asks the refiner to improve the selected plan. A revision is kept
// only when it scores strictly higher; the first non-improving round stops.
func (p *Planner) refine(ctx context.Context, goal string, current Candidate, rounds int) (Candidate, []Refinement) {
	var history []Refinement
	for round := 1; round <= rounds; round++ {
		if ctx.Err() != nil {
			break
		}
		feedback := IdentifyImprovements(*current.Metrics)
		if len(feedback) == 0 {
			break
		}

		r := Refinement{Round: round, Feedback: feedback, OldScore: current.ScoreValue()}
		revised, err := p.refiner.Refine(ctx, goal, current.Graph.Clone(), feedback)
		if err == nil && revised == nil {
			err = fmt.Errorf("refiner returned no graph")
		}
		if err != nil {
			r.Error = err.Error()
			history = append(history, r)
			p.logger.Warn("plan refinement failed", "round", round, "error", err)
			break
		}

		candidate, err := p.scorer.Score(Candidate{
			ID:       fmt.Sprintf("%s-r%d", current.ID, round),
			Graph:    revised.Clone(),
			Variance: current.Variance,
		})
		if err != nil {
			r.Error = err.Error()
			history = append(history, r)
			break
		}

		r.NewScore = candidate.ScoreValue()
		r.Improved = r.NewScore > r.OldScore
		history = append(history, r)
		p.events.Emit(event.PlanRefined{
			Round:    round,
			Feedback: feedback,
			OldScore: r.OldScore,
			NewScore: r.NewScore,
			Improved: r.Improved,
		})
		if !r.Improved {
			break
		}
		candidate.SelectionReason = fmt.Sprintf("%s; refined in round %d from %.2f to %.2f",
			current.SelectionReason, round, r.OldScore, r.NewScore)
		current = candidate
	}
	return current, history
}

func scoredEvent(c Candidate) event.CandidateScored {
	return event.CandidateScored{
		CandidateID:       c.ID,
		Score:             c.ScoreValue(),
		Depth:             c.Metrics.Depth,
		Width:             c.Metrics.Width,
		EstimatedWaves:    c.Metrics.EstimatedWaves,
		FileConflicts:     c.Metrics.FileConflicts,
		ParallelismFactor: c.Metrics.ParallelismFactor,
		BalanceFactor:     c.Metrics.BalanceFactor,
	}
}
