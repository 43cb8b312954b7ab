// Package refine re-scores an executed graph with an external judge and
// feeds the judge's issues back into the graph until the result is good
// enough, the round budget is spent or the score stops improving.
package refine

import (
	"context"
	"fmt"
	"math"

	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/schedule"
)

// State is a refinement loop state.
type State string

const (
	StateScoring              State = "scoring"
	StateRefine               State = "refine"
	StateAccept               State = "accept"
	StateAcceptWithRegression State = "accept_with_regression"
)

// Terminal reports whether the loop stops in s.
func (s State) Terminal() bool {
	return s == StateAccept || s == StateAcceptWithRegression
}

// MaxScore is the top of the judge's scale.
const MaxScore = 10.0

// Artifact is what the judge scores: the executed graph and its report.
type Artifact struct {
	Goal   string
	Round  int
	Graph  *graph.Graph
	Report *schedule.Report
}

// Judgement is the judge's verdict on an artifact.
type Judgement struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues,omitempty"`
}

// Judge scores artifacts on a 0-10 scale.
type Judge interface {
	Score(ctx context.Context, a Artifact) (Judgement, error)
}

// JudgeFunc adapts a function to Judge.
type JudgeFunc func(ctx context.Context, a Artifact) (Judgement, error)

// Score calls f.
func (f JudgeFunc) Score(ctx context.Context, a Artifact) (Judgement, error) {
	return f(ctx, a)
}

// Config bounds the loop.
type Config struct {
	// Threshold is the score at which a result is accepted.
	Threshold float64 `mapstructure:"threshold" json:"threshold" yaml:"threshold"`
	// MaxRounds caps the number of patch-and-rerun rounds.
	MaxRounds int `mapstructure:"max_rounds" json:"max_rounds" yaml:"max_rounds"`
}

// Non-improving rounds in a row that end the loop.
const maxStalls = 2

// DefaultConfig returns the default bounds.
func DefaultConfig() Config {
	return Config{Threshold: 8.0, MaxRounds: 2}
}

// Validate checks the bounds.
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > MaxScore {
		return errors.NewConfigInvalidError(fmt.Sprintf("refinement threshold %.2f outside 0-%.0f", c.Threshold, MaxScore))
	}
	if c.MaxRounds < 0 {
		return errors.NewConfigInvalidError(fmt.Sprintf("refinement max_rounds %d is negative", c.MaxRounds))
	}
	return nil
}

func validateJudgement(j Judgement) error {
	if math.IsNaN(j.Score) || j.Score < 0 || j.Score > MaxScore {
		return fmt.Errorf("judge score %.2f outside 0-%.0f", j.Score, MaxScore)
	}
	return nil
}
