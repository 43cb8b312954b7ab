package plan

import (
	"fmt"

	"github.com/felixgeelhaar/loom/internal/graph"
)

// Metrics are the structural measurements of a candidate graph.
type Metrics struct {
	Depth             int     `json:"depth" yaml:"depth"`
	Width             int     `json:"width" yaml:"width"`
	LeafCount         int     `json:"leaf_count" yaml:"leaf_count"`
	ArtifactCount     int     `json:"artifact_count" yaml:"artifact_count"`
	ParallelismFactor float64 `json:"parallelism_factor" yaml:"parallelism_factor"`
	BalanceFactor     float64 `json:"balance_factor" yaml:"balance_factor"`
	EstimatedWaves    int     `json:"estimated_waves" yaml:"estimated_waves"`
	FileConflicts     int     `json:"file_conflicts" yaml:"file_conflicts"`
}

// Candidate is one alternative plan for a goal. Candidates are values:
// scoring and selection return updated copies and never modify the input.
type Candidate struct {
	ID       string         `json:"id" yaml:"id"`
	Graph    *graph.Graph   `json:"graph,omitempty" yaml:"graph,omitempty"`
	Variance VarianceConfig `json:"variance" yaml:"variance"`
	Metrics  *Metrics       `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	// Score is nil until the candidate is scored.
	Score           *float64 `json:"score,omitempty" yaml:"score,omitempty"`
	SelectionReason string   `json:"selection_reason,omitempty" yaml:"selection_reason,omitempty"`

	// Err is set when the candidate was rejected during generation or
	// scoring. Rejection mirrors it for serialized audit output.
	Err       error  `json:"-" yaml:"-"`
	Rejection string `json:"rejection,omitempty" yaml:"rejection,omitempty"`
}

// Scored reports whether the candidate carries a score.
func (c Candidate) Scored() bool {
	return c.Score != nil && c.Err == nil
}

// Rejected reports whether the candidate was excluded.
func (c Candidate) Rejected() bool {
	return c.Err != nil
}

// ScoreValue returns the score or zero when unscored.
func (c Candidate) ScoreValue() float64 {
	if c.Score == nil {
		return 0
	}
	return *c.Score
}

// Diagnostic describes the candidate's state in one line.
func (c Candidate) Diagnostic() string {
	switch {
	case c.Err != nil:
		return fmt.Sprintf("%s (%s): %v", c.ID, c.Variance, c.Err)
	case c.Score == nil:
		return fmt.Sprintf("%s (%s): not scored", c.ID, c.Variance)
	}
	return fmt.Sprintf("%s (%s): score %.2f", c.ID, c.Variance, *c.Score)
}

func (c Candidate) reject(err error) Candidate {
	c.Err = err
	c.Rejection = err.Error()
	c.Score = nil
	return c
}

func candidateID(i int) string {
	return fmt.Sprintf("candidate-%d", i+1)
}
