package plan

import (
	"fmt"
	"math"

	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/graph"
)

// Weights combine the metrics into a score. The sum is normalized, so only
// the ratios matter.
type Weights struct {
	Parallelism float64 `mapstructure:"parallelism" json:"parallelism" yaml:"parallelism"`
	Balance     float64 `mapstructure:"balance" json:"balance" yaml:"balance"`
	Depth       float64 `mapstructure:"depth" json:"depth" yaml:"depth"`
	Conflicts   float64 `mapstructure:"conflicts" json:"conflicts" yaml:"conflicts"`
}

// DefaultWeights favor parallel plans, then even layers, then shallow
// critical paths, and penalize write conflicts least.
func DefaultWeights() Weights {
	return Weights{Parallelism: 4, Balance: 3, Depth: 2, Conflicts: 1}
}

func (w Weights) sum() float64 {
	return w.Parallelism + w.Balance + w.Depth + w.Conflicts
}

// Validate rejects negative and all-zero weights.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"parallelism": w.Parallelism,
		"balance":     w.Balance,
		"depth":       w.Depth,
		"conflicts":   w.Conflicts,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.NewInvalidWeightsError(fmt.Sprintf("%s must be a non-negative number, got %v", name, v))
		}
	}
	if w.sum() == 0 {
		return errors.NewInvalidWeightsError("at least one weight must be positive")
	}
	return nil
}

// MaxScore is the upper bound of a score.
const MaxScore = 10.0

// Scorer computes metrics and scores for candidates.
type Scorer struct {
	weights     Weights
	concurrency int
}

// NewScorer creates a scorer. Concurrency is the worker cap used for
// estimated_waves; zero or less means unbounded.
func NewScorer(weights Weights, concurrency int) *Scorer {
	return &Scorer{weights: weights, concurrency: concurrency}
}

// Weights returns the configured weights.
func (s *Scorer) Weights() Weights { return s.weights }

// Score returns a copy of c with metrics and score set. Rejected, empty or
// cyclic candidates and invalid weights yield a ScoringError.
func (s *Scorer) Score(c Candidate) (Candidate, error) {
	if c.Err != nil {
		return c, &errors.ScoringError{CandidateID: c.ID, Reason: "rejected during generation", Cause: c.Err}
	}
	if err := s.weights.Validate(); err != nil {
		return c, &errors.ScoringError{CandidateID: c.ID, Reason: "invalid weights", Cause: err}
	}
	if c.Graph == nil {
		return c, &errors.ScoringError{CandidateID: c.ID, Reason: "candidate has no graph"}
	}

	m, err := ComputeMetrics(c.Graph, s.concurrency)
	if err != nil {
		return c, &errors.ScoringError{CandidateID: c.ID, Reason: "metrics unavailable", Cause: err}
	}
	score := s.combine(m)
	c.Metrics = &m
	c.Score = &score
	return c, nil
}

// ScoreAll scores every candidate. Candidates that cannot be scored are
// returned with Err set to their ScoringError.
func (s *Scorer) ScoreAll(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		scored, err := s.Score(c)
		if err != nil {
			scored = c.reject(err)
		}
		out[i] = scored
	}
	return out
}

// ScoreGraph scores a bare graph.
func (s *Scorer) ScoreGraph(g *graph.Graph) (Metrics, float64, error) {
	c, err := s.Score(Candidate{ID: "graph", Graph: g})
	if err != nil {
		return Metrics{}, 0, err
	}
	return *c.Metrics, *c.Score, nil
}

func (s *Scorer) combine(m Metrics) float64 {
	w := s.weights
	raw := w.Parallelism*m.ParallelismFactor +
		w.Balance*m.BalanceFactor +
		w.Depth*(1/float64(m.Depth)) +
		w.Conflicts*(1/float64(1+m.FileConflicts))
	return clamp(raw*MaxScore/w.sum(), 0, MaxScore)
}

// ComputeMetrics measures the structure of g. Layers are Kahn levels, so
// depth equals the number of layers.
func ComputeMetrics(g *graph.Graph, concurrency int) (Metrics, error) {
	if g == nil || g.Len() == 0 {
		return Metrics{}, fmt.Errorf("graph is empty")
	}
	layers, err := g.Layers()
	if err != nil {
		return Metrics{}, err
	}

	n := g.Len()
	m := Metrics{
		Depth:         len(layers),
		ArtifactCount: n,
	}
	for _, node := range g.Nodes() {
		if len(node.DependsOn) == 0 {
			m.LeafCount++
		}
	}

	mean := float64(n) / float64(len(layers))
	var variance float64
	for _, layer := range layers {
		if len(layer) > m.Width {
			m.Width = len(layer)
		}
		if concurrency > 0 {
			m.EstimatedWaves += (len(layer) + concurrency - 1) / concurrency
		} else {
			m.EstimatedWaves++
		}
		m.FileConflicts += layerConflicts(g, layer)
		d := float64(len(layer)) - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(layers)))

	m.ParallelismFactor = clamp(float64(n-m.Depth)/float64(max(n-1, 1)), 0, 1)
	m.BalanceFactor = clamp(1-stddev/mean, 0, 1)
	return m, nil
}

// layerConflicts counts node pairs in one layer with a common write target.
func layerConflicts(g *graph.Graph, layer []string) int {
	writes := make([]map[string]bool, len(layer))
	for i, id := range layer {
		n, _ := g.Node(id)
		writes[i] = make(map[string]bool, len(n.Writes))
		for _, w := range n.Writes {
			writes[i][w] = true
		}
	}

	conflicts := 0
	for i := range layer {
		for j := i + 1; j < len(layer); j++ {
			for w := range writes[i] {
				if writes[j][w] {
					conflicts++
					break
				}
			}
		}
	}
	return conflicts
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Improvement thresholds used by IdentifyImprovements.
const (
	deepDepth          = 4
	lowParallelism     = 0.3
	lowBalance         = 0.5
	minUnbalancedDepth = 3
)

// IdentifyImprovements turns weak metrics into feedback for a plan
// refinement round. It returns nil when nothing stands out.
func IdentifyImprovements(m Metrics) []string {
	var feedback []string
	if m.Depth >= deepDepth {
		feedback = append(feedback, fmt.Sprintf(
			"critical path is %d tasks deep; split long chains so independent work can start earlier", m.Depth))
	}
	if m.ParallelismFactor < lowParallelism && m.ArtifactCount > 2 {
		feedback = append(feedback, fmt.Sprintf(
			"parallelism factor %.2f is low; add independent leaf tasks (currently %d leaves)", m.ParallelismFactor, m.LeafCount))
	}
	if m.FileConflicts > 0 {
		feedback = append(feedback, fmt.Sprintf(
			"%d task pairs write the same files in one layer; serialize them or split the files", m.FileConflicts))
	}
	if m.BalanceFactor < lowBalance && m.Depth >= minUnbalancedDepth {
		feedback = append(feedback, fmt.Sprintf(
			"layers are unbalanced (balance %.2f); move work out of the widest layer", m.BalanceFactor))
	}
	return feedback
}
