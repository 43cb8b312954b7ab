// Package analysis derives prioritization signals from a dependency graph.
// Everything here is a pure function of the graph (and optionally an
// execution history snapshot); nothing is cached on nodes.
package analysis

import (
	"math"

	"github.com/felixgeelhaar/loom/internal/graph"
)

const epsilon = 1e-9

// WeightFunc returns the estimated duration of a node.
type WeightFunc func(n graph.Node) float64

// EffortWeight maps a node's effort to minutes.
func EffortWeight(n graph.Node) float64 {
	return n.Effort.Minutes()
}

// HistoryWeight prefers the last recorded duration of a node, in minutes,
// and falls back to the effort estimate for nodes that never ran.
func HistoryWeight(durationsMs map[string]int64) WeightFunc {
	return func(n graph.Node) float64 {
		if ms, ok := durationsMs[n.ID]; ok && ms > 0 {
			return float64(ms) / 60000
		}
		return EffortWeight(n)
	}
}

// CriticalPath is the maximum-weight chain through a graph.
type CriticalPath struct {
	// Length is the total weight of the path.
	Length float64 `json:"length"`
	// Path is one maximal chain from a source to a sink.
	Path []string `json:"path"`
	// Critical holds every node lying on at least one maximal chain.
	Critical map[string]bool `json:"critical"`
	// Longest is the heaviest chain ending at each node, including itself.
	Longest map[string]float64 `json:"longest"`
}

// IsCritical reports whether id lies on a maximal chain.
func (c *CriticalPath) IsCritical(id string) bool {
	return c != nil && c.Critical[id]
}

// ComputeCriticalPath runs longest-path dynamic programming over a
// topological order. A nil weight uses EffortWeight.
func ComputeCriticalPath(g *graph.Graph, weight WeightFunc) (*CriticalPath, error) {
	if weight == nil {
		weight = EffortWeight
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	w := make(map[string]float64, len(order))
	for _, id := range order {
		n, _ := g.Node(id)
		w[id] = math.Max(weight(n), 0)
	}

	longest := make(map[string]float64, len(order))
	for _, id := range order {
		best := 0.0
		for _, p := range g.Dependencies(id) {
			best = math.Max(best, longest[p])
		}
		longest[id] = w[id] + best
	}

	// tail[n] is the heaviest chain starting at n.
	tail := make(map[string]float64, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		best := 0.0
		for _, s := range g.Dependents(id) {
			best = math.Max(best, tail[s])
		}
		tail[id] = w[id] + best
	}

	result := &CriticalPath{
		Critical: make(map[string]bool),
		Longest:  longest,
	}
	for _, id := range order {
		result.Length = math.Max(result.Length, longest[id])
	}
	if len(order) == 0 {
		return result, nil
	}

	for _, id := range order {
		if math.Abs(longest[id]+tail[id]-w[id]-result.Length) < epsilon {
			result.Critical[id] = true
		}
	}

	// Walk forward from the first critical root, always taking the first
	// critical dependent that continues a maximal chain.
	var cur string
	for _, id := range order {
		if len(g.Dependencies(id)) == 0 && result.Critical[id] {
			cur = id
			break
		}
	}
	for cur != "" {
		result.Path = append(result.Path, cur)
		next := ""
		for _, s := range g.Dependents(cur) {
			if result.Critical[s] && math.Abs(longest[cur]+w[s]-longest[s]) < epsilon {
				if next == "" || g.Less(s, next) {
					next = s
				}
			}
		}
		cur = next
	}
	return result, nil
}
