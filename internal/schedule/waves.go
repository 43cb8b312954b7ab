// Package schedule partitions executable nodes into concurrency-bounded
// waves and runs them on a worker pool.
package schedule

import (
	"sort"

	"github.com/felixgeelhaar/loom/internal/analysis"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/incremental"
)

// Wave is a set of nodes with no dependencies among each other that may
// run concurrently. Waves are numbered from 1.
type Wave struct {
	Index int      `json:"index"`
	Nodes []string `json:"nodes"`
}

// Size returns the number of nodes in the wave.
func (w Wave) Size() int {
	return len(w.Nodes)
}

// ComputeWaves assigns every executing node a level
//
//	level(n) = 1 + max(level(d)) over dependencies d
//
// where skipped dependencies count as level 0, then cuts each level into
// waves of at most concurrency nodes. Within a level nodes are ordered by
// priority (descending), critical path membership, then id. A nil plan
// executes every node; concurrency <= 0 leaves levels unsplit.
func ComputeWaves(g *graph.Graph, plan *incremental.Plan, concurrency int, critical *analysis.CriticalPath) ([]Wave, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	executes := func(id string) bool {
		return plan == nil || plan.Executes(id)
	}

	level := make(map[string]int, len(order))
	var byLevel [][]string
	for _, id := range order {
		if !executes(id) {
			level[id] = 0
			continue
		}
		l := 1
		for _, dep := range g.Dependencies(id) {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[id] = l
		for len(byLevel) < l {
			byLevel = append(byLevel, nil)
		}
		byLevel[l-1] = append(byLevel[l-1], id)
	}

	var waves []Wave
	for _, ids := range byLevel {
		if len(ids) == 0 {
			continue
		}
		sortBatch(g, ids, critical)
		for _, chunk := range split(ids, concurrency) {
			waves = append(waves, Wave{Index: len(waves) + 1, Nodes: chunk})
		}
	}
	return waves, nil
}

func sortBatch(g *graph.Graph, ids []string, critical *analysis.CriticalPath) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, _ := g.Node(ids[i])
		b, _ := g.Node(ids[j])
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		ca, cb := critical.IsCritical(a.ID), critical.IsCritical(b.ID)
		if ca != cb {
			return ca
		}
		return a.ID < b.ID
	})
}

func split(ids []string, size int) [][]string {
	if size <= 0 || len(ids) <= size {
		return [][]string{ids}
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end:end])
	}
	return chunks
}

// Position maps node ids to their wave index.
func Position(waves []Wave) map[string]int {
	pos := make(map[string]int)
	for _, w := range waves {
		for _, id := range w.Nodes {
			pos[id] = w.Index
		}
	}
	return pos
}

// Subgraph restricts waves to ids, renumbering from 1 and dropping empty
// waves. The refinement loop uses it to re-run only affected nodes.
func Subgraph(waves []Wave, ids map[string]bool) []Wave {
	var out []Wave
	for _, w := range waves {
		var nodes []string
		for _, id := range w.Nodes {
			if ids[id] {
				nodes = append(nodes, id)
			}
		}
		if len(nodes) > 0 {
			out = append(out, Wave{Index: len(out) + 1, Nodes: nodes})
		}
	}
	return out
}
