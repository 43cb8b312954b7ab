package analysis

import (
	"sort"

	"github.com/felixgeelhaar/loom/internal/graph"
)

// DefaultBottleneckThreshold is the minimum descendant count for a bottleneck.
const DefaultBottleneckThreshold = 3

// Bottleneck is a node whose delay holds back many descendants.
type Bottleneck struct {
	NodeID      string `json:"node_id"`
	Descendants int    `json:"descendants"`
	// Gated lists descendants that can only become ready through NodeID.
	Gated []string `json:"gated"`
}

// FindBottlenecks returns incomplete nodes with at least threshold
// descendants, some of which have no path from a root that avoids the
// node. Results are sorted by descendant count, then id. The output is
// advisory and never feeds scheduling decisions.
func FindBottlenecks(g *graph.Graph, threshold int) []Bottleneck {
	if threshold <= 0 {
		threshold = DefaultBottleneckThreshold
	}

	var out []Bottleneck
	for _, n := range g.Nodes() {
		if n.Status == graph.StatusComplete {
			continue
		}
		desc := g.Descendants(n.ID)
		if len(desc) < threshold {
			continue
		}

		reachable := reachableAvoiding(g, n.ID)
		var gated []string
		for _, d := range desc {
			if !reachable[d] {
				gated = append(gated, d)
			}
		}
		if len(gated) == 0 {
			continue
		}
		out = append(out, Bottleneck{NodeID: n.ID, Descendants: len(desc), Gated: gated})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Descendants != out[j].Descendants {
			return out[i].Descendants > out[j].Descendants
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out
}

// reachableAvoiding marks nodes reachable from some root without passing
// through avoid.
func reachableAvoiding(g *graph.Graph, avoid string) map[string]bool {
	seen := make(map[string]bool)
	var queue []string
	for _, r := range g.Roots() {
		if r != avoid {
			seen[r] = true
			queue = append(queue, r)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.Dependents(cur) {
			if next != avoid && !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}
