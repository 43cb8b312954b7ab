// Package graph holds the dependency graph that every other engine component
// reads: nodes, typed edges, cycle detection and topology queries.
package graph

import (
	"fmt"
	"sort"

	"github.com/felixgeelhaar/loom/internal/domain"
	"github.com/felixgeelhaar/loom/internal/errors"
)

// Graph is a directed acyclic graph of nodes. An edge Source -> Target means
// Target depends on Source. Graph is not safe for concurrent mutation; the
// scheduler is its single writer during a run.
type Graph struct {
	nodes      map[string]*Node
	order      []string
	index      map[string]int
	deps       map[string][]string
	dependents map[string][]string
	edges      map[edgeKey]Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:      make(map[string]*Node),
		index:      make(map[string]int),
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
		edges:      make(map[edgeKey]Edge),
	}
}

// Build constructs a graph from a complete node list in any order. Each
// node's DependsOn becomes a data edge; entries in edges annotate those
// edges or add new ones. The result is validated for cycles.
func Build(nodes []Node, edges []Edge) (*Graph, error) {
	g := New()
	for _, n := range nodes {
		if err := g.insert(n); err != nil {
			return nil, err
		}
	}

	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if err := g.link(Edge{Source: dep, Target: n.ID, Type: EdgeData}); err != nil {
				return nil, err
			}
		}
	}

	for _, e := range edges {
		key := edgeKey{e.Source, e.Target}
		if _, ok := g.edges[key]; ok {
			g.edges[key] = normalizeEdge(e)
			continue
		}
		if err := g.link(e); err != nil {
			return nil, err
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// AddNode inserts a node. Every id in n.DependsOn must already exist.
func (g *Graph) AddNode(n Node) error {
	deps := n.DependsOn
	seen := make(map[string]bool, len(deps))
	for _, dep := range deps {
		if dep == n.ID {
			return errors.New(errors.ErrCodeGraphSelfLoop, fmt.Sprintf("node %s depends on itself", n.ID))
		}
		if seen[dep] {
			return errors.New(errors.ErrCodeGraphDuplicateEdge, fmt.Sprintf("node %s lists dependency %s twice", n.ID, dep))
		}
		seen[dep] = true
		if _, ok := g.nodes[dep]; !ok {
			return errors.New(errors.ErrCodeGraphUnknownNode, fmt.Sprintf("node %s depends on unknown node %s", n.ID, dep))
		}
	}

	if err := g.insert(n); err != nil {
		return err
	}
	for _, dep := range deps {
		// Cannot fail: endpoints exist, no duplicates, and a new node has no dependents.
		_ = g.link(Edge{Source: dep, Target: n.ID, Type: EdgeData})
	}
	return nil
}

// AddEdge adds a dependency edge, rejecting self-loops, duplicates, unknown
// endpoints, and edges that would close a cycle.
func (g *Graph) AddEdge(e Edge) error {
	if _, ok := g.nodes[e.Source]; !ok {
		return errors.New(errors.ErrCodeGraphUnknownNode, fmt.Sprintf("edge %s: unknown source node", e))
	}
	if _, ok := g.nodes[e.Target]; !ok {
		return errors.New(errors.ErrCodeGraphUnknownNode, fmt.Sprintf("edge %s: unknown target node", e))
	}
	if e.Source == e.Target {
		return errors.New(errors.ErrCodeGraphSelfLoop, fmt.Sprintf("edge %s is a self-loop", e))
	}
	if _, ok := g.edges[edgeKey{e.Source, e.Target}]; ok {
		return errors.New(errors.ErrCodeGraphDuplicateEdge, fmt.Sprintf("edge %s already exists", e))
	}

	if path := g.path(e.Target, e.Source); path != nil {
		return &errors.CycleError{Path: append([]string{e.Source}, path...)}
	}
	return g.link(e)
}

func (g *Graph) insert(n Node) error {
	if err := domain.NodeID(n.ID).Validate(); err != nil {
		return errors.Wrap(errors.ErrCodeGraphInvalidNode, "invalid node", err)
	}
	if _, ok := g.nodes[n.ID]; ok {
		return errors.New(errors.ErrCodeGraphDuplicateNode, fmt.Sprintf("duplicate node %s", n.ID))
	}
	if n.Status == "" {
		n.Status = StatusPending
	}
	if !n.Status.Valid() {
		return errors.New(errors.ErrCodeGraphInvalidNode, fmt.Sprintf("node %s has unknown status %q", n.ID, n.Status))
	}
	if !n.Effort.Valid() {
		return errors.New(errors.ErrCodeGraphInvalidNode, fmt.Sprintf("node %s has unknown effort %q", n.ID, n.Effort))
	}
	if err := domain.Priority(n.Priority).Validate(); err != nil {
		return errors.Wrap(errors.ErrCodeGraphInvalidNode, fmt.Sprintf("node %s", n.ID), err)
	}
	if n.Progress < 0 || n.Progress > 100 {
		return errors.New(errors.ErrCodeGraphInvalidNode, fmt.Sprintf("node %s progress %d outside 0-100", n.ID, n.Progress))
	}

	c := n.clone()
	c.DependsOn = nil
	g.nodes[n.ID] = &c
	g.index[n.ID] = len(g.order)
	g.order = append(g.order, n.ID)
	return nil
}

// link records an edge without cycle checking. Used while building, before Validate.
func (g *Graph) link(e Edge) error {
	if _, ok := g.nodes[e.Source]; !ok {
		return errors.New(errors.ErrCodeGraphUnknownNode, fmt.Sprintf("node %s depends on unknown node %s", e.Target, e.Source))
	}
	if _, ok := g.nodes[e.Target]; !ok {
		return errors.New(errors.ErrCodeGraphUnknownNode, fmt.Sprintf("edge %s: unknown target node", e))
	}
	if e.Source == e.Target {
		return errors.New(errors.ErrCodeGraphSelfLoop, fmt.Sprintf("node %s depends on itself", e.Target))
	}
	key := edgeKey{e.Source, e.Target}
	if _, ok := g.edges[key]; ok {
		return errors.New(errors.ErrCodeGraphDuplicateEdge, fmt.Sprintf("edge %s already exists", e))
	}

	g.edges[key] = normalizeEdge(e)
	g.deps[e.Target] = append(g.deps[e.Target], e.Source)
	g.dependents[e.Source] = append(g.dependents[e.Source], e.Target)
	return nil
}

func normalizeEdge(e Edge) Edge {
	if e.Type == "" {
		e.Type = EdgeData
	}
	if e.Type == EdgeIntegration && e.Verification == "" {
		e.Verification = VerificationPending
	}
	if e.Type != EdgeIntegration {
		e.Verification = ""
	}
	return e
}

// path returns a dependents-direction path from -> ... -> to, or nil.
func (g *Graph) path(from, to string) []string {
	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			var p []string
			for n := to; n != ""; n = prev[n] {
				p = append([]string{n}, p...)
			}
			return p
		}
		for _, next := range g.dependents[cur] {
			if _, seen := prev[next]; !seen {
				prev[next] = cur
				queue = append(queue, next)
			}
		}
	}
	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Has reports whether the graph contains id.
func (g *Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	c := n.clone()
	c.DependsOn = append([]string(nil), g.deps[id]...)
	return c, true
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		n, _ := g.Node(id)
		out = append(out, n)
	}
	return out
}

// IDs returns all node ids in insertion order.
func (g *Graph) IDs() []string {
	return append([]string(nil), g.order...)
}

// Edges returns all edges ordered by source then target insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return g.index[out[i].Source] < g.index[out[j].Source]
		}
		return g.index[out[i].Target] < g.index[out[j].Target]
	})
	return out
}

// Edge returns the edge Source -> Target.
func (g *Graph) Edge(source, target string) (Edge, bool) {
	e, ok := g.edges[edgeKey{source, target}]
	return e, ok
}

// Dependencies returns the direct dependencies of id.
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// Dependents returns the nodes that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// Roots returns nodes without dependencies.
func (g *Graph) Roots() []string {
	var out []string
	for _, id := range g.order {
		if len(g.deps[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Sinks returns nodes nothing depends on.
func (g *Graph) Sinks() []string {
	var out []string
	for _, id := range g.order {
		if len(g.dependents[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Clone returns a deep copy sharing no mutable state with g.
func (g *Graph) Clone() *Graph {
	c := New()
	for _, id := range g.order {
		n := g.nodes[id].clone()
		c.nodes[id] = &n
		c.index[id] = g.index[id]
		c.order = append(c.order, id)
		c.deps[id] = append([]string(nil), g.deps[id]...)
		c.dependents[id] = append([]string(nil), g.dependents[id]...)
	}
	for k, e := range g.edges {
		c.edges[k] = e
	}
	return c
}

// Less orders two node ids by insertion order.
func (g *Graph) Less(a, b string) bool {
	return g.index[a] < g.index[b]
}

func (g *Graph) sortIDs(ids []string) []string {
	sort.Slice(ids, func(i, j int) bool { return g.index[ids[i]] < g.index[ids[j]] })
	return ids
}
