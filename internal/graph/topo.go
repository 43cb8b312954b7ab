package graph

import (
	"github.com/felixgeelhaar/loom/internal/errors"
)

// Layers groups nodes into Kahn levels: layer 0 holds the roots and every
// other node sits one layer after its deepest dependency. Nodes within a
// layer keep insertion order.
func (g *Graph) Layers() ([][]string, error) {
	inDegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		inDegree[id] = len(g.deps[id])
	}

	var current []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	var layers [][]string
	visited := 0
	for len(current) > 0 {
		layers = append(layers, current)
		visited += len(current)

		var next []string
		for _, id := range current {
			for _, dep := range g.dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = g.sortIDs(next)
	}

	if visited != len(g.order) {
		return nil, g.cycleError()
	}
	return layers, nil
}

// TopologicalOrder returns every node after all of its dependencies.
func (g *Graph) TopologicalOrder() ([]string, error) {
	layers, err := g.Layers()
	if err != nil {
		return nil, err
	}
	order := make([]string, 0, len(g.order))
	for _, layer := range layers {
		order = append(order, layer...)
	}
	return order, nil
}

// Validate returns a CycleError if the graph is not acyclic.
func (g *Graph) Validate() error {
	_, err := g.Layers()
	return err
}

// cycleError finds one cycle with a DFS over a recursion stack.
func (g *Graph) cycleError() error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.order))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, next := range g.dependents[id] {
			switch color[next] {
			case grey:
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string(nil), stack[i:]...), next)
						return true
					}
				}
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white && visit(id) {
			break
		}
	}
	return &errors.CycleError{Path: cycle}
}
