package graph

import (
	"fmt"

	"github.com/felixgeelhaar/loom/internal/errors"
)

// Descendants returns every node that transitively depends on id, in
// insertion order.
func (g *Graph) Descendants(id string) []string {
	return g.walk(id, g.dependents)
}

// Ancestors returns every node id transitively depends on, in insertion order.
func (g *Graph) Ancestors(id string) []string {
	return g.walk(id, g.deps)
}

func (g *Graph) walk(id string, next map[string][]string) []string {
	seen := map[string]bool{id: true}
	queue := []string{id}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range next[cur] {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
				queue = append(queue, n)
			}
		}
	}
	return g.sortIDs(out)
}

// ReadySet returns pending nodes whose dependencies are all complete.
// It is computed from current statuses on every call.
func (g *Graph) ReadySet() []string {
	var ready []string
	for _, id := range g.order {
		if g.nodes[id].Status != StatusPending {
			continue
		}
		if g.depsComplete(id) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (g *Graph) depsComplete(id string) bool {
	for _, dep := range g.deps[id] {
		if g.nodes[dep].Status != StatusComplete {
			return false
		}
	}
	return true
}

// DependenciesTerminal reports whether every dependency of id has finished.
func (g *Graph) DependenciesTerminal(id string) bool {
	for _, dep := range g.deps[id] {
		if !g.nodes[dep].Status.IsTerminal() {
			return false
		}
	}
	return true
}

func (g *Graph) mustGet(id string) (*Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeGraphUnknownNode, fmt.Sprintf("unknown node %s", id))
	}
	return n, nil
}

// SetStatus moves a node to status. Completing a node sets progress to 100.
func (g *Graph) SetStatus(id string, status Status) error {
	if !status.Valid() {
		return errors.New(errors.ErrCodeGraphInvalidNode, fmt.Sprintf("unknown status %q", status))
	}
	n, err := g.mustGet(id)
	if err != nil {
		return err
	}
	n.Status = status
	if status == StatusComplete {
		n.Progress = 100
	}
	return nil
}

// SetProgress records execution progress in percent.
func (g *Graph) SetProgress(id string, progress int) error {
	if progress < 0 || progress > 100 {
		return errors.New(errors.ErrCodeGraphInvalidNode, fmt.Sprintf("progress %d outside 0-100", progress))
	}
	n, err := g.mustGet(id)
	if err != nil {
		return err
	}
	n.Progress = progress
	return nil
}

// SetFingerprint records the content fingerprint of a finished node.
func (g *Graph) SetFingerprint(id, fingerprint string) error {
	n, err := g.mustGet(id)
	if err != nil {
		return err
	}
	n.Fingerprint = fingerprint
	return nil
}

// SetRisk records the assessed risk level of a node.
func (g *Graph) SetRisk(id string, risk RiskLevel) error {
	n, err := g.mustGet(id)
	if err != nil {
		return err
	}
	n.Risk = risk
	return nil
}

// Update applies fn to a node's descriptive fields. Identity, dependencies
// and status cannot be changed through Update.
func (g *Graph) Update(id string, fn func(n *Node)) error {
	n, err := g.mustGet(id)
	if err != nil {
		return err
	}
	c := n.clone()
	fn(&c)
	c.ID, c.DependsOn, c.Status, c.Progress = n.ID, nil, n.Status, n.Progress
	*n = c
	return nil
}

// MarkFailed fails id and blocks every descendant that has not finished.
// It returns the newly blocked ids.
func (g *Graph) MarkFailed(id string) ([]string, error) {
	if err := g.SetStatus(id, StatusFailed); err != nil {
		return nil, err
	}
	return g.blockDescendants(id), nil
}

// Block marks id and its unfinished descendants blocked. It returns every
// id whose status changed, id first.
func (g *Graph) Block(id string) ([]string, error) {
	n, err := g.mustGet(id)
	if err != nil {
		return nil, err
	}
	var changed []string
	if n.Status != StatusBlocked {
		n.Status = StatusBlocked
		changed = append(changed, id)
	}
	return append(changed, g.blockDescendants(id)...), nil
}

func (g *Graph) blockDescendants(id string) []string {
	var blocked []string
	for _, d := range g.Descendants(id) {
		n := g.nodes[d]
		if n.Status == StatusPending || n.Status == StatusReady {
			n.Status = StatusBlocked
			blocked = append(blocked, d)
		}
	}
	return blocked
}

// Unblock returns blocked nodes to pending once none of their dependencies
// is failed or blocked. It returns the ids that changed.
func (g *Graph) Unblock() []string {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil
	}
	var changed []string
	for _, id := range order {
		n := g.nodes[id]
		if n.Status != StatusBlocked {
			continue
		}
		resolved := true
		for _, dep := range g.deps[id] {
			s := g.nodes[dep].Status
			if s == StatusFailed || s == StatusBlocked {
				resolved = false
				break
			}
		}
		if resolved {
			n.Status = StatusPending
			changed = append(changed, id)
		}
	}
	return changed
}

// ResetStatuses returns every node to pending with zero progress.
func (g *Graph) ResetStatuses() {
	for _, n := range g.nodes {
		n.Status = StatusPending
		n.Progress = 0
	}
}

// CountByStatus tallies nodes per status.
func (g *Graph) CountByStatus() map[Status]int {
	counts := make(map[Status]int)
	for _, n := range g.nodes {
		counts[n.Status]++
	}
	return counts
}
