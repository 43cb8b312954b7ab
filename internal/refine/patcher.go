package refine

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/graph"
)

// Patch describes how one round changed the graph.
type Patch struct {
	Round    int      `json:"round"`
	Modified []string `json:"modified,omitempty"`
	Added    []string `json:"added,omitempty"`
	// Affected is every node that must run again, in topological order.
	Affected []string `json:"affected"`
}

// Patcher turns judge issues into graph changes. An issue of the form
// "<node-id>: text" naming an existing node modifies that node; any other
// issue becomes a new node refine-r<round>-<n> depending on the sinks of
// the graph as it was before the round.
type Patcher struct{}

// Apply patches g in place and resets every affected node to pending.
func (Patcher) Apply(g *graph.Graph, round int, issues []string) (Patch, error) {
	p := Patch{Round: round}
	sinks := g.Sinks()

	modified := make(map[string]bool)
	added := 0
	for i, issue := range issues {
		issue = strings.TrimSpace(issue)
		if issue == "" {
			continue
		}

		if id, text, ok := targetOf(g, issue); ok {
			key := fmt.Sprintf("refine.r%d.%d", round, i+1)
			err := g.Update(id, func(n *graph.Node) {
				if n.Inputs == nil {
					n.Inputs = make(map[string]string)
				}
				n.Inputs[key] = text
				n.Description = appendLine(n.Description, text)
			})
			if err != nil {
				return p, errors.Wrap(errors.ErrCodeRefinePatch, fmt.Sprintf("modify %s", id), err)
			}
			if !modified[id] {
				modified[id] = true
				p.Modified = append(p.Modified, id)
			}
			continue
		}

		added++
		id := fmt.Sprintf("refine-r%d-%d", round, added)
		node := graph.Node{
			ID:          id,
			Title:       issue,
			Description: issue,
			DependsOn:   sinks,
			TaskType:    graph.TaskRefactor,
			Inputs:      map[string]string{"issue": issue},
		}
		if err := g.AddNode(node); err != nil {
			return p, errors.Wrap(errors.ErrCodeRefinePatch, fmt.Sprintf("add %s", id), err)
		}
		p.Added = append(p.Added, id)
	}

	affected := make(map[string]bool)
	for _, id := range p.Modified {
		affected[id] = true
		for _, d := range g.Descendants(id) {
			affected[d] = true
		}
	}
	for _, id := range p.Added {
		affected[id] = true
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return p, errors.Wrap(errors.ErrCodeRefinePatch, "order patched graph", err)
	}
	for _, id := range order {
		if !affected[id] {
			continue
		}
		p.Affected = append(p.Affected, id)
		if err := g.SetStatus(id, graph.StatusPending); err != nil {
			return p, err
		}
		if err := g.SetProgress(id, 0); err != nil {
			return p, err
		}
	}
	return p, nil
}

// targetOf splits "id: text" when id names a node of g.
func targetOf(g *graph.Graph, issue string) (string, string, bool) {
	id, text, ok := strings.Cut(issue, ":")
	if !ok {
		return "", "", false
	}
	id, text = strings.TrimSpace(id), strings.TrimSpace(text)
	if id == "" || text == "" || !g.Has(id) {
		return "", "", false
	}
	return id, text, true
}

func appendLine(desc, line string) string {
	if desc == "" {
		return line
	}
	return desc + "\n" + line
}
