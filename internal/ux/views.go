package ux

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/loom/internal/checkpoint"
	"github.com/felixgeelhaar/loom/internal/engine"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/incremental"
	"github.com/felixgeelhaar/loom/internal/plan"
	"github.com/felixgeelhaar/loom/internal/schedule"
)

// PlanView renders a planning result.
type PlanView struct {
	Result *plan.Result
}

// Data implements View.
func (v PlanView) Data() any { return v.Result }

// Render implements Renderer.
func (v PlanView) Render(s Styles) string {
	var b strings.Builder
	b.WriteString(s.Title.Render("Plan candidates") + "\n")
	if v.Result.Goal != "" {
		fmt.Fprintf(&b, "%s %s\n", s.Label.Render("Goal:"), v.Result.Goal)
	}
	b.WriteString("\n")

	for _, c := range v.Result.Candidates {
		marker := "  "
		if c.ID == v.Result.Selected.ID {
			marker = s.Accent.Render("★ ")
		}
		if !c.Scored() {
			fmt.Fprintf(&b, "%s%-14s %s %s\n", marker, c.ID, s.Error.Render("rejected"), s.Muted.Render(c.Rejection))
			continue
		}
		fmt.Fprintf(&b, "%s%-14s %5.2f  %s\n", marker, c.ID, *c.Score, s.Muted.Render(c.Variance.String()))
		if m := c.Metrics; m != nil {
			fmt.Fprintf(&b, "    %s depth %d  width %d  nodes %d  waves %d  conflicts %d  parallelism %.2f  balance %.2f\n",
				s.Label.Render("metrics:"), m.Depth, m.Width, m.ArtifactCount, m.EstimatedWaves, m.FileConflicts,
				m.ParallelismFactor, m.BalanceFactor)
		}
	}

	if v.Result.Selected.SelectionReason != "" {
		fmt.Fprintf(&b, "\n%s %s: %s\n", s.Header.Render("Selected"), v.Result.Selected.ID, v.Result.Selected.SelectionReason)
	}
	for _, r := range v.Result.Refinements {
		state := s.Muted.Render("kept")
		if r.Improved {
			state = s.Success.Render("accepted")
		}
		fmt.Fprintf(&b, "  refinement %d: %.2f → %.2f %s\n", r.Round, r.OldScore, r.NewScore, state)
	}
	return b.String()
}

// AnalysisView renders a static graph analysis.
type AnalysisView struct {
	Analysis *engine.Analysis
}

// Data implements View.
func (v AnalysisView) Data() any { return v.Analysis }

// Render implements Renderer.
func (v AnalysisView) Render(s Styles) string {
	a := v.Analysis
	var b strings.Builder

	b.WriteString(s.Title.Render("Graph analysis") + "\n\n")
	m := a.Metrics
	fmt.Fprintf(&b, "%s %.2f / 10\n", s.Label.Render("Score:      "), a.Score)
	fmt.Fprintf(&b, "%s %d nodes, depth %d, width %d, %d leaves\n", s.Label.Render("Shape:      "), m.ArtifactCount, m.Depth, m.Width, m.LeafCount)
	fmt.Fprintf(&b, "%s parallelism %.2f, balance %.2f, %d file conflicts\n", s.Label.Render("Factors:    "), m.ParallelismFactor, m.BalanceFactor, m.FileConflicts)

	if a.CriticalPath != nil && len(a.CriticalPath.Path) > 0 {
		fmt.Fprintf(&b, "\n%s %s %s\n", s.Header.Render("Critical path"),
			strings.Join(a.CriticalPath.Path, " → "),
			s.Muted.Render(fmt.Sprintf("(length %.0f)", a.CriticalPath.Length)))
	}

	if len(a.Bottlenecks) > 0 {
		b.WriteString("\n" + s.Header.Render("Bottlenecks") + "\n")
		for _, bn := range a.Bottlenecks {
			fmt.Fprintf(&b, "  %s gates %d of %d descendants: %s\n", s.Warning.Render(bn.NodeID), len(bn.Gated), bn.Descendants, strings.Join(bn.Gated, ", "))
		}
	}

	if len(a.Risks) > 0 {
		b.WriteString("\n" + s.Header.Render("Risk") + "\n")
		ids := make([]string, 0, len(a.Risks))
		for id := range a.Risks {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			r := a.Risks[id]
			line := fmt.Sprintf("  %-24s %s %s", id, s.Risk(r.Level), s.Muted.Render(string(r.Rule)))
			if r.Match != "" {
				line += s.Muted.Render(" " + r.Match)
			}
			b.WriteString(line + "\n")
		}
	}

	if a.Incremental != nil {
		b.WriteString("\n" + renderIncremental(s, a.Incremental))
	}
	if len(a.Waves) > 0 {
		b.WriteString("\n" + renderWaves(s, a.Waves))
	}
	return b.String()
}

// RunView renders the result of a run.
type RunView struct {
	Result *engine.RunResult
}

// Data implements View.
func (v RunView) Data() any { return v.Result }

// Render implements Renderer.
func (v RunView) Render(s Styles) string {
	res := v.Result
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", s.Title.Render("Run"), res.RunID)
	if res.Goal != "" {
		fmt.Fprintf(&b, "%s %s\n", s.Label.Render("Goal:"), res.Goal)
	}
	if res.Plan != nil {
		fmt.Fprintf(&b, "%s %s (%s)\n", s.Label.Render("Plan:"), res.Plan.Selected.ID, res.Plan.Selected.SelectionReason)
	}
	if res.Incremental != nil {
		b.WriteString("\n" + renderIncremental(s, res.Incremental))
	}
	if res.Report != nil {
		b.WriteString("\n" + renderReport(s, res.Report))
	}
	if out := res.Refinement; out != nil {
		fmt.Fprintf(&b, "\n%s %s at %.2f after %d refinements\n", s.Header.Render("Refinement"), out.State, out.Score, out.Refinements)
		for _, r := range out.Rounds {
			fmt.Fprintf(&b, "  round %d: %.2f %s", r.Round, r.Score, r.State)
			if len(r.Issues) > 0 {
				fmt.Fprintf(&b, " %s", s.Muted.Render(strings.Join(r.Issues, "; ")))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// StatusView renders a run checkpoint.
type StatusView struct {
	State *checkpoint.RunState
}

// Data implements View.
func (v StatusView) Data() any { return v.State }

// Render implements Renderer.
func (v StatusView) Render(s Styles) string {
	st := v.State
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s  %s\n", s.Title.Render("Run"), st.RunID, statusLabel(s, st.Status))
	if st.Goal != "" {
		fmt.Fprintf(&b, "%s %s\n", s.Label.Render("Goal:    "), st.Goal)
	}
	fmt.Fprintf(&b, "%s %s\n", s.Label.Render("Started: "), st.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "%s %s\n", s.Label.Render("Updated: "), st.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "%s %d of %d, %.0f%% complete\n\n", s.Label.Render("Waves:   "), st.Wave, st.Waves, st.Progress()*100)

	ids := make([]string, 0, len(st.Nodes))
	for id := range st.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ns := st.Nodes[id]
		line := fmt.Sprintf("  %-24s %s", id, s.Status(ns.Status))
		switch {
		case ns.SkipReason != "":
			line += s.Muted.Render(" skipped: " + ns.SkipReason)
		case ns.Error != "":
			line += s.Error.Render(" " + ns.Error)
		}
		if ns.Attempts > 1 {
			line += s.Muted.Render(fmt.Sprintf(" (%d attempts)", ns.Attempts))
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// ValidationView renders the result of validating a plan file.
type ValidationView struct {
	Path       string   `json:"path" yaml:"path"`
	Candidates []string `json:"candidates" yaml:"candidates"`
	Nodes      int      `json:"nodes" yaml:"nodes"`
	Edges      int      `json:"edges" yaml:"edges"`
	Layers     int      `json:"layers" yaml:"layers"`
	Valid      bool     `json:"valid" yaml:"valid"`
	Errors     []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Data implements View.
func (v ValidationView) Data() any { return v }

// Render implements Renderer.
func (v ValidationView) Render(s Styles) string {
	var b strings.Builder
	if v.Valid {
		fmt.Fprintf(&b, "%s %s\n", s.Success.Render("✓ valid"), v.Path)
	} else {
		fmt.Fprintf(&b, "%s %s\n", s.Error.Render("✗ invalid"), v.Path)
	}
	fmt.Fprintf(&b, "  %d candidates, %d nodes, %d edges, %d layers\n", len(v.Candidates), v.Nodes, v.Edges, v.Layers)
	for _, e := range v.Errors {
		fmt.Fprintf(&b, "  %s %s\n", s.Error.Render("✗"), e)
	}
	return b.String()
}

func renderIncremental(s Styles, p *incremental.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d to execute, %d skipped (%.0f%%)\n", s.Header.Render("Incremental"),
		len(p.ToExecute), len(p.ToSkip), p.SkipPercentage())

	counts := p.CountByReason()
	for _, r := range incremental.Reasons() {
		if counts[r] > 0 {
			fmt.Fprintf(&b, "  %-20s %d\n", r, counts[r])
		}
	}
	return b.String()
}

func renderWaves(s Styles, waves []schedule.Wave) string {
	var b strings.Builder
	b.WriteString(s.Header.Render("Waves") + "\n")
	for _, w := range waves {
		fmt.Fprintf(&b, "  %s %s\n", s.Label.Render(fmt.Sprintf("%3d", w.Index)), strings.Join(w.Nodes, ", "))
	}
	return b.String()
}

func renderReport(s Styles, rep *schedule.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s in %s\n", s.Header.Render("Report"), statusLabel(s, rep.Status), rep.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "  %d waves, %s, %s, %s, %d skipped\n", len(rep.Waves),
		s.Success.Render(fmt.Sprintf("%d complete", len(rep.Completed))),
		s.Error.Render(fmt.Sprintf("%d failed", len(rep.Failed))),
		s.Warning.Render(fmt.Sprintf("%d blocked", len(rep.Blocked))),
		len(rep.Skipped))

	for _, id := range rep.Failed {
		nr := rep.Nodes[id]
		fmt.Fprintf(&b, "  %s %s\n", s.Status(graph.StatusFailed), id)
		if nr != nil && nr.Error != "" {
			fmt.Fprintf(&b, "      %s\n", s.Muted.Render(nr.Error))
		}
	}
	for _, id := range rep.Blocked {
		nr := rep.Nodes[id]
		line := fmt.Sprintf("  %s %s", s.Status(graph.StatusBlocked), id)
		if nr != nil && nr.BlockedBy != "" {
			line += s.Muted.Render(" by " + nr.BlockedBy)
		}
		b.WriteString(line + "\n")
	}
	for _, w := range rep.Warnings {
		fmt.Fprintf(&b, "  %s %v\n", s.Warning.Render("⚠"), w)
	}
	return b.String()
}

func statusLabel(s Styles, status string) string {
	switch status {
	case checkpoint.RunCompleted:
		return s.Success.Render(status)
	case checkpoint.RunFailed:
		return s.Error.Render(status)
	case checkpoint.RunCancelled:
		return s.Warning.Render(status)
	}
	return s.Accent.Render(status)
}
