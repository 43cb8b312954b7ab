package policy

import (
	"path"
	"strings"

	"github.com/felixgeelhaar/loom/internal/graph"
)

// Rule names the assessment rule that decided a level.
type Rule string

const (
	RuleProtected   Rule = "protected_module"
	RuleDestructive Rule = "destructive"
	RuleOverride    Rule = "override"
	RuleBehavioral  Rule = "behavioral"
	RuleAdditive    Rule = "additive"
	RuleCosmetic    Rule = "cosmetic"
	RuleDefault     Rule = "default"
)

// Assessment is the outcome of assessing one node.
type Assessment struct {
	NodeID string          `json:"node_id"`
	Level  graph.RiskLevel `json:"level"`
	Rule   Rule            `json:"rule"`
	// Match holds the protected pattern and target for RuleProtected.
	Match string `json:"match,omitempty"`
}

// AutoApplicable reports whether the level is low enough to skip review.
func (a Assessment) AutoApplicable() bool {
	return a.Level == graph.RiskTrivial || a.Level == graph.RiskLow
}

// Assessor assigns risk levels from node attributes alone.
type Assessor struct {
	protected []string
	overrides map[graph.TaskType]graph.RiskLevel
}

// NewAssessor creates an assessor for the given risk policy.
func NewAssessor(p RiskPolicy) *Assessor {
	a := &Assessor{
		protected: append([]string(nil), p.ProtectedModules...),
		overrides: make(map[graph.TaskType]graph.RiskLevel, len(p.Overrides)),
	}
	for taskType, level := range p.Overrides {
		a.overrides[graph.TaskType(taskType)] = graph.RiskLevel(level)
	}
	return a
}

// Assess applies the rules in order and takes the first match:
//
//  1. protected module or write target   -> critical
//  2. deletes, contract change, delete    -> high
//  3. validator or workflow               -> medium
//  4. heuristic or new file               -> low
//  5. documentation or formatting         -> trivial
//  6. anything else                       -> medium
//
// A task type override from the policy replaces the level only when it is
// higher, so no setting can move a node below review.
func (a *Assessor) Assess(n graph.Node) Assessment {
	out := Assessment{NodeID: n.ID}
	if match, ok := a.protectedMatch(n); ok {
		out.Level, out.Rule, out.Match = graph.RiskCritical, RuleProtected, match
		return out
	}

	switch {
	case n.Deletes || n.ChangesContract || n.TaskType == graph.TaskDelete:
		out.Level, out.Rule = graph.RiskHigh, RuleDestructive
	case n.TaskType == graph.TaskValidator || n.TaskType == graph.TaskWorkflow:
		out.Level, out.Rule = graph.RiskMedium, RuleBehavioral
	case n.TaskType == graph.TaskHeuristic || n.NewFile:
		out.Level, out.Rule = graph.RiskLow, RuleAdditive
	case n.TaskType == graph.TaskDocumentation || n.TaskType == graph.TaskFormatting:
		out.Level, out.Rule = graph.RiskTrivial, RuleCosmetic
	default:
		out.Level, out.Rule = graph.RiskMedium, RuleDefault
	}
	if o, ok := a.overrides[n.TaskType]; ok && o.Rank() > out.Level.Rank() {
		out.Level, out.Rule = o, RuleOverride
	}
	return out
}

// AssessGraph assesses every node and records the level on the graph.
func (a *Assessor) AssessGraph(g *graph.Graph) (map[string]Assessment, error) {
	out := make(map[string]Assessment, g.Len())
	for _, n := range g.Nodes() {
		as := a.Assess(n)
		if err := g.SetRisk(n.ID, as.Level); err != nil {
			return nil, err
		}
		out[n.ID] = as
	}
	return out, nil
}

func (a *Assessor) protectedMatch(n graph.Node) (string, bool) {
	for _, pattern := range a.protected {
		for _, targets := range [][]string{n.Modules, n.Writes} {
			for _, target := range targets {
				if matchProtected(pattern, target) {
					return pattern + " ~ " + target, true
				}
			}
		}
	}
	return "", false
}

// matchProtected matches a slash-separated glob. A pattern ending in "/**",
// or naming a directory, also covers everything below it.
func matchProtected(pattern, target string) bool {
	pattern = strings.TrimSuffix(pattern, "/")
	target = strings.TrimPrefix(path.Clean(target), "./")
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		return target == prefix || strings.HasPrefix(target, prefix+"/")
	}
	if ok, _ := path.Match(pattern, target); ok {
		return true
	}
	return strings.HasPrefix(target, pattern+"/")
}
