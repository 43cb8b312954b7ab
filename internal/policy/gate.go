package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/loom/internal/graph"
)

// Admission is the gate's verdict for one node.
type Admission struct {
	Assessment Assessment `json:"assessment"`
	AutoApply  bool       `json:"auto_apply"`
	Reason     string     `json:"reason"`
}

// Gate admits trivial and low risk nodes for automatic application up to a
// per-run cap. Everything else needs a reviewer.
type Gate struct {
	mu      sync.Mutex
	enabled bool
	max     int
	applied int
}

// NewGate creates a gate from the auto-apply policy.
func NewGate(p AutoApplyPolicy) *Gate {
	return &Gate{enabled: p.Enabled, max: p.MaxPerRun}
}

// Admit decides whether the assessed node may be applied without review.
// An admitted node counts against the per-run cap.
func (g *Gate) Admit(a Assessment) Admission {
	out := Admission{Assessment: a}
	switch {
	case !a.AutoApplicable():
		out.Reason = fmt.Sprintf("%s risk (%s) requires review", a.Level, a.Rule)
		return out
	case !g.enabled:
		out.Reason = "auto-apply disabled"
		return out
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.applied >= g.max {
		out.Reason = fmt.Sprintf("auto-apply limit of %d reached", g.max)
		return out
	}
	g.applied++
	out.AutoApply = true
	out.Reason = fmt.Sprintf("%s risk auto-applied (%d/%d)", a.Level, g.applied, g.max)
	return out
}

// Applied returns how many nodes were auto-applied in this run.
func (g *Gate) Applied() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.applied
}

// Reset starts a new run.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.applied = 0
	g.mu.Unlock()
}

// Verdict is the final authorization of a node.
type Verdict struct {
	NodeID   string          `json:"node_id"`
	Level    graph.RiskLevel `json:"level"`
	Approved bool            `json:"approved"`
	// Reviewed is true when a reviewer made the decision.
	Reviewed bool   `json:"reviewed"`
	Reason   string `json:"reason"`
}

// Authorizer combines assessment, the auto-apply gate and a reviewer.
type Authorizer struct {
	assessor *Assessor
	gate     *Gate
	reviewer Reviewer
}

// NewAuthorizer creates an authorizer. A nil reviewer denies every node
// that is not auto-applied.
func NewAuthorizer(p *Policy, reviewer Reviewer) *Authorizer {
	if p == nil {
		p = DefaultPolicy()
	}
	if reviewer == nil {
		reviewer = DenyAll{}
	}
	return &Authorizer{
		assessor: NewAssessor(p.Risk),
		gate:     NewGate(p.Risk.AutoApply),
		reviewer: reviewer,
	}
}

// Assessor returns the underlying assessor.
func (a *Authorizer) Assessor() *Assessor { return a.assessor }

// Gate returns the underlying gate.
func (a *Authorizer) Gate() *Gate { return a.gate }

// Authorize assesses n and either auto-applies it or asks the reviewer.
func (a *Authorizer) Authorize(ctx context.Context, n graph.Node) (Verdict, error) {
	as := a.assessor.Assess(n)
	v := Verdict{NodeID: n.ID, Level: as.Level}

	adm := a.gate.Admit(as)
	if adm.AutoApply {
		v.Approved = true
		v.Reason = adm.Reason
		return v, nil
	}

	approved, err := a.reviewer.Review(ctx, n, as)
	if err != nil {
		return v, fmt.Errorf("review %s: %w", n.ID, err)
	}
	v.Approved = approved
	v.Reviewed = true
	if approved {
		v.Reason = adm.Reason + ", approved by reviewer"
	} else {
		v.Reason = adm.Reason + ", denied by reviewer"
	}
	return v, nil
}
