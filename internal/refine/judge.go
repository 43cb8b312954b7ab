package refine

import (
	"context"
	"fmt"
)

// ReportJudge scores an artifact by the share of nodes that completed.
// Skipped nodes count as complete. Each failed node yields an issue
// addressed to it, so the patcher amends that node before the rerun.
type ReportJudge struct{}

// Score implements Judge.
func (ReportJudge) Score(_ context.Context, a Artifact) (Judgement, error) {
	rep := a.Report
	if rep == nil {
		return Judgement{}, fmt.Errorf("artifact has no report")
	}

	done := len(rep.Completed) + len(rep.Skipped)
	total := done + len(rep.Failed) + len(rep.Blocked)
	if total == 0 {
		return Judgement{Score: MaxScore}, nil
	}

	j := Judgement{Score: MaxScore * float64(done) / float64(total)}
	for _, id := range rep.Failed {
		msg := "failed"
		if nr := rep.Nodes[id]; nr != nil && nr.Error != "" {
			msg = "failed with " + nr.Error
		}
		j.Issues = append(j.Issues, fmt.Sprintf("%s: previous attempt %s", id, msg))
	}
	return j, nil
}
