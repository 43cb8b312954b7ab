package plan

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/felixgeelhaar/loom/internal/errors"
)

// Rank orders the scored candidates best first: highest score, then fewest
// estimated waves, then fewest file conflicts, then candidate id. Unscored
// and rejected candidates are left out.
func Rank(candidates []Candidate) []Candidate {
	var ranked []Candidate
	for _, c := range candidates {
		if c.Scored() && c.Metrics != nil {
			ranked = append(ranked, c)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return better(ranked[i], ranked[j])
	})
	return ranked
}

func better(a, b Candidate) bool {
	if *a.Score != *b.Score {
		return *a.Score > *b.Score
	}
	if a.Metrics.EstimatedWaves != b.Metrics.EstimatedWaves {
		return a.Metrics.EstimatedWaves < b.Metrics.EstimatedWaves
	}
	if a.Metrics.FileConflicts != b.Metrics.FileConflicts {
		return a.Metrics.FileConflicts < b.Metrics.FileConflicts
	}
	return idLess(a.ID, b.ID)
}

// idLess orders ids by prefix, then by trailing number, so candidate-2
// sorts before candidate-10.
func idLess(a, b string) bool {
	ap, an, aok := splitNumber(a)
	bp, bn, bok := splitNumber(b)
	if !aok || !bok || ap != bp {
		return a < b
	}
	if an != bn {
		return an < bn
	}
	return a < b
}

func splitNumber(id string) (string, int, bool) {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	if i == len(id) {
		return id, 0, false
	}
	n, err := strconv.Atoi(id[i:])
	if err != nil {
		return id, 0, false
	}
	return id[:i], n, true
}

// Select returns a copy of the best candidate with SelectionReason set.
// Without any scored candidate it returns a PLAN-001 error listing every
// candidate's diagnostic.
func Select(candidates []Candidate) (Candidate, error) {
	return SelectForGoal("", candidates)
}

// SelectForGoal is Select with the goal named in the error.
func SelectForGoal(goal string, candidates []Candidate) (Candidate, error) {
	ranked := Rank(candidates)
	if len(ranked) == 0 {
		diagnostics := make([]string, 0, len(candidates))
		for _, c := range candidates {
			diagnostics = append(diagnostics, c.Diagnostic())
		}
		return Candidate{}, errors.NewNoCandidateError(goal, diagnostics)
	}

	winner := ranked[0]
	if len(ranked) == 1 {
		winner.SelectionReason = fmt.Sprintf("only scorable candidate (score %.2f)", *winner.Score)
		return winner, nil
	}
	winner.SelectionReason = selectionReason(winner, ranked[1])
	return winner, nil
}

func selectionReason(w, r Candidate) string {
	switch {
	case *w.Score != *r.Score:
		return fmt.Sprintf("highest score %.2f (runner-up %s scored %.2f)", *w.Score, r.ID, *r.Score)
	case w.Metrics.EstimatedWaves != r.Metrics.EstimatedWaves:
		return fmt.Sprintf("score %.2f tied with %s; fewer estimated waves (%d vs %d)",
			*w.Score, r.ID, w.Metrics.EstimatedWaves, r.Metrics.EstimatedWaves)
	case w.Metrics.FileConflicts != r.Metrics.FileConflicts:
		return fmt.Sprintf("score %.2f tied with %s; fewer file conflicts (%d vs %d)",
			*w.Score, r.ID, w.Metrics.FileConflicts, r.Metrics.FileConflicts)
	}
	return fmt.Sprintf("score %.2f tied with %s on every metric; chosen by candidate id", *w.Score, r.ID)
}
