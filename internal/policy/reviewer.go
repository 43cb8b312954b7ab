package policy

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"

	"github.com/felixgeelhaar/loom/internal/graph"
)

// Reviewer approves or denies nodes the gate did not auto-apply.
type Reviewer interface {
	Review(ctx context.Context, n graph.Node, a Assessment) (bool, error)
}

// ReviewerFunc adapts a function to Reviewer.
type ReviewerFunc func(ctx context.Context, n graph.Node, a Assessment) (bool, error)

// Review calls f.
func (f ReviewerFunc) Review(ctx context.Context, n graph.Node, a Assessment) (bool, error) {
	return f(ctx, n, a)
}

// AutoApprove approves everything.
type AutoApprove struct{}

// Review implements Reviewer.
func (AutoApprove) Review(context.Context, graph.Node, Assessment) (bool, error) {
	return true, nil
}

// DenyAll denies everything. It is the default for unattended runs.
type DenyAll struct{}

// Review implements Reviewer.
func (DenyAll) Review(context.Context, graph.Node, Assessment) (bool, error) {
	return false, nil
}

// PromptReviewer asks on the terminal. Prompts are serialized.
type PromptReviewer struct {
	mu sync.Mutex
	// confirm is replaced in tests.
	confirm func(title, description string) (bool, error)
}

// NewPromptReviewer creates a reviewer backed by a huh confirm form.
func NewPromptReviewer() *PromptReviewer {
	return &PromptReviewer{confirm: confirmPrompt}
}

// Review implements Reviewer.
func (r *PromptReviewer) Review(ctx context.Context, n graph.Node, a Assessment) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	title := fmt.Sprintf("Apply %s (%s risk)?", n.ID, a.Level)
	return r.confirm(title, describe(n, a))
}

func describe(n graph.Node, a Assessment) string {
	var b strings.Builder
	if n.Title != "" {
		fmt.Fprintf(&b, "%s\n", n.Title)
	}
	fmt.Fprintf(&b, "rule: %s", a.Rule)
	if a.Match != "" {
		fmt.Fprintf(&b, " (%s)", a.Match)
	}
	if len(n.Writes) > 0 {
		fmt.Fprintf(&b, "\nwrites: %s", strings.Join(n.Writes, ", "))
	}
	return b.String()
}

func confirmPrompt(title, description string) (bool, error) {
	var confirmed bool

	confirm := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Apply").
		Negative("Block").
		Value(&confirmed)

	form := huh.NewForm(huh.NewGroup(confirm))
	if err := form.Run(); err != nil {
		return false, fmt.Errorf("prompt failed: %w", err)
	}
	return confirmed, nil
}

// IsInteractive returns true if stdin is a terminal.
func IsInteractive() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// ShouldPrompt reports whether interactive review is possible. It is false
// in CI environments and when stdin is not a terminal.
func ShouldPrompt() bool {
	for _, env := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		if os.Getenv(env) != "" {
			return false
		}
	}
	return IsInteractive()
}

// SelectReviewer picks the reviewer for a CLI run: AutoApprove with --yes,
// a prompt when interactive, DenyAll otherwise.
func SelectReviewer(yes, interactive bool) Reviewer {
	switch {
	case yes:
		return AutoApprove{}
	case interactive && ShouldPrompt():
		return NewPromptReviewer()
	default:
		return DenyAll{}
	}
}
