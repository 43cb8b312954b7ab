package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/loom/internal/checkpoint"
	"github.com/felixgeelhaar/loom/internal/graph"
	"github.com/felixgeelhaar/loom/internal/ux"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show the state of a run",
	Long: `Show the checkpoint of a run: its status, wave progress and the status of
every node, including skip reasons and errors.

Without a run id the most recent run is shown.

Examples:
  loom status
  loom status 3f2a9c1e-... --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	Long: `List the run checkpoints saved in .loom/runs, newest first.

Shows run id, status, start time and node progress. Use 'loom status <run-id>'
for the details of one run.`,
	Args: cobra.NoArgs,
	RunE: runRuns,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	a, err := newApp(cmd.Context(), cmdCtx)
	if err != nil {
		return err
	}
	defer a.close()

	var runID string
	if len(args) > 0 {
		runID = args[0]
	}
	state, err := loadRun(a.runs(), runID)
	if err != nil {
		return err
	}
	return cmdCtx.Output(ux.StatusView{State: state})
}

// runSummary is one row of 'loom runs'.
type runSummary struct {
	RunID     string    `json:"run_id" yaml:"run_id"`
	Status    string    `json:"status" yaml:"status"`
	Goal      string    `json:"goal,omitempty" yaml:"goal,omitempty"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	Completed int       `json:"completed" yaml:"completed"`
	Failed    int       `json:"failed" yaml:"failed"`
	Blocked   int       `json:"blocked" yaml:"blocked"`
	Total     int       `json:"total" yaml:"total"`
}

func summarize(state *checkpoint.RunState) runSummary {
	return runSummary{
		RunID:     state.RunID,
		Status:    state.Status,
		Goal:      state.Goal,
		StartedAt: state.StartedAt,
		Completed: len(state.NodesWithStatus(graph.StatusComplete)),
		Failed:    len(state.NodesWithStatus(graph.StatusFailed)),
		Blocked:   len(state.NodesWithStatus(graph.StatusBlocked)),
		Total:     len(state.Nodes),
	}
}

func runRuns(cmd *cobra.Command, args []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	a, err := newApp(cmd.Context(), cmdCtx)
	if err != nil {
		return err
	}
	defer a.close()

	runs := a.runs()
	ids, err := runs.List()
	if err != nil {
		return err
	}

	// Newest first
	summaries := make([]runSummary, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		state, err := runs.Load(ids[i])
		if err != nil {
			a.logger.Warn("Skipping unreadable run checkpoint", "run_id", ids[i], "error", err)
			continue
		}
		summaries = append(summaries, summarize(state))
	}

	if !cmdCtx.Text() {
		return cmdCtx.Output(summaries)
	}

	out := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}
	for _, s := range summaries {
		statusIcon := "⏳"
		switch s.Status {
		case checkpoint.RunCompleted:
			statusIcon = "✓"
		case checkpoint.RunFailed:
			statusIcon = "✗"
		case checkpoint.RunCancelled:
			statusIcon = "⊘"
		}

		fmt.Fprintf(out, "%s %s\n", statusIcon, s.RunID)
		fmt.Fprintf(out, "   Status:   %s\n", s.Status)
		if s.Goal != "" {
			fmt.Fprintf(out, "   Goal:     %s\n", s.Goal)
		}
		fmt.Fprintf(out, "   Started:  %s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "   Progress: %d/%d nodes", s.Completed, s.Total)
		if s.Failed > 0 {
			fmt.Fprintf(out, " (%d failed)", s.Failed)
		}
		if s.Blocked > 0 {
			fmt.Fprintf(out, " (%d blocked)", s.Blocked)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runsCmd)
}
