package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/loom/internal/engine"
	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/plan"
	"github.com/felixgeelhaar/loom/internal/schedule"
	"github.com/felixgeelhaar/loom/internal/ux"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Plan and run a task graph",
	Long: `Select the best plan candidate from a plan file and run it wave by wave.

Nodes whose fingerprint and previous result allow it are skipped. High-risk
nodes are sent to review before they run; pass --yes to approve them
non-interactively. Every wave is checkpointed under .loom/runs so failed
nodes can be retried with 'loom retry'.

Exit codes:
  0    all nodes completed or were skipped
  3    a node was denied by the risk policy
  4    the run finished with failed or blocked nodes
  130  the run was interrupted

Examples:
  loom run --plan plan.yaml
  loom run --plan plan.yaml --force build --force test
  loom run --plan plan.yaml --force-all --yes
  loom run --plan plan.yaml --refine`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	a, err := newApp(cmd.Context(), cmdCtx)
	if err != nil {
		return err
	}
	defer a.close()

	planPath, _ := cmd.Flags().GetString("plan")
	goal, _ := cmd.Flags().GetString("goal")
	strategy, _ := cmd.Flags().GetString("strategy")
	forceAll, _ := cmd.Flags().GetBool("force-all")
	force, _ := cmd.Flags().GetStringSlice("force")
	yes, _ := cmd.Flags().GetBool("yes")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	refineRun, _ := cmd.Flags().GetBool("refine")

	file, err := plan.LoadPlanFile(planPath)
	if err != nil {
		return err
	}
	if goal == "" {
		goal = file.Goal
	}

	s, err := a.newSession(engineOptions{
		Provider:   plan.NewFileProvider(file),
		Yes:        yes,
		DryRun:     dryRun,
		Refine:     refineRun,
		Candidates: candidateCount(cmd, file),
		Strategy:   strategy,
	})
	if err != nil {
		return err
	}
	defer s.close()

	if s.Indicator != nil {
		s.Indicator.Start()
	}
	res, err := s.Engine.Execute(cmd.Context(), goal, engine.RunOptions{ForceAll: forceAll, Force: force})
	if s.Indicator != nil {
		s.Indicator.Stop()
	}
	if res == nil {
		return err
	}

	if outErr := cmdCtx.Output(ux.RunView{Result: res}); outErr != nil {
		return outErr
	}
	if err != nil {
		return err
	}
	return runOutcome(res.RunID, res.Report)
}

// runOutcome turns failed or blocked nodes into a coded error so the process
// exits with a non-zero status.
func runOutcome(runID string, rep *schedule.Report) error {
	if rep == nil || (len(rep.Failed) == 0 && len(rep.Blocked) == 0) {
		return nil
	}

	msg := fmt.Sprintf("run %s finished with %d failed and %d blocked nodes", runID, len(rep.Failed), len(rep.Blocked))
	if len(rep.Failed) == 0 {
		return errors.New(errors.ErrCodeExecBlocked, msg).
			WithSuggestion("Use 'loom reschedule' once the blocking nodes are resolved")
	}
	return errors.New(errors.ErrCodeExecFailed, msg).
		WithSuggestions(
			fmt.Sprintf("Inspect the failures with 'loom logs %s'", runID),
			fmt.Sprintf("Retry with 'loom retry %s'", strings.Join(rep.Failed, " ")),
		)
}

func init() {
	addPlanFlags(runCmd)
	runCmd.Flags().Bool("force-all", false, "re-run every node regardless of history")
	runCmd.Flags().StringSlice("force", nil, "re-run these nodes regardless of history")
	runCmd.Flags().BoolP("yes", "y", false, "approve high-risk nodes without prompting")
	runCmd.Flags().Bool("dry-run", false, "print commands instead of running them")
	runCmd.Flags().Bool("refine", false, "judge the run and retry failed nodes until the score threshold is met")
	rootCmd.AddCommand(runCmd)
}
