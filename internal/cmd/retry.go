package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/loom/internal/checkpoint"
	"github.com/felixgeelhaar/loom/internal/engine"
	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/progress"
	"github.com/felixgeelhaar/loom/internal/schedule"
	"github.com/felixgeelhaar/loom/internal/ux"
)

var retryCmd = &cobra.Command{
	Use:   "retry <node-id>...",
	Short: "Retry failed nodes of a run",
	Long: `Re-run failed nodes of an earlier run, continuing from its checkpoint.

With the auto_retry blocked policy, nodes that were blocked by a retried node
run as soon as it succeeds. With the manual policy they stay blocked until
'loom reschedule'.

Examples:
  loom retry build
  loom retry build test --run 3f2a9c1e-...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRetry,
}

var rescheduleCmd = &cobra.Command{
	Use:   "reschedule",
	Short: "Run blocked nodes whose dependencies have recovered",
	Long: `Return blocked nodes whose dependencies are no longer failed or blocked
to pending and run them.

Examples:
  loom reschedule
  loom reschedule --run 3f2a9c1e-...`,
	Args: cobra.NoArgs,
	RunE: runReschedule,
}

func runRetry(cmd *cobra.Command, args []string) error {
	return continueRun(cmd, func(s *session, res *engine.RunResult) (*schedule.Report, error) {
		var (
			rep *schedule.Report
			err error
		)
		for _, id := range args {
			if rep, err = s.Engine.Retry(cmd.Context(), res, id); err != nil {
				return rep, err
			}
		}
		return rep, nil
	})
}

func runReschedule(cmd *cobra.Command, args []string) error {
	return continueRun(cmd, func(s *session, res *engine.RunResult) (*schedule.Report, error) {
		return s.Engine.Reschedule(cmd.Context(), res)
	})
}

// continueRun resumes the run named by --run, or the latest run, and applies
// fn to it.
func continueRun(cmd *cobra.Command, fn func(*session, *engine.RunResult) (*schedule.Report, error)) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	a, err := newApp(cmd.Context(), cmdCtx)
	if err != nil {
		return err
	}
	defer a.close()

	runID, _ := cmd.Flags().GetString("run")
	yes, _ := cmd.Flags().GetBool("yes")
	state, err := loadRun(a.runs(), runID)
	if err != nil {
		return err
	}

	s, err := a.newSession(engineOptions{Yes: yes})
	if err != nil {
		return err
	}
	defer s.close()

	res, err := s.Engine.Resume(state)
	if err != nil {
		return err
	}
	if cmdCtx.Text() {
		progress.PrintResumeInfo(cmdCtx.out, state)
		s.Indicator.Start()
	}

	rep, err := fn(s, res)
	if s.Indicator != nil {
		s.Indicator.Stop()
	}
	if err != nil {
		return err
	}

	if cmdCtx.Text() {
		progress.PrintSummary(cmdCtx.out, rep)
	} else if err := cmdCtx.Output(ux.RunView{Result: res}); err != nil {
		return err
	}
	return runOutcome(res.RunID, rep)
}

// loadRun loads the checkpoint of runID, or the latest one when runID is
// empty.
func loadRun(runs *checkpoint.Manager, runID string) (*checkpoint.RunState, error) {
	if runID != "" {
		return runs.Load(runID)
	}
	state, err := runs.Latest()
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errors.New(errors.ErrCodeFileNotFound, "no runs recorded yet").
			WithSuggestion("Start one with 'loom run --plan plan.yaml'")
	}
	return state, nil
}

func init() {
	for _, c := range []*cobra.Command{retryCmd, rescheduleCmd} {
		c.Flags().String("run", "", "run id (default: the latest run)")
		c.Flags().BoolP("yes", "y", false, "approve high-risk nodes without prompting")
		rootCmd.AddCommand(c)
	}
}
