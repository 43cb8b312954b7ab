package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/loom/internal/event"
	"github.com/felixgeelhaar/loom/internal/progress"
	"github.com/felixgeelhaar/loom/internal/trace"
)

var logsCmd = &cobra.Command{
	Use:   "logs [run-id]",
	Short: "Show the event journal of a run",
	Long: `Replay the journaled events of a run: planning decisions, wave boundaries,
node transitions, review verdicts and checkpoints.

Without a run id the most recent run is shown. Use the run id "planning" for
events emitted before a run started.

Examples:
  loom logs
  loom logs 3f2a9c1e-... --kind node_status --kind node_reviewed
  loom logs --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogs,
}

func runLogs(cmd *cobra.Command, args []string) error {
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
	} else {
		state, err := loadRun(a.runs(), "")
		if err != nil {
			return err
		}
		runID = state.RunID
	}

	kinds, _ := cmd.Flags().GetStringSlice("kind")
	filter := make([]event.Kind, len(kinds))
	for i, k := range kinds {
		filter[i] = event.Kind(k)
	}

	events, err := trace.Read(a.cfg.Journal.Dir, runID)
	if err != nil {
		return fmt.Errorf("failed to read journal of run %s: %w", runID, err)
	}
	events = trace.Filter(events, filter...)

	if !cmdCtx.Text() {
		if events == nil {
			events = []event.Envelope{}
		}
		return cmdCtx.Output(events)
	}
	if len(events) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No events journaled for run %s.\n", runID)
		return nil
	}

	// Line mode prints every transition in order.
	trace.Replay(events, progress.NewIndicator(progress.Config{
		Writer:  cmd.OutOrStdout(),
		IsCI:    true,
		Verbose: true,
	}))
	return nil
}

func init() {
	logsCmd.Flags().StringSlice("kind", nil, "only show events of these kinds (e.g. node_status, plan_selected)")
	rootCmd.AddCommand(logsCmd)
}
