package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Plan candidate and incremental DAG scheduling engine",
	Long: `loom turns a goal into a task graph and runs it wave by wave.

It scores competing plan candidates, picks the best one, skips tasks whose
inputs and prior results are unchanged, gates risky tasks behind review and
runs the rest in concurrency-bounded waves.

Examples:
  # Check a plan file
  loom validate --plan plan.yaml

  # Preview scores, critical path and waves
  loom analyze --plan plan.yaml

  # Run it, re-using results from earlier runs
  loom run --plan plan.yaml

  # Inspect and continue the last run
  loom status
  loom retry <node-id>`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which commands pass on to
// the engine so an interrupt cancels the run.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default is .loom/loom.yaml when present)")
	rootCmd.PersistentFlags().StringP("format", "f", "text", "output format: text, json, jsonl or yaml")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error (overrides loom.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "print planning and wave events")
}
