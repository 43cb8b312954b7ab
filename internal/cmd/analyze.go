package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/loom/internal/engine"
	"github.com/felixgeelhaar/loom/internal/plan"
	"github.com/felixgeelhaar/loom/internal/ux"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Preview the score, critical path and waves of a plan",
	Long: `Analyze the default plan of a plan file without running it.

Shows the plan metrics and score, the critical path weighted by durations from
the execution history, bottleneck nodes, the risk level of every node, which
nodes would be skipped and the waves the rest would run in.

Examples:
  loom analyze --plan plan.yaml
  loom analyze --plan plan.yaml --force lint --format json`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
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
	forceAll, _ := cmd.Flags().GetBool("force-all")
	force, _ := cmd.Flags().GetStringSlice("force")

	file, err := plan.LoadPlanFile(planPath)
	if err != nil {
		return err
	}
	g, err := file.Graph()
	if err != nil {
		return err
	}

	s, err := a.newSession(engineOptions{})
	if err != nil {
		return err
	}
	defer s.close()

	analysis, err := s.Engine.Analyze(g, engine.RunOptions{ForceAll: forceAll, Force: force})
	if err != nil {
		return err
	}
	return cmdCtx.Output(ux.AnalysisView{Analysis: analysis})
}

func init() {
	analyzeCmd.Flags().StringP("plan", "p", "plan.yaml", "plan file (YAML or JSON)")
	analyzeCmd.Flags().Bool("force-all", false, "preview as if every node were forced")
	analyzeCmd.Flags().StringSlice("force", nil, "preview as if these nodes were forced")
	rootCmd.AddCommand(analyzeCmd)
}
