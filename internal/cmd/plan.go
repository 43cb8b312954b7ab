package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/loom/internal/plan"
	"github.com/felixgeelhaar/loom/internal/ux"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Generate, score and select a plan candidate",
	Long: `Generate plan candidates from the variants of a plan file, score each one
and select the best.

Each candidate is drafted with a different variance configuration. Invalid
candidates are rejected with a diagnostic; the remaining ones are scored on
parallelism, balance, depth and file conflicts.

Examples:
  loom plan --plan plan.yaml
  loom plan --plan plan.yaml --candidates 5 --strategy mixed
  loom plan --plan plan.yaml --out selected.yaml`,
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
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
	out, _ := cmd.Flags().GetString("out")

	file, err := plan.LoadPlanFile(planPath)
	if err != nil {
		return err
	}
	if goal == "" {
		goal = file.Goal
	}

	s, err := a.newSession(engineOptions{
		Provider:   plan.NewFileProvider(file),
		Candidates: candidateCount(cmd, file),
		Strategy:   strategy,
	})
	if err != nil {
		return err
	}
	defer s.close()

	result, err := s.Engine.Plan(cmd.Context(), goal)
	if err != nil {
		return err
	}

	if out != "" {
		if err := plan.SavePlanFile(plan.FromGraph(goal, result.Graph()), out); err != nil {
			return err
		}
		a.logger.Info("Selected plan written", "path", out, "candidate", result.Selected.ID)
	}
	return cmdCtx.Output(ux.PlanView{Result: result})
}

// candidateCount returns --candidates when set. Otherwise a plan file with
// several variants drafts each of them once, and a single plan uses the
// configured count.
func candidateCount(cmd *cobra.Command, file *plan.PlanFile) int {
	if cmd.Flags().Changed("candidates") {
		n, _ := cmd.Flags().GetInt("candidates")
		return n
	}
	if len(file.Candidates) > 1 {
		return len(file.Candidates)
	}
	return 0
}

func addPlanFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("plan", "p", "plan.yaml", "plan file (YAML or JSON)")
	cmd.Flags().String("goal", "", "goal description (default: the goal of the plan file)")
	cmd.Flags().Int("candidates", 0, "number of plan candidates to generate")
	cmd.Flags().String("strategy", "", "variance strategy: prompting, temperature, constraints or mixed")
}

func init() {
	addPlanFlags(planCmd)
	planCmd.Flags().StringP("out", "o", "", "write the selected plan to this file")
	rootCmd.AddCommand(planCmd)
}
