package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/loom/internal/config"
	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/plan"
	"github.com/felixgeelhaar/loom/internal/policy"
	"github.com/felixgeelhaar/loom/internal/ux"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a plan file and optional configuration",
	Long: `Validate a plan file: every candidate variant must be a valid DAG with
unique node ids, known edge endpoints and no cycles.

With --policy the risk policy is checked as well. The configuration is checked
when --config is given.

Examples:
  loom validate --plan plan.yaml
  loom validate --plan plan.yaml --policy .loom/policy.yaml`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}

	planPath, _ := cmd.Flags().GetString("plan")
	policyPath, _ := cmd.Flags().GetString("policy")

	view, err := validatePlan(planPath)
	if err != nil {
		return err
	}
	planValid := view.Valid

	var settingsErrs []string
	if cmdCtx.ConfigFile != "" {
		if _, err := config.Load(cmdCtx.ConfigFile); err != nil {
			settingsErrs = append(settingsErrs, fmt.Sprintf("config %s: %v", cmdCtx.ConfigFile, err))
		}
	}
	if policyPath != "" {
		if _, err := policy.LoadPolicy(policyPath); err != nil {
			settingsErrs = append(settingsErrs, fmt.Sprintf("policy %s: %v", policyPath, err))
		}
	}
	view.Errors = append(view.Errors, settingsErrs...)
	view.Valid = planValid && len(settingsErrs) == 0

	if err := cmdCtx.Output(view); err != nil {
		return err
	}

	switch {
	case !planValid:
		return errors.New(errors.ErrCodeGraphInvalidNode, fmt.Sprintf("plan %s is invalid", planPath))
	case len(settingsErrs) > 0:
		return errors.New(errors.ErrCodeConfigInvalid, "configuration is invalid")
	}
	return nil
}

// validatePlan loads path and checks every variant. Only a missing or
// unparsable file is returned as an error.
func validatePlan(path string) (ux.ValidationView, error) {
	view := ux.ValidationView{Path: path}

	file, err := plan.LoadPlanFile(path)
	if err != nil {
		return view, err
	}
	for _, v := range file.Variants() {
		view.Candidates = append(view.Candidates, v.Name)
	}
	for _, p := range file.Validate() {
		msg := fmt.Sprintf("%s: %s", p.Variant, p.Error)
		if p.Code != "" {
			msg = fmt.Sprintf("[%s] %s", p.Code, msg)
		}
		view.Errors = append(view.Errors, msg)
	}
	view.Valid = len(view.Errors) == 0
	if !view.Valid {
		return view, nil
	}

	g, err := file.Graph()
	if err != nil {
		return view, err
	}
	layers, err := g.Layers()
	if err != nil {
		return view, err
	}
	view.Nodes = g.Len()
	view.Edges = len(g.Edges())
	view.Layers = len(layers)
	return view, nil
}

func init() {
	validateCmd.Flags().StringP("plan", "p", "plan.yaml", "plan file (YAML or JSON)")
	validateCmd.Flags().String("policy", "", "risk policy file to check")
	rootCmd.AddCommand(validateCmd)
}
