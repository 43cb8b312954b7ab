package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/loom/internal/policy"
	"github.com/felixgeelhaar/loom/internal/ux"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage the risk policy",
	Long: `Create and check the risk policy that gates node execution.

The policy lists protected modules, which always make a node critical, pins the
risk level of task types and caps how many low-risk nodes are auto-applied per
run. Nodes above the cap or above low risk are sent to review.

Subcommands:
  init      Create a policy file with defaults
  validate  Check a policy file

Examples:
  loom policy init
  loom policy init --protect 'internal/billing/*' --max-auto-apply 5
  loom policy validate --file .loom/policy.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var policyInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a policy file with defaults",
	Long: `Create a risk policy file with defaults. Point risk.policy_file in
loom.yaml at it to use it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputPath, _ := cmd.Flags().GetString("output")
		force, _ := cmd.Flags().GetBool("force")
		protect, _ := cmd.Flags().GetStringSlice("protect")
		maxAutoApply, _ := cmd.Flags().GetInt("max-auto-apply")

		if outputPath == "" {
			outputPath = ux.NewPathDefaultsWithDiscovery().PolicyFile()
		}
		if _, err := os.Stat(outputPath); err == nil && !force {
			return fmt.Errorf("policy file already exists: %s (use --force to overwrite)", outputPath)
		}

		pol := policy.DefaultPolicy()
		pol.Risk.ProtectedModules = append(pol.Risk.ProtectedModules, protect...)
		if cmd.Flags().Changed("max-auto-apply") {
			pol.Risk.AutoApply.MaxPerRun = maxAutoApply
		}
		if err := pol.Validate(); err != nil {
			return err
		}

		if err := policy.SavePolicy(pol, outputPath); err != nil {
			return fmt.Errorf("failed to save policy: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✓ Created policy file: %s\n", outputPath)
		fmt.Fprintf(cmd.OutOrStdout(), "  Set risk.policy_file: %s in loom.yaml to apply it\n", outputPath)
		return nil
	},
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a policy file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			path = ux.NewPathDefaultsWithDiscovery().PolicyFile()
		}

		pol, err := policy.LoadPolicy(path)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ %s is valid\n", path)
		fmt.Fprintf(out, "  Protected modules: %d\n", len(pol.Risk.ProtectedModules))
		fmt.Fprintf(out, "  Overrides:         %d\n", len(pol.Risk.Overrides))
		if pol.Risk.AutoApply.Enabled {
			fmt.Fprintf(out, "  Auto-apply:        up to %d low-risk nodes per run\n", pol.Risk.AutoApply.MaxPerRun)
		} else {
			fmt.Fprintln(out, "  Auto-apply:        disabled")
		}
		return nil
	},
}

func init() {
	policyInitCmd.Flags().StringP("output", "o", "", "output path (default: .loom/policy.yaml)")
	policyInitCmd.Flags().Bool("force", false, "overwrite an existing policy file")
	policyInitCmd.Flags().StringSlice("protect", nil, "module glob that always requires review")
	policyInitCmd.Flags().Int("max-auto-apply", policy.DefaultMaxAutoApply, "low-risk nodes auto-applied per run")

	policyValidateCmd.Flags().String("file", "", "policy file (default: .loom/policy.yaml)")

	policyCmd.AddCommand(policyInitCmd)
	policyCmd.AddCommand(policyValidateCmd)
	rootCmd.AddCommand(policyCmd)
}
