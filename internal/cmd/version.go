package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/loom/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print version information including version number, git commit,
build date, Go version, and platform.

With --format json or yaml the full build information is printed.`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	info := version.GetInfo()

	if !cmdCtx.Text() {
		return cmdCtx.Output(info)
	}
	if cmdCtx.Verbose {
		fmt.Fprintln(cmd.OutOrStdout(), info.String())
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "loom %s\n", info.Short())
	return nil
}
