package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/loom/internal/errors"
	"github.com/felixgeelhaar/loom/internal/health"
	"github.com/felixgeelhaar/loom/internal/version"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that runs can start",
	Long: `Run preflight checks: the .loom directories are writable, the execution
history can be read and, when the execution policy requires Docker, the
Docker daemon is reachable.

Exits non-zero when any check is unhealthy.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

// doctorReport is the output of 'loom doctor'.
type doctorReport struct {
	Version string                    `json:"version" yaml:"version"`
	Status  health.Status             `json:"status" yaml:"status"`
	Checks  map[string]*health.Result `json:"checks" yaml:"checks"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	a, err := newApp(cmd.Context(), cmdCtx)
	if err != nil {
		return err
	}
	defer a.close()

	manager := health.NewManager()
	manager.AddChecker(health.NewDirChecker("runs-dir", a.paths.RunsDir()))
	if a.cfg.Journal.Enabled {
		manager.AddChecker(health.NewDirChecker("journal-dir", a.cfg.Journal.Dir))
	}
	manager.AddChecker(health.NewStoreChecker(a.openStore))
	if a.cfg.Exec.Policy.Docker.Required {
		manager.AddChecker(health.NewDockerChecker(a.cfg.Exec.Policy.Docker.Image))
	}

	results := manager.Check(cmd.Context())
	report := doctorReport{
		Version: version.GetInfo().Version,
		Status:  manager.OverallStatus(results),
		Checks:  results,
	}

	if !cmdCtx.Text() {
		if err := cmdCtx.Output(report); err != nil {
			return err
		}
	} else {
		printDoctor(cmd, report)
	}

	if report.Status == health.StatusUnhealthy {
		return errors.New(errors.ErrCodeConfigInvalid, "preflight checks failed")
	}
	return nil
}

func printDoctor(cmd *cobra.Command, report doctorReport) {
	out := cmd.OutOrStdout()
	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := report.Checks[name]
		icon := "✓"
		switch r.Status {
		case health.StatusDegraded:
			icon = "⚠"
		case health.StatusUnhealthy:
			icon = "✗"
		}
		fmt.Fprintf(out, "%s %-18s %s\n", icon, name, r.Message)
		if s, ok := r.Details["suggestion"]; ok {
			fmt.Fprintf(out, "  → %v\n", s)
		}
	}
	fmt.Fprintf(out, "\nOverall: %s\n", report.Status)
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
