package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/loom/internal/config"
	"github.com/felixgeelhaar/loom/internal/ux"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or create loom configuration",
	Long: `Manage the project configuration stored at .loom/loom.yaml.

Configuration includes:
  • Candidate count, variance strategy and scoring weights
  • Concurrency, node timeout and blocked-node policy
  • Refinement threshold and rounds
  • Execution history backend and command execution policy
  • Logging, event journal, metrics and tracing

Every key can be overridden with a LOOM_ environment variable, for example
LOOM_SCHEDULING_CONCURRENCY=8.

Examples:
  # Write the default configuration
  loom config init

  # View the effective configuration
  loom config view

  # Get a specific value
  loom config get scheduling.concurrency

  # Show configuration file path
  loom config path
`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	Long:  `Write the default configuration to .loom/loom.yaml. An existing file is kept unless --force is given.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Display the effective configuration",
	Long:  `Display the configuration after defaults, the config file and environment overrides are applied.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigView,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  `Retrieve the value of a specific configuration key using dot notation (e.g., scheduling.concurrency).`,
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path of the configuration file in use, or where 'loom config init' would write it.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing configuration file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	rootCmd.AddCommand(configCmd)
}

// configTarget returns the file config commands operate on.
func configTarget(cmdCtx *CommandContext) string {
	if path := configPath(cmdCtx); path != "" {
		return path
	}
	return ux.NewPathDefaultsWithDiscovery().ConfigFile()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	force, _ := cmd.Flags().GetBool("force")

	path := configTarget(cmdCtx)
	if _, err := os.Stat(path); err == nil && !force {
		return ux.NewErrorWithSuggestion(
			fmt.Errorf("configuration file already exists: %s", path),
			"Use --force to overwrite it",
		)
	}

	if err := config.Save(config.Default(), path); err != nil {
		return ux.FormatError(err, "saving configuration")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote default configuration to %s\n", path)
	return nil
}

func runConfigView(cmd *cobra.Command, args []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}

	path := configPath(cmdCtx)
	cfg, err := config.Load(path)
	if err != nil {
		return ux.FormatError(err, "loading configuration")
	}
	cfg.Resolve(ux.NewPathDefaultsWithDiscovery().LoomDir)

	if !cmdCtx.Text() {
		return cmdCtx.Output(cfg)
	}

	out := cmd.OutOrStdout()
	if path == "" {
		path = "(defaults)"
	}
	fmt.Fprintf(out, "Configuration file: %s\n\n", path)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}

	cfg, err := config.Load(configPath(cmdCtx))
	if err != nil {
		return ux.FormatError(err, "loading configuration")
	}

	value, err := getNestedValue(cfg, args[0])
	if err != nil {
		return fmt.Errorf("failed to get value: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), configTarget(cmdCtx))
	return nil
}

// getNestedValue retrieves a value from the config using the dot notation of
// its YAML keys.
func getNestedValue(cfg *config.Config, key string) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	var node any
	if err := yaml.Unmarshal(data, &node); err != nil {
		return "", err
	}

	for _, part := range strings.Split(key, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return "", fmt.Errorf("unknown configuration key: %s", key)
		}
		if node, ok = m[part]; !ok {
			return "", fmt.Errorf("unknown configuration key: %s", key)
		}
	}

	if _, scalar := node.(map[string]any); !scalar {
		if _, list := node.([]any); !list {
			return fmt.Sprint(node), nil
		}
	}
	out, err := yaml.Marshal(node)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
