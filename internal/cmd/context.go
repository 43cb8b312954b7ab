package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/loom/internal/ux"
)

// CommandContext holds the global flags of one command invocation. Commands
// build it in RunE instead of reading package-level flag variables.
type CommandContext struct {
	// Output control
	Verbose bool
	Format  string
	NoColor bool

	// Configuration
	ConfigFile string
	LogLevel   string

	out io.Writer
}

// NewCommandContext extracts command context from cobra.Command flags.
//
//	func runCommand(cmd *cobra.Command, args []string) error {
//		ctx, err := NewCommandContext(cmd)
//		if err != nil {
//			return fmt.Errorf("failed to create command context: %w", err)
//		}
//		// Use ctx.Verbose, ctx.Format, etc.
//	}
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, err
	}

	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return nil, err
	}

	noColor, err := cmd.Flags().GetBool("no-color")
	if err != nil {
		return nil, err
	}

	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, err
	}

	return &CommandContext{
		Verbose:    verbose,
		Format:     format,
		NoColor:    noColor,
		ConfigFile: configFile,
		LogLevel:   logLevel,
		out:        cmd.OutOrStdout(),
	}, nil
}

// Text reports whether output is for humans rather than scripts.
func (c *CommandContext) Text() bool {
	return c.Format == "" || c.Format == "text"
}

// Output writes data in the selected format.
func (c *CommandContext) Output(data interface{}) error {
	formatter, err := ux.NewFormatter(c.Format, &ux.FormatterOptions{
		Writer:  c.out,
		NoColor: c.NoColor,
	})
	if err != nil {
		return err
	}
	return formatter.Format(data)
}
