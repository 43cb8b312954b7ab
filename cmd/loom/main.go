package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/loom/internal/cmd"
	"github.com/felixgeelhaar/loom/internal/exitcode"
	"github.com/felixgeelhaar/loom/internal/ux"
)

func main() {
	// Cancel the run on interrupt; the scheduler drains the current wave
	// and checkpoints before returning.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(os.Stderr, "\nRun cancelled; continue it with 'loom retry' or 'loom reschedule'")
			stop()
			exitcode.Exit(exitcode.Cancelled)
		}

		fmt.Fprintf(os.Stderr, "Error: %v\n", ux.EnhanceError(err))
		stop()
		exitcode.ExitWithError(err)
	}
}
