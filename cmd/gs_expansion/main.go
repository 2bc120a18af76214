package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gauss-ops/gs-expansion/internal/precheck"
	"github.com/gauss-ops/gs-expansion/internal/resources"
)

var rootCmd = &cobra.Command{
	Use:           "gs_expansion",
	Short:         "Add standby nodes to a running primary/standby cluster.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	os.Exit(exitCode(err))
}

// exitCode maps the outcome of a run to the process status. Partial success
// and an already expanded cluster are not failures.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, precheck.ErrNothingToExpand):
		resources.LogLevel("info", "%v", err)
		return 0
	default:
		resources.LogLevel("error", "%v", err)
		return 1
	}
}
