package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitError carries the process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "memwatch",
		Short: "Measure the peak memory of a command and all of its descendants",
		Long: `memwatch runs a command, follows every process it spawns, and reports the
peak total resident memory of the whole process tree along with each
process's own peak.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newManCmd(root))
	return root
}

func main() {
	os.Exit(execute(context.Background(), newRootCmd()))
}

func execute(ctx context.Context, root *cobra.Command) int {
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(os.Stderr, "memwatch: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "memwatch: %v\n", err)
	return 1
}
