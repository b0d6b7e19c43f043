package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	workspaceDir string
	configPath   string
	verbose      bool
)

// exitError carries a goal's exit code out of cobra without treating a
// failing target as a CLI error. The summary has already been rendered.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, version, commit, buildDate string) int {
	rootCmd := newRootCommand(version, commit, buildDate)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		fmt.Fprintf(os.Stderr, "quarry: %v\n", err)
		return 1
	}
	return 0
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quarry",
		Short: "Quarry - Memoizing Build Orchestrator",
		Long: `Quarry runs build goals over a workspace of BUILD targets.

Rules describe how products are derived from requests; the scheduler
memoizes every computation by content fingerprint, so identical work is
never repeated within a run. Processes execute in hermetic sandboxes and
their results are cached across runs.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "C", ".", "workspace root directory")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default <workspace>/quarry.cue)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newTestCommand())
	rootCmd.AddCommand(newPackageCommand())
	rootCmd.AddCommand(newDepsCommand())
	rootCmd.AddCommand(newTargetsCommand())
	rootCmd.AddCommand(newCacheCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}
