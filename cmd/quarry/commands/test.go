package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quarrybuild/quarry/pkg/goal"
	"github.com/quarrybuild/quarry/pkg/watch"
)

func newTestCommand() *cobra.Command {
	var (
		debug     bool
		force     bool
		watchMode bool
	)

	cmd := &cobra.Command{
		Use:   "test [targets...]",
		Short: "Run test targets",
		Long: `Run shell_test targets and summarize the outcomes.

Without arguments every test target in the workspace runs. Results are
memoized by input fingerprint: an unchanged test is replayed from cache
rather than re-executed. The exit code is the first nonzero test exit in
summary order.`,
		Example: `  # Run every test in the workspace
  quarry test

  # Run specific targets
  quarry test src/lib:unit src/lib:integration

  # Re-run one test interactively under a debugger or shell
  quarry test --debug src/lib:unit

  # Bypass memoized results
  quarry test --force

  # Re-run affected tests on file changes
  quarry test --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug && watchMode {
				return errors.New("--debug and --watch are mutually exclusive")
			}
			if debug && len(args) != 1 {
				return errors.New("--debug requires exactly one target")
			}

			app, err := newApp(cmd.Context(), cmd.Root().Version)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			g := goal.TestGoal()
			gc := app.goalContext(os.Stdout, force, debug)
			if !watchMode {
				return app.runGoal(cmd.Context(), g, gc, args)
			}
			return watchLoop(cmd.Context(), app, g, args)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "run one target interactively, uncached")
	cmd.Flags().BoolVar(&force, "force", false, "bypass memoized results")
	cmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "re-run on workspace changes")

	return cmd
}

// watchLoop runs the goal, then re-runs it each time the workspace
// settles after a change. Failures do not stop the loop; the loop ends
// when the context is canceled.
func watchLoop(ctx context.Context, app *app, g goal.Goal, args []string) error {
	runOnce := func() {
		gc := app.goalContext(os.Stdout, false, false)
		if err := app.runGoal(ctx, g, gc, args); err != nil {
			var ee *exitError
			if !errors.As(err, &ee) {
				fmt.Fprintf(os.Stderr, "quarry: %v\n", err)
			}
		}
	}
	runOnce()

	changed := make(chan struct{}, 1)
	w, err := watch.New(app.workspace, watch.Options{
		Ignore: []string{filepath.Base(app.cacheDir), "dist"},
		Logger: app.tel.Logger.NewComponentLogger("watch"),
	})
	if err != nil {
		return err
	}
	defer w.Close()
	go w.Run(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	fmt.Fprintln(os.Stderr, "watching for changes (ctrl-c to stop)")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			app.scheduler.InvalidateAll()
			if err := app.reloadTargets(); err != nil {
				fmt.Fprintf(os.Stderr, "quarry: %v\n", err)
				continue
			}
			runOnce()
		}
	}
}
