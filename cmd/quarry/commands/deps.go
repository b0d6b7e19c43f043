package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/quarrybuild/quarry/pkg/goal"
)

func newDepsCommand() *cobra.Command {
	var transitive bool

	cmd := &cobra.Command{
		Use:   "deps <targets...>",
		Short: "Show target dependencies",
		Long: `Show the dependencies of one or more targets.

Declared dependencies come from BUILD files; inferred dependencies are
read from annotations in the target's sources.`,
		Example: `  # Direct dependencies
  quarry deps src/lib:unit

  # Full transitive closure
  quarry deps src/lib:unit --transitive`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), cmd.Root().Version)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			g := goal.DepsGoal(transitive)
			gc := app.goalContext(os.Stdout, false, false)
			return app.runGoal(cmd.Context(), g, gc, args)
		},
	}

	cmd.Flags().BoolVarP(&transitive, "transitive", "t", false, "include transitive dependencies")

	return cmd
}
