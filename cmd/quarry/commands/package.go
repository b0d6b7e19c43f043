package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/quarrybuild/quarry/pkg/goal"
)

func newPackageCommand() *cobra.Command {
	var (
		outDir string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "package [targets...]",
		Short: "Build archive targets",
		Long: `Build archive targets into deterministic artifacts.

Archives are assembled from content snapshots in manifest order, so the
same sources always yield byte-identical artifacts. Finished artifacts
are materialized into the output directory.`,
		Example: `  # Package every archive target
  quarry package

  # Package one target into a custom directory
  quarry package tools:release --out build/artifacts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), cmd.Root().Version)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			g := goal.PackageGoal(outDir)
			gc := app.goalContext(os.Stdout, force, false)
			return app.runGoal(cmd.Context(), g, gc, args)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "dist", "directory to materialize artifacts into")
	cmd.Flags().BoolVar(&force, "force", false, "bypass memoized results")

	return cmd
}
