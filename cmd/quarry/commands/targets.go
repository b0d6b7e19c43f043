package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quarrybuild/quarry/pkg/target"
)

func newTargetsCommand() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List workspace targets",
		Example: `  # All targets
  quarry targets

  # Only test targets
  quarry targets --kind shell_test`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), cmd.Root().Version)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			var targets []*target.Target
			if kind != "" {
				targets = app.targets.WithKind(kind)
			} else {
				targets = app.targets.All()
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, t := range targets {
				fmt.Fprintf(w, "%s\t%s\n", t.Address, t.Kind)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "filter by target kind")

	return cmd
}
