package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the process result cache",
	}

	cmd.AddCommand(newCacheStatsCommand())
	cmd.AddCommand(newCachePruneCommand())

	return cmd
}

func newCacheStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), cmd.Root().Version)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			count, err := app.db.CountProcessRows(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("cache dir:        %s\n", app.cacheDir)
			fmt.Printf("process results:  %d\n", count)
			return nil
		},
	}
}

func newCachePruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete stale process results",
		Example: `  # Prune results older than the configured TTL
  quarry cache prune

  # Prune anything older than two days
  quarry cache prune --older-than 48h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), cmd.Root().Version)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())

			ttl := olderThan
			if ttl == 0 {
				ttl = app.cfg.Cache.ResultTTL
			}
			pruned, err := app.db.PruneProcessRows(cmd.Context(), time.Now().UTC().Add(-ttl))
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d process results older than %s\n", pruned, ttl)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age threshold (default: configured cache.result_ttl)")

	return cmd
}
