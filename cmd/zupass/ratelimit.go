// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"time"

	"github.com/omahs/zupass/internal/persistence/sqlite"
	"github.com/omahs/zupass/internal/ratelimit"
	"github.com/spf13/cobra"
)

func newRateLimitCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Rate-limit bucket maintenance",
	}
	cmd.AddCommand(newRateLimitPruneCommand(opts))
	return cmd
}

func newRateLimitPruneCommand(opts *rootOptions) *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete idle buckets and buckets of unconfigured action types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if retention <= 0 {
				retention = cfg.RateLimitRetention
			}

			db, err := sqlite.Open(cfg.DBPath, sqlite.DefaultConfig())
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			store, err := ratelimit.NewSqliteStore(ctx, db)
			if err != nil {
				return err
			}
			limiter, err := ratelimit.New(store, cfg.RateLimits)
			if err != nil {
				return err
			}
			if err := limiter.Cleanup(ctx, retention); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned buckets idle for more than %s\n", retention)
			return err
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "idle time after which a bucket is deleted (defaults to config)")
	return cmd
}
