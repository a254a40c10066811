// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"

	"github.com/omahs/zupass/internal/persistence/sqlite"
	"github.com/spf13/cobra"
)

func newDBCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}
	cmd.AddCommand(newDBVerifyCommand(opts))
	return cmd
}

func newDBVerifyCommand(opts *rootOptions) *cobra.Command {
	var (
		path string
		mode string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check database integrity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			integrity, err := sqlite.ParseIntegrityMode(mode)
			if err != nil {
				return err
			}
			if path == "" {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				path = cfg.DBPath
			}

			problems, err := sqlite.VerifyIntegrity(cmd.Context(), path, integrity)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintf(out, "  %s\n", p)
				}
				return fmt.Errorf("%s: %d integrity problem(s)", path, len(problems))
			}
			_, err = fmt.Fprintf(out, "%s: ok (%s)\n", path, integrity)
			return err
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "database file (defaults to db_path from config)")
	cmd.Flags().StringVar(&mode, "mode", "quick", "verification mode: quick or full")
	return cmd
}
