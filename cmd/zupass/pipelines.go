// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
	"github.com/omahs/zupass/internal/persistence/sqlite"
	"github.com/omahs/zupass/internal/pipeline/model"
	"github.com/omahs/zupass/internal/pipeline/store"
	"github.com/spf13/cobra"
)

func newPipelinesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipelines",
		Short: "Bulk export and import of pipeline definitions",
	}
	cmd.AddCommand(newPipelinesExportCommand(opts))
	cmd.AddCommand(newPipelinesImportCommand(opts))
	return cmd
}

// withStore opens the configured database for the duration of fn.
func withStore(cmd *cobra.Command, opts *rootOptions, fn func(*store.SqliteStore) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	db, err := sqlite.Open(cfg.DBPath, sqlite.DefaultConfig())
	if err != nil {
		return err
	}
	defer db.Close()
	s, err := store.NewSqliteStore(cmd.Context(), db)
	if err != nil {
		return err
	}
	return fn(s)
}

func newPipelinesExportCommand(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every definition as a JSON array",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, opts, func(s *store.SqliteStore) error {
				defs, err := s.LoadDefinitions(cmd.Context())
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(defs, "", "  ")
				if err != nil {
					return err
				}
				data = append(data, '\n')
				if out == "" || out == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				// Definitions carry provider credentials.
				if err := renameio.WriteFile(out, data, 0o600); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				_, err = fmt.Fprintf(cmd.ErrOrStderr(), "exported %d pipeline(s) to %s\n", len(defs), out)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newPipelinesImportCommand(opts *rootOptions) *cobra.Command {
	var (
		in      string
		replace bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert definitions from a JSON array",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			var defs []model.Definition
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&defs); err != nil {
				return fmt.Errorf("decode %s: %w", in, err)
			}
			for i := range defs {
				if err := defs[i].Validate(); err != nil {
					return fmt.Errorf("pipeline %d (%s): %w", i, defs[i].ID, err)
				}
			}

			return withStore(cmd, opts, func(s *store.SqliteStore) error {
				ctx := cmd.Context()
				if replace {
					if err := s.DeleteAllDefinitions(ctx); err != nil {
						return err
					}
				}
				if err := s.UpsertDefinitions(ctx, defs); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "imported %d pipeline(s)\n", len(defs))
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "input file")
	cmd.Flags().BoolVar(&replace, "replace", false, "delete all existing definitions first")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
