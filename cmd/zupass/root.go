// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"os"

	"github.com/omahs/zupass/internal/config"
	"github.com/omahs/zupass/internal/log"
	"github.com/omahs/zupass/internal/version"
	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "zupass",
		Short:        "Credential-gated pipelines and feeds",
		SilenceUsage: true,
		Version:      version.String(),
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (YAML)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newDBCommand(opts))
	cmd.AddCommand(newRateLimitCommand(opts))
	cmd.AddCommand(newPipelinesCommand(opts))
	cmd.AddCommand(newFeedsCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// load resolves configuration and configures the global logger from it.
func (o *rootOptions) load() (config.AppConfig, error) {
	log.Configure(log.Config{Level: "info", Service: "zupass", Version: version.Version})
	loader := config.NewLoader(o.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return config.AppConfig{}, fmt.Errorf("load config: %w", err)
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "zupass", Version: version.Version})

	logger := log.WithComponent("config")
	for _, key := range loader.UnknownEnvKeys(os.Environ()) {
		logger.Warn().Str("key", key).Msg("unknown ZUPASS_ environment variable ignored")
	}
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}
