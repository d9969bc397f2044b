// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCommand() *cobra.Command {
	opts := &serveOptions{}
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Long: "Print the configuration the server would start with, after .env, the config " +
			"file, the environment and flags are applied. The system key is redacted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			b, err := cfg.Redacted().TOML()
			if err != nil {
				return fmt.Errorf("render configuration: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
	opts.bindFlags(configCmd)
	return configCmd
}
