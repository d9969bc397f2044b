// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the command line until the server stops or a command fails.
func Execute() error {
	return NewRootCommand().ExecuteContext(context.Background())
}

// NewRootCommand assembles the command tree. Running the root command without
// a subcommand starts the server, same as "serve".
func NewRootCommand() *cobra.Command {
	opts := &serveOptions{}

	rootCmd := &cobra.Command{
		Use:   "analyze-proxy",
		Short: "Credential-injecting proxy for the analyze API",
		Long: "analyze-proxy forwards POST /api/analyze to the upstream chat-completion API, " +
			"using the caller's bearer key when it looks real and the server-held key otherwise.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	opts.bindFlags(rootCmd)

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newConfigCommand())
	return rootCmd
}
