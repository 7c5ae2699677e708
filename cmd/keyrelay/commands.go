// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/aiwebsite/keyrelay/services/credentials"
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	secretsDir string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "keyrelay",
		Short: "Relay browser requests to third-party APIs without exposing credentials",
		Long: `keyrelay holds the API credentials for text generation, image search,
email delivery, and the hosting panel, and serves browser code through a
single JSON endpoint that never returns them.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config",
		getEnvString("KEYRELAY_CONFIG", "keyrelay.yaml"), "credential YAML file")
	rootCmd.PersistentFlags().StringVar(&flags.secretsDir, "secrets-dir",
		getEnvString("KEYRELAY_SECRETS_DIR", credentials.DefaultSecretsDir), "directory of per-secret files")

	// --- Server ---
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server",
		Args:  cobra.NoArgs,
	}
	port := serveCmd.Flags().Int("port", getEnvInt("KEYRELAY_PORT", 8080), "HTTP listen port")
	watch := serveCmd.Flags().Bool("watch", getEnvBool("KEYRELAY_WATCH_CONFIG", true), "reload credentials when the config file changes")
	serveCmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd, flags, *port, *watch)
	}

	// --- Hosting Panel ---
	hostingCmd := &cobra.Command{
		Use:   "hosting",
		Short: "Manage subdomains on the configured hosting panel",
	}
	hostingCmd.AddCommand(
		&cobra.Command{
			Use:   "test",
			Short: "Check the hosting panel credentials",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runHostingTest(cmd, flags)
			},
		},
		&cobra.Command{
			Use:   "create <subdomain> [domain]",
			Short: "Create a subdomain (domain defaults to hosting.main_domain)",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runHostingCreate(cmd, flags, args)
			},
		},
		&cobra.Command{
			Use:   "delete <subdomain> [domain]",
			Short: "Delete a subdomain (domain defaults to hosting.main_domain)",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runHostingDelete(cmd, flags, args)
			},
		},
	)

	// --- Utilities ---
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the keyrelay version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "keyrelay %s\n", Version)
		},
	}

	rootCmd.AddCommand(serveCmd, hostingCmd, versionCmd)
	return rootCmd
}
