// Package cmd wires the CLI commands: serve, refresh, and version.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "newsbot",
	Short: "newsbot - RSS news question answering backend",
	Long: `newsbot ingests RSS feeds into a searchable article index and answers
questions about the news over an authenticated HTTP API.

Run "newsbot serve" to start the API server, or "newsbot refresh" to run a
one-off ingestion pass.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
