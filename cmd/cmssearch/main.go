// Cmssearch serves semantic search over Contentstack content.
//
// The serve command starts the HTTP API. Entries reach the index through
// Contentstack webhooks, the reindex endpoints, or the sync and reindex
// commands.
//
// Usage:
//
//	# Start the API with the default config file
//	cmssearch serve
//
//	# Index every configured content type
//	cmssearch sync --config ./cmssearch.yaml
//
//	# Reindex one entry
//	cmssearch reindex product blt123 --locale en-us
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag shared by every command.
var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cmssearch",
		Short: "Semantic search over Contentstack content",
		Long: `cmssearch indexes Contentstack entries into a vector index and answers
natural-language search queries over them.

Configuration is read from ~/.config/cmssearch/config.yaml (or --config),
then overridden by environment variables such as SERVER_PORT or
CONTENTSTACK_DELIVERY_TOKEN.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(versionString() + "\n")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML or TOML config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newReindexCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
}

func versionString() string {
	return fmt.Sprintf("cmssearch %s (commit %s, built %s)", version, gitCommit, buildDate)
}
