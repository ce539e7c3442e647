package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/treesync/cmd/treesync/commands"
	"github.com/teranos/treesync/logger"
)

var rootCmd = &cobra.Command{
	Use:   "treesync",
	Short: "treesync - incremental object tree synchronization between peers",
	Long: `treesync - incremental object tree synchronization between peers.

A peer publishes versioned object trees; other peers fetch them as
streams of diff operations against the version they last saw, with
shared sub-values sent once and referenced afterwards.

Available commands:
  serve   - Publish a directory of tree documents to connecting peers
  fetch   - Fetch objects from a peer
  ledger  - Inspect the local version ledger
  am      - Manage treesync configuration ("I am")
  version - Show version information

Examples:
  treesync serve --dir ./fixtures          # Publish and watch ./fixtures
  treesync fetch main.go --peer :8771      # Fetch one object and print it
  treesync ledger versions main.go         # List archived versions
  treesync am show --format yaml           # Show effective configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.FetchCmd)
	rootCmd.AddCommand(commands.LedgerCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
