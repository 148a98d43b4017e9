package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "modlink",
	Short: "Cross-module communication core",
	Long: `modlink is the cross-module communication core: a unified message bus,
event router, module coordinator and conflict-resolving data sync manager.

Available commands:
  run        Run the demo scenario with the example modules
  topics     List registered topics
  rules      Validate a routing rules file

Use "modlink [command] --help" for more information about a specific command.`,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
