// Command breathctl runs the breath analysis offline: analyse a recorded
// window, convert battery readings, export a session record, manage stored
// sessions, show trends.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "breathctl",
		Short:         "Offline breath CO analysis tools",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newBatteryCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newTrendsCmd())

	return rootCmd
}
