// Package cmd wires the stateenginectl cobra command tree together.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hackerby888/qubic-core-lite/internal/output"
)

// ConfigDir overrides the config/state home directory for this invocation.
// Bound to the --config-dir persistent flag.
var ConfigDir string

// Execute runs the stateenginectl root command.
func Execute() error {
	rootCmd := &cobra.Command{
		Use:           "stateenginectl",
		Short:         "Inspect and operate contract state engines",
		Long:          "stateenginectl digests, evicts, and flushes the page-faulted memory regions backing contract state engines.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&ConfigDir, "config-dir", "",
		"override the config/state home directory (default: $STATEENGINE_HOME or ~/.stateengine)")
	rootCmd.PersistentFlags().BoolVar(&output.JSONOutput, "json", false, "emit machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVarP(&output.QuietOutput, "quiet", "q", false, "suppress non-essential output")

	addConfigCommands(rootCmd)
	addDigestCommand(rootCmd)
	addEvictCommand(rootCmd)
	addFlushCommand(rootCmd)
	addBenchCommand(rootCmd)
	addMonitorCommand(rootCmd)

	return rootCmd.Execute()
}
