// Package commands implements the p2pctl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// outputFormat controls the output format for all commands (table or json).
var outputFormat string

// rootCmd is the top-level cobra command for p2pctl.
var rootCmd = &cobra.Command{
	Use:   "p2pctl",
	Short: "Offline inspection tools for the p2pmux multiplexing engine",
	Long:  "p2pctl decodes multiaddrs and simulates known-address-set behavior without needing a running daemon.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(addrCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
