// Package main provides the cogworks pipeline CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set during build
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "cogworks",
	Short: "Run LLM-assisted engineering pipelines over a directed node graph",
	Long: `cogworks drives an automated, multi-stage engineering workflow across a
configurable directed graph of processing nodes, with persisted resumable
state, bounded concurrency, cost accounting, and cycle-safe rework loops.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cogworks %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	},
}

func main() {
	rootCmd.AddCommand(versionCmd, runCmd, resumeCmd, cancelCmd, stateCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
