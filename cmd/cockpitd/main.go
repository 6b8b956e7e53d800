// Cockpitd is the trial sandbox lifecycle and agent query dispatch runtime.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cockpitd",
	Short: "Cockpit trial runtime: sandbox lifecycle and agent query dispatch.",
	Long: `Cockpitd manages per-user trial sandboxes for vertical-specific AI agents.
It enforces the trial lifecycle (active, warning, frozen, expired), routes
queries to keyword-selected agents running in isolated execution environments,
and sweeps expired trials on a cron schedule.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, sweepCmd, queryCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
