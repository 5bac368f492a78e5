package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/royale/internal/scoring"
)

// Set from main via Execute.
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(ui.Out, "royale %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
		fmt.Fprintf(ui.Out, "scoring formula %s\n", scoring.FormulaVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
