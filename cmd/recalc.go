package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/royale/internal/output"
	"github.com/joescharf/royale/internal/scoring"
)

var recalcCmd = &cobra.Command{
	Use:   "recalc",
	Short: "Reset all XP and rescore every stored review",
	Long: `Reset every user's XP, level and session count, then rescore all stored reviews
with the current formula (` + scoring.FormulaVersion + `). Nothing is fetched from GitHub.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := newRecalcJob()
		if err != nil {
			return err
		}
		stats, err := job.Run(cmd.Context())
		if err != nil {
			return err
		}

		ui.Success("Recalculated %d reviews in %d sessions", stats.TotalReviews, stats.TotalSessions)
		ui.Info("  XP awarded: %s  users updated: %d",
			output.Green(fmt.Sprintf("%d", stats.TotalXPAwarded)), stats.UsersUpdated)
		if stats.FailedGroups > 0 {
			ui.Warning("%d review groups could not be scored; see the log", stats.FailedGroups)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recalcCmd)
}
