package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/royale/internal/api"
	"github.com/joescharf/royale/internal/output"
	"github.com/joescharf/royale/internal/store"
)

var (
	leaderboardLimit  int
	leaderboardPeriod string
	leaderboardRepo   string
)

var leaderboardCmd = &cobra.Command{
	Use:     "leaderboard",
	Aliases: []string{"lb"},
	Short:   "Rank reviewers by XP",
	Long: `Rank reviewers by the XP their reviews earned in a period.

Bot accounts never rank. TOTAL XP and LEVEL are all-time regardless of --period.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		q := api.LeaderboardQuery{Period: leaderboardPeriod, Repo: leaderboardRepo, Limit: leaderboardLimit}
		return leaderboardRun(cmd.Context(), s, q, time.Now())
	},
}

func init() {
	leaderboardCmd.Flags().IntVarP(&leaderboardLimit, "limit", "l", 10, "Number of reviewers to show")
	leaderboardCmd.Flags().StringVarP(&leaderboardPeriod, "period", "p", api.PeriodAll, "Window to rank: week, month or all")
	leaderboardCmd.Flags().StringVarP(&leaderboardRepo, "repo", "r", "", "Only count reviews on this repository (owner/name)")
	rootCmd.AddCommand(leaderboardCmd)
}

func leaderboardRun(ctx context.Context, s store.Store, q api.LeaderboardQuery, now time.Time) error {
	entries, err := api.LoadLeaderboard(ctx, s, q, now)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		ui.Info("No XP awarded yet. Run 'royale sync' first.")
		return nil
	}

	table := ui.Table([]string{"#", "REVIEWER", "LEVEL", "SCORE", "REVIEWS", "COMMENTS", "FIRSTS", "TOTAL XP"})
	for _, e := range entries {
		row := []string{
			fmt.Sprintf("%d", e.Rank),
			output.Cyan(e.Login),
			output.LevelColor(e.Level),
			fmt.Sprintf("%d", e.Score),
			fmt.Sprintf("%d", e.ReviewsGiven),
			fmt.Sprintf("%d", e.CommentsWritten),
			fmt.Sprintf("%d", e.FirstReviews),
			fmt.Sprintf("%d", e.XP),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
