package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/royale/internal/achievements"
	"github.com/joescharf/royale/internal/api"
	"github.com/joescharf/royale/internal/models"
	"github.com/joescharf/royale/internal/output"
	"github.com/joescharf/royale/internal/store"
)

var userCmd = &cobra.Command{
	Use:   "user <login>",
	Short: "Show a reviewer's XP, level and achievements",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		return userRun(cmd.Context(), s, strings.TrimPrefix(args[0], "@"))
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
}

func userRun(ctx context.Context, s store.Store, login string) error {
	stats, err := api.LoadUserStats(ctx, s, achievements.NewChecker(s), login)
	if err != nil {
		return err
	}

	next := models.LevelForXP(stats.XP) + 1
	nextXP := int64((next-1)*(next-1)) * 100

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(stats.Login), output.LevelColor(stats.Level))
	fmt.Fprintf(ui.Out, "  XP:        %d (%d to level %d)\n", stats.XP, nextXP-stats.XP, next)
	fmt.Fprintf(ui.Out, "  Sessions:  %d\n", stats.ReviewSessions)
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"", "ACHIEVEMENT", "PROGRESS", "DESCRIPTION"})
	for _, a := range stats.Achievements {
		mark := " "
		name := a.Name
		if a.Unlocked {
			mark = output.Green("✓")
			name = output.Green(a.Name)
		}
		if err := table.Append([]string{mark, name, output.ProgressBar(a.Current, a.Target, 10), a.Description}); err != nil {
			return err
		}
	}
	return table.Render()
}
