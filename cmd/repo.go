package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/royale/internal/models"
	"github.com/joescharf/royale/internal/output"
	"github.com/joescharf/royale/internal/store"
)

var repoCmd = &cobra.Command{
	Use:     "repo",
	Aliases: []string{"repos"},
	Short:   "Manage tracked repositories",
}

var repoAddCmd = &cobra.Command{
	Use:   "add <owner/name>",
	Short: "Start tracking a GitHub repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoAddRun(cmd.Context(), args[0])
	},
}

var repoListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tracked repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		return repoListRun(cmd.Context(), s)
	},
}

func init() {
	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoListCmd)
	rootCmd.AddCommand(repoCmd)
}

func repoAddRun(ctx context.Context, arg string) error {
	owner, name, err := parseRepo(arg)
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	client, err := newGitHubClient()
	if err != nil {
		return err
	}

	remote, err := client.GetRepository(ctx, owner, name)
	if err != nil {
		return fmt.Errorf("look up %s/%s: %w", owner, name, err)
	}
	repo := &models.Repository{GitHubID: remote.ID, Owner: remote.Owner, Name: remote.Name}
	if err := s.UpsertRepository(ctx, repo); err != nil {
		return err
	}

	ui.Success("Tracking %s", output.Cyan(repo.FullName()))
	ui.Info("Run 'royale sync %s' to fetch its reviews", repo.FullName())
	return nil
}

func repoListRun(ctx context.Context, s store.Store) error {
	repos, err := s.ListRepositories(ctx)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		ui.Info("No repositories tracked. Add one with 'royale repo add <owner/name>'.")
		return nil
	}

	table := ui.Table([]string{"REPOSITORY", "LAST SYNCED"})
	for _, r := range repos {
		synced := output.Yellow("never")
		if r.LastSyncedAt != nil {
			synced = r.LastSyncedAt.Local().Format("2006-01-02 15:04")
		}
		if err := table.Append([]string{output.Cyan(r.FullName()), synced}); err != nil {
			return err
		}
	}
	return table.Render()
}
