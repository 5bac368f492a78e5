package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/royale/internal/gh"
	"github.com/joescharf/royale/internal/output"
	"github.com/joescharf/royale/internal/scheduler"
	"github.com/joescharf/royale/internal/syncer"
)

var (
	syncAll        bool
	syncForce      bool
	syncMaxAgeDays int
)

var syncCmd = &cobra.Command{
	Use:   "sync [owner/name]",
	Short: "Fetch reviews from GitHub and award XP",
	Long: `Fetch pull requests, reviews, review comments and commits for a repository and
award XP for new review sessions.

Only pull requests updated since the last sync are fetched unless --force is set.
Use --all to sync every tracked repository in turn.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncAll {
			if len(args) > 0 {
				return fmt.Errorf("--all does not take a repository argument")
			}
			return syncAllRun(cmd.Context())
		}
		if len(args) == 0 {
			return fmt.Errorf("repository required (owner/name), or use --all")
		}
		return syncRun(cmd.Context(), args[0])
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "Sync every tracked repository")
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "Ignore the last-sync cursor")
	syncCmd.Flags().IntVar(&syncMaxAgeDays, "max-age-days", -1, "Ignore pull requests not updated within this many days; 0 disables, -1 uses sync.max_age_days")
	rootCmd.AddCommand(syncCmd)
}

// maxAgeDays resolves the sync lookback: the flag when given, else the config key.
func maxAgeDays() int {
	if syncMaxAgeDays >= 0 {
		return syncMaxAgeDays
	}
	return max(viper.GetInt("sync.max_age_days"), 0)
}

func syncRun(ctx context.Context, arg string) error {
	owner, name, err := parseRepo(arg)
	if err != nil {
		return err
	}
	orch, err := newOrchestrator()
	if err != nil {
		return err
	}

	ui.Info("Syncing %s", output.Cyan(owner+"/"+name))
	progress, err := orch.Sync(ctx, owner, name, maxAgeDays(), syncForce)
	if rl, ok := gh.AsRateLimit(err); ok {
		if progress != nil {
			printProgress(progress)
		}
		return fmt.Errorf("rate limited by GitHub; retry in %s", rl.RetryAfter)
	}
	if err != nil {
		return err
	}
	printProgress(progress)
	return nil
}

func syncAllRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	orch, err := newOrchestrator()
	if err != nil {
		return err
	}
	log, err := getLogger()
	if err != nil {
		return err
	}

	cfg := schedulerConfig()
	cfg.MaxAgeDays = maxAgeDays()
	sched := scheduler.New(s, forcedSyncer{orch, syncForce}, cfg, log)

	result, err := sched.SyncAll(ctx)
	if err != nil {
		return err
	}
	for _, r := range result.Results {
		switch {
		case r.RetryAfter > 0:
			ui.Warning("%s: rate limited, waited %s", r.Repo, r.RetryAfter)
		case r.Error != "":
			ui.Error("%s: %s", r.Repo, r.Error)
		default:
			ui.Success("%s: %d PRs, %d reviews, +%d XP", output.Cyan(r.Repo),
				r.Progress.PRsProcessed, r.Progress.ReviewsProcessed, r.Progress.XPAwarded)
		}
	}
	ui.Info("Synced %d/%d repositories", result.Synced, result.Total)
	if result.Failed > 0 {
		return fmt.Errorf("%d repositories failed", result.Failed)
	}
	return nil
}

// forcedSyncer applies --force to every sync the scheduler makes.
type forcedSyncer struct {
	*syncer.Orchestrator
	force bool
}

func (f forcedSyncer) Sync(ctx context.Context, owner, name string, maxAgeDays int, force bool) (*syncer.Progress, error) {
	return f.Orchestrator.Sync(ctx, owner, name, maxAgeDays, force || f.force)
}

func printProgress(p *syncer.Progress) {
	ui.Success("Processed %d pull requests (%d failed)", p.PRsProcessed, p.PRsFailed)
	ui.Info("  reviews: %d  comments: %d  commits: %d  new users: %d",
		p.ReviewsProcessed, p.CommentsProcessed, p.CommitsProcessed, p.UsersCreated)
	ui.Info("  XP awarded: %s  achievements unlocked: %d",
		output.Green(fmt.Sprintf("+%d", p.XPAwarded)), p.Unlocked)
}
