// Package scheduler runs repository syncs in the background on a fixed interval.
package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joescharf/royale/internal/gh"
	"github.com/joescharf/royale/internal/models"
	"github.com/joescharf/royale/internal/syncer"
)

// Syncer syncs one repository.
type Syncer interface {
	Sync(ctx context.Context, owner, name string, maxAgeDays int, force bool) (*syncer.Progress, error)
}

// RepoLister lists the tracked repositories.
type RepoLister interface {
	ListRepositories(ctx context.Context) ([]*models.Repository, error)
}

// Config controls the sync loop.
type Config struct {
	Interval   time.Duration
	RepoDelay  time.Duration // pause between repositories within one pass
	MaxAgeDays int
}

// DefaultConfig returns a 6h interval, a 2s delay between repositories and a one year
// lookback.
func DefaultConfig() Config {
	return Config{
		Interval:   6 * time.Hour,
		RepoDelay:  2 * time.Second,
		MaxAgeDays: syncer.DefaultMaxAgeDays,
	}
}

// RepoResult holds the outcome of syncing one repository.
type RepoResult struct {
	Repo       string           `json:"repo"`
	Progress   *syncer.Progress `json:"progress,omitempty"`
	RetryAfter time.Duration    `json:"retry_after,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Result holds the outcome of one pass over all repositories.
type Result struct {
	Synced      int          `json:"synced"`
	Total       int          `json:"total"`
	Failed      int          `json:"failed"`
	RateLimited int          `json:"rate_limited"`
	Results     []RepoResult `json:"results"`
}

// Scheduler drives periodic syncs. A single goroutine runs every pass, so passes
// never overlap.
type Scheduler struct {
	repos  RepoLister
	syncer Syncer
	cfg    Config
	log    logrus.FieldLogger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Scheduler. A zero Interval falls back to DefaultConfig. MaxAgeDays
// is passed through as given, so 0 syncs without an age bound.
func New(repos RepoLister, s Syncer, cfg Config, log logrus.FieldLogger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.RepoDelay < 0 {
		cfg.RepoDelay = 0
	}
	if cfg.MaxAgeDays < 0 {
		cfg.MaxAgeDays = 0
	}
	return &Scheduler{repos: repos, syncer: s, cfg: cfg, log: log, sleep: sleepContext}
}

// Run syncs all repositories every interval until ctx is cancelled. The first pass
// happens one interval after start.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.cfg.Interval).Info("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			res, err := s.SyncAll(ctx)
			if err != nil {
				s.log.WithError(err).Error("scheduled sync failed")
				continue
			}
			s.log.WithFields(logrus.Fields{
				"synced":       res.Synced,
				"total":        res.Total,
				"failed":       res.Failed,
				"rate_limited": res.RateLimited,
			}).Info("scheduled sync complete")
		}
	}
}

// SyncAll syncs every tracked repository in turn. A rate-limited repository makes the
// pass wait out the retry delay before moving on; other failures are recorded and
// skipped.
func (s *Scheduler) SyncAll(ctx context.Context) (*Result, error) {
	repos, err := s.repos.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{Total: len(repos)}
	for i, repo := range repos {
		if i > 0 && s.cfg.RepoDelay > 0 {
			if err := s.sleep(ctx, s.cfg.RepoDelay); err != nil {
				return result, err
			}
		}

		r := RepoResult{Repo: repo.FullName()}
		progress, err := s.syncer.Sync(ctx, repo.Owner, repo.Name, s.cfg.MaxAgeDays, false)
		r.Progress = progress

		if rl, ok := gh.AsRateLimit(err); ok {
			r.RetryAfter = rl.RetryAfter
			r.Error = rl.Error()
			result.RateLimited++
			result.Results = append(result.Results, r)
			s.log.WithFields(logrus.Fields{"repo": r.Repo, "retry_after": rl.RetryAfter}).Warn("rate limited, waiting")
			if err := s.sleep(ctx, rl.RetryAfter); err != nil {
				return result, err
			}
			continue
		}
		if err != nil {
			r.Error = err.Error()
			result.Failed++
			s.log.WithError(err).WithField("repo", r.Repo).Error("sync failed")
		} else {
			result.Synced++
		}
		result.Results = append(result.Results, r)
	}
	return result, nil
}

// SyncOnce syncs a single repository with the configured lookback.
func (s *Scheduler) SyncOnce(ctx context.Context, owner, name string) (*syncer.Progress, error) {
	return s.syncer.Sync(ctx, owner, name, s.cfg.MaxAgeDays, false)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
