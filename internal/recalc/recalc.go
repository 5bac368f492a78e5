// Package recalc rebuilds every user's XP from the persisted review history.
package recalc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/joescharf/royale/internal/achievements"
	"github.com/joescharf/royale/internal/models"
	"github.com/joescharf/royale/internal/scoring"
	"github.com/joescharf/royale/internal/store"
)

// Stats summarizes a recalculation.
type Stats struct {
	TotalReviews   int   `json:"total_reviews"`
	TotalSessions  int   `json:"total_sessions"`
	TotalXPAwarded int64 `json:"total_xp_awarded"`
	UsersUpdated   int   `json:"users_updated"`
	FailedGroups   int   `json:"failed_groups"`
}

// Job rescores all stored reviews with the current scoring rules.
type Job struct {
	mu           sync.Locker
	store        store.Store
	scorer       *scoring.Scorer
	achievements *achievements.Checker
	log          logrus.FieldLogger
}

// New creates a Job.
func New(s store.Store, scorer *scoring.Scorer, log logrus.FieldLogger) *Job {
	return &Job{mu: &sync.Mutex{}, store: s, scorer: scorer, achievements: achievements.NewChecker(s), log: log}
}

// WithWriteLock makes Run hold l for its whole reset and rescore, so no sync
// sharing l can credit XP in between.
func (j *Job) WithWriteLock(l sync.Locker) *Job {
	j.mu = l
	return j
}

type groupKey struct {
	prID, reviewerID string
}

// Run zeroes all scores and rescores every (pull request, reviewer) group. Each group
// is applied in its own transaction; a group that fails is logged, counted in
// FailedGroups and left at zero. Running it twice on unchanged data gives the same
// result.
func (j *Job) Run(ctx context.Context) (*Stats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.log.WithField("formula", scoring.FormulaVersion).Info("recalculation started")

	if err := j.store.ResetScores(ctx); err != nil {
		return nil, err
	}
	reviews, err := j.store.ListAllReviews(ctx)
	if err != nil {
		return nil, err
	}
	commits, err := j.store.ListAllCommits(ctx)
	if err != nil {
		return nil, err
	}

	commitsByPR := make(map[string][]*models.Commit)
	for _, c := range commits {
		commitsByPR[c.PRID] = append(commitsByPR[c.PRID], c)
	}

	groups := make(map[groupKey][]*models.Review)
	var keys []groupKey
	for _, r := range reviews {
		k := groupKey{r.PRID, r.ReviewerID}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].prID != keys[b].prID {
			return keys[a].prID < keys[b].prID
		}
		return keys[a].reviewerID < keys[b].reviewerID
	})
	j.log.WithFields(logrus.Fields{"reviews": len(reviews), "groups": len(keys)}).Debug("grouped reviews")

	stats := &Stats{TotalReviews: len(reviews)}
	updated := make(map[string]bool)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		g, awarded, err := j.applyGroup(ctx, k, groups[k], commitsByPR[k.prID])
		if err != nil {
			stats.FailedGroups++
			j.log.WithError(err).WithFields(logrus.Fields{"pr_id": k.prID, "reviewer_id": k.reviewerID}).Warn("group rescore failed")
			continue
		}
		stats.TotalSessions += len(g.Sessions)
		stats.TotalXPAwarded += awarded
		if awarded > 0 {
			updated[k.reviewerID] = true
		}
	}
	stats.UsersUpdated = len(updated)

	userIDs := make([]string, 0, len(updated))
	for id := range updated {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)
	for _, id := range userIDs {
		if _, err := j.achievements.CheckReviewer(ctx, id); err != nil {
			j.log.WithError(err).WithField("user_id", id).Warn("achievement check failed")
		}
	}

	j.log.WithFields(logrus.Fields{
		"sessions":      stats.TotalSessions,
		"xp":            stats.TotalXPAwarded,
		"users_updated": stats.UsersUpdated,
		"failed_groups": stats.FailedGroups,
	}).Info("recalculation complete")
	return stats, nil
}

func (j *Job) applyGroup(ctx context.Context, k groupKey, reviews []*models.Review, commits []*models.Commit) (*models.GroupScore, int64, error) {
	quality, err := j.store.GetQualityAggregate(ctx, k.prID, k.reviewerID)
	if err != nil {
		return nil, 0, err
	}
	g := j.scorer.ScoreGroup(k.prID, k.reviewerID, reviews, commits, quality)
	awarded, err := j.store.ApplyGroupScore(ctx, g)
	if err != nil {
		return nil, 0, fmt.Errorf("apply group score: %w", err)
	}
	return g, awarded, nil
}
