// Package syncer pulls pull request review activity for one repository from GitHub,
// persists it, and awards session XP as it goes.
package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joescharf/royale/internal/achievements"
	"github.com/joescharf/royale/internal/gh"
	"github.com/joescharf/royale/internal/models"
	"github.com/joescharf/royale/internal/scoring"
	"github.com/joescharf/royale/internal/store"
)

// DefaultMaxAgeDays bounds how far back a first sync looks.
const DefaultMaxAgeDays = 365

// Progress counts what one sync run did.
type Progress struct {
	PRsProcessed      int   `json:"prs_processed"`
	PRsFailed         int   `json:"prs_failed"`
	ReviewsProcessed  int   `json:"reviews_processed"`
	UsersCreated      int   `json:"users_created"`
	CommentsProcessed int   `json:"comments_processed"`
	CommitsProcessed  int   `json:"commits_processed"`
	XPAwarded         int64 `json:"xp_awarded"`
	Unlocked          int   `json:"achievements_unlocked"`
}

// Orchestrator syncs repositories, one run at a time.
type Orchestrator struct {
	mu sync.Locker

	store        store.Store
	gh           gh.Client
	scorer       *scoring.Scorer
	achievements *achievements.Checker
	log          logrus.FieldLogger
	now          func() time.Time
}

// New creates an Orchestrator.
func New(s store.Store, client gh.Client, scorer *scoring.Scorer, log logrus.FieldLogger) *Orchestrator {
	return &Orchestrator{
		mu:           &sync.Mutex{},
		store:        s,
		gh:           client,
		scorer:       scorer,
		achievements: achievements.NewChecker(s),
		log:          log,
		now:          time.Now,
	}
}

// WithWriteLock makes every Sync hold l, so syncs serialize with other score
// writers such as the recalculation job.
func (o *Orchestrator) WithWriteLock(l sync.Locker) *Orchestrator {
	o.mu = l
	return o
}

// Cutoff returns the oldest update time a sync still fetches: the later of the cursor
// and now minus maxAgeDays. maxAgeDays <= 0 disables the age bound.
func Cutoff(now time.Time, cursor *time.Time, maxAgeDays int) time.Time {
	var cutoff time.Time
	if maxAgeDays > 0 {
		cutoff = now.AddDate(0, 0, -maxAgeDays)
	}
	if cursor != nil && cursor.After(cutoff) {
		cutoff = *cursor
	}
	return cutoff
}

// Sync fetches pull requests of owner/name updated since the repository's cursor (or
// within maxAgeDays when force is set or on the first run), persists their reviews,
// comments and commits, and awards XP.
//
// A rate limit while processing pull requests stops the run, still advances the cursor,
// and returns the *gh.RateLimitError together with the progress so far. A rate limit
// while listing pull requests leaves the cursor where it was.
func (o *Orchestrator) Sync(ctx context.Context, owner, name string, maxAgeDays int, force bool) (*Progress, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	syncStart := o.now().UTC()
	log := o.log.WithField("repo", owner+"/"+name)

	remote, err := o.gh.GetRepository(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("resolve repository: %w", err)
	}
	repo := &models.Repository{GitHubID: remote.ID, Owner: remote.Owner, Name: remote.Name}
	if repo.Owner == "" || repo.Name == "" {
		repo.Owner, repo.Name = owner, name
	}
	if err := o.store.UpsertRepository(ctx, repo); err != nil {
		return nil, err
	}

	cursor := repo.LastSyncedAt
	if force {
		cursor = nil
	}
	cutoff := Cutoff(syncStart, cursor, maxAgeDays)
	log.WithFields(logrus.Fields{"cutoff": cutoff, "force": force}).Info("sync started")

	prs, err := o.fetchPullRequests(ctx, owner, name, cutoff)
	if err != nil {
		return nil, err
	}
	log.WithField("pull_requests", len(prs)).Debug("fetched pull requests")

	progress := &Progress{}
	for _, pr := range prs {
		if err := ctx.Err(); err != nil {
			return progress, err
		}

		err := o.processPullRequest(ctx, repo, pr, progress)
		if rl, ok := gh.AsRateLimit(err); ok {
			log.WithField("retry_after", rl.RetryAfter).Warn("rate limited, stopping sync")
			if err := o.store.SetLastSyncedAt(ctx, repo.ID, syncStart); err != nil {
				return progress, err
			}
			return progress, rl
		}
		if err != nil {
			progress.PRsFailed++
			log.WithError(err).WithField("pr", pr.Number).Warn("pull request failed")
			continue
		}

		progress.PRsProcessed++
		if progress.PRsProcessed%10 == 0 {
			log.WithFields(logrus.Fields{
				"processed": progress.PRsProcessed,
				"total":     len(prs),
				"reviews":   progress.ReviewsProcessed,
			}).Info("sync progress")
		}
	}

	if err := o.store.SetLastSyncedAt(ctx, repo.ID, syncStart); err != nil {
		return progress, err
	}

	log.WithFields(logrus.Fields{
		"prs":       progress.PRsProcessed,
		"failed":    progress.PRsFailed,
		"reviews":   progress.ReviewsProcessed,
		"new_users": progress.UsersCreated,
		"xp":        progress.XPAwarded,
	}).Info("sync complete")
	return progress, nil
}

// fetchPullRequests pages through pull requests, newest update first, until a page is
// short or empty, a pull request older than cutoff shows up, or gh.MaxPages is reached.
func (o *Orchestrator) fetchPullRequests(ctx context.Context, owner, name string, cutoff time.Time) ([]*gh.PullRequest, error) {
	var out []*gh.PullRequest
	for page := 1; page <= gh.MaxPages; page++ {
		batch, err := o.gh.ListPullRequests(ctx, owner, name, page, gh.PerPage)
		if err != nil {
			return nil, fmt.Errorf("list pull requests page %d: %w", page, err)
		}
		for _, pr := range batch {
			if pr.UpdatedAt.Before(cutoff) {
				return out, nil
			}
			out = append(out, pr)
		}
		if len(batch) < gh.PerPage {
			return out, nil
		}
	}
	o.log.WithField("pages", gh.MaxPages).Warn("hit pagination limit")
	return out, nil
}

// prRun caches the users seen while processing one pull request.
type prRun struct {
	o        *Orchestrator
	progress *Progress
	users    map[int64]*models.User
}

func (r *prRun) user(ctx context.Context, u *gh.User) (*models.User, error) {
	if cached, ok := r.users[u.ID]; ok {
		return cached, nil
	}
	user := &models.User{GitHubID: u.ID, Login: u.Login, AvatarURL: u.AvatarURL}
	created, err := r.o.store.UpsertUser(ctx, user)
	if err != nil {
		return nil, err
	}
	if created {
		r.progress.UsersCreated++
	}
	r.users[u.ID] = user
	return user, nil
}

func (o *Orchestrator) processPullRequest(ctx context.Context, repo *models.Repository, pr *gh.PullRequest, progress *Progress) error {
	if pr.User == nil || pr.User.ID == 0 {
		return fmt.Errorf("pull request #%d has no author", pr.Number)
	}
	run := &prRun{o: o, progress: progress, users: make(map[int64]*models.User)}

	author, err := run.user(ctx, pr.User)
	if err != nil {
		return err
	}
	dbPR := &models.PullRequest{
		RepoID:    repo.ID,
		GitHubID:  pr.ID,
		Number:    pr.Number,
		Title:     pr.Title,
		AuthorID:  author.ID,
		State:     models.StateFor(pr.State, pr.MergedAt),
		CreatedAt: pr.CreatedAt,
		UpdatedAt: pr.UpdatedAt,
		MergedAt:  pr.MergedAt,
		ClosedAt:  pr.ClosedAt,
	}
	if err := o.store.UpsertPullRequest(ctx, dbPR); err != nil {
		return err
	}

	reviews, err := o.gh.ListReviews(ctx, repo.Owner, repo.Name, pr.Number)
	if err != nil {
		return err
	}
	comments, err := o.gh.ListReviewComments(ctx, repo.Owner, repo.Name, pr.Number)
	if err != nil {
		return err
	}
	commits, err := o.gh.ListCommits(ctx, repo.Owner, repo.Name, pr.Number)
	if err != nil {
		return err
	}

	commentCounts := make(map[int64]int)
	for _, c := range comments {
		if c.ReviewID != 0 {
			commentCounts[c.ReviewID]++
		}
	}

	var firstReview *time.Time
	for _, rv := range reviews {
		if rv.User.IsGhost() || rv.SubmittedAt == nil {
			continue
		}
		reviewer, err := run.user(ctx, rv.User)
		if err != nil {
			return err
		}
		inserted, err := o.store.UpsertReview(ctx, &models.Review{
			PRID:          dbPR.ID,
			ReviewerID:    reviewer.ID,
			GitHubID:      rv.ID,
			State:         models.ParseReviewState(rv.State),
			Body:          rv.Body,
			CommentsCount: commentCounts[rv.ID],
			SubmittedAt:   *rv.SubmittedAt,
		})
		if err != nil {
			return err
		}
		if inserted {
			progress.ReviewsProcessed++
		}
		if firstReview == nil || rv.SubmittedAt.Before(*firstReview) {
			firstReview = rv.SubmittedAt
		}
	}

	for _, c := range comments {
		if c.User.IsGhost() {
			continue
		}
		commenter, err := run.user(ctx, c.User)
		if err != nil {
			return err
		}
		if _, err := o.store.UpsertReviewComment(ctx, &models.ReviewComment{
			PRID:           dbPR.ID,
			UserID:         commenter.ID,
			GitHubID:       c.ID,
			ReviewGitHubID: c.ReviewID,
			Body:           c.Body,
			CreatedAt:      c.CreatedAt,
		}); err != nil {
			return err
		}
		progress.CommentsProcessed++
	}

	for _, c := range commits {
		commit := &models.Commit{PRID: dbPR.ID, SHA: c.SHA, CommittedAt: c.CommittedAt, Message: c.Message}
		if !c.Author.IsGhost() {
			a, err := run.user(ctx, c.Author)
			if err != nil {
				return err
			}
			commit.AuthorID = a.ID
		}
		if _, err := o.store.UpsertCommit(ctx, commit); err != nil {
			return err
		}
		progress.CommitsProcessed++
	}

	if err := o.store.UpdatePullRequestTimestamps(ctx, dbPR.ID, pr.MergedAt, pr.ClosedAt); err != nil {
		return err
	}
	if firstReview != nil {
		if err := o.store.SetFirstReviewAt(ctx, dbPR.ID, *firstReview); err != nil {
			return err
		}
	}

	reviewerIDs, err := o.scorePullRequest(ctx, dbPR.ID, progress)
	if err != nil {
		return err
	}

	o.checkAchievements(ctx, reviewerIDs, author.ID, progress)
	return nil
}

// scorePullRequest rescores every reviewer of a pull request from the stored reviews and
// commits. Returns the reviewer IDs in a stable order.
func (o *Orchestrator) scorePullRequest(ctx context.Context, prID string, progress *Progress) ([]string, error) {
	stored, err := o.store.ListReviewsForPullRequest(ctx, prID)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, nil
	}
	commits, err := o.store.ListCommitsForPullRequest(ctx, prID)
	if err != nil {
		return nil, err
	}

	byReviewer := make(map[string][]*models.Review)
	for _, r := range stored {
		byReviewer[r.ReviewerID] = append(byReviewer[r.ReviewerID], r)
	}
	reviewerIDs := make([]string, 0, len(byReviewer))
	for id := range byReviewer {
		reviewerIDs = append(reviewerIDs, id)
	}
	sort.Strings(reviewerIDs)

	for _, id := range reviewerIDs {
		quality, err := o.store.GetQualityAggregate(ctx, prID, id)
		if err != nil {
			return nil, err
		}
		g := o.scorer.ScoreGroup(prID, id, byReviewer[id], commits, quality)
		awarded, err := o.store.ApplyGroupScore(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("apply score for reviewer %s: %w", id, err)
		}
		progress.XPAwarded += awarded
	}
	return reviewerIDs, nil
}

// checkAchievements runs after XP is applied. Failures are logged, not returned.
func (o *Orchestrator) checkAchievements(ctx context.Context, reviewerIDs []string, authorID string, progress *Progress) {
	report := func(userID string, kinds []achievements.Kind, err error) {
		if err != nil {
			o.log.WithError(err).WithField("user_id", userID).Warn("achievement check failed")
			return
		}
		for _, k := range kinds {
			progress.Unlocked++
			o.log.WithFields(logrus.Fields{"user_id": userID, "achievement": k.ID()}).Info("achievement unlocked")
		}
	}
	for _, id := range reviewerIDs {
		kinds, err := o.achievements.CheckReviewer(ctx, id)
		report(id, kinds, err)
	}
	kinds, err := o.achievements.CheckAuthor(ctx, authorID)
	report(authorID, kinds, err)
}
