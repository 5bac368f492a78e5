package recalc

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/royale/internal/logging"
	"github.com/joescharf/royale/internal/models"
	"github.com/joescharf/royale/internal/scoring"
	"github.com/joescharf/royale/internal/store"
)

var base = time.Date(2026, 2, 9, 6, 0, 0, 0, time.UTC)

type fixture struct {
	store *store.SQLiteStore
	pr    *models.PullRequest
	bob   *models.User
	carol *models.User
}

// newFixture stores one pull request reviewed by bob in two sessions (35 + 15 XP)
// and by carol with a drive-by approval (0 XP).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })

	repo := &models.Repository{GitHubID: 1, Owner: "acme", Name: "widgets"}
	require.NoError(t, s.UpsertRepository(ctx, repo))

	user := func(id int64, login string) *models.User {
		u := &models.User{GitHubID: id, Login: login}
		_, err := s.UpsertUser(ctx, u)
		require.NoError(t, err)
		return u
	}
	alice, bob, carol := user(100, "alice"), user(200, "bob"), user(300, "carol")

	pr := &models.PullRequest{
		RepoID: repo.ID, GitHubID: 5000, Number: 7, Title: "Add widgets",
		AuthorID: alice.ID, State: models.PRStateOpen, CreatedAt: base.Add(-time.Hour), UpdatedAt: base,
	}
	require.NoError(t, s.UpsertPullRequest(ctx, pr))

	_, err = s.UpsertCommit(ctx, &models.Commit{PRID: pr.ID, SHA: "abc", CommittedAt: base.Add(-20 * time.Minute)})
	require.NoError(t, err)

	review := func(ghID int64, u *models.User, state models.ReviewState, at time.Time, comments int) {
		_, err := s.UpsertReview(ctx, &models.Review{
			PRID: pr.ID, ReviewerID: u.ID, GitHubID: ghID, State: state, CommentsCount: comments, SubmittedAt: at,
		})
		require.NoError(t, err)
	}
	review(1, bob, models.ReviewStateCommented, base, 3)
	review(2, bob, models.ReviewStateApproved, base.Add(10*time.Minute), 0)
	review(3, bob, models.ReviewStateCommented, base.Add(48*time.Hour), 1)
	review(4, carol, models.ReviewStateApproved, base.Add(time.Hour), 0)

	return &fixture{store: s, pr: pr, bob: bob, carol: carol}
}

func newJob(s store.Store) *Job {
	return New(s, scoring.NewScorer(scoring.DefaultRules()), logging.Discard())
}

func (f *fixture) user(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestRun(t *testing.T) {
	f := newFixture(t)

	stats, err := newJob(f.store).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Stats{
		TotalReviews:   4,
		TotalSessions:  3,
		TotalXPAwarded: 50,
		UsersUpdated:   1,
	}, stats)

	bob := f.user(t, f.bob.ID)
	assert.Equal(t, int64(50), bob.XP)
	assert.Equal(t, 1, bob.Level)
	assert.Equal(t, 2, bob.ReviewSessions)

	carol := f.user(t, f.carol.ID)
	assert.Equal(t, int64(0), carol.XP)
	assert.Equal(t, 1, carol.ReviewSessions)

	reviews, err := f.store.ListReviewsForPullRequest(context.Background(), f.pr.ID)
	require.NoError(t, err)
	xpByGitHubID := make(map[int64]int64)
	for _, r := range reviews {
		xpByGitHubID[r.GitHubID] = r.XPEarned
	}
	assert.Equal(t, map[int64]int64{1: 35, 2: 0, 3: 15, 4: 0}, xpByGitHubID)

	achieved, err := f.store.ListAchievements(context.Background(), f.bob.ID)
	require.NoError(t, err)
	require.Len(t, achieved, 1)
	assert.Equal(t, "first_review", achieved[0].AchievementID)
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t)
	job := newJob(f.store)
	ctx := context.Background()

	first, err := job.Run(ctx)
	require.NoError(t, err)
	bobAfterFirst := f.user(t, f.bob.ID)

	second, err := job.Run(ctx)
	require.NoError(t, err)
	bobAfterSecond := f.user(t, f.bob.ID)

	assert.Equal(t, first, second)
	assert.Equal(t, bobAfterFirst.XP, bobAfterSecond.XP)
	assert.Equal(t, bobAfterFirst.Level, bobAfterSecond.Level)
	assert.Equal(t, bobAfterFirst.ReviewSessions, bobAfterSecond.ReviewSessions)
}

func TestRun_ReplacesInflatedScores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reviews, err := f.store.ListReviewsForPullRequest(ctx, f.pr.ID)
	require.NoError(t, err)
	var first string
	for _, r := range reviews {
		if r.GitHubID == 1 {
			first = r.ID
		}
	}
	_, err = f.store.ApplyGroupScore(ctx, &models.GroupScore{
		PRID: f.pr.ID, ReviewerID: f.bob.ID,
		Sessions: []models.SessionScore{{FirstReviewID: first, XP: 999}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(999), f.user(t, f.bob.ID).XP)

	_, err = newJob(f.store).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), f.user(t, f.bob.ID).XP)
}

func TestRun_UsesQualityData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := &models.ReviewComment{PRID: f.pr.ID, UserID: f.bob.ID, GitHubID: 900, ReviewGitHubID: 1, Body: "this drops errors", CreatedAt: base}
	_, err := f.store.UpsertReviewComment(ctx, c)
	require.NoError(t, err)
	require.NoError(t, f.store.SetCommentQuality(ctx, c.ID, models.CategoryLogic, 9))

	stats, err := newJob(f.store).Run(ctx)
	require.NoError(t, err)
	// one high logic comment: each session swaps 5 flat points for 8 + 3
	assert.Equal(t, int64(62), stats.TotalXPAwarded)
	assert.Equal(t, int64(62), f.user(t, f.bob.ID).XP)
}

func TestRun_Empty(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	stats, err := newJob(s).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Stats{}, stats)
}

func TestRun_WaitsForWriteLock(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	job := newJob(f.store).WithWriteLock(&mu)

	mu.Lock()
	done := make(chan error, 1)
	go func() {
		_, err := job.Run(context.Background())
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("Run finished while another writer held the lock")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int64(0), f.user(t, f.bob.ID).XP)

	mu.Unlock()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not finish after the lock was released")
	}
	assert.Equal(t, int64(50), f.user(t, f.bob.ID).XP)
}
