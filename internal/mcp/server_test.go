package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/royale/internal/api"
	"github.com/joescharf/royale/internal/gh"
	"github.com/joescharf/royale/internal/models"
	"github.com/joescharf/royale/internal/recalc"
	"github.com/joescharf/royale/internal/store"
	"github.com/joescharf/royale/internal/syncer"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeSyncer struct {
	owner, name string
	maxAgeDays  int
	force       bool
	calls       int
	err         error
}

func (f *fakeSyncer) Sync(_ context.Context, owner, name string, maxAgeDays int, force bool) (*syncer.Progress, error) {
	f.calls++
	f.owner, f.name, f.maxAgeDays, f.force = owner, name, maxAgeDays, force
	if f.err != nil {
		return nil, f.err
	}
	return &syncer.Progress{PRsProcessed: 2, XPAwarded: 40}, nil
}

type fakeRecalc struct {
	err error
}

func (f *fakeRecalc) Run(context.Context) (*recalc.Stats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &recalc.Stats{TotalReviews: 3, TotalSessions: 2, TotalXPAwarded: 55, UsersUpdated: 1}, nil
}

func newTestServer(t *testing.T) (*Server, store.Store, *fakeSyncer, *fakeRecalc) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	sy := &fakeSyncer{}
	rc := &fakeRecalc{}
	return NewServer(s, sy, rc, 90, "test"), s, sy, rc
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

// seedReviewer stores a reviewed pull request and credits bob with xp.
func seedReviewer(t *testing.T, s store.Store, xp int64) {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	repo := &models.Repository{GitHubID: 1, Owner: "acme", Name: "widgets"}
	require.NoError(t, s.UpsertRepository(ctx, repo))
	require.NoError(t, s.SetLastSyncedAt(ctx, repo.ID, at))
	author := &models.User{GitHubID: 10, Login: "alice"}
	_, err := s.UpsertUser(ctx, author)
	require.NoError(t, err)
	bob := &models.User{GitHubID: 20, Login: "bob"}
	_, err = s.UpsertUser(ctx, bob)
	require.NoError(t, err)

	pr := &models.PullRequest{RepoID: repo.ID, GitHubID: 300, Number: 1, Title: "Fix",
		AuthorID: author.ID, State: models.PRStateOpen, CreatedAt: at, UpdatedAt: at}
	require.NoError(t, s.UpsertPullRequest(ctx, pr))
	review := &models.Review{PRID: pr.ID, ReviewerID: bob.ID, GitHubID: 1,
		State: models.ReviewStateCommented, CommentsCount: 2, SubmittedAt: at.Add(time.Hour)}
	_, err = s.UpsertReview(ctx, review)
	require.NoError(t, err)
	_, err = s.ApplyGroupScore(ctx, &models.GroupScore{PRID: pr.ID, ReviewerID: bob.ID,
		Sessions: []models.SessionScore{{FirstReviewID: review.ID, ReviewCount: 1, Comments: 2, XP: xp}}})
	require.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNewServer(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	require.NotNil(t, srv.MCPServer())
}

func TestHandleLeaderboard(t *testing.T) {
	srv, s, _, _ := newTestServer(t)
	seedReviewer(t, s, 20)

	result, err := srv.handleLeaderboard(context.Background(), callToolReq("royale_leaderboard", map[string]any{"limit": 5}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var entries []api.LeaderboardEntry
	resultJSON(t, result, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "bob", entries[0].Login)
	assert.Equal(t, int64(20), entries[0].XP)
	assert.Equal(t, int64(20), entries[0].Score)
	assert.Equal(t, 2, entries[0].CommentsWritten)
	assert.Equal(t, 1, entries[0].Level)
}

func TestHandleLeaderboard_PeriodAndRepo(t *testing.T) {
	srv, s, _, _ := newTestServer(t)
	seedReviewer(t, s, 20)
	srv.now = func() time.Time { return time.Date(2026, 3, 30, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	count := func(args map[string]any) int {
		t.Helper()
		result, err := srv.handleLeaderboard(ctx, callToolReq("royale_leaderboard", args))
		require.NoError(t, err)
		require.False(t, result.IsError, resultText(t, result))
		var entries []api.LeaderboardEntry
		resultJSON(t, result, &entries)
		return len(entries)
	}
	assert.Equal(t, 0, count(map[string]any{"period": "week"}))
	assert.Equal(t, 1, count(map[string]any{"period": "month"}))
	assert.Equal(t, 1, count(map[string]any{"period": "all", "repo": "acme/widgets"}))

	for _, args := range []map[string]any{{"period": "decade"}, {"repo": "acme/missing"}, {"repo": "widgets"}} {
		result, err := srv.handleLeaderboard(ctx, callToolReq("royale_leaderboard", args))
		require.NoError(t, err)
		assert.True(t, result.IsError, args)
	}
}

func TestHandleLeaderboard_BadLimit(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	result, err := srv.handleLeaderboard(context.Background(), callToolReq("royale_leaderboard", map[string]any{"limit": -1}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleUserStats(t *testing.T) {
	srv, s, _, _ := newTestServer(t)
	seedReviewer(t, s, 20)

	result, err := srv.handleUserStats(context.Background(), callToolReq("royale_user_stats", map[string]any{"login": "@bob"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var stats api.UserStats
	resultJSON(t, result, &stats)
	assert.Equal(t, "bob", stats.Login)
	assert.Equal(t, 1, stats.ReviewSessions)
	assert.NotEmpty(t, stats.Achievements)
}

func TestHandleUserStats_Missing(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	result, err := srv.handleUserStats(context.Background(), callToolReq("royale_user_stats", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleUserStats(context.Background(), callToolReq("royale_user_stats", map[string]any{"login": "ghost"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")
}

func TestHandleListRepos(t *testing.T) {
	srv, s, _, _ := newTestServer(t)
	seedReviewer(t, s, 20)

	result, err := srv.handleListRepos(context.Background(), callToolReq("royale_list_repos", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"repo":"acme/widgets","last_synced_at":"2026-03-02T10:00:00Z"}]`, resultText(t, result))
}

func TestHandleSyncRepo(t *testing.T) {
	srv, _, sy, _ := newTestServer(t)

	result, err := srv.handleSyncRepo(context.Background(), callToolReq("royale_sync_repo", map[string]any{
		"repo": "acme/widgets", "force": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	assert.Equal(t, 1, sy.calls)
	assert.Equal(t, "acme", sy.owner)
	assert.Equal(t, "widgets", sy.name)
	assert.Equal(t, 90, sy.maxAgeDays)
	assert.True(t, sy.force)

	var p syncer.Progress
	resultJSON(t, result, &p)
	assert.Equal(t, int64(40), p.XPAwarded)
}

func TestHandleSyncRepo_MaxAgeDays(t *testing.T) {
	srv, _, sy, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleSyncRepo(ctx, callToolReq("royale_sync_repo", map[string]any{"repo": "acme/widgets", "max_age_days": 0}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Equal(t, 0, sy.maxAgeDays)

	result, err = srv.handleSyncRepo(ctx, callToolReq("royale_sync_repo", map[string]any{"repo": "acme/widgets", "max_age_days": -5}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, 1, sy.calls)
}

func TestHandleSyncRepo_BadRepo(t *testing.T) {
	srv, _, sy, _ := newTestServer(t)

	for _, repo := range []string{"widgets", "/widgets", "acme/"} {
		result, err := srv.handleSyncRepo(context.Background(), callToolReq("royale_sync_repo", map[string]any{"repo": repo}))
		require.NoError(t, err)
		assert.True(t, result.IsError, repo)
	}
	assert.Zero(t, sy.calls)
}

func TestHandleSyncRepo_RateLimited(t *testing.T) {
	srv, _, sy, _ := newTestServer(t)
	sy.err = &gh.RateLimitError{RetryAfter: 2 * time.Minute, Err: errors.New("403")}

	result, err := srv.handleSyncRepo(context.Background(), callToolReq("royale_sync_repo", map[string]any{"repo": "acme/widgets"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "retry in 2m0s")
}

func TestHandleRecalculate(t *testing.T) {
	srv, _, _, rc := newTestServer(t)

	result, err := srv.handleRecalculate(context.Background(), callToolReq("royale_recalculate", nil))
	require.NoError(t, err)
	var stats recalc.Stats
	resultJSON(t, result, &stats)
	assert.Equal(t, int64(55), stats.TotalXPAwarded)

	rc.err = errors.New("boom")
	result, err = srv.handleRecalculate(context.Background(), callToolReq("royale_recalculate", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
