package store

import (
	"context"
	"errors"
	"time"

	"github.com/joescharf/royale/internal/models"
)

// ErrNotFound is returned (wrapped) when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// LeaderboardFilter scopes a leaderboard query.
type LeaderboardFilter struct {
	Since  time.Time // zero means all time
	RepoID string    // empty means every tracked repository
	Limit  int
}

// Store defines the persistence interface for royale.
type Store interface {
	// Repositories
	UpsertRepository(ctx context.Context, r *models.Repository) error
	GetRepositoryByName(ctx context.Context, owner, name string) (*models.Repository, error)
	ListRepositories(ctx context.Context) ([]*models.Repository, error)
	SetLastSyncedAt(ctx context.Context, repoID string, t time.Time) error

	// Users
	UpsertUser(ctx context.Context, u *models.User) (created bool, err error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	ListLeaderboard(ctx context.Context, f LeaderboardFilter) ([]*models.LeaderboardRow, error)

	// Pull requests
	UpsertPullRequest(ctx context.Context, pr *models.PullRequest) error
	UpdatePullRequestTimestamps(ctx context.Context, prID string, mergedAt, closedAt *time.Time) error
	SetFirstReviewAt(ctx context.Context, prID string, t time.Time) error

	// Reviews and commits
	UpsertReview(ctx context.Context, r *models.Review) (inserted bool, err error)
	ListReviewsForPullRequest(ctx context.Context, prID string) ([]*models.Review, error)
	ListAllReviews(ctx context.Context) ([]*models.Review, error)
	UpsertCommit(ctx context.Context, c *models.Commit) (inserted bool, err error)
	ListCommitsForPullRequest(ctx context.Context, prID string) ([]*models.Commit, error)
	ListAllCommits(ctx context.Context) ([]*models.Commit, error)

	// Review comments and quality
	UpsertReviewComment(ctx context.Context, c *models.ReviewComment) (inserted bool, err error)
	ListUncategorizedComments(ctx context.Context, limit int) ([]*models.ReviewComment, error)
	SetCommentQuality(ctx context.Context, commentID string, category models.CommentCategory, score int) error
	GetQualityAggregate(ctx context.Context, prID, userID string) (*models.QualityAggregate, error)

	// Scoring
	ApplyGroupScore(ctx context.Context, g *models.GroupScore) (awarded int64, err error)
	ResetScores(ctx context.Context) error

	// Achievements
	ReviewerActivity(ctx context.Context, userID string, fastWindow time.Duration) (*models.ReviewerActivity, error)
	AuthorActivity(ctx context.Context, userID string) (*models.AuthorActivity, error)
	UnlockAchievement(ctx context.Context, userID, achievementID string) (bool, error)
	ListAchievements(ctx context.Context, userID string) ([]*models.UnlockedAchievement, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
