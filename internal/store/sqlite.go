package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/royale/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite has a single writer; one connection serializes the scheduler,
	// API handlers and CLI through the pool instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p.what, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func newULID() string {
	return ulid.Make().String()
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func notFound(kind, key string) error {
	return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Repositories ---

const repositoryColumns = `id, github_id, owner, name, last_synced_at, created_at, updated_at`

func scanRepository(row rowScanner) (*models.Repository, error) {
	r := &models.Repository{}
	var lastSynced sql.NullTime
	if err := row.Scan(&r.ID, &r.GitHubID, &r.Owner, &r.Name, &lastSynced, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.LastSyncedAt = nullTimePtr(lastSynced)
	return r, nil
}

// UpsertRepository inserts the repository or refreshes owner/name for a known GitHub ID.
// On return r carries the stored ID and sync cursor.
func (s *SQLiteStore) UpsertRepository(ctx context.Context, r *models.Repository) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (id, github_id, owner, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(github_id) DO UPDATE SET owner = excluded.owner, name = excluded.name, updated_at = excluded.updated_at`,
		newULID(), r.GitHubID, r.Owner, r.Name, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert repository: %w", err)
	}

	stored, err := scanRepository(s.db.QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE github_id = ?`, r.GitHubID))
	if err != nil {
		return fmt.Errorf("reload repository: %w", err)
	}
	*r = *stored
	return nil
}

func (s *SQLiteStore) GetRepositoryByName(ctx context.Context, owner, name string) (*models.Repository, error) {
	r, err := scanRepository(s.db.QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE owner = ? COLLATE NOCASE AND name = ? COLLATE NOCASE`, owner, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("repository", owner+"/"+name)
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRepositories(ctx context.Context) ([]*models.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+repositoryColumns+` FROM repositories ORDER BY owner, name`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []*models.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// SetLastSyncedAt stores the sync cursor for a repository.
func (s *SQLiteStore) SetLastSyncedAt(ctx context.Context, repoID string, t time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET last_synced_at = ?, updated_at = ? WHERE id = ?`,
		t.UTC(), time.Now().UTC(), repoID)
	if err != nil {
		return fmt.Errorf("set last synced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("repository", repoID)
	}
	return nil
}

// --- Users ---

const userColumns = `id, github_id, login, avatar_url, xp, level, review_sessions, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.GitHubID, &u.Login, &u.AvatarURL, &u.XP, &u.Level, &u.ReviewSessions, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UpsertUser inserts a user or refreshes login/avatar for a known GitHub ID.
// Reports whether a new row was created. On return u carries the stored state.
func (s *SQLiteStore) UpsertUser(ctx context.Context, u *models.User) (bool, error) {
	now := time.Now().UTC()
	newID := newULID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, github_id, login, avatar_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(github_id) DO UPDATE SET login = excluded.login, avatar_url = excluded.avatar_url, updated_at = excluded.updated_at`,
		newID, u.GitHubID, u.Login, u.AvatarURL, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("upsert user: %w", err)
	}

	stored, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE github_id = ?`, u.GitHubID))
	if err != nil {
		return false, fmt.Errorf("reload user: %w", err)
	}
	*u = *stored
	return u.ID == newID, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE login = ? COLLATE NOCASE ORDER BY updated_at DESC LIMIT 1`, login))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", login)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by login: %w", err)
	}
	return u, nil
}

// ListLeaderboard ranks reviewers by the XP their reviews earned inside the
// filter window. Bot accounts and reviewers with no score are left out.
func (s *SQLiteStore) ListLeaderboard(ctx context.Context, f LeaderboardFilter) ([]*models.LeaderboardRow, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}

	var where []string
	var args []any
	if !f.Since.IsZero() {
		where = append(where, "r.submitted_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if f.RepoID != "" {
		where = append(where, "p.repo_id = ?")
		args = append(args, f.RepoID)
	}
	scope := ""
	if len(where) > 0 {
		scope = "WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)

	// A first review is the earliest review on its pull request inside the window.
	query := `WITH scoped AS (
			SELECT r.id, r.pr_id, r.reviewer_id, r.github_id, r.submitted_at, r.comments_count, r.xp_earned
			FROM reviews r JOIN pull_requests p ON p.id = r.pr_id
			` + scope + `
		)
		SELECT ` + prefixed("u", userColumns) + `,
			SUM(sc.xp_earned) AS score,
			COUNT(*) AS reviews_given,
			SUM(sc.comments_count),
			SUM(CASE WHEN NOT EXISTS (
				SELECT 1 FROM scoped e WHERE e.pr_id = sc.pr_id
					AND (e.submitted_at < sc.submitted_at OR (e.submitted_at = sc.submitted_at AND e.github_id < sc.github_id))
			) THEN 1 ELSE 0 END)
		FROM scoped sc JOIN users u ON u.id = sc.reviewer_id
		WHERE u.login NOT LIKE '%[bot]'
		GROUP BY u.id
		HAVING score > 0
		ORDER BY score DESC, reviews_given DESC, u.login ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var board []*models.LeaderboardRow
	for rows.Next() {
		u := &models.User{}
		row := &models.LeaderboardRow{User: u}
		err := rows.Scan(&u.ID, &u.GitHubID, &u.Login, &u.AvatarURL, &u.XP, &u.Level, &u.ReviewSessions, &u.CreatedAt, &u.UpdatedAt,
			&row.Score, &row.ReviewsGiven, &row.CommentsWritten, &row.FirstReviews)
		if err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		board = append(board, row)
	}
	return board, rows.Err()
}

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(alias, columns string) string {
	cols := strings.Split(columns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// --- Pull requests ---

// UpsertPullRequest inserts or refreshes a pull request keyed by GitHub ID.
// first_review_at is never touched here; merge/close times are only ever filled in.
func (s *SQLiteStore) UpsertPullRequest(ctx context.Context, pr *models.PullRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pull_requests (id, repo_id, github_id, number, title, author_id, state, created_at, updated_at, merged_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(github_id) DO UPDATE SET
			title = excluded.title,
			author_id = excluded.author_id,
			state = CASE
				WHEN COALESCE(excluded.merged_at, pull_requests.merged_at) IS NOT NULL THEN 'merged'
				ELSE excluded.state
			END,
			updated_at = excluded.updated_at,
			merged_at = COALESCE(excluded.merged_at, pull_requests.merged_at),
			closed_at = COALESCE(excluded.closed_at, pull_requests.closed_at)`,
		newULID(), pr.RepoID, pr.GitHubID, pr.Number, pr.Title, pr.AuthorID, string(pr.State),
		pr.CreatedAt.UTC(), pr.UpdatedAt.UTC(), utcPtr(pr.MergedAt), utcPtr(pr.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert pull request: %w", err)
	}

	var firstReview, merged, closed sql.NullTime
	var state string
	err = s.db.QueryRowContext(ctx,
		`SELECT id, state, first_review_at, merged_at, closed_at FROM pull_requests WHERE github_id = ?`, pr.GitHubID,
	).Scan(&pr.ID, &state, &firstReview, &merged, &closed)
	if err != nil {
		return fmt.Errorf("reload pull request: %w", err)
	}
	pr.State = models.PRState(state)
	pr.FirstReviewAt = nullTimePtr(firstReview)
	pr.MergedAt = nullTimePtr(merged)
	pr.ClosedAt = nullTimePtr(closed)
	return nil
}

// UpdatePullRequestTimestamps fills in merge/close times and moves state accordingly.
func (s *SQLiteStore) UpdatePullRequestTimestamps(ctx context.Context, prID string, mergedAt, closedAt *time.Time) error {
	if mergedAt == nil && closedAt == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE pull_requests
		SET merged_at = COALESCE(?1, merged_at),
			closed_at = COALESCE(?2, closed_at),
			state = CASE
				WHEN ?1 IS NOT NULL THEN 'merged'
				WHEN ?2 IS NOT NULL THEN 'closed'
				ELSE state
			END
		WHERE id = ?3`,
		utcPtr(mergedAt), utcPtr(closedAt), prID)
	if err != nil {
		return fmt.Errorf("update pull request timestamps: %w", err)
	}
	return nil
}

// SetFirstReviewAt records the first review time. An existing value is kept.
func (s *SQLiteStore) SetFirstReviewAt(ctx context.Context, prID string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pull_requests SET first_review_at = COALESCE(first_review_at, ?) WHERE id = ?`, t.UTC(), prID)
	if err != nil {
		return fmt.Errorf("set first review: %w", err)
	}
	return nil
}

// --- Reviews ---

const reviewColumns = `id, pr_id, reviewer_id, github_id, state, body, comments_count, submitted_at, xp_earned, session_head`

func scanReview(row rowScanner) (*models.Review, error) {
	r := &models.Review{}
	var state string
	err := row.Scan(&r.ID, &r.PRID, &r.ReviewerID, &r.GitHubID, &state, &r.Body, &r.CommentsCount, &r.SubmittedAt, &r.XPEarned, &r.SessionHead)
	if err != nil {
		return nil, err
	}
	r.State = models.ReviewState(state)
	r.SubmittedAt = r.SubmittedAt.UTC()
	return r, nil
}

// UpsertReview inserts a review keyed by GitHub ID, or refreshes state/body/comment count.
// Reports whether the review was new. Scoring columns are never touched.
func (s *SQLiteStore) UpsertReview(ctx context.Context, r *models.Review) (bool, error) {
	newID := newULID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reviews (id, pr_id, reviewer_id, github_id, state, body, comments_count, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(github_id) DO UPDATE SET
			state = excluded.state,
			body = excluded.body,
			comments_count = excluded.comments_count`,
		newID, r.PRID, r.ReviewerID, r.GitHubID, string(r.State), r.Body, r.CommentsCount, r.SubmittedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("upsert review: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT id FROM reviews WHERE github_id = ?`, r.GitHubID).Scan(&r.ID); err != nil {
		return false, fmt.Errorf("reload review: %w", err)
	}
	return r.ID == newID, nil
}

func (s *SQLiteStore) queryReviews(ctx context.Context, query string, args ...any) ([]*models.Review, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var reviews []*models.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

func (s *SQLiteStore) ListReviewsForPullRequest(ctx context.Context, prID string) ([]*models.Review, error) {
	reviews, err := s.queryReviews(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE pr_id = ? ORDER BY submitted_at, github_id`, prID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return reviews, nil
}

func (s *SQLiteStore) ListAllReviews(ctx context.Context) ([]*models.Review, error) {
	reviews, err := s.queryReviews(ctx,
		`SELECT `+reviewColumns+` FROM reviews ORDER BY pr_id, reviewer_id, submitted_at, github_id`)
	if err != nil {
		return nil, fmt.Errorf("list all reviews: %w", err)
	}
	return reviews, nil
}

// --- Commits ---

// UpsertCommit stores a commit keyed by (pull request, sha). Reports whether it was new.
func (s *SQLiteStore) UpsertCommit(ctx context.Context, c *models.Commit) (bool, error) {
	newID := newULID()
	var authorID any
	if c.AuthorID != "" {
		authorID = c.AuthorID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO commits (id, pr_id, sha, author_id, committed_at, message)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pr_id, sha) DO UPDATE SET
			author_id = COALESCE(excluded.author_id, commits.author_id),
			committed_at = excluded.committed_at,
			message = excluded.message`,
		newID, c.PRID, c.SHA, authorID, c.CommittedAt.UTC(), c.Message,
	)
	if err != nil {
		return false, fmt.Errorf("upsert commit: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT id FROM commits WHERE pr_id = ? AND sha = ?`, c.PRID, c.SHA).Scan(&c.ID); err != nil {
		return false, fmt.Errorf("reload commit: %w", err)
	}
	return c.ID == newID, nil
}

func (s *SQLiteStore) queryCommits(ctx context.Context, query string, args ...any) ([]*models.Commit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var commits []*models.Commit
	for rows.Next() {
		c := &models.Commit{}
		var authorID sql.NullString
		if err := rows.Scan(&c.ID, &c.PRID, &c.SHA, &authorID, &c.CommittedAt, &c.Message); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		c.AuthorID = authorID.String
		c.CommittedAt = c.CommittedAt.UTC()
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

func (s *SQLiteStore) ListCommitsForPullRequest(ctx context.Context, prID string) ([]*models.Commit, error) {
	commits, err := s.queryCommits(ctx,
		`SELECT id, pr_id, sha, author_id, committed_at, message FROM commits WHERE pr_id = ? ORDER BY committed_at`, prID)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	return commits, nil
}

func (s *SQLiteStore) ListAllCommits(ctx context.Context) ([]*models.Commit, error) {
	commits, err := s.queryCommits(ctx,
		`SELECT id, pr_id, sha, author_id, committed_at, message FROM commits ORDER BY pr_id, committed_at`)
	if err != nil {
		return nil, fmt.Errorf("list all commits: %w", err)
	}
	return commits, nil
}

// --- Review comments ---

// UpsertReviewComment stores an inline review comment keyed by GitHub ID.
// An edited body clears any earlier classification so it is re-categorized.
func (s *SQLiteStore) UpsertReviewComment(ctx context.Context, c *models.ReviewComment) (bool, error) {
	newID := newULID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_comments (id, pr_id, user_id, github_id, review_github_id, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(github_id) DO UPDATE SET
			category = CASE WHEN review_comments.body = excluded.body THEN review_comments.category ELSE NULL END,
			quality_score = CASE WHEN review_comments.body = excluded.body THEN review_comments.quality_score ELSE NULL END,
			body = excluded.body`,
		newID, c.PRID, c.UserID, c.GitHubID, c.ReviewGitHubID, c.Body, c.CreatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("upsert review comment: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT id FROM review_comments WHERE github_id = ?`, c.GitHubID).Scan(&c.ID); err != nil {
		return false, fmt.Errorf("reload review comment: %w", err)
	}
	return c.ID == newID, nil
}

// ListUncategorizedComments returns the oldest comments that have no classification yet.
func (s *SQLiteStore) ListUncategorizedComments(ctx context.Context, limit int) ([]*models.ReviewComment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pr_id, user_id, github_id, review_github_id, body, created_at
		FROM review_comments WHERE category IS NULL ORDER BY created_at, github_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list uncategorized comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var comments []*models.ReviewComment
	for rows.Next() {
		c := &models.ReviewComment{}
		if err := rows.Scan(&c.ID, &c.PRID, &c.UserID, &c.GitHubID, &c.ReviewGitHubID, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *SQLiteStore) SetCommentQuality(ctx context.Context, commentID string, category models.CommentCategory, score int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_comments SET category = ?, quality_score = ? WHERE id = ?`, string(category), score, commentID)
	if err != nil {
		return fmt.Errorf("set comment quality: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("review comment", commentID)
	}
	return nil
}

// GetQualityAggregate summarizes the classified comments of one user on one pull request.
func (s *SQLiteStore) GetQualityAggregate(ctx context.Context, prID, userID string) (*models.QualityAggregate, error) {
	q := &models.QualityAggregate{}
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN quality_score <= 3 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN quality_score BETWEEN 4 AND 6 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN quality_score >= 7 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN category = 'logic' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN category = 'structural' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN category NOT IN ('logic', 'structural') THEN 1 ELSE 0 END), 0),
			COUNT(*)
		FROM review_comments
		WHERE pr_id = ? AND user_id = ? AND category IS NOT NULL AND quality_score IS NOT NULL`,
		prID, userID,
	).Scan(&q.ByTier.Low, &q.ByTier.Medium, &q.ByTier.High,
		&q.ByCategory.Logic, &q.ByCategory.Structural, &q.ByCategory.Other, &q.CategorizedCount)
	if err != nil {
		return nil, fmt.Errorf("get quality aggregate: %w", err)
	}
	return q, nil
}

// --- Scoring ---

// ApplyGroupScore records a (pull request, reviewer) score in one transaction.
//
// Session XP is written onto each session's first review and the reviewer is credited
// with the difference from what the group had already earned, so re-applying the same
// score awards nothing. Session heads always follow the new grouping. A score lower
// than the recorded one takes nothing back: the surplus stays on the first session so
// the group's xp_earned still sums to what the reviewer was credited. User XP only
// grows outside ResetScores. Returns the XP credited.
func (s *SQLiteStore) ApplyGroupScore(ctx context.Context, g *models.GroupScore) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevXP, prevSessions int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(xp_earned), 0), COALESCE(SUM(session_head), 0)
		FROM reviews WHERE pr_id = ? AND reviewer_id = ?`, g.PRID, g.ReviewerID,
	).Scan(&prevXP, &prevSessions)
	if err != nil {
		return 0, fmt.Errorf("read group score: %w", err)
	}

	total := g.TotalXP()
	if len(g.Sessions) == 0 {
		return 0, nil
	}
	surplus := max(prevXP-total, 0)

	if _, err := tx.ExecContext(ctx,
		`UPDATE reviews SET xp_earned = 0, session_head = 0 WHERE pr_id = ? AND reviewer_id = ?`,
		g.PRID, g.ReviewerID); err != nil {
		return 0, fmt.Errorf("clear group score: %w", err)
	}
	for i, sess := range g.Sessions {
		xp := sess.XP
		if i == 0 {
			xp += surplus
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE reviews SET xp_earned = ?, session_head = 1 WHERE id = ? AND pr_id = ? AND reviewer_id = ?`,
			xp, sess.FirstReviewID, g.PRID, g.ReviewerID)
		if err != nil {
			return 0, fmt.Errorf("record session xp: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return 0, notFound("review", sess.FirstReviewID)
		}
	}

	xpDelta := max(total-prevXP, 0)
	sessionDelta := max(int64(len(g.Sessions))-prevSessions, 0)
	if xpDelta > 0 || sessionDelta > 0 {
		var xp int64
		err := tx.QueryRowContext(ctx, `SELECT xp FROM users WHERE id = ?`, g.ReviewerID).Scan(&xp)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, notFound("user", g.ReviewerID)
		}
		if err != nil {
			return 0, fmt.Errorf("read user xp: %w", err)
		}
		xp += xpDelta
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET xp = ?, level = ?, review_sessions = review_sessions + ?, updated_at = ? WHERE id = ?`,
			xp, models.LevelForXP(xp), sessionDelta, time.Now().UTC(), g.ReviewerID); err != nil {
			return 0, fmt.Errorf("credit user xp: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit group score: %w", err)
	}
	return xpDelta, nil
}

// ResetScores zeroes every user's XP, level and session count and every review's attribution.
func (s *SQLiteStore) ResetScores(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET xp = 0, level = 1, review_sessions = 0, updated_at = ?`, time.Now().UTC()); err != nil {
		return fmt.Errorf("reset users: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE reviews SET xp_earned = 0, session_head = 0`); err != nil {
		return fmt.Errorf("reset reviews: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}

// --- Achievements ---

// ReviewerActivity gathers the counts reviewer achievements are checked against.
// A review is fast when it lands within fastWindow after the latest earlier commit on its PR.
func (s *SQLiteStore) ReviewerActivity(ctx context.Context, userID string, fastWindow time.Duration) (*models.ReviewerActivity, error) {
	reviews, err := s.queryReviews(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE reviewer_id = ? ORDER BY submitted_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list reviewer reviews: %w", err)
	}
	commits, err := s.queryCommits(ctx,
		`SELECT id, pr_id, sha, author_id, committed_at, message FROM commits
		WHERE pr_id IN (SELECT pr_id FROM reviews WHERE reviewer_id = ?)
		ORDER BY committed_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list reviewer commits: %w", err)
	}

	byPR := make(map[string][]time.Time)
	for _, c := range commits {
		byPR[c.PRID] = append(byPR[c.PRID], c.CommittedAt)
	}

	a := &models.ReviewerActivity{Reviews: int64(len(reviews))}
	seenDay := make(map[time.Time]bool)
	for _, r := range reviews {
		var latest time.Time
		for _, t := range byPR[r.PRID] {
			if t.Before(r.SubmittedAt) {
				latest = t
			}
		}
		if !latest.IsZero() && r.SubmittedAt.Sub(latest) <= fastWindow {
			a.FastReviews++
		}

		day := r.SubmittedAt.UTC().Truncate(24 * time.Hour)
		if !seenDay[day] {
			seenDay[day] = true
			a.ReviewDays = append(a.ReviewDays, day)
		}
	}
	return a, nil
}

func (s *SQLiteStore) AuthorActivity(ctx context.Context, userID string) (*models.AuthorActivity, error) {
	a := &models.AuthorActivity{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN state = 'merged' THEN 1 ELSE 0 END), 0)
		FROM pull_requests WHERE author_id = ?`, userID,
	).Scan(&a.PRsAuthored, &a.PRsMerged)
	if err != nil {
		return nil, fmt.Errorf("author activity: %w", err)
	}
	return a, nil
}

// UnlockAchievement records an achievement once. Reports whether it was newly unlocked.
func (s *SQLiteStore) UnlockAchievement(ctx context.Context, userID, achievementID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO achievements (user_id, achievement_id, unlocked_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, achievement_id) DO NOTHING`,
		userID, achievementID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("unlock achievement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unlock achievement: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListAchievements(ctx context.Context, userID string) ([]*models.UnlockedAchievement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, achievement_id, unlocked_at FROM achievements WHERE user_id = ? ORDER BY unlocked_at, achievement_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.UnlockedAchievement
	for rows.Next() {
		a := &models.UnlockedAchievement{}
		if err := rows.Scan(&a.UserID, &a.AchievementID, &a.UnlockedAt); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
