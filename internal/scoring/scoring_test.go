package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/royale/internal/models"
	"github.com/joescharf/royale/internal/sessions"
)

var t0 = time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC)

// session builds a single session from (offset, state, comments) triples.
func session(t *testing.T, events ...models.Review) *sessions.Session {
	t.Helper()
	var reviews []*models.Review
	for i := range events {
		r := events[i]
		r.GitHubID = int64(i + 1)
		r.ID = "rev-" + string(rune('a'+i))
		reviews = append(reviews, &r)
	}
	built := sessions.Build(reviews, nil, sessions.DefaultGap)
	require.Len(t, built, 1)
	return built[0]
}

func ev(offset time.Duration, state models.ReviewState, comments int) models.Review {
	return models.Review{SubmittedAt: t0.Add(offset), State: state, CommentsCount: comments}
}

func newScorer() *Scorer {
	return NewScorer(DefaultRules())
}

func TestScore_RubberStamp(t *testing.T) {
	sc := newScorer().Score(session(t, ev(0, models.ReviewStateCommented, 0)), nil, nil)
	assert.Equal(t, int64(0), sc.Total)
	assert.Equal(t, RejectRubberStamp, sc.Rejected)
}

func TestScore_DriveByApproval(t *testing.T) {
	s := newScorer()

	quick := session(t,
		ev(0, models.ReviewStateCommented, 0),
		ev(30*time.Second, models.ReviewStateApproved, 0),
	)
	sc := s.Score(quick, nil, nil)
	assert.Equal(t, int64(0), sc.Total)
	assert.Equal(t, RejectDriveBy, sc.Rejected)

	considered := session(t,
		ev(0, models.ReviewStateCommented, 0),
		ev(61*time.Second, models.ReviewStateApproved, 0),
	)
	sc = s.Score(considered, nil, nil)
	assert.Equal(t, int64(10), sc.Total)
	assert.Equal(t, RejectNone, sc.Rejected)
}

func TestScore_FlatRate(t *testing.T) {
	s := newScorer()

	t.Run("seven comments with changes requested", func(t *testing.T) {
		sc := s.Score(session(t, ev(0, models.ReviewStateChangesRequested, 7)), nil, nil)
		assert.Equal(t, int64(50), sc.Total)
		assert.Equal(t, int64(35), sc.Comments)
		assert.Equal(t, int64(5), sc.Thorough)
	})

	t.Run("twelve comments", func(t *testing.T) {
		sc := s.Score(session(t, ev(0, models.ReviewStateCommented, 12)), nil, nil)
		assert.Equal(t, int64(85), sc.Total)
		assert.Equal(t, int64(10), sc.Deep)
	})

	t.Run("eight comments", func(t *testing.T) {
		sc := s.Score(session(t, ev(0, models.ReviewStateCommented, 8)), nil, nil)
		assert.Equal(t, int64(55), sc.Total)
	})

	t.Run("thresholds are strict", func(t *testing.T) {
		five := s.Score(session(t, ev(0, models.ReviewStateCommented, 5)), nil, nil)
		assert.Equal(t, int64(35), five.Total)
		ten := s.Score(session(t, ev(0, models.ReviewStateCommented, 10)), nil, nil)
		assert.Equal(t, int64(65), ten.Total)
	})
}

func TestScore_QualityWeighted(t *testing.T) {
	s := newScorer()

	tests := []struct {
		name     string
		comments int
		quality  *models.QualityAggregate
		want     int64
	}{
		{
			name:     "all high quality logic and structural",
			comments: 5,
			quality: &models.QualityAggregate{
				ByTier:           models.TierCounts{High: 5},
				ByCategory:       models.CategoryCounts{Logic: 2, Structural: 1, Other: 2},
				CategorizedCount: 5,
			},
			want: 58,
		},
		{
			name:     "mixed tiers",
			comments: 8,
			quality: &models.QualityAggregate{
				ByTier:           models.TierCounts{Low: 2, Medium: 3, High: 3},
				ByCategory:       models.CategoryCounts{Logic: 1, Other: 7},
				CategorizedCount: 8,
			},
			want: 61,
		},
		{
			name:     "low quality earns less than flat rate",
			comments: 3,
			quality: &models.QualityAggregate{
				ByTier:           models.TierCounts{Low: 3},
				ByCategory:       models.CategoryCounts{Other: 3},
				CategorizedCount: 3,
			},
			want: 16,
		},
		{
			name:     "partially categorized",
			comments: 6,
			quality: &models.QualityAggregate{
				ByTier:           models.TierCounts{Low: 1, Medium: 2, High: 1},
				ByCategory:       models.CategoryCounts{Logic: 1, Other: 3},
				CategorizedCount: 4,
			},
			want: 48,
		},
		{
			name:     "nothing categorized falls back to flat rate",
			comments: 3,
			quality:  &models.QualityAggregate{},
			want:     25,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := s.Score(session(t, ev(0, models.ReviewStateCommented, tt.comments)), nil, tt.quality)
			assert.Equal(t, tt.want, sc.Total)
		})
	}

	flat := s.Score(session(t, ev(0, models.ReviewStateCommented, 3)), nil, nil)
	assert.Equal(t, int64(25), flat.Total)
}

func TestScore_MoreCategorizedThanCommentsDoesNotGoNegative(t *testing.T) {
	q := &models.QualityAggregate{ByTier: models.TierCounts{Low: 4}, ByCategory: models.CategoryCounts{Other: 4}, CategorizedCount: 4}
	sc := newScorer().Score(session(t, ev(0, models.ReviewStateCommented, 1)), nil, q)
	assert.Equal(t, int64(18), sc.Total)
}

func TestScore_FastBonus(t *testing.T) {
	s := newScorer()
	sess := session(t, ev(0, models.ReviewStateCommented, 1))

	at := func(d time.Duration) *time.Time {
		ts := t0.Add(-d)
		return &ts
	}

	assert.Equal(t, int64(25), s.Score(sess, at(30*time.Minute), nil).Total)
	assert.Equal(t, int64(15), s.Score(sess, at(time.Hour), nil).Total, "exactly one hour is not fast")
	assert.Equal(t, int64(15), s.Score(sess, at(0), nil).Total, "commit at session start is not fast")
	assert.Equal(t, int64(15), s.Score(sess, at(-time.Minute), nil).Total, "commit after start is not fast")
	assert.Equal(t, int64(15), s.Score(sess, nil, nil).Total)
}

func TestScore_Deterministic(t *testing.T) {
	s := newScorer()
	sess := session(t,
		ev(0, models.ReviewStateCommented, 4),
		ev(10*time.Minute, models.ReviewStateApproved, 3),
	)
	prior := t0.Add(-20 * time.Minute)
	q := &models.QualityAggregate{ByTier: models.TierCounts{Medium: 4, High: 2}, ByCategory: models.CategoryCounts{Logic: 3}, CategorizedCount: 6}

	first := s.Score(sess, &prior, q)
	second := s.Score(sess, &prior, q)
	assert.Equal(t, first, second)
}

func TestScoreGroup(t *testing.T) {
	s := newScorer()

	reviews := []*models.Review{
		{ID: "a", GitHubID: 1, SubmittedAt: t0, State: models.ReviewStateCommented, CommentsCount: 2},
		{ID: "b", GitHubID: 2, SubmittedAt: t0.Add(10 * time.Minute), State: models.ReviewStateChangesRequested, CommentsCount: 1},
		{ID: "c", GitHubID: 3, SubmittedAt: t0.Add(3 * time.Hour), State: models.ReviewStateApproved, CommentsCount: 0},
	}
	commits := []*models.Commit{
		{SHA: "base", CommittedAt: t0.Add(-15 * time.Minute)},
		{SHA: "fix", CommittedAt: t0.Add(2*time.Hour + 30*time.Minute)},
	}

	g := s.ScoreGroup("pr-1", "user-1", reviews, commits, nil)
	assert.Equal(t, "pr-1", g.PRID)
	assert.Equal(t, "user-1", g.ReviewerID)
	require.Len(t, g.Sessions, 2)

	// Session 1: 3 comments, started 15m after a commit.
	assert.Equal(t, "a", g.Sessions[0].FirstReviewID)
	assert.Equal(t, 2, g.Sessions[0].ReviewCount)
	assert.Equal(t, int64(10+15+10), g.Sessions[0].XP)

	// Session 2: lone comment-less approval of zero duration.
	assert.Equal(t, "c", g.Sessions[1].FirstReviewID)
	assert.Equal(t, int64(0), g.Sessions[1].XP)

	assert.Equal(t, int64(35), g.TotalXP())
	assert.Empty(t, s.ScoreGroup("pr-1", "user-1", nil, commits, nil).Sessions)
}
