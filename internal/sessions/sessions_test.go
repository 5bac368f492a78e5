package sessions

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/royale/internal/models"
)

var t0 = time.Date(2026, 2, 9, 6, 0, 0, 0, time.UTC)

func review(id int64, at time.Time, comments int) *models.Review {
	return &models.Review{
		ID:            fmt.Sprintf("r%d", id),
		GitHubID:      id,
		State:         models.ReviewStateCommented,
		CommentsCount: comments,
		SubmittedAt:   at,
	}
}

func commit(at time.Time) *models.Commit {
	return &models.Commit{SHA: at.Format(time.RFC3339), CommittedAt: at}
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestBuild_Empty(t *testing.T) {
	assert.Empty(t, Build(nil, nil, DefaultGap))
}

func TestBuild_SingleReview(t *testing.T) {
	got := Build([]*models.Review{review(1, t0, 3)}, nil, DefaultGap)
	require.Len(t, got, 1)
	assert.Equal(t, time.Duration(0), got[0].Duration())
	assert.Equal(t, 3, got[0].TotalComments)
	assert.True(t, got[0].StartedAt.Equal(t0))
}

func TestBuild_GapRule(t *testing.T) {
	t.Run("exactly the gap stays together", func(t *testing.T) {
		got := Build([]*models.Review{review(1, t0, 1), review(2, t0.Add(24*time.Hour), 1)}, nil, DefaultGap)
		assert.Len(t, got, 1)
	})

	t.Run("past the gap splits", func(t *testing.T) {
		got := Build([]*models.Review{review(1, t0, 1), review(2, t0.Add(24*time.Hour+time.Second), 1)}, nil, DefaultGap)
		require.Len(t, got, 2)
		assert.Equal(t, int64(1), got[0].First().GitHubID)
		assert.Equal(t, int64(2), got[1].First().GitHubID)
	})
}

func TestBuild_CommitRule(t *testing.T) {
	r1 := review(1, t0, 1)
	r2 := review(2, t0.Add(2*time.Hour), 1)

	tests := []struct {
		name   string
		commit time.Time
		want   int
	}{
		{"strictly between splits", t0.Add(time.Hour), 2},
		{"at previous review does not split", t0, 1},
		{"at next review does not split", t0.Add(2 * time.Hour), 1},
		{"before both does not split", t0.Add(-time.Hour), 1},
		{"after both does not split", t0.Add(3 * time.Hour), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Build([]*models.Review{r1, r2}, []*models.Commit{commit(tt.commit)}, DefaultGap)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestBuild_PartitionsInOrder(t *testing.T) {
	var reviews []*models.Review
	at := t0
	for i := int64(1); i <= 40; i++ {
		// Mix of short pauses and multi-day pauses.
		if i%7 == 0 {
			at = at.Add(30 * time.Hour)
		} else {
			at = at.Add(time.Duration(i) * time.Minute)
		}
		reviews = append(reviews, review(i, at, int(i%4)))
	}
	commits := []*models.Commit{commit(t0.Add(3 * time.Hour)), commit(t0.Add(100 * time.Hour))}

	shuffled := make([]*models.Review, len(reviews))
	copy(shuffled, reviews)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	got := Build(shuffled, commits, DefaultGap)

	seen := make(map[int64]int)
	total := 0
	for i, s := range got {
		require.NotEmpty(t, s.Reviews)
		sum := 0
		for j, r := range s.Reviews {
			seen[r.GitHubID]++
			sum += r.CommentsCount
			if j > 0 {
				assert.False(t, r.SubmittedAt.Before(s.Reviews[j-1].SubmittedAt))
			}
		}
		assert.Equal(t, sum, s.TotalComments)
		assert.True(t, s.StartedAt.Equal(s.Reviews[0].SubmittedAt))
		assert.True(t, s.EndedAt.Equal(s.Reviews[len(s.Reviews)-1].SubmittedAt))
		if i > 0 {
			assert.True(t, got[i-1].EndedAt.Before(s.StartedAt), "sessions must not overlap")
		}
		total += len(s.Reviews)
	}
	assert.Equal(t, len(reviews), total)
	for _, r := range reviews {
		assert.Equal(t, 1, seen[r.GitHubID], "review %d must appear exactly once", r.GitHubID)
	}

	// Input order does not matter.
	again := Build(reviews, commits, DefaultGap)
	require.Len(t, again, len(got))
	for i := range got {
		assert.Equal(t, got[i].First().GitHubID, again[i].First().GitHubID)
	}
}

func TestBuild_DoesNotMutateInput(t *testing.T) {
	reviews := []*models.Review{review(2, t0.Add(time.Hour), 0), review(1, t0, 0)}
	Build(reviews, nil, DefaultGap)
	assert.Equal(t, int64(2), reviews[0].GitHubID)
}

// A day of real review activity: two commits land between the last two reviews.
func TestBuild_RealTimeline(t *testing.T) {
	stamps := []string{
		"2026-02-09T06:46:26Z", "2026-02-09T06:49:48Z", "2026-02-09T06:52:42Z",
		"2026-02-09T06:55:26Z", "2026-02-09T06:57:03Z", "2026-02-09T10:46:20Z",
		"2026-02-09T10:54:42Z", "2026-02-09T11:07:20Z", "2026-02-09T11:07:55Z",
		"2026-02-09T11:24:42Z", "2026-02-09T11:32:29Z", "2026-02-09T11:34:17Z",
		"2026-02-09T11:41:31Z", "2026-02-09T12:55:35Z", "2026-02-09T22:38:32Z",
		"2026-02-09T22:44:24Z", "2026-02-10T00:32:44Z", "2026-02-10T03:48:00Z",
	}
	var reviews []*models.Review
	for i, s := range stamps {
		reviews = append(reviews, review(int64(i+1), mustParse(t, s), 1))
	}
	commits := []*models.Commit{
		commit(mustParse(t, "2026-02-05T02:47:40Z")),
		commit(mustParse(t, "2026-02-10T03:33:12Z")),
		commit(mustParse(t, "2026-02-10T03:34:40Z")),
	}

	got := Build(reviews, commits, DefaultGap)
	require.Len(t, got, 2)
	assert.Len(t, got[0].Reviews, 17)
	assert.Len(t, got[1].Reviews, 1)
	assert.Equal(t, int64(18), got[1].First().GitHubID)
}

func TestSession_HasStateChange(t *testing.T) {
	s := &Session{}
	s.add(review(1, t0, 0))
	assert.False(t, s.HasStateChange())

	approved := review(2, t0.Add(time.Minute), 0)
	approved.State = models.ReviewStateApproved
	s.add(approved)
	assert.True(t, s.HasStateChange())
}

func TestPriorCommit(t *testing.T) {
	commits := []*models.Commit{
		commit(t0.Add(-3 * time.Hour)),
		commit(t0.Add(-time.Hour)),
		commit(t0),
		commit(t0.Add(time.Hour)),
	}
	got := PriorCommit(commits, t0)
	require.NotNil(t, got)
	assert.True(t, got.CommittedAt.Equal(t0.Add(-time.Hour)))

	assert.Nil(t, PriorCommit(commits, t0.Add(-4*time.Hour)))
	assert.Nil(t, PriorCommit(nil, t0))
}
