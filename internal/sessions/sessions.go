// Package sessions groups one reviewer's review events on a pull request into review sessions.
package sessions

import (
	"sort"
	"time"

	"github.com/joescharf/royale/internal/models"
)

// DefaultGap is the longest pause between two reviews that still counts as one session.
const DefaultGap = 24 * time.Hour

// Session is a contiguous run of reviews by one reviewer on one pull request.
type Session struct {
	Reviews       []*models.Review
	StartedAt     time.Time
	EndedAt       time.Time
	TotalComments int
}

// Duration is the time between the first and last review of the session.
func (s *Session) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// First returns the earliest review in the session.
func (s *Session) First() *models.Review {
	return s.Reviews[0]
}

// HasStateChange reports whether any review in the session approved or requested changes.
func (s *Session) HasStateChange() bool {
	for _, r := range s.Reviews {
		if r.State.IsStateChange() {
			return true
		}
	}
	return false
}

func (s *Session) add(r *models.Review) {
	if len(s.Reviews) == 0 || r.SubmittedAt.Before(s.StartedAt) {
		s.StartedAt = r.SubmittedAt
	}
	if len(s.Reviews) == 0 || r.SubmittedAt.After(s.EndedAt) {
		s.EndedAt = r.SubmittedAt
	}
	s.Reviews = append(s.Reviews, r)
	s.TotalComments += r.CommentsCount
}

// Build splits reviews into sessions. A new session starts when the pause since the
// previous review exceeds gap, or when a commit lands strictly between the two reviews.
// The input slice is not modified. Ties in submit time are broken by GitHub ID so the
// result is the same for any input order.
func Build(reviews []*models.Review, commits []*models.Commit, gap time.Duration) []*Session {
	if len(reviews) == 0 {
		return nil
	}

	sorted := make([]*models.Review, len(reviews))
	copy(sorted, reviews)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.GitHubID < b.GitHubID
	})

	var out []*Session
	current := &Session{}
	current.add(sorted[0])

	for _, r := range sorted[1:] {
		prev := current.EndedAt
		if r.SubmittedAt.Sub(prev) > gap || commitBetween(commits, prev, r.SubmittedAt) {
			out = append(out, current)
			current = &Session{}
		}
		current.add(r)
	}
	return append(out, current)
}

// commitBetween reports whether any commit falls in the open interval (from, to).
func commitBetween(commits []*models.Commit, from, to time.Time) bool {
	for _, c := range commits {
		if c.CommittedAt.After(from) && c.CommittedAt.Before(to) {
			return true
		}
	}
	return false
}

// PriorCommit returns the latest commit strictly before t, or nil.
func PriorCommit(commits []*models.Commit, t time.Time) *models.Commit {
	var latest *models.Commit
	for _, c := range commits {
		if !c.CommittedAt.Before(t) {
			continue
		}
		if latest == nil || c.CommittedAt.After(latest.CommittedAt) {
			latest = c
		}
	}
	return latest
}
