// Package scoring turns review sessions into experience points.
package scoring

import (
	"time"

	"github.com/joescharf/royale/internal/models"
	"github.com/joescharf/royale/internal/sessions"
)

// Rejection names why a session scored zero.
type Rejection string

const (
	RejectNone        Rejection = ""
	RejectRubberStamp Rejection = "rubber_stamp"
	RejectDriveBy     Rejection = "drive_by"
)

// SessionScore is the itemized XP for one session.
type SessionScore struct {
	Total    int64
	Rejected Rejection
	Base     int64
	Comments int64 // per-comment or quality-weighted comment points
	Thorough int64
	Deep     int64
	Fast     int64
}

// Scorer computes session XP. It holds no state beyond its Rules and is safe for concurrent use.
type Scorer struct {
	rules Rules
}

// NewScorer returns a Scorer using the given rules.
func NewScorer(rules Rules) *Scorer {
	return &Scorer{rules: rules}
}

// Rules returns the constants the scorer was built with.
func (s *Scorer) Rules() Rules {
	return s.rules
}

// Score computes the XP for one session. priorCommit is the latest commit before the
// session started (nil when there is none). quality may be nil, in which case every
// comment earns the flat per-comment rate.
func (s *Scorer) Score(sess *sessions.Session, priorCommit *time.Time, quality *models.QualityAggregate) *SessionScore {
	r := s.rules
	sc := &SessionScore{}

	if sess.TotalComments == 0 {
		if !sess.HasStateChange() {
			sc.Rejected = RejectRubberStamp
			return sc
		}
		if sess.Duration() < r.DriveByWindow {
			sc.Rejected = RejectDriveBy
			return sc
		}
	}

	sc.Base = r.Base
	sc.Comments = s.commentPoints(sess.TotalComments, quality)

	if sess.TotalComments > r.ThoroughThreshold {
		sc.Thorough = r.ThoroughBonus
	}
	if sess.TotalComments > r.DeepThreshold {
		sc.Deep = r.DeepBonus
	}

	if priorCommit != nil {
		if d := sess.StartedAt.Sub(*priorCommit); d > 0 && d < r.FastWindow {
			sc.Fast = r.FastBonus
		}
	}

	sc.Total = sc.Base + sc.Comments + sc.Thorough + sc.Deep + sc.Fast
	return sc
}

func (s *Scorer) commentPoints(total int, q *models.QualityAggregate) int64 {
	r := s.rules
	if q == nil || q.CategorizedCount == 0 {
		return int64(total) * r.PerComment
	}

	points := int64(q.ByTier.Low)*r.LowWeight +
		int64(q.ByTier.Medium)*r.MediumWeight +
		int64(q.ByTier.High)*r.HighWeight
	if uncategorized := total - q.CategorizedCount; uncategorized > 0 {
		points += int64(uncategorized) * r.PerComment
	}
	points += int64(q.ByCategory.Logic)*r.LogicBonus + int64(q.ByCategory.Structural)*r.StructuralBonus
	return points
}

// ScoreGroup builds the sessions of one reviewer on one pull request and scores each
// of them. Every caller that awards XP goes through here.
func (s *Scorer) ScoreGroup(prID, reviewerID string, reviews []*models.Review, commits []*models.Commit, quality *models.QualityAggregate) *models.GroupScore {
	g := &models.GroupScore{PRID: prID, ReviewerID: reviewerID}
	for _, sess := range sessions.Build(reviews, commits, s.rules.SessionGap) {
		var prior *time.Time
		if c := sessions.PriorCommit(commits, sess.StartedAt); c != nil {
			at := c.CommittedAt
			prior = &at
		}
		sc := s.Score(sess, prior, quality)
		g.Sessions = append(g.Sessions, models.SessionScore{
			FirstReviewID: sess.First().ID,
			ReviewCount:   len(sess.Reviews),
			Comments:      sess.TotalComments,
			XP:            sc.Total,
		})
	}
	return g
}
