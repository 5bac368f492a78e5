package models

// SessionScore is the XP earned by one review session.
type SessionScore struct {
	FirstReviewID string `json:"first_review_id"`
	ReviewCount   int    `json:"review_count"`
	Comments      int    `json:"comments"`
	XP            int64  `json:"xp"`
}

// GroupScore is the scored result for one reviewer on one pull request.
type GroupScore struct {
	PRID       string         `json:"pr_id"`
	ReviewerID string         `json:"reviewer_id"`
	Sessions   []SessionScore `json:"sessions"`
}

// TotalXP sums the XP across sessions.
func (g *GroupScore) TotalXP() int64 {
	var total int64
	for _, s := range g.Sessions {
		total += s.XP
	}
	return total
}
