package models

import "time"

// CommentCategory classifies what a review comment is about.
type CommentCategory string

const (
	CategoryCosmetic   CommentCategory = "cosmetic"
	CategoryLogic      CommentCategory = "logic"
	CategoryStructural CommentCategory = "structural"
	CategoryNit        CommentCategory = "nit"
	CategoryQuestion   CommentCategory = "question"
)

// Valid reports whether c is one of the known categories.
func (c CommentCategory) Valid() bool {
	switch c {
	case CategoryCosmetic, CategoryLogic, CategoryStructural, CategoryNit, CategoryQuestion:
		return true
	}
	return false
}

// ReviewComment is an inline comment left on a pull request diff.
type ReviewComment struct {
	ID             string          `json:"id"`
	PRID           string          `json:"pr_id"`
	UserID         string          `json:"user_id"`
	GitHubID       int64           `json:"github_id"`
	ReviewGitHubID int64           `json:"review_github_id,omitempty"`
	Body           string          `json:"body"`
	CreatedAt      time.Time       `json:"created_at"`
	Category       CommentCategory `json:"category,omitempty"`
	QualityScore   int             `json:"quality_score,omitempty"` // 0 = uncategorized
}

// TierCounts counts categorized comments by quality score: low <= 3, medium 4-6, high >= 7.
type TierCounts struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// CategoryCounts counts categorized comments by the categories that carry bonuses.
type CategoryCounts struct {
	Logic      int `json:"logic"`
	Structural int `json:"structural"`
	Other      int `json:"other"`
}

// QualityAggregate summarizes the classified comments of one reviewer on one pull request.
type QualityAggregate struct {
	ByTier           TierCounts     `json:"by_tier"`
	ByCategory       CategoryCounts `json:"by_category"`
	CategorizedCount int            `json:"categorized_count"`
}
