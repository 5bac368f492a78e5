package models

import (
	"strings"
	"time"
)

// ReviewState is the verdict attached to a submitted review.
type ReviewState string

const (
	ReviewStatePending          ReviewState = "pending"
	ReviewStateCommented        ReviewState = "commented"
	ReviewStateApproved         ReviewState = "approved"
	ReviewStateChangesRequested ReviewState = "changes_requested"
	ReviewStateDismissed        ReviewState = "dismissed"
)

// ParseReviewState maps GitHub's review state strings (APPROVED, CHANGES_REQUESTED, ...).
func ParseReviewState(s string) ReviewState {
	switch strings.ToUpper(s) {
	case "APPROVED":
		return ReviewStateApproved
	case "CHANGES_REQUESTED":
		return ReviewStateChangesRequested
	case "COMMENTED":
		return ReviewStateCommented
	case "DISMISSED":
		return ReviewStateDismissed
	default:
		return ReviewStatePending
	}
}

// IsStateChange reports whether the review approves or requests changes.
func (s ReviewState) IsStateChange() bool {
	return s == ReviewStateApproved || s == ReviewStateChangesRequested
}

// Review is one submitted review event on a pull request.
type Review struct {
	ID            string      `json:"id"`
	PRID          string      `json:"pr_id"`
	ReviewerID    string      `json:"reviewer_id"`
	GitHubID      int64       `json:"github_id"`
	State         ReviewState `json:"state"`
	Body          string      `json:"body,omitempty"`
	CommentsCount int         `json:"comments_count"`
	SubmittedAt   time.Time   `json:"submitted_at"`
	XPEarned      int64       `json:"xp_earned"`
	SessionHead   bool        `json:"session_head"` // first review of a scored session
}
