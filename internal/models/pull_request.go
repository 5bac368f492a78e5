package models

import "time"

// PRState is the lifecycle state of a pull request.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// PullRequest is a pull request in a tracked repository.
type PullRequest struct {
	ID            string     `json:"id"`
	RepoID        string     `json:"repo_id"`
	GitHubID      int64      `json:"github_id"`
	Number        int        `json:"number"`
	Title         string     `json:"title"`
	AuthorID      string     `json:"author_id"`
	State         PRState    `json:"state"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	FirstReviewAt *time.Time `json:"first_review_at,omitempty"`
	MergedAt      *time.Time `json:"merged_at,omitempty"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// StateFor maps GitHub's open/closed state plus merge time to a PRState.
func StateFor(ghState string, mergedAt *time.Time) PRState {
	switch {
	case mergedAt != nil:
		return PRStateMerged
	case ghState == "closed":
		return PRStateClosed
	default:
		return PRStateOpen
	}
}
