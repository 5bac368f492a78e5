package models

import "time"

// Commit is a commit pushed to a pull request. Only its timestamp matters for scoring.
type Commit struct {
	ID          string    `json:"id"`
	PRID        string    `json:"pr_id"`
	SHA         string    `json:"sha"`
	AuthorID    string    `json:"author_id,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
	Message     string    `json:"message,omitempty"`
}
