package models

import (
	"fmt"
	"time"
)

// Repository is a tracked GitHub repository.
type Repository struct {
	ID           string     `json:"id"`
	GitHubID     int64      `json:"github_id"`
	Owner        string     `json:"owner"`
	Name         string     `json:"name"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// FullName returns "owner/name".
func (r *Repository) FullName() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}
