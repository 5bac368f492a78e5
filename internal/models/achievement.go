package models

import "time"

// UnlockedAchievement records an achievement a user has earned.
type UnlockedAchievement struct {
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	UnlockedAt    time.Time `json:"unlocked_at"`
}

// ReviewerActivity holds the raw counts achievements are evaluated against.
type ReviewerActivity struct {
	Reviews     int64
	FastReviews int64
	ReviewDays  []time.Time // distinct UTC days with at least one review, ascending
}

// AuthorActivity holds pull request counts for an author.
type AuthorActivity struct {
	PRsAuthored int64
	PRsMerged   int64
}
