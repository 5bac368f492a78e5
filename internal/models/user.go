package models

import (
	"math"
	"time"
)

// User is a GitHub account that authored or reviewed pull requests.
type User struct {
	ID             string    `json:"id"`
	GitHubID       int64     `json:"github_id"`
	Login          string    `json:"login"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	XP             int64     `json:"xp"`
	Level          int       `json:"level"`
	ReviewSessions int       `json:"review_sessions"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LevelForXP derives a level from accumulated XP: floor(sqrt(xp/100)) + 1.
func LevelForXP(xp int64) int {
	if xp <= 0 {
		return 1
	}
	return int(math.Floor(math.Sqrt(float64(xp)/100))) + 1
}

// LeaderboardRow is a reviewer's standing within a leaderboard window.
// Score is the XP earned by reviews inside the window; User.XP stays all-time.
type LeaderboardRow struct {
	User            *User
	Score           int64
	ReviewsGiven    int
	CommentsWritten int
	FirstReviews    int
}
