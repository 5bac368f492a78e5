// Package achievements evaluates milestone thresholds and unlocks achievements.
package achievements

import (
	"context"
	"fmt"
	"time"

	"github.com/joescharf/royale/internal/models"
)

// Kind enumerates the achievements royale knows about.
type Kind int

const (
	FirstReview Kind = iota
	Review10
	Review50
	Review100
	SpeedDemon
	ReviewStreak7
	FirstPR
	PRMerged10
)

// Role says whose activity an achievement is measured against.
type Role string

const (
	RoleReviewer Role = "reviewer"
	RoleAuthor   Role = "author"
)

// FastReviewWindow is how soon after a commit a review must land to count as fast.
const FastReviewWindow = time.Hour

// Counters are the activity totals achievements are checked against.
type Counters struct {
	Reviews           int64
	FastReviews       int64
	LongestStreakDays int64
	PRsAuthored       int64
	PRsMerged         int64
}

type definition struct {
	id          string
	name        string
	description string
	role        Role
	progress    func(Counters) (current, target int64)
}

var catalog = map[Kind]definition{
	FirstReview: {"first_review", "First Blood", "Submit your first review", RoleReviewer,
		func(c Counters) (int64, int64) { return c.Reviews, 1 }},
	Review10: {"review_10", "Getting Started", "Submit 10 reviews", RoleReviewer,
		func(c Counters) (int64, int64) { return c.Reviews, 10 }},
	Review50: {"review_50", "Regular", "Submit 50 reviews", RoleReviewer,
		func(c Counters) (int64, int64) { return c.Reviews, 50 }},
	Review100: {"review_100", "Centurion", "Submit 100 reviews", RoleReviewer,
		func(c Counters) (int64, int64) { return c.Reviews, 100 }},
	SpeedDemon: {"speed_demon", "Speed Demon", "Review within an hour of a push 10 times", RoleReviewer,
		func(c Counters) (int64, int64) { return c.FastReviews, 10 }},
	ReviewStreak7: {"review_streak_7", "On Fire", "Review on 7 consecutive days", RoleReviewer,
		func(c Counters) (int64, int64) { return c.LongestStreakDays, 7 }},
	FirstPR: {"first_pr", "Hello World", "Open your first pull request", RoleAuthor,
		func(c Counters) (int64, int64) { return c.PRsAuthored, 1 }},
	PRMerged10: {"pr_merged_10", "Shipper", "Get 10 pull requests merged", RoleAuthor,
		func(c Counters) (int64, int64) { return c.PRsMerged, 10 }},
}

// All returns every kind in display order.
func All() []Kind {
	return []Kind{FirstReview, Review10, Review50, Review100, SpeedDemon, ReviewStreak7, FirstPR, PRMerged10}
}

// Parse looks up a kind by its stored ID.
func Parse(id string) (Kind, bool) {
	for _, k := range All() {
		if catalog[k].id == id {
			return k, true
		}
	}
	return 0, false
}

func (k Kind) ID() string { return catalog[k].id }
func (k Kind) Name() string { return catalog[k].name }
func (k Kind) Description() string { return catalog[k].description }
func (k Kind) Role() Role { return catalog[k].role }

func (k Kind) String() string { return k.ID() }

// Progress extracts the current value and the unlock target from c.
func (k Kind) Progress(c Counters) (current, target int64) {
	return catalog[k].progress(c)
}

// Reached reports whether c meets the kind's target.
func (k Kind) Reached(c Counters) bool {
	current, target := k.Progress(c)
	return current >= target
}

// Store is the persistence the checker needs.
type Store interface {
	ReviewerActivity(ctx context.Context, userID string, fastWindow time.Duration) (*models.ReviewerActivity, error)
	AuthorActivity(ctx context.Context, userID string) (*models.AuthorActivity, error)
	UnlockAchievement(ctx context.Context, userID, achievementID string) (bool, error)
}

// Checker unlocks achievements from persisted activity. It holds no state besides the store.
type Checker struct {
	store Store
}

// NewChecker creates a Checker.
func NewChecker(s Store) *Checker {
	return &Checker{store: s}
}

// ReviewerCounters loads the reviewer-side counters for a user.
func (c *Checker) ReviewerCounters(ctx context.Context, userID string) (Counters, error) {
	a, err := c.store.ReviewerActivity(ctx, userID, FastReviewWindow)
	if err != nil {
		return Counters{}, err
	}
	return Counters{
		Reviews:           a.Reviews,
		FastReviews:       a.FastReviews,
		LongestStreakDays: LongestStreak(a.ReviewDays),
	}, nil
}

// AuthorCounters loads the author-side counters for a user.
func (c *Checker) AuthorCounters(ctx context.Context, userID string) (Counters, error) {
	a, err := c.store.AuthorActivity(ctx, userID)
	if err != nil {
		return Counters{}, err
	}
	return Counters{PRsAuthored: a.PRsAuthored, PRsMerged: a.PRsMerged}, nil
}

// CheckReviewer unlocks any reviewer achievements the user has reached and returns
// the ones unlocked by this call.
func (c *Checker) CheckReviewer(ctx context.Context, userID string) ([]Kind, error) {
	counters, err := c.ReviewerCounters(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reviewer counters: %w", err)
	}
	return c.unlock(ctx, userID, RoleReviewer, counters)
}

// CheckAuthor unlocks any author achievements the user has reached.
func (c *Checker) CheckAuthor(ctx context.Context, userID string) ([]Kind, error) {
	counters, err := c.AuthorCounters(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("author counters: %w", err)
	}
	return c.unlock(ctx, userID, RoleAuthor, counters)
}

func (c *Checker) unlock(ctx context.Context, userID string, role Role, counters Counters) ([]Kind, error) {
	var unlocked []Kind
	for _, k := range All() {
		if k.Role() != role || !k.Reached(counters) {
			continue
		}
		added, err := c.store.UnlockAchievement(ctx, userID, k.ID())
		if err != nil {
			return unlocked, err
		}
		if added {
			unlocked = append(unlocked, k)
		}
	}
	return unlocked, nil
}

// LongestStreak returns the longest run of consecutive UTC days in days.
// Input order and duplicates do not matter.
func LongestStreak(days []time.Time) int64 {
	seen := make(map[time.Time]bool, len(days))
	for _, d := range days {
		seen[d.UTC().Truncate(24*time.Hour)] = true
	}

	var longest int64
	for d := range seen {
		if seen[d.Add(-24*time.Hour)] {
			continue
		}
		var run int64
		for next := d; seen[next]; next = next.Add(24 * time.Hour) {
			run++
		}
		longest = max(longest, run)
	}
	return longest
}

// Status is one achievement as shown to a user: its definition, progress and unlock time.
type Status struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Role        Role       `json:"role"`
	Current     int64      `json:"current"`
	Target      int64      `json:"target"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
}

// Statuses reports every achievement for a user, marking the ones in unlocked.
func (c *Checker) Statuses(ctx context.Context, userID string, unlocked []*models.UnlockedAchievement) ([]Status, error) {
	reviewer, err := c.ReviewerCounters(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reviewer counters: %w", err)
	}
	author, err := c.AuthorCounters(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("author counters: %w", err)
	}
	counters := reviewer
	counters.PRsAuthored, counters.PRsMerged = author.PRsAuthored, author.PRsMerged

	unlockedAt := make(map[string]time.Time, len(unlocked))
	for _, u := range unlocked {
		unlockedAt[u.AchievementID] = u.UnlockedAt
	}

	out := make([]Status, 0, len(catalog))
	for _, k := range All() {
		current, target := k.Progress(counters)
		st := Status{
			ID:          k.ID(),
			Name:        k.Name(),
			Description: k.Description(),
			Role:        k.Role(),
			Current:     current,
			Target:      target,
		}
		if at, ok := unlockedAt[k.ID()]; ok {
			st.Unlocked = true
			st.UnlockedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}
