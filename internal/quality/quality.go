// Package quality classifies stored review comments so scoring can weight them by
// category and quality.
package quality

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/joescharf/royale/internal/llm"
	"github.com/joescharf/royale/internal/models"
)

// DefaultBatchSize is how many comments are sent to the classifier per run.
const DefaultBatchSize = 50

// Score bounds.
const (
	MinScore = 1
	MaxScore = 10
)

// Classifier categorizes comment bodies. *llm.Client implements it.
type Classifier interface {
	ClassifyComments(ctx context.Context, bodies []string) ([]llm.CommentClassification, error)
}

// Store is the persistence the categorizer needs.
type Store interface {
	ListUncategorizedComments(ctx context.Context, limit int) ([]*models.ReviewComment, error)
	SetCommentQuality(ctx context.Context, commentID string, category models.CommentCategory, score int) error
}

// Stats summarizes one categorization run.
type Stats struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Categorizer runs classification batches.
type Categorizer struct {
	store      Store
	classifier Classifier
	log        logrus.FieldLogger
}

// NewCategorizer creates a Categorizer.
func NewCategorizer(s Store, c Classifier, log logrus.FieldLogger) *Categorizer {
	return &Categorizer{store: s, classifier: c, log: log}
}

// Run classifies up to batchSize uncategorized comments. Results with an unknown
// category or index, and comments the classifier left out, are skipped and stay
// uncategorized for a later run.
func (c *Categorizer) Run(ctx context.Context, batchSize int) (*Stats, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	stats := &Stats{}

	comments, err := c.store.ListUncategorizedComments(ctx, batchSize)
	if err != nil {
		return nil, err
	}
	if len(comments) == 0 {
		c.log.Info("no uncategorized comments")
		return stats, nil
	}

	bodies := make([]string, len(comments))
	for i, cm := range comments {
		bodies[i] = cm.Body
	}
	results, err := c.classifier.ClassifyComments(ctx, bodies)
	if err != nil {
		return nil, fmt.Errorf("classify comments: %w", err)
	}

	done := make(map[int]bool, len(results))
	for _, r := range results {
		category := models.CommentCategory(r.Category)
		if r.Index < 0 || r.Index >= len(comments) || done[r.Index] || !category.Valid() {
			c.log.WithFields(logrus.Fields{"index": r.Index, "category": r.Category}).Debug("skipping classification")
			continue
		}
		done[r.Index] = true

		cm := comments[r.Index]
		score := ClampScore(r.QualityScore)
		if err := c.store.SetCommentQuality(ctx, cm.ID, category, score); err != nil {
			stats.Errors++
			c.log.WithError(err).WithField("comment_id", cm.ID).Warn("save classification failed")
			continue
		}
		stats.Processed++
		c.log.WithFields(logrus.Fields{
			"comment_id": cm.ID,
			"category":   category,
			"tier":       Tier(score),
		}).Debug("comment classified")
	}
	stats.Skipped = len(comments) - stats.Processed - stats.Errors

	c.log.WithFields(logrus.Fields{
		"processed": stats.Processed,
		"skipped":   stats.Skipped,
		"errors":    stats.Errors,
	}).Info("categorization complete")
	return stats, nil
}

// ClampScore forces a score into [MinScore, MaxScore].
func ClampScore(score int) int {
	return min(max(score, MinScore), MaxScore)
}

// Tier names the quality band a score falls in: low <= 3, medium 4-6, high >= 7.
func Tier(score int) string {
	switch {
	case score <= 3:
		return "low"
	case score <= 6:
		return "medium"
	default:
		return "high"
	}
}
