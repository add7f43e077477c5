package tags

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"leavn/api/internal/store"
)

const (
	DefaultRecommendLimit = 10
	MaxRecommendLimit     = 100
)

// UsageStore is the read side the ranker needs.
type UsageStore interface {
	ListChapterUsage(ctx context.Context, chapter string) ([]store.TagUsage, error)
}

// Ranker suggests tags for a reference by how often they are used in the
// same chapter.
type Ranker struct {
	store  UsageStore
	logger *zap.Logger
}

func NewRanker(usage UsageStore, logger *zap.Logger) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{store: usage, logger: logger}
}

// Recommend never fails: a store error is logged and yields an empty list.
func (r *Ranker) Recommend(ctx context.Context, reference string, limit int) []string {
	chapter := ChapterPrefix(reference)
	usage, err := r.store.ListChapterUsage(ctx, chapter)
	if err != nil {
		r.logger.Warn("recommendation usage lookup failed",
			zap.String("reference", reference),
			zap.String("chapter", chapter),
			zap.Error(err),
		)
		return []string{}
	}
	return Rank(usage, limit)
}

// Rank counts usage rows per tag and orders names by count descending.
// Equal counts keep catalog order: older tags first, then by name.
func Rank(usage []store.TagUsage, limit int) []string {
	if limit <= 0 {
		limit = DefaultRecommendLimit
	}
	if limit > MaxRecommendLimit {
		limit = MaxRecommendLimit
	}

	type tally struct {
		name      string
		createdAt time.Time
		count     int
	}
	byTag := make(map[string]*tally)
	for _, row := range usage {
		t, ok := byTag[row.TagID]
		if !ok {
			t = &tally{name: row.TagName, createdAt: row.TagCreatedAt}
			byTag[row.TagID] = t
		}
		t.count++
	}

	ranked := make([]*tally, 0, len(byTag))
	for _, t := range byTag {
		ranked = append(ranked, t)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.count != b.count {
			return a.count > b.count
		}
		if !a.createdAt.Equal(b.createdAt) {
			return a.createdAt.Before(b.createdAt)
		}
		return a.name < b.name
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	names := make([]string, 0, len(ranked))
	for _, t := range ranked {
		names = append(names, t.name)
	}
	return names
}
