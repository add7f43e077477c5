package tags

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"leavn/api/internal/store"
)

func usageRow(ref, id, name string, created time.Time) store.TagUsage {
	return store.TagUsage{Reference: ref, TagID: id, TagName: name, TagCreatedAt: created}
}

func TestRankOrdersByCountThenCatalogOrder(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	usage := []store.TagUsage{
		usageRow("Gen 1:1", "t_light", "light", t0.Add(2*time.Hour)),
		usageRow("Gen 1:1", "t_light", "light", t0.Add(2*time.Hour)),
		usageRow("Gen 1:1", "t_god", "god", t0.Add(time.Hour)),
		usageRow("Gen 1:2", "t_water", "water", t0),
		usageRow("Gen 1:2", "t_deep", "deep", t0),
	}

	assert.Equal(t, []string{"light"}, Rank(usage, 1))
	// Equal counts: older catalog entries first, then name.
	assert.Equal(t, []string{"light", "deep", "water", "god"}, Rank(usage, 10))
}

func TestRankIsDeterministic(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	usage := []store.TagUsage{
		usageRow("Gen 1:1", "a", "alpha", t0),
		usageRow("Gen 1:1", "b", "beta", t0),
		usageRow("Gen 1:1", "c", "gamma", t0),
	}
	first := Rank(usage, 10)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Rank(usage, 10))
	}
}

func TestRankLimits(t *testing.T) {
	assert.Equal(t, []string{}, Rank(nil, 5))

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var usage []store.TagUsage
	for i := 0; i < 150; i++ {
		usage = append(usage, usageRow("Gen 1:1", string(rune('A'+i%26))+string(rune('a'+i/26)), "tag", t0.Add(time.Duration(i))))
	}
	assert.Len(t, Rank(usage, 0), DefaultRecommendLimit)
	assert.Len(t, Rank(usage, 1000), MaxRecommendLimit)
}

func TestChapterPrefix(t *testing.T) {
	cases := map[string]string{
		"Gen 1:3":      "Gen 1",
		"1 John 4:8":   "1 John 4",
		"Psalm 119":    "Psalm 119",
		"Odd:Book 2:1": "Odd:Book 2",
	}
	for in, want := range cases {
		assert.Equal(t, want, ChapterPrefix(in), in)
	}
	assert.Equal(t, "Gen 1:3", JoinReference("Gen", "1", " 3"))
}
