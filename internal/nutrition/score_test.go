package nutrition

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/pbaille/nexusdiet/internal/domain"
	"github.com/stretchr/testify/assert"
)

func rec(words int, readMs int64, scroll int) domain.PageRecord {
	return domain.PageRecord{WordCount: words, ActiveReadTimeMs: readMs, MaxScrollPercent: scroll}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		rec      domain.PageRecord
		category string
		want     int
	}{
		{"ai chip long read", rec(1200, 20000, 40), "Technology", 10},
		{"entertainment short page", rec(150, 0, 0), "Entertainment", 1},
		{"entertainment short page engaged", rec(150, 60000, 90), "Entertainment", 1},
		{"dead zone neutral", rec(350, 60000, 90), "Politics", 5},
		{"dead zone lower edge", rec(200, 0, 0), "Uncategorized", 5},
		{"dead zone upper edge", rec(500, 60000, 90), "Uncategorized", 5},
		{"medium read engaged", rec(501, 5000, 10), "Politics", 6},
		{"medium read not scrolled", rec(800, 60000, 9), "Politics", 5},
		{"medium read too quick", rec(800, 4999, 50), "Politics", 5},
		{"long read needs more than 15s", rec(1001, 15000, 50), "Science", 7},
		{"long read over 15s", rec(1001, 15001, 50), "History", 10},
		{"long read is not medium fallback", rec(5000, 6000, 50), "Politics", 5},
		{"sports long read", rec(2000, 30000, 100), "Sports", 6},
		{"unknown category no adjustment", rec(300, 0, 0), "Cooking", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.rec, tt.category))
		})
	}
}

func TestExplain(t *testing.T) {
	b := Explain(rec(150, 0, 0), "Entertainment")

	assert.Equal(t, Breakdown{Baseline: 5, Category: -2, Length: -2, Raw: 1, Score: 1}, b)
}

func TestScore_AlwaysInRange(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	categories := []string{"Technology", "Sports", "Politics", "History", "Science", "Entertainment", "Uncategorized", ""}
	edges := []int{math.MinInt, -1, 0, 199, 200, 500, 501, 1000, 1001, math.MaxInt}

	for i := 0; i < 5000; i++ {
		words := r.IntN(4000) - 1000
		if i%10 == 0 {
			words = edges[r.IntN(len(edges))]
		}
		readMs := r.Int64N(120000) - 10000
		if i%17 == 0 {
			readMs = math.MaxInt64
		}
		scroll := r.IntN(400) - 150

		s := Score(rec(words, readMs, scroll), categories[r.IntN(len(categories))])
		assert.GreaterOrEqual(t, s, MinScore)
		assert.LessOrEqual(t, s, MaxScore)
	}
}

func TestScore_MonotonicInLength(t *testing.T) {
	for _, category := range []string{"Technology", "Sports", "Politics", "Uncategorized"} {
		prev := 0
		for _, words := range []int{150, 600, 1200} {
			s := Score(rec(words, 20000, 50), category)
			assert.GreaterOrEqual(t, s, prev, "category %s words %d", category, words)
			prev = s
		}
	}
}
