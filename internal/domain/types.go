package domain

import (
	"strings"
	"time"
)

// MaxSubheadings caps h2s and h3s per page view.
const MaxSubheadings = 5

// PageRecord is the raw snapshot of a single page view
type PageRecord struct {
	ViewID           string   `json:"viewId,omitempty"`
	URL              string   `json:"url"`
	Title            string   `json:"title"`
	OGTitle          string   `json:"ogTitle,omitempty"`
	Description      string   `json:"description"`
	Keywords         string   `json:"keywords,omitempty"`
	OGType           string   `json:"ogType,omitempty"`
	OGSiteName       string   `json:"ogSiteName,omitempty"`
	H1s              []string `json:"h1s"`
	H2s              []string `json:"h2s"`
	H3s              []string `json:"h3s"`
	WordCount        int      `json:"wordCount"`
	ContentSnippet   string   `json:"contentSnippet"`
	ContentClean     string   `json:"contentClean"`
	Favicon          string   `json:"favicon"`
	ActiveReadTimeMs int64    `json:"activeReadTimeMs"`
	MaxScrollPercent int      `json:"maxScrollPercent"`
	Timestamp        string   `json:"timestamp"`
}

// Normalize returns a copy with derived fields recomputed and ranges enforced.
// WordCount always comes from ContentClean.
func (p PageRecord) Normalize() PageRecord {
	p.WordCount = CountWords(p.ContentClean)
	p.H1s = copyStrings(p.H1s, -1)
	p.H2s = copyStrings(p.H2s, MaxSubheadings)
	p.H3s = copyStrings(p.H3s, MaxSubheadings)
	if p.ActiveReadTimeMs < 0 {
		p.ActiveReadTimeMs = 0
	}
	p.MaxScrollPercent = ClampPercent(p.MaxScrollPercent)
	return p
}

// VisitedAt parses Timestamp, falling back to fallback when it is missing or malformed.
func (p PageRecord) VisitedAt(fallback time.Time) time.Time {
	if p.Timestamp == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return fallback
	}
	return t
}

// DisplayTitle prefers the Open Graph title, then the document title, then the URL.
func (p PageRecord) DisplayTitle() string {
	switch {
	case p.OGTitle != "":
		return p.OGTitle
	case p.Title != "":
		return p.Title
	default:
		return p.URL
	}
}

// EnrichedRecord is a PageRecord augmented with its category and nutrition score.
// Both enrichment fields are absent when classification failed.
type EnrichedRecord struct {
	ID int64 `json:"id,omitempty"`
	PageRecord
	Category       string `json:"category,omitempty"`
	NutritionScore *int   `json:"nutritionScore,omitempty"`
}

// Enriched reports whether classification succeeded for this record
func (e EnrichedRecord) Enriched() bool {
	return e.Category != "" && e.NutritionScore != nil
}

// Stats aggregates today's reading, local midnight to now
type Stats struct {
	PagesToday int `json:"pagesToday"`
	WordsToday int `json:"wordsToday"`
}

// DayTotal is one bar of the daily reading chart
type DayTotal struct {
	Date  string `json:"date"`
	Pages int    `json:"pages"`
	Words int    `json:"words"`
}

// CountWords returns the whitespace-tokenized length of text
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// ClampPercent bounds a percentage to [0, 100]
func ClampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// FormatTimestamp renders t the way the extension does (UTC, millisecond precision)
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func copyStrings(in []string, limit int) []string {
	if in == nil {
		return []string{}
	}
	if limit >= 0 && len(in) > limit {
		in = in[:limit]
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
