// Package nutrition derives the 1-10 reading-quality heuristic for a page view.
package nutrition

import "github.com/pbaille/nexusdiet/internal/domain"

const (
	MinScore = 1
	MaxScore = 10
	baseline = 5

	educationalBonus = 2
	leisurePenalty   = -2

	longReadWords   = 1000
	mediumReadWords = 500
	shortReadWords  = 200

	longReadBonus   = 3
	mediumReadBonus = 1
	shortReadMalus  = -2

	minReadSeconds     = 5.0
	minScrollPercent   = 10
	longReadMinSeconds = 15.0
)

var (
	educational = map[string]bool{"Science": true, "History": true, "Technology": true}
	leisure     = map[string]bool{"Entertainment": true, "Sports": true}
)

// Breakdown lists each adjustment applied on top of the baseline
type Breakdown struct {
	Baseline     int  `json:"baseline"`
	Category     int  `json:"category"`
	Length       int  `json:"length"`
	ActuallyRead bool `json:"actuallyRead"`
	Raw          int  `json:"raw"`
	Score        int  `json:"score"`
}

// Score returns the clamped nutrition score for rec classified as category
func Score(rec domain.PageRecord, category string) int {
	return Explain(rec, category).Score
}

// Explain computes the score along with its adjustments
func Explain(rec domain.PageRecord, category string) Breakdown {
	b := Breakdown{Baseline: baseline}

	switch {
	case educational[category]:
		b.Category = educationalBonus
	case leisure[category]:
		b.Category = leisurePenalty
	}

	readSeconds := float64(rec.ActiveReadTimeMs) / 1000
	b.ActuallyRead = readSeconds >= minReadSeconds && rec.MaxScrollPercent >= minScrollPercent

	// Branches are exclusive; 200..500 words is deliberately neutral.
	switch {
	case rec.WordCount > longReadWords:
		if b.ActuallyRead && readSeconds > longReadMinSeconds {
			b.Length = longReadBonus
		}
	case rec.WordCount > mediumReadWords:
		if b.ActuallyRead {
			b.Length = mediumReadBonus
		}
	case rec.WordCount < shortReadWords:
		b.Length = shortReadMalus
	}

	b.Raw = b.Baseline + b.Category + b.Length
	b.Score = clamp(b.Raw)
	return b
}

func clamp(s int) int {
	if s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}
