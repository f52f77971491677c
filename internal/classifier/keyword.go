package classifier

import (
	"context"
	"regexp"
	"strings"
	"sync"

	ahocorasick "github.com/cloudflare/ahocorasick"
	"github.com/pbaille/nexusdiet/internal/domain"
	"github.com/pbaille/nexusdiet/internal/logger"
)

// Uncategorized is returned when no category clears the threshold
const Uncategorized = "Uncategorized"

// Field weights and the noise threshold
const (
	titleWeight       = 3 // presence only
	keywordsWeight    = 3 // per occurrence
	descriptionWeight = 2 // per occurrence
	contentWeight     = 1 // per occurrence
	minWinningScore   = 2
)

// Categorizer assigns a category label to a page record.
// Implementations may block; the pipeline treats any error as a classification failure.
type Categorizer interface {
	Categorize(ctx context.Context, rec domain.PageRecord) (string, error)
}

// CategoryScore is one category's accumulated total
type CategoryScore struct {
	Label string `json:"label"`
	Score int    `json:"score"`
}

// KeywordCategorizer scores pages by weighted whole-word trigger frequency
type KeywordCategorizer struct {
	dict     *Dictionary
	logger   logger.Logger
	patterns map[string]*regexp.Regexp // trigger -> whole-word pattern

	// Matcher.Match mutates internal counters
	mu       sync.Mutex
	matcher  *ahocorasick.Matcher
	triggers []string // matcher dictionary, index-aligned
}

// NewKeywordCategorizer compiles the dictionary's triggers once
func NewKeywordCategorizer(dict *Dictionary, log logger.Logger) *KeywordCategorizer {
	if log == nil {
		log = logger.NewNop()
	}

	k := &KeywordCategorizer{
		dict:     dict,
		logger:   log,
		patterns: make(map[string]*regexp.Regexp),
	}
	for _, c := range dict.categories {
		for _, w := range c.Triggers {
			if _, ok := k.patterns[w]; ok {
				continue
			}
			k.patterns[w] = regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`)
			k.triggers = append(k.triggers, w)
		}
	}
	if len(k.triggers) > 0 {
		k.matcher = ahocorasick.NewStringMatcher(k.triggers)
	}

	return k
}

// Categorize returns the top category, or Uncategorized below the threshold
func (k *KeywordCategorizer) Categorize(ctx context.Context, rec domain.PageRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	scores := k.Scores(rec)

	top, best := Uncategorized, 0
	for _, s := range scores {
		if s.Score > best {
			top, best = s.Label, s.Score
		}
	}
	if best < minWinningScore {
		top = Uncategorized
	}

	k.logger.Debug("page categorized",
		logger.String("url", rec.URL),
		logger.String("category", top),
		logger.Int("score", best),
	)

	return top, nil
}

// Scores returns every category's total in dictionary order
func (k *KeywordCategorizer) Scores(rec domain.PageRecord) []CategoryScore {
	title := strings.ToLower(rec.Title)
	keywords := strings.ToLower(rec.Keywords)
	description := strings.ToLower(rec.Description)
	content := strings.ToLower(rec.ContentClean)

	present := k.candidates(title, keywords, description, content)

	scores := make([]CategoryScore, len(k.dict.categories))
	for i, c := range k.dict.categories {
		scores[i].Label = c.Label
		for _, w := range c.Triggers {
			if !present[w] {
				continue
			}
			re := k.patterns[w]
			if re.MatchString(title) {
				scores[i].Score += titleWeight
			}
			scores[i].Score += count(re, keywords) * keywordsWeight
			scores[i].Score += count(re, description) * descriptionWeight
			scores[i].Score += count(re, content) * contentWeight
		}
	}

	return scores
}

// candidates returns triggers occurring anywhere as substrings; only those can match whole-word
func (k *KeywordCategorizer) candidates(fields ...string) map[string]bool {
	present := make(map[string]bool)
	if k.matcher == nil {
		return present
	}

	text := []byte(strings.Join(fields, "\n"))

	k.mu.Lock()
	hits := k.matcher.Match(text)
	k.mu.Unlock()

	for _, idx := range hits {
		if idx < len(k.triggers) {
			present[k.triggers[idx]] = true
		}
	}
	return present
}

// Dictionary returns the dictionary the categorizer was built from
func (k *KeywordCategorizer) Dictionary() *Dictionary {
	return k.dict
}

func count(re *regexp.Regexp, s string) int {
	if s == "" {
		return 0
	}
	return len(re.FindAllStringIndex(s, -1))
}
