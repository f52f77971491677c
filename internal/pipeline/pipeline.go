// Package pipeline enriches raw page records with a category and nutrition
// score and hands them to the visit store and the quick-access cache.
package pipeline

import (
	"context"
	"time"

	"github.com/pbaille/nexusdiet/internal/classifier"
	"github.com/pbaille/nexusdiet/internal/domain"
	"github.com/pbaille/nexusdiet/internal/logger"
	"github.com/pbaille/nexusdiet/internal/nutrition"
	"github.com/pbaille/nexusdiet/internal/telemetry"
)

// VisitStore persists enriched records
type VisitStore interface {
	AddVisit(ctx context.Context, rec domain.EnrichedRecord) (int64, error)
}

// LastSeenCache receives every enriched record
type LastSeenCache interface {
	SetLast(ctx context.Context, rec domain.EnrichedRecord) error
}

// Pipeline orchestrates categorization, scoring and hand-off
type Pipeline struct {
	categorizer classifier.Categorizer
	visits      VisitStore
	cache       LastSeenCache
	metrics     *telemetry.Metrics
	logger      logger.Logger
}

// New builds a Pipeline; metrics may be nil
func New(c classifier.Categorizer, visits VisitStore, cache LastSeenCache, metrics *telemetry.Metrics, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewNop()
	}
	return &Pipeline{
		categorizer: c,
		visits:      visits,
		cache:       cache,
		metrics:     metrics,
		logger:      log,
	}
}

// Enrich classifies and scores raw, then persists and caches the result.
// It never fails: a categorization error yields an unenriched record, and
// store or cache errors are logged and dropped.
func (p *Pipeline) Enrich(ctx context.Context, raw domain.PageRecord) domain.EnrichedRecord {
	start := time.Now()
	rec := domain.EnrichedRecord{PageRecord: raw.Normalize()}
	log := p.logger.With(logger.String("url", rec.URL))

	category, err := p.categorizer.Categorize(ctx, rec.PageRecord)
	if err != nil {
		log.Warn("categorization failed, storing visit without enrichment", logger.Err(err))
		p.metrics.ClassificationFailed()
	} else {
		score := nutrition.Score(rec.PageRecord, category)
		rec.Category = category
		rec.NutritionScore = &score
	}

	id, err := p.visits.AddVisit(ctx, rec)
	if err != nil {
		log.Error("persist visit", logger.Err(err))
		p.metrics.PersistenceFailed()
	} else {
		rec.ID = id
	}

	if err := p.cache.SetLast(ctx, rec); err != nil {
		log.Warn("update last page cache", logger.Err(err))
		p.metrics.CacheFailed()
	}

	p.metrics.ObserveEnriched(rec.Category, rec.NutritionScore, time.Since(start))
	log.Info("visit recorded",
		logger.Int64("id", rec.ID),
		logger.String("category", rec.Category),
		logger.Int("word_count", rec.WordCount),
		logger.Bool("enriched", rec.Enriched()),
	)

	return rec
}
