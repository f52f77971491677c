package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pbaille/nexusdiet/internal/domain"
)

//go:embed schema.sql
var schema string

// ErrInvalidLimit is returned for non-positive limits and day counts
var ErrInvalidLimit = errors.New("limit must be positive")

// ErrNotFound is returned by GetVisit for an unknown id
var ErrNotFound = errors.New("visit not found")

// Store handles database operations on the visit log
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces time.Now; its Location defines "today"
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new Store with the given database path
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: SQLite has a single writer, and :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// AddVisit appends a visit and returns its id.
// A record whose ViewID is already stored is not inserted again; the existing id is returned.
func (s *Store) AddVisit(ctx context.Context, rec domain.EnrichedRecord) (int64, error) {
	visitedAt := rec.VisitedAt(s.now())
	if rec.Timestamp == "" {
		rec.Timestamp = domain.FormatTimestamp(visitedAt)
	}
	rec.ID = 0

	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("encode visit: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO visits (view_id, url, title, category, nutrition_score, word_count, timestamp, visited_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(view_id) DO NOTHING`,
		nullString(rec.ViewID), rec.URL, rec.DisplayTitle(), nullString(rec.Category), rec.NutritionScore,
		rec.WordCount, rec.Timestamp, visitedAt.UnixMilli(), string(payload),
	)
	if err != nil {
		return 0, fmt.Errorf("insert visit: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert visit: %w", err)
	}
	if n == 0 {
		var id int64
		err := s.db.QueryRowContext(ctx, "SELECT id FROM visits WHERE view_id = ?", rec.ViewID).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("find duplicate visit: %w", err)
		}
		return id, nil
	}

	return res.LastInsertId()
}

// GetVisit retrieves a visit by id
func (s *Store) GetVisit(ctx context.Context, id int64) (*domain.EnrichedRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, payload FROM visits WHERE id = ?", id)
	rec, err := scanVisit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get visit: %w", err)
	}
	return &rec, nil
}

// RecentVisits returns up to limit visits, most recent first
func (s *Store) RecentVisits(ctx context.Context, limit int) ([]domain.EnrichedRecord, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, payload FROM visits ORDER BY visited_at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	return scanVisits(rows)
}

// SearchVisits performs a simple text search over titles and URLs
func (s *Store) SearchVisits(ctx context.Context, query string, limit int) ([]domain.EnrichedRecord, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, payload FROM visits WHERE title LIKE ? OR url LIKE ? ORDER BY visited_at DESC, id DESC LIMIT ?",
		pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search visits: %w", err)
	}
	defer rows.Close()

	return scanVisits(rows)
}

// Stats aggregates visits from local midnight to now
func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	var stats domain.Stats
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(word_count), 0) FROM visits WHERE visited_at >= ?",
		midnight(s.now()).UnixMilli(),
	).Scan(&stats.PagesToday, &stats.WordsToday)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}

// DailyWords returns per-day totals for the last days local days, oldest first, including today
func (s *Store) DailyWords(ctx context.Context, days int) ([]domain.DayTotal, error) {
	if days <= 0 {
		return nil, ErrInvalidLimit
	}

	now := s.now()
	start := midnight(now).AddDate(0, 0, -(days - 1))

	totals := make([]domain.DayTotal, days)
	index := make(map[string]int, days)
	for i := range totals {
		key := start.AddDate(0, 0, i).Format(time.DateOnly)
		totals[i].Date = key
		index[key] = i
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT visited_at, word_count FROM visits WHERE visited_at >= ?",
		start.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("daily words: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var visitedAt int64
		var words int
		if err := rows.Scan(&visitedAt, &words); err != nil {
			return nil, fmt.Errorf("scan daily words: %w", err)
		}
		key := time.UnixMilli(visitedAt).In(now.Location()).Format(time.DateOnly)
		if i, ok := index[key]; ok {
			totals[i].Pages++
			totals[i].Words += words
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("daily words: %w", err)
	}

	return totals, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVisit(row scanner) (domain.EnrichedRecord, error) {
	var id int64
	var payload string
	if err := row.Scan(&id, &payload); err != nil {
		return domain.EnrichedRecord{}, err
	}

	var rec domain.EnrichedRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return domain.EnrichedRecord{}, fmt.Errorf("decode visit %d: %w", id, err)
	}
	rec.ID = id
	return rec, nil
}

func scanVisits(rows *sql.Rows) ([]domain.EnrichedRecord, error) {
	var visits []domain.EnrichedRecord
	for rows.Next() {
		rec, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		visits = append(visits, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate visits: %w", err)
	}
	return visits, nil
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
