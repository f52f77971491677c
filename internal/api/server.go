// Package api exposes the visit log and the enrichment pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pbaille/nexusdiet/internal/domain"
	"github.com/pbaille/nexusdiet/internal/extract"
	"github.com/pbaille/nexusdiet/internal/logger"
	"github.com/pbaille/nexusdiet/internal/store"
)

const (
	defaultVisitLimit = 20
	defaultDays       = 7
	maxLimit          = 500
	shutdownTimeout   = 10 * time.Second
)

// VisitReader is the read side of the visit store
type VisitReader interface {
	GetVisit(ctx context.Context, id int64) (*domain.EnrichedRecord, error)
	RecentVisits(ctx context.Context, limit int) ([]domain.EnrichedRecord, error)
	SearchVisits(ctx context.Context, query string, limit int) ([]domain.EnrichedRecord, error)
	Stats(ctx context.Context) (domain.Stats, error)
	DailyWords(ctx context.Context, days int) ([]domain.DayTotal, error)
}

// Enricher runs a raw record through the pipeline
type Enricher interface {
	Enrich(ctx context.Context, raw domain.PageRecord) domain.EnrichedRecord
}

// LastPage reads the quick-access cache
type LastPage interface {
	Last(ctx context.Context) (domain.EnrichedRecord, bool, error)
}

// Deps are the collaborators a Server needs
type Deps struct {
	Visits     VisitReader
	Enricher   Enricher
	Last       LastPage
	Categories []string
	Metrics    http.Handler
	Logger     logger.Logger
}

// Server handles HTTP requests for the reading-diet API
type Server struct {
	deps    Deps
	addr    string
	maxBody int64
}

// New creates a new API server; maxBody caps request bodies in bytes
func New(deps Deps, addr string, maxBody int64) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = http.NotFoundHandler()
	}
	if maxBody <= 0 {
		maxBody = extract.MaxBodyBytes
	}
	return &Server{deps: deps, addr: addr, maxBody: maxBody}
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Visits
	mux.HandleFunc("POST /visits", s.addVisit)
	mux.HandleFunc("POST /ingest", s.ingest)
	mux.HandleFunc("GET /visits", s.listVisits)
	mux.HandleFunc("GET /visits/{id}", s.getVisit)
	mux.HandleFunc("GET /search", s.searchVisits)
	mux.HandleFunc("GET /last", s.lastVisit)

	// Stats
	mux.HandleFunc("GET /stats", s.stats)
	mux.HandleFunc("GET /stats/daily", s.dailyStats)

	mux.HandleFunc("GET /categories", s.categories)
	mux.HandleFunc("GET /health", s.health)
	mux.Handle("GET /metrics", s.deps.Metrics)

	return withCORS(mux)
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("starting server", logger.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// withCORS adds CORS headers for the browser extension and dashboard
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) addVisit(w http.ResponseWriter, r *http.Request) {
	var rec domain.PageRecord
	if !s.decode(w, r, &rec) {
		return
	}
	if strings.TrimSpace(rec.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	writeJSON(w, http.StatusCreated, s.deps.Enricher.Enrich(r.Context(), rec))
}

// IngestRequest is a raw document forwarded by the proxy bridge
type IngestRequest struct {
	URL              string `json:"url"`
	HTML             string `json:"html"`
	ActiveReadTimeMs int64  `json:"activeReadTimeMs,omitempty"`
	MaxScrollPercent int    `json:"maxScrollPercent,omitempty"`
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.HTML) == "" {
		writeError(w, http.StatusBadRequest, "url and html are required")
		return
	}

	rec, err := extract.FromHTML(req.URL, req.HTML)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec.ActiveReadTimeMs = req.ActiveReadTimeMs
	rec.MaxScrollPercent = req.MaxScrollPercent

	writeJSON(w, http.StatusCreated, s.deps.Enricher.Enrich(r.Context(), rec))
}

func (s *Server) listVisits(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", defaultVisitLimit)

	visits, err := s.deps.Visits.RecentVisits(r.Context(), limit)
	if err != nil {
		s.internalError(w, "list visits", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"visits": nonNil(visits),
		"limit":  limit,
	})
}

func (s *Server) getVisit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid visit id")
		return
	}

	visit, err := s.deps.Visits.GetVisit(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "visit not found")
		return
	}
	if err != nil {
		s.internalError(w, "get visit", err)
		return
	}

	writeJSON(w, http.StatusOK, visit)
}

func (s *Server) searchVisits(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	visits, err := s.deps.Visits.SearchVisits(r.Context(), query, intParam(r, "limit", defaultVisitLimit))
	if err != nil {
		s.internalError(w, "search visits", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"visits": nonNil(visits),
		"query":  query,
	})
}

func (s *Server) lastVisit(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := s.deps.Last.Last(r.Context())
	if err != nil {
		s.internalError(w, "read last page", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no page recorded yet")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Visits.Stats(r.Context())
	if err != nil {
		s.internalError(w, "stats", err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) dailyStats(w http.ResponseWriter, r *http.Request) {
	days := intParam(r, "days", defaultDays)

	totals, err := s.deps.Visits.DailyWords(r.Context(), days)
	if err != nil {
		s.internalError(w, "daily stats", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":   totals,
		"window": days,
	})
}

func (s *Server) categories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"categories": s.deps.Categories,
	})
}

// decode reads a size-capped JSON body into dst, answering 400/413 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.deps.Logger.Error(op, logger.Err(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

// intParam parses a positive integer query parameter, capped at maxLimit
func intParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return min(n, maxLimit)
		}
	}
	return def
}

func nonNil(visits []domain.EnrichedRecord) []domain.EnrichedRecord {
	if visits == nil {
		return []domain.EnrichedRecord{}
	}
	return visits
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
