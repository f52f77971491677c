package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pbaille/nexusdiet/internal/cache"
	"github.com/pbaille/nexusdiet/internal/classifier"
	"github.com/pbaille/nexusdiet/internal/domain"
	"github.com/pbaille/nexusdiet/internal/pipeline"
	"github.com/pbaille/nexusdiet/internal/store"
	"github.com/pbaille/nexusdiet/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server *Server
	store  *store.Store
	last   *cache.Memory
}

func setup(t *testing.T, maxBody int64) testEnv {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	last := cache.NewMemory()
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	dict := classifier.DefaultDictionary()
	p := pipeline.New(classifier.NewKeywordCategorizer(dict, nil), st, last, metrics, nil)

	srv := New(Deps{
		Visits:     st,
		Enricher:   p,
		Last:       last,
		Categories: dict.Labels(),
		Metrics:    metrics.Handler(),
	}, ":0", maxBody)

	return testEnv{server: srv, store: st, last: last}
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := setup(t, 0)

	rec := do(t, env.server.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflight(t *testing.T) {
	env := setup(t, 0)

	rec := do(t, env.server.Handler(), http.MethodOptions, "/visits", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestAddVisit_EnrichesAndPersists(t *testing.T) {
	env := setup(t, 0)
	h := env.server.Handler()

	rec := do(t, h, http.MethodPost, "/visits", map[string]any{
		"url":              "https://example.com/ai-chip",
		"title":            "New AI chip breakthrough",
		"keywords":         "technology, ai",
		"contentClean":     strings.Repeat("silicon ", 1200),
		"activeReadTimeMs": 20000,
		"maxScrollPercent": 40,
		"viewId":           "view-42",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got domain.EnrichedRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Technology", got.Category)
	require.NotNil(t, got.NutritionScore)
	assert.Equal(t, 10, *got.NutritionScore)
	assert.Equal(t, 1200, got.WordCount)
	assert.NotZero(t, got.ID)

	// redelivery of the same view is not stored twice
	rec = do(t, h, http.MethodPost, "/visits", map[string]any{"url": "https://example.com/ai-chip", "viewId": "view-42"})
	require.Equal(t, http.StatusCreated, rec.Code)

	visits, err := env.store.RecentVisits(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, visits, 1)

	rec = do(t, h, http.MethodGet, "/last", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"url":"https://example.com/ai-chip"`)
}

func TestAddVisit_FractionalEngagementAccepted(t *testing.T) {
	env := setup(t, 0)

	req := httptest.NewRequest(http.MethodPost, "/visits",
		strings.NewReader(`{"url":"https://a.test","activeReadTimeMs":"9000","maxScrollPercent":37.5}`))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got domain.EnrichedRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(9000), got.ActiveReadTimeMs)
	assert.Equal(t, 38, got.MaxScrollPercent)
}

func TestAddVisit_BadRequests(t *testing.T) {
	env := setup(t, 64)
	h := env.server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/visits", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/visits", map[string]any{"title": "no url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/visits", map[string]any{"url": "https://a.test", "contentClean": strings.Repeat("x", 200)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestIngest(t *testing.T) {
	env := setup(t, 0)
	h := env.server.Handler()

	page := `<html><head><title>Election night</title><meta name="keywords" content="politics"></head>
<body><h1>Senate results</h1><p>` + strings.Repeat("The vote count continued late into the night. ", 30) + `</p></body></html>`

	rec := do(t, h, http.MethodPost, "/ingest", IngestRequest{
		URL:              "https://news.test/election",
		HTML:             page,
		ActiveReadTimeMs: 8000,
		MaxScrollPercent: 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got domain.EnrichedRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Politics", got.Category)
	assert.Equal(t, []string{"Senate results"}, got.H1s)
	assert.Equal(t, int64(8000), got.ActiveReadTimeMs)

	rec = do(t, h, http.MethodPost, "/ingest", IngestRequest{URL: "https://news.test"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAndGetVisits(t *testing.T) {
	env := setup(t, 0)
	h := env.server.Handler()

	rec := do(t, h, http.MethodGet, "/visits", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"visits":[],"limit":20}`, rec.Body.String())

	for _, u := range []string{"https://a.test", "https://b.test", "https://c.test"} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/visits", map[string]any{"url": u}).Code)
	}

	rec = do(t, h, http.MethodGet, "/visits?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Visits []domain.EnrichedRecord `json:"visits"`
		Limit  int                     `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Limit)
	require.Len(t, list.Visits, 2)

	rec = do(t, h, http.MethodGet, "/visits/"+itoa(list.Visits[0].ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/visits/9999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/visits/abc", nil).Code)

	rec = do(t, h, http.MethodGet, "/search?q=b.test", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://b.test")
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/search", nil).Code)
}

func TestLast_EmptyIs404(t *testing.T) {
	env := setup(t, 0)

	assert.Equal(t, http.StatusNotFound, do(t, env.server.Handler(), http.MethodGet, "/last", nil).Code)
}

func TestStatsEndpoints(t *testing.T) {
	env := setup(t, 0)
	h := env.server.Handler()

	rec := do(t, h, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pagesToday":0,"wordsToday":0}`, rec.Body.String())

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/visits", map[string]any{
		"url":          "https://a.test",
		"contentClean": "one two three",
	}).Code)

	rec = do(t, h, http.MethodGet, "/stats", nil)
	assert.JSONEq(t, `{"pagesToday":1,"wordsToday":3}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/stats/daily?days=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var daily struct {
		Days   []domain.DayTotal `json:"days"`
		Window int               `json:"window"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &daily))
	assert.Equal(t, 3, daily.Window)
	require.Len(t, daily.Days, 3)
	assert.Equal(t, 3, daily.Days[2].Words)
}

func TestCategoriesAndMetrics(t *testing.T) {
	env := setup(t, 0)
	h := env.server.Handler()

	rec := do(t, h, http.MethodGet, "/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"categories":["Technology","Sports","Politics","History","Science","Entertainment"]}`, rec.Body.String())

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/visits", map[string]any{"url": "https://a.test"}).Code)

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nexusdiet_visits_enriched_total")
}

func TestIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{query: "", want: 20},
		{query: "limit=5", want: 5},
		{query: "limit=0", want: 20},
		{query: "limit=-3", want: 20},
		{query: "limit=abc", want: 20},
		{query: "limit=100000", want: maxLimit},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/visits?"+tt.query, nil)
			assert.Equal(t, tt.want, intParam(r, "limit", 20))
		})
	}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
