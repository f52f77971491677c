package domain

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_DerivesWordCountFromContent(t *testing.T) {
	rec := PageRecord{
		ContentClean: "  one two\tthree\n four  ",
		WordCount:    9999,
	}

	got := rec.Normalize()

	assert.Equal(t, 4, got.WordCount)
	assert.Equal(t, 9999, rec.WordCount, "input must not be mutated")
}

func TestNormalize_CapsSubheadingsAndClampsEngagement(t *testing.T) {
	rec := PageRecord{
		H2s:              []string{"a", "b", "c", "d", "e", "f", "g"},
		H3s:              []string{"x"},
		ActiveReadTimeMs: -40,
		MaxScrollPercent: 140,
	}

	got := rec.Normalize()

	assert.Len(t, got.H2s, MaxSubheadings)
	assert.Equal(t, []string{"x"}, got.H3s)
	assert.Equal(t, []string{}, got.H1s)
	assert.Equal(t, int64(0), got.ActiveReadTimeMs)
	assert.Equal(t, 100, got.MaxScrollPercent)

	got.H2s[0] = "changed"
	assert.Equal(t, "a", rec.H2s[0], "normalized copy must not alias the input")
}

func TestVisitedAt(t *testing.T) {
	fallback := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name      string
		timestamp string
		want      time.Time
	}{
		{"iso with millis", "2024-05-06T07:08:09.123Z", time.Date(2024, 5, 6, 7, 8, 9, 123000000, time.UTC)},
		{"empty", "", fallback},
		{"garbage", "yesterday", fallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PageRecord{Timestamp: tt.timestamp}.VisitedAt(fallback)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestFormatTimestamp_RoundTrips(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 123000000, time.UTC)

	s := FormatTimestamp(ts)

	assert.Equal(t, "2024-05-06T07:08:09.123Z", s)
	assert.True(t, ts.Equal(PageRecord{Timestamp: s}.VisitedAt(time.Time{})))
}

func TestDisplayTitle(t *testing.T) {
	assert.Equal(t, "OG", PageRecord{OGTitle: "OG", Title: "T", URL: "u"}.DisplayTitle())
	assert.Equal(t, "T", PageRecord{Title: "T", URL: "u"}.DisplayTitle())
	assert.Equal(t, "u", PageRecord{URL: "u"}.DisplayTitle())
}

func TestPageRecord_UnmarshalLenientEngagement(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantReadMs int64
		wantScroll int
	}{
		{name: "integers", payload: `{"activeReadTimeMs":20000,"maxScrollPercent":40}`, wantReadMs: 20000, wantScroll: 40},
		{name: "fractional scroll rounds", payload: `{"activeReadTimeMs":20000,"maxScrollPercent":37.5}`, wantReadMs: 20000, wantScroll: 38},
		{name: "fractional read time rounds", payload: `{"activeReadTimeMs":1499.4,"maxScrollPercent":12.2}`, wantReadMs: 1499, wantScroll: 12},
		{name: "numeric strings", payload: `{"activeReadTimeMs":"20000","maxScrollPercent":" 15 "}`, wantReadMs: 20000, wantScroll: 15},
		{name: "non-numeric strings", payload: `{"activeReadTimeMs":"soon","maxScrollPercent":"half"}`},
		{name: "booleans and objects", payload: `{"activeReadTimeMs":true,"maxScrollPercent":{"v":1}}`},
		{name: "nulls", payload: `{"activeReadTimeMs":null,"maxScrollPercent":null}`},
		{name: "missing", payload: `{}`},
		{name: "huge saturates", payload: `{"activeReadTimeMs":1e300,"maxScrollPercent":-1e300}`, wantReadMs: math.MaxInt32, wantScroll: math.MinInt32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec PageRecord
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &rec))
			assert.Equal(t, tt.wantReadMs, rec.ActiveReadTimeMs)
			assert.Equal(t, tt.wantScroll, rec.MaxScrollPercent)
		})
	}
}

func TestPageRecord_UnmarshalKeepsOtherFields(t *testing.T) {
	var rec PageRecord
	require.NoError(t, json.Unmarshal([]byte(`{
		"viewId":"v1","url":"https://a.test","title":"T","h1s":["H"],
		"wordCount":12.7,"contentClean":"a b","maxScrollPercent":"x","timestamp":"2024-06-10T10:00:00.000Z"
	}`), &rec))

	assert.Equal(t, "v1", rec.ViewID)
	assert.Equal(t, "https://a.test", rec.URL)
	assert.Equal(t, "T", rec.Title)
	assert.Equal(t, []string{"H"}, rec.H1s)
	assert.Equal(t, 13, rec.WordCount)
	assert.Equal(t, "a b", rec.ContentClean)
	assert.Equal(t, "2024-06-10T10:00:00.000Z", rec.Timestamp)

	assert.Error(t, json.Unmarshal([]byte(`{"url":42}`), &rec), "non-engagement fields stay strict")
}

func TestEnrichedRecord_JSONRoundTrip(t *testing.T) {
	score := 7
	in := EnrichedRecord{
		ID:             9,
		PageRecord:     PageRecord{URL: "https://a.test", ActiveReadTimeMs: 6000, MaxScrollPercent: 30},
		Category:       "Science",
		NutritionScore: &score,
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out EnrichedRecord
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, int64(9), out.ID)
	assert.Equal(t, "Science", out.Category)
	require.NotNil(t, out.NutritionScore)
	assert.Equal(t, 7, *out.NutritionScore)
	assert.Equal(t, "https://a.test", out.URL)
	assert.Equal(t, 30, out.MaxScrollPercent)

	var degraded EnrichedRecord
	require.NoError(t, json.Unmarshal([]byte(`{"url":"https://b.test","maxScrollPercent":55.5}`), &degraded))
	assert.False(t, degraded.Enriched())
	assert.Equal(t, 56, degraded.MaxScrollPercent)
}
