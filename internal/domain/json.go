package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// UnmarshalJSON decodes a PageRecord, reading the numeric engagement fields
// leniently: fractions are rounded, numeric strings are parsed and anything
// else decodes as 0.
func (p *PageRecord) UnmarshalJSON(data []byte) error {
	type plain PageRecord
	aux := struct {
		*plain
		WordCount        json.RawMessage `json:"wordCount"`
		ActiveReadTimeMs json.RawMessage `json:"activeReadTimeMs"`
		MaxScrollPercent json.RawMessage `json:"maxScrollPercent"`
	}{plain: (*plain)(p)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	p.WordCount = int(lenientInt(aux.WordCount))
	p.ActiveReadTimeMs = lenientInt(aux.ActiveReadTimeMs)
	p.MaxScrollPercent = int(lenientInt(aux.MaxScrollPercent))
	return nil
}

// UnmarshalJSON decodes the page fields with PageRecord's rules, then the
// enrichment fields. Without it the promoted PageRecord method would drop them.
func (e *EnrichedRecord) UnmarshalJSON(data []byte) error {
	var page PageRecord
	if err := json.Unmarshal(data, &page); err != nil {
		return err
	}

	var extra struct {
		ID             int64  `json:"id"`
		Category       string `json:"category"`
		NutritionScore *int   `json:"nutritionScore"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}

	*e = EnrichedRecord{
		ID:             extra.ID,
		PageRecord:     page,
		Category:       extra.Category,
		NutritionScore: extra.NutritionScore,
	}
	return nil
}

// lenientInt reads a JSON number or numeric string, rounded and saturated to int32 range
func lenientInt(raw json.RawMessage) int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0
		}
		if f, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return 0
		}
	}

	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int64(math.Round(f))
}
