// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agri holds the AgriPortal domain catalog: the kinds of data the
// portal serves, the store table behind each kind, and the reference data
// (states, districts, crops, prices, fertilizers) shared by generators and seed datasets.
package agri

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
)

// Kind names a category of portal data.
type Kind string

const (
	KindWeather                  Kind = "weather"
	KindMarketPrice              Kind = "market_price"
	KindCropRecommendation       Kind = "crop_recommendation"
	KindFertilizerRecommendation Kind = "fertilizer_recommendation"
)

// Spec describes how a Kind maps onto the persisted store.
type Spec struct {
	Kind Kind

	// Table is the store table holding rows of this kind.
	Table string

	// RequiredParams must be present and non-blank in every request.
	RequiredParams []string

	// OptionalParams may narrow a request.
	OptionalParams []string

	// Columns maps request parameter names to table columns.
	// Parameters absent from the map use their own name.
	Columns map[string]string

	// OrderBy is the column that selects the most recent row. Empty means
	// the store's natural order.
	OrderBy string

	// NumericFields must be present and finite in a usable payload.
	NumericFields []string

	// GenerationFunction is the on-demand generator for this kind.
	// Empty means the kind has none.
	GenerationFunction string
}

// Column returns the table column for a request parameter.
func (s Spec) Column(param string) string {
	if c, ok := s.Columns[param]; ok {
		return c
	}
	return param
}

// Allows reports whether param is a required or optional parameter.
func (s Spec) Allows(param string) bool {
	for _, p := range s.RequiredParams {
		if p == param {
			return true
		}
	}
	for _, p := range s.OptionalParams {
		if p == param {
			return true
		}
	}
	return false
}

var specs = map[Kind]Spec{
	KindWeather: {
		Kind:               KindWeather,
		Table:              "weather_data",
		RequiredParams:     []string{"state", "district"},
		OrderBy:            "forecast_date",
		NumericFields:      []string{"temperature", "humidity", "rainfall"},
		GenerationFunction: "generate-weather",
	},
	KindMarketPrice: {
		Kind:               KindMarketPrice,
		Table:              "market_prices",
		RequiredParams:     []string{"state", "crop"},
		OptionalParams:     []string{"market"},
		Columns:            map[string]string{"crop": "crop_name", "market": "market_name"},
		OrderBy:            "updated_at",
		NumericFields:      []string{"min_price", "max_price", "modal_price"},
		GenerationFunction: "get-market-prices",
	},
	KindCropRecommendation: {
		Kind:               KindCropRecommendation,
		Table:              "crop_recommendations",
		RequiredParams:     []string{"state", "crop"},
		OptionalParams:     []string{"soil_type"},
		Columns:            map[string]string{"crop": "crop_name"},
		NumericFields:      []string{"min_temperature", "max_temperature", "min_rainfall", "max_rainfall"},
		GenerationFunction: "generate-crop-recommendations",
	},
	// Fertilizer rows are text only; any non-empty row is usable.
	KindFertilizerRecommendation: {
		Kind:               KindFertilizerRecommendation,
		Table:              "fertilizer_recommendations",
		RequiredParams:     []string{"crop"},
		Columns:            map[string]string{"crop": "crop_name"},
		GenerationFunction: "generate-fertilizer-recommendations",
	},
}

// Lookup returns the Spec for kind.
func Lookup(kind Kind) (Spec, bool) {
	s, ok := specs[kind]
	return s, ok
}

// KindForTable returns the Kind stored in table.
func KindForTable(table string) (Kind, bool) {
	for k, s := range specs {
		if s.Table == table {
			return k, true
		}
	}
	return "", false
}

// Kinds returns every known kind in sorted order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(specs))
	for k := range specs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// Payload
// =============================================================================

// Payload is a row-shaped record as read from or written to the store.
type Payload map[string]any

// Clone returns a deep copy of p. Nested maps and slices of the shapes
// produced by JSON decoding and by the portal's sources are copied; any
// other value is shared.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Payload:
		return t.Clone()
	case map[string]any:
		if t == nil {
			return t
		}
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		if t == nil {
			return t
		}
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	case []map[string]any:
		if t == nil {
			return t
		}
		s := make([]map[string]any, len(t))
		for i, e := range t {
			s[i], _ = cloneValue(e).(map[string]any)
		}
		return s
	case []Payload:
		if t == nil {
			return t
		}
		s := make([]Payload, len(t))
		for i, e := range t {
			s[i] = e.Clone()
		}
		return s
	case []string:
		return append([]string(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	default:
		return v
	}
}

// String returns the value at key if it is a string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Float returns the value at key as a float64. The second result is false
// when the key is missing, not numeric, NaN or infinite.
func (p Payload) Float(key string) (float64, bool) {
	var f float64
	switch v := p[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case int32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if !IsFinite(f) {
		return 0, false
	}
	return f, true
}

// IsFinite reports whether f is neither NaN nor infinite.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
