// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datasets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/synthetic"
)

var asOf = time.Date(2025, time.July, 1, 12, 0, 0, 0, time.UTC)

func TestNamesAndLookup(t *testing.T) {
	assert.Equal(t, []string{"crop_recommendations", "fertilizer_recommendations", "market_prices", "weather_data"}, Names())

	for _, name := range Names() {
		d, err := Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, name, d.Name)
		_, ok := agri.KindForTable(d.DefaultTable)
		assert.True(t, ok, "default table %s has no kind", d.DefaultTable)
	}

	_, err := Lookup("recipes")
	assert.Error(t, err)
}

func TestDatasets_SizesAndShape(t *testing.T) {
	tests := []struct {
		name     string
		kind     agri.Kind
		min, max int
	}{
		{"weather_data", agri.KindWeather, 40, 40},
		{"market_prices", agri.KindMarketPrice, 6 * len(agri.MarketCrops), 10 * len(agri.MarketCrops)},
		{"crop_recommendations", agri.KindCropRecommendation, 15 * 5 * 3 * 2, 15 * 5 * 3 * 2},
		{"fertilizer_recommendations", agri.KindFertilizerRecommendation, 15, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Lookup(tt.name)
			require.NoError(t, err)

			rows := d.Generate(7, asOf)
			assert.GreaterOrEqual(t, len(rows), tt.min)
			assert.LessOrEqual(t, len(rows), tt.max)
			for _, row := range rows {
				require.NoError(t, synthetic.ValidateShape(tt.kind, row))
			}
		})
	}
}

func TestDatasets_Deterministic(t *testing.T) {
	for _, name := range Names() {
		d, _ := Lookup(name)
		assert.Equal(t, d.Generate(99, asOf), d.Generate(99, asOf), name)
	}
}

func TestMarketPrices_UpdatedWithinWeek(t *testing.T) {
	for _, row := range MarketPrices(3, asOf) {
		ts, err := time.Parse(time.RFC3339, row.String("updated_at"))
		require.NoError(t, err)
		assert.False(t, ts.After(asOf))
		assert.LessOrEqual(t, asOf.Sub(ts), 7*24*time.Hour+time.Second)

		minP, _ := row.Float("min_price")
		maxP, _ := row.Float("max_price")
		assert.GreaterOrEqual(t, minP, 500.0)
		assert.LessOrEqual(t, minP, maxP)
	}
}

func TestCropRecommendations_Coverage(t *testing.T) {
	seen := map[string]bool{}
	for _, row := range CropRecommendations(1, asOf) {
		seen[row.String("crop_name")+"|"+row.String("state")+"|"+row.String("soil_type")+"|"+row.String("climate_zone")] = true
	}
	assert.Len(t, seen, 15*5*3*2)
}

func TestFertilizerRecommendations_OnePerCrop(t *testing.T) {
	rows := FertilizerRecommendations(1, asOf)
	seen := map[string]bool{}
	for _, row := range rows {
		crop := row.String("crop_name")
		assert.False(t, seen[crop], crop)
		seen[crop] = true
		assert.NotEmpty(t, row["organic_fertilizers"])
		assert.NotEmpty(t, row["chemical_fertilizers"])
		assert.NotEmpty(t, row.String("application_timing"))
	}
	assert.True(t, seen["Rice"])
	assert.True(t, seen["Banana"])
}
