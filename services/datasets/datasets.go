// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datasets holds the named seed datasets loaded by agriseed.
//
// Every generator is deterministic for a given seed and reference time, so
// a dry run prints exactly what a real run would insert.
package datasets

import (
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/synthetic"
)

// Generator builds the records of one dataset.
type Generator func(seed uint64, asOf time.Time) []agri.Payload

// Dataset is a named seed dataset and the table it loads into.
type Dataset struct {
	Name         string
	Description  string
	DefaultTable string
	Generate     Generator
}

var registry = map[string]Dataset{
	"weather_data": {
		Name:         "weather_data",
		Description:  "current conditions for 4 districts in each of 10 states",
		DefaultTable: "weather_data",
		Generate:     Weather,
	},
	"market_prices": {
		Name:         "market_prices",
		Description:  "wholesale prices for every market crop across 6-10 states",
		DefaultTable: "market_prices",
		Generate:     MarketPrices,
	},
	"crop_recommendations": {
		Name:         "crop_recommendations",
		Description:  "crop suitability by state, soil type and climate zone",
		DefaultTable: "crop_recommendations",
		Generate:     CropRecommendations,
	},
	"fertilizer_recommendations": {
		Name:         "fertilizer_recommendations",
		Description:  "organic and chemical nutrient plans for 15 major crops",
		DefaultTable: "fertilizer_recommendations",
		Generate:     FertilizerRecommendations,
	},
}

// Lookup returns the dataset called name.
func Lookup(name string) (Dataset, error) {
	d, ok := registry[name]
	if !ok {
		return Dataset{}, fmt.Errorf("unknown dataset %q (known: %v)", name, Names())
	}
	return d, nil
}

// Names lists the registered datasets in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Weather returns one row per district of every covered state.
func Weather(seed uint64, asOf time.Time) []agri.Payload {
	var rows []agri.Payload
	for _, sd := range agri.StateDistricts {
		for _, district := range sd.Districts {
			rng := synthetic.NewRand(seed, "dataset|weather|"+sd.State+"|"+district)
			rows = append(rows, synthetic.Weather(rng, sd.State, district, asOf))
		}
	}
	return rows
}

// MarketPrices returns one row per crop for the first 6 to 10 states, with
// updated_at spread over the week before asOf.
func MarketPrices(seed uint64, asOf time.Time) []agri.Payload {
	const week = 7 * 24 * time.Hour

	var rows []agri.Payload
	for _, crop := range agri.MarketCrops {
		rng := synthetic.NewRand(seed, "dataset|market|"+crop)
		n := min(6+rng.IntN(5), len(agri.States))
		for _, state := range agri.States[:n] {
			updated := asOf.Add(-time.Duration(rng.Int64N(int64(week))))
			row := synthetic.MarketPrice(rng, state, crop, "", updated)
			rows = append(rows, row)
		}
	}
	return rows
}

// CropRecommendations returns one row per profiled crop for the first 5
// states, 3 soil types and 2 climate zones.
func CropRecommendations(seed uint64, _ time.Time) []agri.Payload {
	var rows []agri.Payload
	for _, crop := range agri.CropProfiles {
		rng := synthetic.NewRand(seed, "dataset|crop|"+crop.Name)
		for _, state := range agri.States[:5] {
			for _, soil := range agri.SoilTypes[:3] {
				for _, zone := range agri.ClimateZones[:2] {
					row := synthetic.CropRecommendation(rng, state, crop.Name, soil)
					row["climate_zone"] = zone
					rows = append(rows, row)
				}
			}
		}
	}
	return rows
}

// FertilizerRecommendations returns one row per fertilizer profile. The
// rows do not depend on seed or asOf.
func FertilizerRecommendations(_ uint64, _ time.Time) []agri.Payload {
	rows := make([]agri.Payload, 0, len(agri.FertilizerProfiles))
	for _, f := range agri.FertilizerProfiles {
		rows = append(rows, f.Payload())
	}
	return rows
}
