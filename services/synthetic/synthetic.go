// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synthetic builds demonstration payloads when no real source can
// answer a request.
//
// Generate is a pure function of (kind, params, seed, asOf): the same
// inputs always produce byte-identical JSON. The random stream is a PCG
// seeded with the caller's seed and an FNV-1a hash of the normalized
// request, so different places get different but stable values.
package synthetic

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AgriPortal/services/agri"
)

// ErrShape is returned by ValidateShape for payloads missing a required
// finite numeric field.
var ErrShape = errors.New("payload shape invalid")

// ErrUnsupportedKind is returned for kinds without a generator.
var ErrUnsupportedKind = errors.New("no synthetic generator for kind")

// NewRand returns a deterministic generator for seed and key.
func NewRand(seed uint64, key string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return rand.New(rand.NewPCG(seed, h.Sum64()))
}

// Key normalizes kind and params into the string mixed into the seed.
func Key(kind agri.Kind, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(kind))
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.ToLower(strings.TrimSpace(params[k])))
	}
	return b.String()
}

// Generate returns a demonstration payload for kind. Timestamps in the
// payload are derived from asOf, never from the wall clock.
func Generate(kind agri.Kind, params map[string]string, seed uint64, asOf time.Time) (agri.Payload, error) {
	rng := NewRand(seed, Key(kind, params))
	switch kind {
	case agri.KindWeather:
		return Weather(rng, params["state"], params["district"], asOf), nil
	case agri.KindMarketPrice:
		return MarketPrice(rng, params["state"], params["crop"], params["market"], asOf), nil
	case agri.KindCropRecommendation:
		return CropRecommendation(rng, params["state"], params["crop"], params["soil_type"]), nil
	case agri.KindFertilizerRecommendation:
		return FertilizerRecommendation(rng, params["crop"]), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
}

// Weather builds a demonstration weather row: one of the demo forecasts,
// temperature 25-34, humidity 60-79, and rainfall 0-49 only when the
// forecast mentions rain.
func Weather(rng *rand.Rand, state, district string, asOf time.Time) agri.Payload {
	forecast := agri.DemoForecasts[rng.IntN(len(agri.DemoForecasts))]
	temperature := 25 + rng.IntN(10)
	humidity := 60 + rng.IntN(20)
	rainfall := 0
	if strings.Contains(forecast, "Rain") {
		rainfall = rng.IntN(50)
	}
	ts := asOf.UTC().Format(time.RFC3339)
	return agri.Payload{
		"state":         state,
		"district":      district,
		"temperature":   float64(temperature),
		"humidity":      float64(humidity),
		"rainfall":      float64(rainfall),
		"forecast":      forecast,
		"forecast_date": ts,
		"updated_at":    ts,
	}
}

// MarketPrice builds a demonstration price row around the crop's base
// price with up to ±250 of variation.
func MarketPrice(rng *rand.Rand, state, crop, market string, asOf time.Time) agri.Payload {
	price := agri.BasePrice(crop) + float64(rng.IntN(500)-250)
	minPrice := price - float64(rng.IntN(200))
	if minPrice < 500 {
		minPrice = 500
	}
	maxPrice := price + float64(rng.IntN(300))
	if market == "" {
		market = agri.Markets[rng.IntN(len(agri.Markets))]
	}
	return agri.Payload{
		"crop_name":   crop,
		"market_name": market,
		"state":       state,
		"district":    agri.DistrictFor(state),
		"min_price":   minPrice,
		"max_price":   maxPrice,
		"modal_price": price,
		"price_unit":  agri.PriceUnit,
		"updated_at":  asOf.UTC().Format(time.RFC3339),
	}
}

// CropRecommendation builds a recommendation row from the crop profile.
// Unknown crops get a generic medium-water profile.
func CropRecommendation(rng *rand.Rand, state, crop, soilType string) agri.Payload {
	profile, ok := agri.FindCrop(crop)
	if !ok {
		profile = agri.CropProfile{
			Name: crop, Season: "Year-round", WaterRequirement: "Medium", DurationDays: 120,
			MinTemperature: 18, MaxTemperature: 30, MinRainfall: 50, MaxRainfall: 100,
		}
	}
	season := profile.Season
	if season == "Year-round" {
		season = agri.Seasons[rng.IntN(len(agri.Seasons))]
	}
	if soilType == "" {
		soilType = agri.SoilTypes[rng.IntN(3)]
	}
	climate := agri.ClimateZones[rng.IntN(2)]
	low := rng.IntN(3) + 2
	high := rng.IntN(3) + 5

	instructions := fmt.Sprintf("Suitable for %s in %s during %s season. Requires %s water.",
		soilType, state, season, strings.ToLower(profile.WaterRequirement))

	return agri.Payload{
		"crop_name":            profile.Name,
		"state":                state,
		"soil_type":            soilType,
		"climate_zone":         climate,
		"season":               season,
		"water_requirement":    profile.WaterRequirement,
		"growing_duration":     float64(profile.DurationDays),
		"min_temperature":      profile.MinTemperature,
		"max_temperature":      profile.MaxTemperature,
		"min_rainfall":         profile.MinRainfall,
		"max_rainfall":         profile.MaxRainfall,
		"yield_potential":      fmt.Sprintf("%d-%d tonnes/hectare", low, high),
		"special_instructions": instructions,
	}
}

var (
	genericOrganic  = []string{"Farmyard Manure", "Compost", "Vermicompost", "Green Manure", "Neem Cake"}
	genericChemical = []string{"NPK 10:26:26", "NPK 12:32:16", "NPK 19:19:19", "Urea", "DAP"}
)

// FertilizerRecommendation returns the crop's fertilizer profile. Crops
// without one get two organic and two chemical inputs drawn from rng and
// a general dosage.
func FertilizerRecommendation(rng *rand.Rand, crop string) agri.Payload {
	if profile, ok := agri.FindFertilizer(crop); ok {
		return profile.Payload()
	}
	organic := rng.Perm(len(genericOrganic))[:2]
	chemical := rng.Perm(len(genericChemical))[:2]
	low := 3 + rng.IntN(3)
	return agri.FertilizerProfile{
		Crop:     crop,
		Organic:  []string{genericOrganic[organic[0]], genericOrganic[organic[1]]},
		Chemical: []string{genericChemical[chemical[0]], genericChemical[chemical[1]]},
		Timing:   "Basal dose at sowing, top dressing at active growth",
		Dosage:   fmt.Sprintf("Organic: %d-%d tonnes/acre, Chemical: %d-%d kg/acre", low, low+2, 20*low, 20*low+20),
		Notes:    "Adjust to a soil test before application.",
	}.Payload()
}

// ValidateShape checks that payload carries every finite numeric field
// required for kind.
func ValidateShape(kind agri.Kind, payload agri.Payload) error {
	spec, ok := agri.Lookup(kind)
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrShape, kind)
	}
	if payload == nil {
		return fmt.Errorf("%w: empty payload", ErrShape)
	}
	for _, field := range spec.NumericFields {
		if _, ok := payload.Float(field); !ok {
			return fmt.Errorf("%w: field %q missing or not finite", ErrShape, field)
		}
	}
	return nil
}
