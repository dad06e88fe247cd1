// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/services/agri"
)

type priceRange struct{ min, max int }

// generatedPriceRanges are per-quintal ranges for generated market prices.
var generatedPriceRanges = map[string]priceRange{
	"rice":    {1800, 2200},
	"wheat":   {1600, 2000},
	"maize":   {1400, 1800},
	"cotton":  {5000, 6000},
	"soybean": {3000, 4000},
}

var defaultPriceRange = priceRange{1500, 2500}

type seasonRange struct {
	tempMin, tempMax         int
	humidityMin, humidityMax int
}

var seasonRanges = map[agri.Season]seasonRange{
	agri.SeasonSummer:  {30, 45, 40, 60},
	agri.SeasonMonsoon: {25, 35, 70, 90},
	agri.SeasonWinter:  {15, 30, 50, 70},
}

// Generators holds the built-in generation functions.
type Generators struct {
	Advisor Advisor
	Now     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerators returns generators drawing from a PCG stream seeded by seed.
func NewGenerators(advisor Advisor, seed uint64) *Generators {
	if advisor == nil {
		advisor = RuleAdvisor{}
	}
	return &Generators{
		Advisor: advisor,
		Now:     time.Now,
		rng:     rand.New(rand.NewPCG(seed, seed^0x5deece66d)),
	}
}

// Register binds the generators under their function names.
func (g *Generators) Register(l *LocalInvoker) {
	if spec, ok := agri.Lookup(agri.KindWeather); ok {
		l.Register(spec.GenerationFunction, g.Weather)
	}
	if spec, ok := agri.Lookup(agri.KindMarketPrice); ok {
		l.Register(spec.GenerationFunction, g.MarketPrice)
	}
	if spec, ok := agri.Lookup(agri.KindCropRecommendation); ok {
		l.Register(spec.GenerationFunction, g.CropRecommendation)
	}
	if spec, ok := agri.Lookup(agri.KindFertilizerRecommendation); ok {
		l.Register(spec.GenerationFunction, g.FertilizerRecommendation)
	}
}

// between returns a uniform integer in [lo, hi].
func (g *Generators) between(lo, hi int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return lo + g.rng.IntN(hi-lo+1)
}

func (g *Generators) pick(options []string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return options[g.rng.IntN(len(options))]
}

// Weather generates a seasonal weather_data row with an advisory.
func (g *Generators) Weather(ctx context.Context, params map[string]string) (string, agri.Payload, error) {
	state, district := params["state"], params["district"]
	if state == "" || district == "" {
		return "", nil, faults.Invalid("generate-weather requires state and district")
	}

	now := g.Now().UTC()
	season := agri.SeasonAt(now)
	r := seasonRanges[season]

	temperature := g.between(r.tempMin, r.tempMax)
	humidity := g.between(r.humidityMin, r.humidityMax)
	var rainfall int
	if season == agri.SeasonMonsoon {
		rainfall = g.between(0, 49)
	} else {
		rainfall = g.between(0, 9)
	}
	wind := g.between(5, 24)

	cond := Conditions{
		State:       state,
		District:    district,
		Season:      season,
		Temperature: float64(temperature),
		Humidity:    float64(humidity),
		Rainfall:    float64(rainfall),
	}
	advisory, err := g.Advisor.Advise(ctx, cond)
	if err != nil {
		advisory, _ = RuleAdvisor{}.Advise(ctx, cond)
	}

	ts := now.Format(time.RFC3339)
	return "weather_data", agri.Payload{
		"state":                 state,
		"district":              district,
		"temperature":           float64(temperature),
		"humidity":              float64(humidity),
		"rainfall":              float64(rainfall),
		"wind_speed":            float64(wind),
		"season":                string(season),
		"forecast":              agri.SeasonalOutlook(season),
		"agricultural_advisory": advisory,
		"forecast_date":         ts,
		"updated_at":            ts,
	}, nil
}

// MarketPrice generates a market_prices row for the crop in params.
func (g *Generators) MarketPrice(ctx context.Context, params map[string]string) (string, agri.Payload, error) {
	crop := params["crop"]
	if crop == "" {
		return "", nil, faults.Invalid("get-market-prices requires crop")
	}
	state := params["state"]
	market := params["market"]
	if market == "" {
		market = g.pick(agri.Markets)
	}

	r, ok := generatedPriceRanges[strings.ToLower(crop)]
	if !ok {
		r = defaultPriceRange
	}
	price := g.between(r.min, r.max)

	return "market_prices", agri.Payload{
		"crop_name":       crop,
		"market_name":     market,
		"state":           state,
		"district":        agri.DistrictFor(state),
		"min_price":       float64(r.min),
		"max_price":       float64(r.max),
		"modal_price":     float64(price),
		"price_unit":      agri.PriceUnit,
		"price_trend":     "Stable",
		"supply_quantity": "Moderate",
		"demand_level":    "High",
		"quality_grade":   "A",
		"special_notes":   "Prices may vary based on quality and market conditions",
		"updated_at":      g.Now().UTC().Format(time.RFC3339),
	}, nil
}

// croppingSeason maps the weather season to the sowing season it falls in.
var croppingSeason = map[agri.Season]string{
	agri.SeasonSummer:  "Zaid",
	agri.SeasonMonsoon: "Kharif",
	agri.SeasonWinter:  "Rabi",
}

// CropRecommendation generates a crop_recommendations row for the crop and
// state in params. Without a soil_type one of the three major soils is
// picked. Year-round crops take the current sowing season.
func (g *Generators) CropRecommendation(ctx context.Context, params map[string]string) (string, agri.Payload, error) {
	state, crop := params["state"], params["crop"]
	if state == "" || crop == "" {
		return "", nil, faults.Invalid("generate-crop-recommendations requires state and crop")
	}
	soil := params["soil_type"]
	if soil == "" {
		soil = g.pick(agri.SoilTypes[:3])
	}

	profile, ok := agri.FindCrop(crop)
	if !ok {
		profile = agri.CropProfile{
			Name: crop, Season: "Year-round", WaterRequirement: "Medium", DurationDays: 105,
			MinTemperature: 18, MaxTemperature: 30, MinRainfall: 50, MaxRainfall: 100,
		}
	}
	season := profile.Season
	if season == "Year-round" {
		season = croppingSeason[agri.SeasonAt(g.Now().UTC())]
	}
	low := g.between(2, 4)

	return "crop_recommendations", agri.Payload{
		"crop_name":             profile.Name,
		"state":                 state,
		"soil_type":             soil,
		"season":                season,
		"water_requirement":     profile.WaterRequirement,
		"growth_period":         fmt.Sprintf("%d-%d days", profile.DurationDays-15, profile.DurationDays+15),
		"growing_duration":      float64(profile.DurationDays),
		"min_temperature":       profile.MinTemperature,
		"max_temperature":       profile.MaxTemperature,
		"min_rainfall":          profile.MinRainfall,
		"max_rainfall":          profile.MaxRainfall,
		"yield_potential":       fmt.Sprintf("%d-%d tonnes per hectare", low, low+1),
		"market_demand":         "High",
		"suitable_alternatives": agri.SuitableCrops(soil, season),
		"special_notes":         "Suitable for the given soil and season conditions",
		"updated_at":            g.Now().UTC().Format(time.RFC3339),
	}, nil
}

// FertilizerRecommendation generates a fertilizer_recommendations row for
// the crop in params from its profile, or a general plan for crops
// without one.
func (g *Generators) FertilizerRecommendation(ctx context.Context, params map[string]string) (string, agri.Payload, error) {
	crop := params["crop"]
	if crop == "" {
		return "", nil, faults.Invalid("generate-fertilizer-recommendations requires crop")
	}
	if profile, ok := agri.FindFertilizer(crop); ok {
		return "fertilizer_recommendations", profile.Payload(), nil
	}

	organic := g.pick(genericOrganic)
	chemical := g.pick(genericChemical)
	low := g.between(3, 5)
	return "fertilizer_recommendations", agri.FertilizerProfile{
		Crop:     crop,
		Organic:  []string{"Compost", organic},
		Chemical: []string{"Urea", chemical},
		Timing:   "Basal dose at sowing, top dressing at active growth",
		Dosage:   fmt.Sprintf("Organic: %d-%d tonnes/acre, Chemical: %d-%d kg/acre", low, low+2, 20*low, 20*low+20),
		Notes:    "Adjust to a soil test before application.",
	}.Payload(), nil
}

var (
	genericOrganic  = []string{"Farmyard Manure", "Vermicompost", "Green Manure", "Neem Cake"}
	genericChemical = []string{"NPK 10:26:26", "NPK 12:32:16", "NPK 19:19:19", "DAP"}
)
