// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package openmeteo

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/services/agri"
)

// EstimatedHumidity is reported for live rows; the free forecast endpoint
// carries no humidity.
const EstimatedHumidity = 65

// Summary maps a WMO weather code to a short description. Unknown codes
// read as "Clear".
func Summary(code *int) string {
	if code == nil {
		return "Clear"
	}
	switch *code {
	case 1, 2:
		return "Partly cloudy"
	case 3:
		return "Overcast"
	case 45, 48:
		return "Fog"
	case 51, 53, 55:
		return "Drizzle"
	case 56, 57:
		return "Freezing drizzle"
	case 61, 63, 65:
		return "Rain"
	case 66, 67:
		return "Freezing rain"
	case 71, 73, 75:
		return "Snow"
	case 77:
		return "Snow grains"
	case 80, 81, 82:
		return "Rain showers"
	case 85, 86:
		return "Snow showers"
	case 95:
		return "Thunderstorm"
	case 96, 99:
		return "Thunderstorm with hail"
	default:
		return "Clear"
	}
}

// WeatherSource adapts a Client to the resolver's live source contract
// for the weather kind.
type WeatherSource struct {
	Client *Client

	// Now stamps forecast_date. Defaults to time.Now.
	Now func() time.Time
}

// Fetch returns a weather_data-shaped row for the state and district in params.
func (w *WeatherSource) Fetch(ctx context.Context, params map[string]string) (agri.Payload, error) {
	state, district := params["state"], params["district"]
	if state == "" || district == "" {
		return nil, faults.Invalid("weather requires state and district")
	}

	f, err := w.Client.ForecastByPlace(ctx, fmt.Sprintf("%s, %s, India", district, state))
	if err != nil {
		return nil, err
	}

	now := time.Now
	if w.Now != nil {
		now = w.Now
	}

	rainfall := 0.0
	if len(f.Daily) > 0 && f.Daily[0].PrecipitationMm != nil {
		rainfall = *f.Daily[0].PrecipitationMm
	}

	row := agri.Payload{
		"state":              state,
		"district":           district,
		"temperature":        math.Round(f.Current.TemperatureC),
		"humidity":           float64(EstimatedHumidity),
		"humidity_estimated": true,
		"rainfall":           math.Round(rainfall),
		"forecast":           Summary(f.Current.WeatherCode),
		"forecast_date":      now().UTC().Format(time.RFC3339),
		"latitude":           f.Place.Latitude,
		"longitude":          f.Place.Longitude,
	}
	if f.Current.WindSpeedKmh != nil {
		row["wind_speed"] = math.Round(*f.Current.WindSpeedKmh)
	}

	daily := make([]map[string]any, 0, len(f.Daily))
	for _, d := range f.Daily {
		day := map[string]any{"date": d.Date}
		if d.TempMaxC != nil {
			day["max"] = *d.TempMaxC
		}
		if d.TempMinC != nil {
			day["min"] = *d.TempMinC
		}
		if d.PrecipitationMm != nil {
			day["rain"] = *d.PrecipitationMm
		}
		daily = append(daily, day)
	}
	row["daily"] = daily
	return row, nil
}
