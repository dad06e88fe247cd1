// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package openmeteo is a keyless live weather source backed by the
// Open-Meteo geocoding and forecast APIs.
//
// Every call carries its own timeout and is throttled client side.
// Geocode results are cached by lower-cased query and forecasts by
// coordinates rounded to three decimals.
package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/services/cache"
)

const (
	DefaultGeocodeURL  = "https://geocoding-api.open-meteo.com/v1/search"
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	DefaultTimeout     = 9 * time.Second
	forecastDays       = 5
)

// ErrPlaceNotFound is the cause reported when geocoding returns no result.
var ErrPlaceNotFound = errors.New("place not found")

// HTTPClient is the subset of *http.Client used by the client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client. Zero values select defaults.
type Config struct {
	GeocodeURL  string
	ForecastURL string

	// Timeout bounds each individual HTTP call. Default 9s.
	Timeout time.Duration

	// Country biases geocoding. Default "IN".
	Country string

	// CacheTTL is the lifetime of geocode and forecast entries. Default 30m.
	CacheTTL time.Duration

	// RatePerSecond and Burst throttle outgoing calls. Default 5/s, burst 5.
	RatePerSecond float64
	Burst         int

	HTTPClient HTTPClient
	Logger     *slog.Logger
}

// Place is a geocoded location.
type Place struct {
	Name      string  `json:"name"`
	Country   string  `json:"country,omitempty"`
	Admin1    string  `json:"admin1,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone,omitempty"`
}

// Current holds the current conditions.
type Current struct {
	TemperatureC float64  `json:"temperature_c"`
	WindSpeedKmh *float64 `json:"wind_speed_kmh,omitempty"`
	WeatherCode  *int     `json:"weather_code,omitempty"`
}

// Daily is one day of the forecast.
type Daily struct {
	Date            string   `json:"date"`
	TempMaxC        *float64 `json:"temp_max_c,omitempty"`
	TempMinC        *float64 `json:"temp_min_c,omitempty"`
	PrecipitationMm *float64 `json:"precipitation_mm,omitempty"`
}

// Forecast is the live weather for a place.
type Forecast struct {
	Place   Place   `json:"place"`
	Current Current `json:"current"`
	Daily   []Daily `json:"daily"`
}

// Client talks to Open-Meteo.
type Client struct {
	geocodeURL  string
	forecastURL string
	timeout     time.Duration
	country     string
	http        HTTPClient
	limiter     *rate.Limiter
	places      *cache.Session[Place]
	forecasts   *cache.Session[Forecast]
	logger      *slog.Logger
}

// NewClient returns a Client for cfg.
func NewClient(cfg Config) *Client {
	c := &Client{
		geocodeURL:  cfg.GeocodeURL,
		forecastURL: cfg.ForecastURL,
		timeout:     cfg.Timeout,
		country:     cfg.Country,
		http:        cfg.HTTPClient,
		logger:      cfg.Logger,
	}
	if c.geocodeURL == "" {
		c.geocodeURL = DefaultGeocodeURL
	}
	if c.forecastURL == "" {
		c.forecastURL = DefaultForecastURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.country == "" {
		c.country = "IN"
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "openmeteo")

	rps, burst := cfg.RatePerSecond, cfg.Burst
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 5
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)

	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	c.places = cache.New[Place](ttl)
	c.forecasts = cache.New[Forecast](ttl)
	return c
}

// Geocode resolves a free-text place query.
func (c *Client) Geocode(ctx context.Context, query string) (*Place, error) {
	op := "geocode"
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, faults.Invalid("empty place query")
	}
	key := cache.QueryKey("geocode", q)
	if e, ok := c.places.Get(key); ok {
		p := e.Value
		return &p, nil
	}

	params := url.Values{}
	params.Set("name", q)
	params.Set("count", "1")
	params.Set("language", "en")
	params.Set("format", "json")
	params.Set("country", c.country)

	var body struct {
		Results []struct {
			Name      string   `json:"name"`
			Country   string   `json:"country"`
			Admin1    string   `json:"admin1"`
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
			Timezone  string   `json:"timezone"`
		} `json:"results"`
	}
	if err := c.getJSON(ctx, op, c.geocodeURL, params, &body); err != nil {
		return nil, err
	}
	if len(body.Results) == 0 {
		return nil, faults.Permanent(faults.ErrSourceParse, op, ErrPlaceNotFound)
	}

	first := body.Results[0]
	if !finite(first.Latitude) || !finite(first.Longitude) {
		return nil, faults.Permanent(faults.ErrSourceParse, op, errors.New("missing or non-finite coordinates"))
	}
	p := Place{
		Name:      first.Name,
		Country:   first.Country,
		Admin1:    first.Admin1,
		Latitude:  *first.Latitude,
		Longitude: *first.Longitude,
		Timezone:  first.Timezone,
	}
	if p.Name == "" {
		p.Name = q
	}
	c.places.Set(key, p)
	return &p, nil
}

// Forecast fetches current conditions and the daily outlook for place.
func (c *Client) Forecast(ctx context.Context, place Place) (*Forecast, error) {
	op := "forecast"
	if math.IsNaN(place.Latitude) || math.IsInf(place.Latitude, 0) ||
		math.IsNaN(place.Longitude) || math.IsInf(place.Longitude, 0) {
		return nil, faults.Permanent(faults.ErrSourceParse, op, errors.New("non-finite coordinates"))
	}
	key := cache.CoordinateKey("forecast", place.Latitude, place.Longitude)
	if e, ok := c.forecasts.Get(key); ok {
		f := e.Value
		return &f, nil
	}

	tz := place.Timezone
	if tz == "" {
		tz = "auto"
	}
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(place.Latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(place.Longitude, 'f', -1, 64))
	params.Set("current", "temperature_2m,weather_code,wind_speed_10m")
	params.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum")
	params.Set("timezone", tz)
	params.Set("forecast_days", strconv.Itoa(forecastDays))

	var body struct {
		Current struct {
			Temperature *float64 `json:"temperature_2m"`
			WindSpeed   *float64 `json:"wind_speed_10m"`
			WeatherCode *float64 `json:"weather_code"`
		} `json:"current"`
		Daily struct {
			Time          []string   `json:"time"`
			TempMax       []*float64 `json:"temperature_2m_max"`
			TempMin       []*float64 `json:"temperature_2m_min"`
			Precipitation []*float64 `json:"precipitation_sum"`
		} `json:"daily"`
	}
	if err := c.getJSON(ctx, op, c.forecastURL, params, &body); err != nil {
		return nil, err
	}
	if !finite(body.Current.Temperature) {
		return nil, faults.Permanent(faults.ErrSourceParse, op, errors.New("missing current temperature"))
	}

	f := Forecast{
		Place:   place,
		Current: Current{TemperatureC: *body.Current.Temperature},
	}
	if finite(body.Current.WindSpeed) {
		f.Current.WindSpeedKmh = body.Current.WindSpeed
	}
	if finite(body.Current.WeatherCode) {
		code := int(*body.Current.WeatherCode)
		f.Current.WeatherCode = &code
	}
	for i, date := range body.Daily.Time {
		if i == forecastDays {
			break
		}
		f.Daily = append(f.Daily, Daily{
			Date:            date,
			TempMaxC:        at(body.Daily.TempMax, i),
			TempMinC:        at(body.Daily.TempMin, i),
			PrecipitationMm: at(body.Daily.Precipitation, i),
		})
	}

	c.forecasts.Set(key, f)
	return &f, nil
}

// ForecastByPlace geocodes query and fetches its forecast.
func (c *Client) ForecastByPlace(ctx context.Context, query string) (*Forecast, error) {
	place, err := c.Geocode(ctx, query)
	if err != nil {
		return nil, err
	}
	return c.Forecast(ctx, *place)
}

func (c *Client) getJSON(ctx context.Context, op, base string, params url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return c.callError(ctx, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return faults.Permanent(faults.ErrSourceUnavailable, op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.callError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		cause := fmt.Errorf("status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return faults.Transient(faults.ErrSourceUnavailable, op, cause)
		}
		return faults.Permanent(faults.ErrSourceUnavailable, op, cause)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return c.callError(ctx, op, ctx.Err())
		}
		return faults.Permanent(faults.ErrSourceParse, op, err)
	}
	return nil
}

// callError classifies a failed call. Hitting our own deadline is a
// timeout; a canceled parent context is returned unchanged.
func (c *Client) callError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return faults.Transient(faults.ErrSourceTimeout, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	c.logger.Debug("live source call failed", "op", op, "error", err)
	return faults.Transient(faults.ErrSourceUnavailable, op, err)
}

func finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

func at(vals []*float64, i int) *float64 {
	if i < len(vals) && finite(vals[i]) {
		return vals[i]
	}
	return nil
}
