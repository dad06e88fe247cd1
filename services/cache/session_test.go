// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_SetGet(t *testing.T) {
	s := New[string](time.Minute)
	fixed := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	_, ok := s.Get("weather|district=pune|state=maharashtra")
	assert.False(t, ok)

	s.Set("weather|district=pune|state=maharashtra", "payload")
	e, ok := s.Get("weather|district=pune|state=maharashtra")
	require.True(t, ok)
	assert.Equal(t, "payload", e.Value)
	assert.Equal(t, fixed, e.StoredAt)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, time.Minute, s.TTL())
}

func TestSession_Expiry(t *testing.T) {
	s := New[int](20 * time.Millisecond)
	s.Set("k", 1)
	assert.Eventually(t, func() bool {
		_, ok := s.Get("k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestSession_NoExpiry(t *testing.T) {
	s := New[int](0)
	s.Set("k", 1)
	_, ok := s.Get("k")
	assert.True(t, ok)
}

func TestSession_Invalidate(t *testing.T) {
	s := New[int](time.Minute)
	s.Set("weather|a", 1)
	s.Set("weather|b", 2)
	s.Set("market_price|a", 3)

	assert.True(t, s.Invalidate("weather|a"))
	assert.False(t, s.Invalidate("weather|a"))

	assert.Equal(t, 1, s.InvalidatePrefix("weather|"))
	_, ok := s.Get("market_price|a")
	assert.True(t, ok)

	s.Flush()
	assert.Equal(t, 0, s.Len())
}

func TestSession_ConcurrentWriters(t *testing.T) {
	s := New[int](time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Set("same", i)
			_, _ = s.Get("same")
		}(i)
	}
	wg.Wait()

	e, ok := s.Get("same")
	require.True(t, ok)
	assert.GreaterOrEqual(t, e.Value, 0)
	assert.Less(t, e.Value, 50)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "openmeteo_weather_v1:18.520,73.857", CoordinateKey("openmeteo_weather_v1", 18.52043, 73.85674))
	assert.Equal(t, CoordinateKey("w", 18.5201, 73.8569), CoordinateKey("w", 18.5204, 73.8566))
	assert.Equal(t, "openmeteo_geocode_v1:pune, maharashtra, india", QueryKey("openmeteo_geocode_v1", "  Pune,  Maharashtra, INDIA "))
}
