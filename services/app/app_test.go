// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AgriPortal/pkg/config"
	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/api"
	"github.com/AleutianAI/AgriPortal/services/generation"
	"github.com/AleutianAI/AgriPortal/services/resolver"
	"github.com/AleutianAI/AgriPortal/services/store"
	"github.com/AleutianAI/AgriPortal/services/store/badgerstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Badger.InMemory = true
	cfg.Live.Enabled = false
	cfg.Resolver.Seed = 7
	cfg.Resolver.PollAttempts = 20
	cfg.Resolver.PollInterval = 25 * time.Millisecond
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	return &cfg
}

func newService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	svc, err := New(context.Background(), cfg, quiet())
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func getJSON(t *testing.T, h http.Handler, target string) (int, api.Response) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	var resp api.Response
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w.Code, resp
}

// =============================================================================
// Wiring
// =============================================================================

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("badger in memory", func(t *testing.T) {
		st, closer, err := OpenStore(ctx, config.StoreConfig{
			Backend: "badger",
			Badger:  config.BadgerConfig{InMemory: true},
		}, quiet())
		require.NoError(t, err)
		defer closer.Close()
		assert.IsType(t, &badgerstore.Store{}, st)
	})

	t.Run("postgrest builds without network", func(t *testing.T) {
		st, closer, err := OpenStore(ctx, config.StoreConfig{
			Backend:   "postgrest",
			PostgREST: config.PostgRESTConfig{URL: "https://demo.supabase.co", APIKey: "anon"},
		}, quiet())
		require.NoError(t, err)
		assert.NotNil(t, st)
		assert.NoError(t, closer.Close())
	})

	t.Run("postgrest bad url", func(t *testing.T) {
		_, _, err := OpenStore(ctx, config.StoreConfig{Backend: "postgrest"}, quiet())
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, _, err := OpenStore(ctx, config.StoreConfig{Backend: "mongo"}, quiet())
		assert.ErrorContains(t, err, "mongo")
	})
}

func TestNewInvoker(t *testing.T) {
	st, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	defer st.Close()

	tests := []struct {
		name    string
		cfg     config.GenerationConfig
		writer  bool
		want    any
		wantErr bool
	}{
		{"none", config.GenerationConfig{Mode: "none"}, false, generation.Nop{}, false},
		{"http", config.GenerationConfig{Mode: "http", FunctionsURL: "https://demo.supabase.co/functions/v1"}, false, &generation.HTTPInvoker{}, false},
		{"http without url", config.GenerationConfig{Mode: "http"}, false, nil, true},
		{"local rule advisor", config.GenerationConfig{Mode: "local", Advisor: "rule"}, true, &generation.LocalInvoker{}, false},
		{"local llm advisor", config.GenerationConfig{Mode: "local", Advisor: "llm", LLM: config.LLMConfig{APIKey: "sk-test"}}, true, &generation.LocalInvoker{}, false},
		{"local without store", config.GenerationConfig{Mode: "local"}, false, nil, true},
		{"unknown", config.GenerationConfig{Mode: "lambda"}, false, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w store.Writer
			if tt.writer {
				w = st
			}
			inv, closer, err := NewInvoker(tt.cfg, 1, w, quiet())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer closer.Close()
			assert.IsType(t, tt.want, inv)
		})
	}
}

func TestLiveOptions(t *testing.T) {
	assert.Empty(t, LiveOptions(config.LiveConfig{Enabled: false}, quiet()))
	assert.Len(t, LiveOptions(config.LiveConfig{Enabled: true, Timeout: time.Second}, quiet()), 1)
}

// =============================================================================
// Service
// =============================================================================

func TestService_ServesStoredRow(t *testing.T) {
	svc := newService(t, testConfig())

	require.NoError(t, svc.Store().Insert(context.Background(), "weather_data", []agri.Payload{{
		"id":          "w-1",
		"state":       "Punjab",
		"district":    "Ludhiana",
		"temperature": 31.0,
		"humidity":    60.0,
		"rainfall":    0.0,
		"updated_at":  "2026-10-01T06:00:00Z",
	}}))

	code, resp := getJSON(t, svc.Router(), "/v1/weather?state=Punjab&district=Ludhiana")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, resolver.ProvenanceStored, resp.Provenance)
	assert.Equal(t, 31.0, resp.Data["temperature"])
}

func TestService_GeneratesOnMiss(t *testing.T) {
	svc := newService(t, testConfig())

	code, resp := getJSON(t, svc.Router(), "/v1/market-prices?state=Punjab&crop=Wheat")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, resolver.ProvenanceGenerated, resp.Provenance)
	assert.Equal(t, "Wheat", resp.Data["crop_name"])
	assert.Equal(t, agri.PriceUnit, resp.Data["price_unit"])
}

func TestService_GeneratesRecommendationsOnMiss(t *testing.T) {
	tests := []struct {
		target string
		crop   string
	}{
		{"/v1/crop-recommendations?state=Punjab&crop=Wheat&soil_type=Alluvial%20Soil", "Wheat"},
		{"/v1/fertilizer-recommendations?crop=Banana", "Banana"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			svc := newService(t, testConfig())

			code, resp := getJSON(t, svc.Router(), tt.target)
			require.Equal(t, http.StatusOK, code)
			assert.Equal(t, resolver.ProvenanceGenerated, resp.Provenance)
			assert.Equal(t, tt.crop, resp.Data["crop_name"])
			assert.NotEmpty(t, resp.Data["id"])
		})
	}
}

func TestService_SyntheticWhenGenerationDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Generation.Mode = "none"
	svc := newService(t, cfg)

	code, resp := getJSON(t, svc.Router(), "/v1/crop-recommendations?state=Punjab&crop=Rice")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Demo)
	assert.Equal(t, uint64(7), svc.Resolver().Seed())
}

func TestService_HealthAndMetrics(t *testing.T) {
	svc := newService(t, testConfig())

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestService_RunStopsOnCancel(t *testing.T) {
	svc := newService(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestService_RunReportsListenError(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Addr = "256.0.0.1:99999"
	svc := newService(t, cfg)

	err := svc.Run(context.Background())
	assert.Error(t, err)
}

func TestNew_BadStoreFails(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Backend = "postgrest"
	cfg.Store.PostgREST.URL = ""

	_, err := New(context.Background(), cfg, quiet())
	assert.Error(t, err)
}

type lostFeedStore struct {
	store.Reader
	err error
}

func (s lostFeedStore) Subscribe(ctx context.Context, table string) (store.Subscription, error) {
	_, cancel := context.WithCancel(ctx)
	feed := store.NewFeed(1, cancel)
	feed.Finish(s.err)
	return feed, nil
}

func TestService_SuperviseWatcherLogsLostFeed(t *testing.T) {
	lost := errors.New("websocket: close 1006 (abnormal closure)")
	res := resolver.New(resolver.WithStore(lostFeedStore{err: lost}), resolver.WithLogger(quiet()))

	w, err := res.Watch(context.Background(), agri.KindMarketPrice)
	require.NoError(t, err)
	defer w.Close()

	var logs bytes.Buffer
	svc := &Service{logger: slog.New(slog.NewTextHandler(&logs, nil))}

	require.NoError(t, svc.superviseWatcher(context.Background(), w))
	assert.ErrorIs(t, w.Err(), lost)
	assert.Contains(t, logs.String(), "cache invalidation stopped")
	assert.Contains(t, logs.String(), "kind=market_price")
	assert.Contains(t, logs.String(), "1006")
}

func TestService_SuperviseWatcherReturnsOnCancel(t *testing.T) {
	st, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	defer st.Close()

	res := resolver.New(resolver.WithStore(st), resolver.WithLogger(quiet()))
	w, err := res.Watch(context.Background(), agri.KindWeather)
	require.NoError(t, err)
	defer w.Close()

	var logs bytes.Buffer
	svc := &Service{logger: slog.New(slog.NewTextHandler(&logs, nil))}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, svc.superviseWatcher(ctx, w))
	assert.Empty(t, logs.String())
}
