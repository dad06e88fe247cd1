// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/observability"
	"github.com/AleutianAI/AgriPortal/services/resolver"
	"github.com/AleutianAI/AgriPortal/services/retry/retrytest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockResolver struct {
	ResolveFunc func(ctx context.Context, req resolver.Request) (resolver.Result, error)
	last        resolver.Request
}

func (m *MockResolver) Resolve(ctx context.Context, req resolver.Request) (resolver.Result, error) {
	m.last = req
	return m.ResolveFunc(ctx, req)
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRouter(deps Deps) *gin.Engine {
	router := gin.New()
	if deps.Logger == nil {
		deps.Logger = quiet()
	}
	SetupRoutes(router, deps)
	return router
}

func get(router *gin.Engine, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestSetupRoutes_RegistersEndpoints(t *testing.T) {
	router := newRouter(Deps{Resolver: &MockResolver{}, Gatherer: prometheus.NewRegistry()})

	got := map[string]bool{}
	for _, r := range router.Routes() {
		got[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /health",
		"GET /metrics",
		"GET /v1/weather",
		"GET /v1/market-prices",
		"GET /v1/crop-recommendations",
		"GET /v1/fertilizer-recommendations",
	} {
		assert.True(t, got[want], "missing route %s", want)
	}
}

func TestSetupRoutes_NoMetricsWithoutGatherer(t *testing.T) {
	router := newRouter(Deps{Resolver: &MockResolver{}})
	for _, r := range router.Routes() {
		assert.NotEqual(t, "/metrics", r.Path)
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		ping       func(ctx context.Context) error
		wantStatus int
		wantBody   string
	}{
		{"no store check", nil, http.StatusOK, "ok"},
		{"store reachable", func(context.Context) error { return nil }, http.StatusOK, "ok"},
		{"store down", func(context.Context) error { return errors.New("connection refused") }, http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(Deps{Resolver: &MockResolver{}, Ping: tt.ping})
			w := get(router, "/health")

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body["status"])
		})
	}
}

func TestHandleResolve_PassesDeclaredParams(t *testing.T) {
	mock := &MockResolver{
		ResolveFunc: func(_ context.Context, req resolver.Request) (resolver.Result, error) {
			return resolver.Result{
				Payload:    agri.Payload{"state": req.Param("state"), "crop_name": req.Param("crop"), "modal_price": 2150.0},
				Provenance: resolver.ProvenanceStored,
			}, nil
		},
	}
	router := newRouter(Deps{Resolver: mock})

	w := get(router, "/v1/market-prices?state=Punjab&crop=Wheat&market=Khanna&debug=1")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, agri.KindMarketPrice, mock.last.Kind())
	assert.Equal(t, map[string]string{"state": "Punjab", "crop": "Wheat", "market": "Khanna"}, mock.last.Params())

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, resolver.ProvenanceStored, resp.Provenance)
	assert.False(t, resp.Demo)
	assert.Equal(t, 2150.0, resp.Data["modal_price"])
	assert.Empty(t, w.Header().Get("X-Data-Provenance"))
}

func TestHandleResolve_InvalidRequestIs400(t *testing.T) {
	mock := &MockResolver{
		ResolveFunc: func(context.Context, resolver.Request) (resolver.Result, error) {
			return resolver.Result{}, faults.Invalid("missing required parameter %q", "district")
		},
	}
	router := newRouter(Deps{Resolver: mock})

	w := get(router, "/v1/weather?state=Punjab")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "district")
}

func TestHandleResolve_UnexpectedErrorIs500(t *testing.T) {
	mock := &MockResolver{
		ResolveFunc: func(context.Context, resolver.Request) (resolver.Result, error) {
			return resolver.Result{}, errors.New("boom")
		},
	}
	router := newRouter(Deps{Resolver: mock})

	w := get(router, "/v1/crop-recommendations?state=Punjab&crop=Rice")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestHandleResolve_FertilizerTakesCropOnly(t *testing.T) {
	mock := &MockResolver{
		ResolveFunc: func(_ context.Context, req resolver.Request) (resolver.Result, error) {
			return resolver.Result{Payload: agri.Payload{"crop_name": req.Param("crop")}, Provenance: resolver.ProvenanceGenerated}, nil
		},
	}
	router := newRouter(Deps{Resolver: mock})

	w := get(router, "/v1/fertilizer-recommendations?crop=Cotton&state=Punjab")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, agri.KindFertilizerRecommendation, mock.last.Kind())
	assert.Equal(t, map[string]string{"crop": "Cotton"}, mock.last.Params())

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, resolver.ProvenanceGenerated, resp.Provenance)
	assert.Equal(t, "Cotton", resp.Data["crop_name"])
}

// With no backends configured every read degrades to the seeded generator.
func TestEndToEnd_SyntheticFallback(t *testing.T) {
	reg := prometheus.NewRegistry()
	res := resolver.New(
		resolver.WithClock(retrytest.NewFakeClock(time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC))),
		resolver.WithSeed(7),
		resolver.WithMetrics(observability.NewMetrics(reg)),
		resolver.WithLogger(quiet()),
	)
	router := newRouter(Deps{Resolver: res, Gatherer: reg})

	first := get(router, "/v1/weather?state=Punjab&district=Ludhiana")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "synthetic", first.Header().Get("X-Data-Provenance"))

	var resp Response
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &resp))
	assert.True(t, resp.Demo)
	assert.Equal(t, resolver.ProvenanceSynthetic, resp.Provenance)
	assert.Equal(t, "Punjab", resp.Data["state"])
	require.NotEmpty(t, resp.Attempts)
	assert.Equal(t, resolver.TierSynthetic, resp.Attempts[len(resp.Attempts)-1].Tier)

	second := get(router, "/v1/weather?state=Punjab&district=Ludhiana")
	var again Response
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &again))
	assert.Equal(t, resp.Data, again.Data)

	metrics := get(router, "/metrics")
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "agriportal_")
}
