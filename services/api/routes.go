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
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AgriPortal/services/agri"
)

// Deps are the services the routes need.
type Deps struct {
	Resolver Resolver

	// Ping checks the store for /health. Optional.
	Ping func(ctx context.Context) error

	// Gatherer serves /metrics. Optional.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// SetupRoutes registers every endpoint on router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router.GET("/health", HealthCheck(deps.Ping))
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/weather", HandleResolve(deps.Resolver, agri.KindWeather, logger))
		v1.GET("/market-prices", HandleResolve(deps.Resolver, agri.KindMarketPrice, logger))
		v1.GET("/crop-recommendations", HandleResolve(deps.Resolver, agri.KindCropRecommendation, logger))
		v1.GET("/fertilizer-recommendations", HandleResolve(deps.Resolver, agri.KindFertilizerRecommendation, logger))
	}
}
