// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the resolver over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/resolver"
)

// Resolver is the read path used by the handlers.
type Resolver interface {
	Resolve(ctx context.Context, req resolver.Request) (resolver.Result, error)
}

// Response is the body of every successful data read.
type Response struct {
	Provenance resolver.Provenance `json:"provenance"`
	Demo       bool                `json:"demo"`
	Data       agri.Payload        `json:"data"`
	Attempts   []resolver.Attempt  `json:"attempts"`
}

// ErrorResponse is the body of a rejected request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthCheck reports liveness. When ping is non-nil the store is checked
// too and a failure answers 503 with status "degraded".
func HealthCheck(ping func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "store": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "store": "ok"})
	}
}

// HandleResolve answers GET reads for kind. Only the kind's declared
// parameters are taken from the query string.
func HandleResolve(r Resolver, kind agri.Kind, logger *slog.Logger) gin.HandlerFunc {
	spec, _ := agri.Lookup(kind)
	names := append(append([]string{}, spec.RequiredParams...), spec.OptionalParams...)

	return func(c *gin.Context) {
		params := make(map[string]string, len(names))
		for _, name := range names {
			if v, ok := c.GetQuery(name); ok {
				params[name] = v
			}
		}

		res, err := r.Resolve(c.Request.Context(), resolver.NewRequest(kind, params))
		if err != nil {
			if errors.Is(err, faults.ErrInvalidRequest) {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
				return
			}
			logger.Error("resolve failed", "kind", kind, "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
			return
		}

		if res.Demo() {
			c.Header("X-Data-Provenance", "synthetic")
		}
		c.JSON(http.StatusOK, Response{
			Provenance: res.Provenance,
			Demo:       res.Demo(),
			Data:       res.Payload,
			Attempts:   res.Attempts,
		})
	}
}
