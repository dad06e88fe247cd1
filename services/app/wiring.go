// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package app assembles the portal from configuration. Both binaries build
// their stores, invokers and resolvers through it.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/AleutianAI/AgriPortal/pkg/config"
	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/cache"
	"github.com/AleutianAI/AgriPortal/services/generation"
	"github.com/AleutianAI/AgriPortal/services/livesource/openmeteo"
	"github.com/AleutianAI/AgriPortal/services/observability"
	"github.com/AleutianAI/AgriPortal/services/resolver"
	"github.com/AleutianAI/AgriPortal/services/retry"
	"github.com/AleutianAI/AgriPortal/services/store"
	"github.com/AleutianAI/AgriPortal/services/store/badgerstore"
	"github.com/AleutianAI/AgriPortal/services/store/influxstore"
	"github.com/AleutianAI/AgriPortal/services/store/postgrest"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var nopCloser = closerFunc(func() error { return nil })

// OpenStore connects to the configured backend.
//
// # Description
//
// Builds the store.Store named by cfg.Backend. Badger opens a local
// database, PostgREST builds an HTTP client without any network traffic
// and InfluxDB waits for the server to report ready.
//
// # Outputs
//
//   - store.Store: The opened backend
//   - io.Closer: Releases the backend. Always non-nil on success.
//   - error: Non-nil if the backend is unknown or cannot be opened
//
// # Limitations
//
//   - InfluxDB has no change feed; its Subscribe reports ErrSubscribeUnsupported
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, io.Closer, error) {
	switch cfg.Backend {
	case "badger":
		bc := badgerstore.DefaultConfig(cfg.Badger.Path)
		bc.InMemory = cfg.Badger.InMemory
		bc.SyncWrites = cfg.Badger.SyncWrites
		bc.GCInterval = cfg.Badger.GCInterval
		bc.Logger = logger
		s, err := badgerstore.Open(bc)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case "postgrest":
		c, err := postgrest.New(postgrest.Config{
			URL:         cfg.PostgREST.URL,
			APIKey:      cfg.PostgREST.APIKey,
			Schema:      cfg.PostgREST.Schema,
			RealtimeURL: cfg.PostgREST.RealtimeURL,
			Heartbeat:   cfg.PostgREST.Heartbeat,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, nopCloser, nil

	case "influx":
		s, err := influxstore.Open(ctx, influxstore.Config{
			URL:      cfg.Influx.URL,
			Token:    cfg.Influx.Token,
			Org:      cfg.Influx.Org,
			Bucket:   cfg.Influx.Bucket,
			Lookback: cfg.Influx.Lookback,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// NewInvoker builds the generation trigger for cfg.Mode. Local generation
// writes through w.
func NewInvoker(cfg config.GenerationConfig, seed uint64, w store.Writer, logger *slog.Logger) (generation.Invoker, io.Closer, error) {
	switch cfg.Mode {
	case "none":
		return generation.Nop{}, nopCloser, nil

	case "http":
		inv, err := generation.NewHTTPInvoker(generation.HTTPConfig{
			URL:     cfg.FunctionsURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return inv, nopCloser, nil

	case "local":
		if w == nil {
			return nil, nil, fmt.Errorf("local generation needs a store")
		}
		var advisor generation.Advisor = generation.RuleAdvisor{}
		if cfg.Advisor == "llm" {
			advisor = generation.NewLLMAdvisor(generation.LLMConfig{
				APIKey:  cfg.LLM.APIKey,
				BaseURL: cfg.LLM.BaseURL,
				Model:   cfg.LLM.Model,
				Timeout: cfg.LLM.Timeout,
				Logger:  logger,
			})
		}
		l := generation.NewLocalInvoker(w, logger)
		generation.NewGenerators(advisor, seed).Register(l)
		return l, l, nil
	}
	return nil, nil, fmt.Errorf("unknown generation mode %q", cfg.Mode)
}

// LiveOptions registers the live sources enabled in cfg.
func LiveOptions(cfg config.LiveConfig, logger *slog.Logger) []resolver.Option {
	if !cfg.Enabled {
		return nil
	}
	client := openmeteo.NewClient(openmeteo.Config{
		GeocodeURL:    cfg.GeocodeURL,
		ForecastURL:   cfg.ForecastURL,
		Timeout:       cfg.Timeout,
		CacheTTL:      cfg.CacheTTL,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		Logger:        logger,
	})
	return []resolver.Option{
		resolver.WithLiveSource(agri.KindWeather, &openmeteo.WeatherSource{Client: client}),
	}
}

// NewResolver builds the resolver over st and inv. Either may be nil.
func NewResolver(cfg *config.Config, st store.Reader, inv generation.Invoker, metrics *observability.Metrics, logger *slog.Logger) *resolver.Resolver {
	opts := []resolver.Option{
		resolver.WithCache(cache.New[agri.Payload](cfg.Resolver.CacheTTL)),
		resolver.WithLiveTimeout(cfg.Live.Timeout),
		resolver.WithPoll(cfg.Resolver.PollAttempts, cfg.Resolver.PollInterval),
		resolver.WithClock(retry.SystemClock{}),
		resolver.WithMetrics(metrics),
		resolver.WithLogger(logger),
	}
	if cfg.Resolver.Seed != 0 {
		opts = append(opts, resolver.WithSeed(cfg.Resolver.Seed))
	}
	if st != nil {
		opts = append(opts, resolver.WithStore(st))
	}
	if inv != nil {
		opts = append(opts, resolver.WithInvoker(inv))
	}
	opts = append(opts, LiveOptions(cfg.Live, logger)...)
	return resolver.New(opts...)
}
