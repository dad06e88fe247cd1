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
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AgriPortal/pkg/config"
	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/api"
	"github.com/AleutianAI/AgriPortal/services/observability"
	"github.com/AleutianAI/AgriPortal/services/resolver"
	"github.com/AleutianAI/AgriPortal/services/store"
)

// Service is the assembled portal server.
type Service struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	store    store.Store
	resolver *resolver.Resolver
	router   *gin.Engine

	// closers run in reverse order on Close.
	closers           []io.Closer
	telemetryShutdown func(context.Context) error
}

// New builds the server from cfg.
//
// # Description
//
// Installs telemetry, opens the store, builds the generation invoker and
// the resolver, and registers the HTTP routes. Nothing listens until Run.
//
// # Inputs
//
//   - ctx: Bounds backend readiness checks during startup
//   - cfg: Validated configuration
//   - logger: Base logger for every component
//
// # Outputs
//
//   - *Service: Ready to Run. The caller must Close it.
//   - error: Non-nil if telemetry, the store or the invoker fail to build
//
// # Assumptions
//
//   - cfg has passed config.Validate
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	shutdown, err := observability.InitTelemetry(ctx, cfg.Telemetry, s.registry)
	if err != nil {
		return nil, err
	}
	s.telemetryShutdown = shutdown

	st, closer, err := OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.store = st
	s.closers = append(s.closers, closer)

	metrics := observability.NewMetrics(s.registry)

	// One seed per process, shared by local generators and the synthetic fallback.
	seed := cfg.Resolver.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	resolved := *cfg
	resolved.Resolver.Seed = seed

	inv, invCloser, err := NewInvoker(cfg.Generation, seed, st, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, invCloser)

	s.resolver = NewResolver(&resolved, st, inv, metrics, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	api.SetupRoutes(router, api.Deps{
		Resolver: s.resolver,
		Ping: func(ctx context.Context) error {
			spec, _ := agri.Lookup(agri.KindWeather)
			return store.Ping(ctx, st, spec.Table)
		},
		Gatherer: s.registry,
		Logger:   logger,
	})
	s.router = router

	logger.Info("service ready",
		"store", cfg.Store.Backend,
		"generation", cfg.Generation.Mode,
		"live", cfg.Live.Enabled,
		"seed", seed)
	return s, nil
}

// Router returns the HTTP handler. Used by tests.
func (s *Service) Router() *gin.Engine { return s.router }

// Resolver returns the resolver.
func (s *Service) Resolver() *resolver.Resolver { return s.resolver }

// Store returns the opened backend.
func (s *Service) Store() store.Store { return s.store }

// Run serves HTTP and, when enabled, keeps the cache in step with store
// changes. It blocks until ctx is canceled or the server fails, then shuts
// down gracefully.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	watchers := s.startWatchers(gctx)
	defer func() {
		for _, w := range watchers {
			w.Close()
		}
	}()

	for _, w := range watchers {
		g.Go(func() error { return s.superviseWatcher(gctx, w) })
	}

	g.Go(func() error {
		s.logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Service) startWatchers(ctx context.Context) []*resolver.Watcher {
	if !s.cfg.Resolver.Watch {
		return nil
	}
	var watchers []*resolver.Watcher
	for _, kind := range agri.Kinds() {
		w, err := s.resolver.Watch(ctx, kind)
		if err != nil {
			if errors.Is(err, faults.ErrSubscribeUnsupported) {
				s.logger.Info("store has no change feed; cache entries expire by TTL only", "kind", kind)
				return watchers
			}
			s.logger.Warn("change feed unavailable", "kind", kind, "error", err)
			continue
		}
		watchers = append(watchers, w)
	}
	return watchers
}

// superviseWatcher waits for w to stop and reports a lost feed. The
// server keeps running; entries of that kind then expire by TTL only.
func (s *Service) superviseWatcher(ctx context.Context, w *resolver.Watcher) error {
	select {
	case <-ctx.Done():
		return nil
	case <-w.Done():
	}
	if err := w.Err(); err != nil {
		s.logger.Error("cache invalidation stopped", "kind", w.Kind(), "error", err)
	}
	return nil
}

// Close releases the store, the invoker and telemetry. Safe to call on a
// partially built Service.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if s.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetryShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		s.telemetryShutdown = nil
	}
	return errors.Join(errs...)
}
