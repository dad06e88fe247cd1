// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver implements the source cascade used for every read.
//
// A request is answered by the first tier that yields usable data:
//
//	cache -> live source -> store -> generation + poll -> synthetic
//
// Tiers run strictly in order on the caller's goroutine. No tier failure
// reaches the caller; the cascade degrades to synthetic data, tagged with
// its provenance. The only error Resolve returns is an invalid request.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/cache"
	"github.com/AleutianAI/AgriPortal/services/generation"
	"github.com/AleutianAI/AgriPortal/services/observability"
	"github.com/AleutianAI/AgriPortal/services/retry"
	"github.com/AleutianAI/AgriPortal/services/store"
	"github.com/AleutianAI/AgriPortal/services/synthetic"
)

// Provenance names the tier that produced a payload.
type Provenance string

const (
	ProvenanceLive      Provenance = "live"
	ProvenanceCached    Provenance = "cached"
	ProvenanceStored    Provenance = "stored"
	ProvenanceGenerated Provenance = "generated"
	ProvenanceSynthetic Provenance = "synthetic"
)

// Tier identifies one step of the cascade.
type Tier string

const (
	TierCache      Tier = "cache"
	TierLive       Tier = "live"
	TierStore      Tier = "store"
	TierGeneration Tier = "generation"
	TierPoll       Tier = "poll"
	TierSynthetic  Tier = "synthetic"
)

// Outcome is the result of one tier attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
	OutcomeEmpty   Outcome = "empty"
	OutcomeSkipped Outcome = "skipped"
)

// Attempt records one try against one tier.
type Attempt struct {
	Tier     Tier          `json:"tier"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`

	// Reads is the number of store reads made by the poll tier.
	Reads int `json:"reads,omitempty"`
}

// Result is a payload and where it came from.
type Result struct {
	Payload    agri.Payload
	Provenance Provenance
	Attempts   []Attempt
}

// Demo reports whether the payload is synthetic demonstration data.
func (r Result) Demo() bool { return r.Provenance == ProvenanceSynthetic }

// LiveSource fetches a payload for a request's parameters from an
// external service.
type LiveSource interface {
	Fetch(ctx context.Context, params map[string]string) (agri.Payload, error)
}

// LiveSourceFunc adapts a function to LiveSource.
type LiveSourceFunc func(ctx context.Context, params map[string]string) (agri.Payload, error)

// Fetch calls f.
func (f LiveSourceFunc) Fetch(ctx context.Context, params map[string]string) (agri.Payload, error) {
	return f(ctx, params)
}

const (
	DefaultLiveTimeout  = 9 * time.Second
	DefaultPollAttempts = 10
	DefaultPollInterval = time.Second
	DefaultCacheTTL     = 10 * time.Minute
)

// Resolver runs the source cascade. Construct it once and share it.
type Resolver struct {
	cache       *cache.Session[agri.Payload]
	live        map[agri.Kind]LiveSource
	reader      store.Reader
	notifier    store.Notifier
	invoker     generation.Invoker
	clock       retry.Clock
	seed        uint64
	liveTimeout time.Duration
	poll        retry.Policy
	metrics     *observability.Metrics
	tracer      trace.Tracer
	tierSeconds metric.Float64Histogram
	logger      *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache sets the session cache.
func WithCache(c *cache.Session[agri.Payload]) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithLiveSource registers the live source for kind.
func WithLiveSource(kind agri.Kind, src LiveSource) Option {
	return func(r *Resolver) { r.live[kind] = src }
}

// WithStore sets the persisted store. Change notifications are available
// to Watch when s also implements store.Notifier.
func WithStore(s store.Reader) Option {
	return func(r *Resolver) {
		r.reader = s
		if n, ok := s.(store.Notifier); ok {
			r.notifier = n
		}
	}
}

// WithInvoker sets the generation invoker.
func WithInvoker(inv generation.Invoker) Option {
	return func(r *Resolver) { r.invoker = inv }
}

// WithClock sets the clock used for poll waits and attempt timing.
func WithClock(c retry.Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithSeed fixes the synthetic fallback seed.
func WithSeed(seed uint64) Option {
	return func(r *Resolver) { r.seed = seed }
}

// WithLiveTimeout bounds each live source call.
func WithLiveTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.liveTimeout = d }
}

// WithPoll sets the post-generation poll schedule.
func WithPoll(attempts int, interval time.Duration) Option {
	return func(r *Resolver) { r.poll = retry.Policy{MaxAttempts: attempts, Delay: interval} }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Resolver) { r.tracer = t }
}

// WithMeter overrides the global meter used for tier latency.
func WithMeter(m metric.Meter) Option {
	return func(r *Resolver) { r.tierSeconds = newTierHistogram(m) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New builds a Resolver. Without a seed option the synthetic seed is
// taken from the wall clock.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		live:        make(map[agri.Kind]LiveSource),
		clock:       retry.SystemClock{},
		seed:        uint64(time.Now().UnixNano()),
		liveTimeout: DefaultLiveTimeout,
		poll:        retry.Policy{MaxAttempts: DefaultPollAttempts, Delay: DefaultPollInterval},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = cache.New[agri.Payload](DefaultCacheTTL)
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer("agriportal/resolver")
	}
	if r.tierSeconds == nil {
		r.tierSeconds = newTierHistogram(otel.Meter("agriportal/resolver"))
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "resolver")
	return r
}

func newTierHistogram(m metric.Meter) metric.Float64Histogram {
	h, err := m.Float64Histogram("agriportal.resolver.tier.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of one cascade tier attempt"))
	if err != nil {
		otel.Handle(err)
	}
	return h
}

// Seed returns the synthetic fallback seed.
func (r *Resolver) Seed() uint64 { return r.seed }

// Cache returns the session cache.
func (r *Resolver) Cache() *cache.Session[agri.Payload] { return r.cache }

// Resolve answers req from the first tier with usable data. It returns an
// error only when req is invalid; the error matches faults.ErrInvalidRequest.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Result, error) {
	spec, err := req.Validate()
	if err != nil {
		return Result{}, err
	}

	ctx, span := r.tracer.Start(ctx, "resolver.Resolve",
		trace.WithAttributes(attribute.String("kind", string(req.Kind()))))
	defer span.End()

	start := r.clock.Now()
	c := &cascade{r: r, spec: spec, req: req, key: req.Signature()}
	res := c.run(ctx)

	span.SetAttributes(attribute.String("provenance", string(res.Provenance)))
	r.metrics.ObserveResolution(string(req.Kind()), string(res.Provenance), r.clock.Now().Sub(start))
	r.logger.Debug("resolved", "kind", req.Kind(), "provenance", res.Provenance, "attempts", len(res.Attempts))
	return res, nil
}

// cascade is the state of one resolution.
type cascade struct {
	r        *Resolver
	spec     agri.Spec
	req      Request
	key      string
	attempts []Attempt
}

func (c *cascade) done(payload agri.Payload, p Provenance) Result {
	return Result{Payload: payload, Provenance: p, Attempts: c.attempts}
}

func (c *cascade) run(ctx context.Context) Result {
	if payload, ok := c.fromCache(ctx); ok {
		return c.done(payload, ProvenanceCached)
	}
	if payload, ok := c.fromLive(ctx); ok {
		return c.done(payload, ProvenanceLive)
	}
	payload, found, reachable := c.fromStore(ctx)
	if found {
		return c.done(payload, ProvenanceStored)
	}
	if !reachable {
		c.r.logger.Warn("store unavailable, triggering generation anyway", "kind", c.req.Kind())
	}
	if payload, ok := c.fromGeneration(ctx); ok {
		return c.done(payload, ProvenanceGenerated)
	}
	return c.done(c.synthetic(ctx), ProvenanceSynthetic)
}

// step runs fn as one tier attempt, recording timing, span, and metrics.
func (c *cascade) step(ctx context.Context, tier Tier, fn func(ctx context.Context, a *Attempt) error) Attempt {
	ctx, span := c.r.tracer.Start(ctx, "resolver."+string(tier))
	defer span.End()

	a := Attempt{Tier: tier, Started: c.r.clock.Now(), Outcome: OutcomeSuccess}
	if err := fn(ctx, &a); err != nil {
		a.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(a.Outcome))
	}
	a.Duration = c.r.clock.Now().Sub(a.Started)
	span.SetAttributes(attribute.String("outcome", string(a.Outcome)))

	c.r.metrics.ObserveTier(string(tier), string(a.Outcome))
	if c.r.tierSeconds != nil {
		c.r.tierSeconds.Record(ctx, a.Duration.Seconds(), metric.WithAttributes(
			attribute.String("tier", string(tier)),
			attribute.String("outcome", string(a.Outcome))))
	}
	c.attempts = append(c.attempts, a)
	return a
}

func (c *cascade) skip(tier Tier) {
	c.r.metrics.ObserveTier(string(tier), string(OutcomeSkipped))
	c.attempts = append(c.attempts, Attempt{Tier: tier, Started: c.r.clock.Now(), Outcome: OutcomeSkipped})
}

func (c *cascade) fromCache(ctx context.Context) (agri.Payload, bool) {
	var payload agri.Payload
	a := c.step(ctx, TierCache, func(ctx context.Context, a *Attempt) error {
		e, ok := c.r.cache.Get(c.key)
		if !ok {
			a.Outcome = OutcomeEmpty
			return nil
		}
		payload = e.Value.Clone()
		return nil
	})
	return payload, a.Outcome == OutcomeSuccess
}

func (c *cascade) fromLive(ctx context.Context) (agri.Payload, bool) {
	src, ok := c.r.live[c.req.Kind()]
	if !ok || ctx.Err() != nil {
		c.skip(TierLive)
		return nil, false
	}

	var payload agri.Payload
	a := c.step(ctx, TierLive, func(ctx context.Context, a *Attempt) error {
		ctx, cancel := context.WithTimeout(ctx, c.r.liveTimeout)
		defer cancel()

		p, err := src.Fetch(ctx, c.req.Params())
		if err != nil {
			if errors.Is(err, faults.ErrSourceTimeout) || errors.Is(err, context.DeadlineExceeded) {
				a.Outcome = OutcomeTimeout
			} else {
				a.Outcome = OutcomeError
			}
			return err
		}
		if err := synthetic.ValidateShape(c.req.Kind(), p); err != nil {
			a.Outcome = OutcomeError
			return faults.Permanent(faults.ErrSourceParse, "live "+string(c.req.Kind()), err)
		}
		payload = p
		return nil
	})
	if a.Outcome != OutcomeSuccess {
		c.r.logger.Info("live source unavailable", "kind", c.req.Kind(), "outcome", a.Outcome, "error", a.Error)
		return nil, false
	}

	c.r.cache.Set(c.key, payload.Clone())
	return payload, true
}

// fromStore reads the most recent matching row. reachable is false when
// the read failed for any reason other than a missing row.
func (c *cascade) fromStore(ctx context.Context) (payload agri.Payload, found, reachable bool) {
	if c.r.reader == nil || ctx.Err() != nil {
		c.skip(TierStore)
		return nil, false, false
	}

	q := store.LatestQuery(c.spec, c.req.Params())
	a := c.step(ctx, TierStore, func(ctx context.Context, a *Attempt) error {
		row, err := store.Latest(ctx, c.r.reader, q)
		switch {
		case err == nil:
			payload = row
			return nil
		case faults.IsNotFound(err):
			a.Outcome = OutcomeEmpty
			return nil
		default:
			a.Outcome = OutcomeError
			return err
		}
	})
	if a.Outcome == OutcomeError {
		c.r.logger.Warn("store read failed", "query", q.String(), "error", a.Error)
	}
	return payload, a.Outcome == OutcomeSuccess, a.Outcome != OutcomeError
}

// fromGeneration triggers the kind's generation function and polls the
// store for the row it creates.
func (c *cascade) fromGeneration(ctx context.Context) (agri.Payload, bool) {
	fn := c.spec.GenerationFunction
	if fn == "" || c.r.invoker == nil || c.r.reader == nil || ctx.Err() != nil {
		c.skip(TierGeneration)
		return nil, false
	}

	a := c.step(ctx, TierGeneration, func(ctx context.Context, a *Attempt) error {
		if err := c.r.invoker.Invoke(ctx, fn, c.req.Params()); err != nil {
			a.Outcome = OutcomeError
			return err
		}
		return nil
	})
	if a.Outcome != OutcomeSuccess {
		c.r.logger.Warn("generation trigger failed", "function", fn, "error", a.Error)
		c.skip(TierPoll)
		return nil, false
	}

	var payload agri.Payload
	c.step(ctx, TierPoll, func(ctx context.Context, a *Attempt) error {
		// The first read happens one interval after the trigger.
		select {
		case <-ctx.Done():
			a.Outcome = OutcomeSkipped
			return ctx.Err()
		case <-c.r.clock.After(c.r.poll.Delay):
		}

		q := store.LatestQuery(c.spec, c.req.Params())
		res, err := retry.Do(ctx, c.r.clock, c.r.poll, pollable,
			func(ctx context.Context, attempt int) error {
				row, err := store.Latest(ctx, c.r.reader, q)
				if err == nil {
					payload = row
				}
				return err
			})
		a.Reads = res.Attempts
		switch res.Outcome {
		case retry.Succeeded:
			return nil
		case retry.Canceled:
			a.Outcome = OutcomeSkipped
		case retry.Exhausted:
			a.Outcome = OutcomeEmpty
		default:
			a.Outcome = OutcomeError
		}
		return err
	})
	if payload == nil {
		return nil, false
	}
	return payload, true
}

// pollable keeps polling while the row is missing or the store blips.
func pollable(err error) bool {
	return faults.IsNotFound(err) || faults.IsTransient(err)
}

func (c *cascade) synthetic(ctx context.Context) agri.Payload {
	var payload agri.Payload
	c.step(ctx, TierSynthetic, func(ctx context.Context, a *Attempt) error {
		// Pinned to the day so repeated fallbacks for one request agree.
		asOf := c.r.clock.Now().UTC().Truncate(24 * time.Hour)
		p, err := synthetic.Generate(c.req.Kind(), c.req.Params(), c.r.seed, asOf)
		if err != nil {
			a.Outcome = OutcomeError
			payload = agri.Payload{}
			for k, v := range c.req.Params() {
				payload[c.spec.Column(k)] = v
			}
			return err
		}
		payload = p
		return nil
	})
	return payload
}
