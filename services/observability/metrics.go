// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the Prometheus collectors and OpenTelemetry
// setup shared by the resolver, the ingestion writer and the binaries.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agriportal"

// =============================================================================
// Prometheus Metrics
// =============================================================================

// Metrics is the set of AgriPortal collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// resolutions counts finished resolutions.
	// Labels: kind, provenance (live, cached, stored, generated, synthetic)
	resolutions *prometheus.CounterVec

	// resolveSeconds measures end-to-end resolution latency.
	// Labels: kind
	resolveSeconds *prometheus.HistogramVec

	// tierAttempts counts cascade tier attempts.
	// Labels: tier, outcome (success, timeout, error, empty, skipped)
	tierAttempts *prometheus.CounterVec

	// ingestBatches counts ingestion batches by final status.
	// Labels: table, status (succeeded, failed)
	ingestBatches *prometheus.CounterVec

	// ingestRecords counts records by the status of their batch.
	// Labels: table, status
	ingestRecords *prometheus.CounterVec

	// ingestAttempts measures insert attempts per batch.
	// Labels: table
	ingestAttempts *prometheus.HistogramVec

	// cacheInvalidations counts cache entries dropped on store changes.
	// Labels: kind, reason (change, feed_lost)
	cacheInvalidations *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Total data resolutions by kind and provenance",
		}, []string{"kind", "provenance"}),

		resolveSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolve_duration_seconds",
			Help:      "End-to-end resolution latency in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"kind"}),

		tierAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "tier_attempts_total",
			Help:      "Cascade tier attempts by tier and outcome",
		}, []string{"tier", "outcome"}),

		ingestBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Ingestion batches by table and final status",
		}, []string{"table", "status"}),

		ingestRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Ingested records by table and batch status",
		}, []string{"table", "status"}),

		ingestAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "batch_attempts",
			Help:      "Insert attempts needed per batch",
			Buckets:   []float64{1, 2, 3, 5, 10},
		}, []string{"table"}),

		cacheInvalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Cache entries dropped after store changes",
		}, []string{"kind", "reason"}),
	}
}

// ObserveResolution records one finished resolution.
func (m *Metrics) ObserveResolution(kind, provenance string, d time.Duration) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(kind, provenance).Inc()
	m.resolveSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveTier records one tier attempt.
func (m *Metrics) ObserveTier(tier, outcome string) {
	if m == nil {
		return
	}
	m.tierAttempts.WithLabelValues(tier, outcome).Inc()
}

// ObserveBatch records one finished ingestion batch.
func (m *Metrics) ObserveBatch(table, status string, attempts, records int) {
	if m == nil {
		return
	}
	m.ingestBatches.WithLabelValues(table, status).Inc()
	m.ingestRecords.WithLabelValues(table, status).Add(float64(records))
	m.ingestAttempts.WithLabelValues(table).Observe(float64(attempts))
}

// ObserveInvalidation records n dropped cache entries.
func (m *Metrics) ObserveInvalidation(kind, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheInvalidations.WithLabelValues(kind, reason).Add(float64(n))
}
