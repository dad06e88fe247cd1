// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveResolution("weather", "synthetic", 120*time.Millisecond)
	m.ObserveResolution("weather", "synthetic", 80*time.Millisecond)
	m.ObserveResolution("weather", "live", time.Second)
	m.ObserveTier("store", "empty")
	m.ObserveBatch("market_prices", "succeeded", 1, 100)
	m.ObserveBatch("market_prices", "failed", 3, 50)
	m.ObserveInvalidation("weather", "change", 2)
	m.ObserveInvalidation("weather", "change", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.resolutions.WithLabelValues("weather", "synthetic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tierAttempts.WithLabelValues("store", "empty")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.ingestRecords.WithLabelValues("market_prices", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestBatches.WithLabelValues("market_prices", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheInvalidations.WithLabelValues("weather", "change")))

	n, err := testutil.GatherAndCount(reg, "agriportal_resolver_resolve_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveResolution("weather", "live", time.Second)
		m.ObserveTier("live", "success")
		m.ObserveBatch("weather_data", "failed", 3, 100)
		m.ObserveInvalidation("weather", "change", 1)
	})
}

func TestMetrics_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestInitTelemetry_StdoutExporters(t *testing.T) {
	prevTP, prevMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetMeterProvider(prevMP)
	})

	var buf bytes.Buffer
	cfg := DefaultTelemetryConfig()
	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "stdout"
	cfg.Writer = &buf

	shutdown, err := InitTelemetry(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "resolve")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"resolve"`)
}

func TestInitTelemetry_PrometheusBridge(t *testing.T) {
	prevMP := otel.GetMeterProvider()
	t.Cleanup(func() { otel.SetMeterProvider(prevMP) })

	reg := prometheus.NewRegistry()
	cfg := DefaultTelemetryConfig()
	shutdown, err := InitTelemetry(context.Background(), cfg, reg)
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	counter, err := otel.Meter("test").Int64Counter("bridge_checks")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "bridge_checks_total")
}

func TestInitTelemetry_UnknownExporter(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	cfg.TraceExporter = "zipkin"
	_, err := InitTelemetry(context.Background(), cfg, prometheus.NewRegistry())
	assert.ErrorIs(t, err, ErrUnknownExporter)

	cfg = DefaultTelemetryConfig()
	cfg.MetricExporter = "graphite"
	_, err = InitTelemetry(context.Background(), cfg, prometheus.NewRegistry())
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInitTelemetry_OTLPDialsLazily(t *testing.T) {
	prevTP := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prevTP) })

	cfg := DefaultTelemetryConfig()
	cfg.TraceExporter = "otlp"
	cfg.MetricExporter = "none"
	cfg.OTLPEndpoint = "127.0.0.1:1"

	shutdown, err := InitTelemetry(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
