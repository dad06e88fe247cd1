// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/datasets"
	"github.com/AleutianAI/AgriPortal/services/ingest"
	"github.com/AleutianAI/AgriPortal/services/retry"
	"github.com/AleutianAI/AgriPortal/services/retry/retrytest"
)

type MockSink struct {
	InsertFunc func(ctx context.Context, table string, rows []agri.Payload) error

	mu     sync.Mutex
	tables map[string]int
}

func (m *MockSink) Insert(ctx context.Context, table string, rows []agri.Payload) error {
	m.mu.Lock()
	if m.tables == nil {
		m.tables = make(map[string]int)
	}
	m.mu.Unlock()

	if m.InsertFunc != nil {
		if err := m.InsertFunc(ctx, table, rows); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.tables[table] += len(rows)
	m.mu.Unlock()
	return nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRun(sink *MockSink) seedRun {
	return seedRun{
		Writer: &ingest.Writer{
			BatchSize: 100,
			Policy:    retry.Policy{MaxAttempts: 3, Delay: 2 * time.Second},
			Clock:     retrytest.NewFakeClock(time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)),
			Logger:    quiet(),
		},
		Sink: sink,
		Seed: 11,
		AsOf: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
	}
}

func lookupAll(t *testing.T, names ...string) []datasets.Dataset {
	t.Helper()
	sets, err := selectDatasets(names, "")
	require.NoError(t, err)
	return sets
}

// =============================================================================
// Dataset selection
// =============================================================================

func TestSelectDatasets(t *testing.T) {
	tests := []struct {
		name    string
		names   []string
		table   string
		want    []string
		wantErr bool
	}{
		{"default is all", nil, "", datasets.Names(), false},
		{"one", []string{"market_prices"}, "", []string{"market_prices"}, false},
		{"duplicates collapse", []string{"weather_data", "weather_data"}, "", []string{"weather_data"}, false},
		{"table with one dataset", []string{"weather_data"}, "weather_staging", []string{"weather_data"}, false},
		{"table with all datasets", nil, "weather_staging", nil, true},
		{"unknown", []string{"soil_moisture"}, "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sets, err := selectDatasets(tt.names, tt.table)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			var got []string
			for _, ds := range sets {
				got = append(got, ds.Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPickSeed(t *testing.T) {
	assert.Equal(t, uint64(5), pickSeed(5, 9))
	assert.Equal(t, uint64(9), pickSeed(0, 9))
	assert.NotZero(t, pickSeed(0, 0))
}

// =============================================================================
// Runs and exit status
// =============================================================================

func TestSeedRun_WritesEveryDataset(t *testing.T) {
	sink := &MockSink{}
	reports := testRun(sink).run(context.Background(), lookupAll(t))

	require.Len(t, reports, len(datasets.Names()))
	for _, r := range reports {
		assert.Zero(t, r.FailedBatches(), r.Table)
		assert.Equal(t, r.TotalRecords, sink.tables[r.Table])
	}
	assert.NoError(t, outcome(reports))
}

func TestSeedRun_TableOverride(t *testing.T) {
	sink := &MockSink{}
	run := testRun(sink)
	run.Table = "weather_staging"

	reports := run.run(context.Background(), lookupAll(t, "weather_data"))
	require.Len(t, reports, 1)
	assert.Equal(t, "weather_staging", reports[0].Table)
	assert.Equal(t, reports[0].TotalRecords, sink.tables["weather_staging"])
}

func TestSeedRun_PartialFailureExitsZero(t *testing.T) {
	sink := &MockSink{
		InsertFunc: func(_ context.Context, table string, _ []agri.Payload) error {
			if table == "market_prices" {
				return faults.Permanent(faults.ErrBatchValidation, "insert market_prices", errors.New("column modal_price is not numeric"))
			}
			return nil
		},
	}
	reports := testRun(sink).run(context.Background(), lookupAll(t))

	assert.NoError(t, outcome(reports))

	var out bytes.Buffer
	printSummary(&out, reports)
	assert.Contains(t, out.String(), "warning: some batches failed")
	assert.Contains(t, out.String(), "modal_price is not numeric")
}

func TestSeedRun_TotalFailureExitsNonZero(t *testing.T) {
	sink := &MockSink{
		InsertFunc: func(context.Context, string, []agri.Payload) error {
			return faults.Transient(faults.ErrStoreTransport, "insert", errors.New("connection reset"))
		},
	}
	run := testRun(sink)
	reports := run.run(context.Background(), lookupAll(t, "weather_data"))

	require.Len(t, reports, 1)
	assert.True(t, reports[0].AllFailed())
	assert.Equal(t, 3, reports[0].Batches[0].Attempts)
	assert.ErrorIs(t, outcome(reports), errAllFailed)

	var out bytes.Buffer
	printSummary(&out, reports)
	assert.NotContains(t, out.String(), "warning:")
}

func TestOutcome(t *testing.T) {
	ok := ingest.Batch{Index: 0, Start: 0, End: 100}
	bad := ingest.Batch{Index: 1, Start: 100, End: 200, Attempts: 3, Err: errors.New("down")}

	tests := []struct {
		name    string
		reports []ingest.Report
		wantErr bool
	}{
		{"no reports", nil, false},
		{"nothing to write", []ingest.Report{{Table: "weather_data"}}, false},
		{"all succeeded", []ingest.Report{{Batches: []ingest.Batch{ok}}}, false},
		{"one of two failed", []ingest.Report{{Batches: []ingest.Batch{ok, bad}}}, false},
		{"one dataset failed entirely", []ingest.Report{{Batches: []ingest.Batch{bad}}, {Batches: []ingest.Batch{ok}}}, false},
		{"every batch failed", []ingest.Report{{Batches: []ingest.Batch{bad}}, {Batches: []ingest.Batch{bad, bad}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := outcome(tt.reports)
			if tt.wantErr {
				assert.ErrorIs(t, err, errAllFailed)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	var out bytes.Buffer
	testRun(&MockSink{}).describe(&out, lookupAll(t, "crop_recommendations"))

	assert.Contains(t, out.String(), "seed 11")
	assert.Contains(t, out.String(), "450 records in 5 batches")
}

// =============================================================================
// Commands
// =============================================================================

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		configPath, targetTable, storeBackend = "", "", ""
		datasetNames = nil
		batchSize, seedFlag, dryRun = 0, 0, false
	})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDatasetsCommand(t *testing.T) {
	out, err := execute(t, "datasets")
	require.NoError(t, err)
	for _, name := range datasets.Names() {
		assert.Contains(t, out, name)
	}
}

func TestIngestCommand_DryRun(t *testing.T) {
	out, err := execute(t, "ingest", "--dry-run", "--seed", "3", "--batch-size", "50")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run, seed 3")
	assert.Contains(t, out, "450 records in 9 batches")
}

func TestIngestCommand_InMemoryStore(t *testing.T) {
	t.Setenv("AGRIPORTAL_STORE_BACKEND", "badger")
	t.Setenv("AGRIPORTAL_BADGER_IN_MEMORY", "true")
	t.Setenv("AGRIPORTAL_LOG_LEVEL", "error")

	out, err := execute(t, "ingest", "--dataset", "weather_data", "--seed", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "weather_data: 40/40 records written, 1/1 batches succeeded")
	assert.NotContains(t, out, "warning")
}

func TestIngestCommand_BadFlags(t *testing.T) {
	_, err := execute(t, "ingest", "--table", "x", "--dry-run")
	assert.ErrorContains(t, err, "--table")

	_, err = execute(t, "ingest", "--store", "mongo", "--dry-run")
	assert.Error(t, err)
}
