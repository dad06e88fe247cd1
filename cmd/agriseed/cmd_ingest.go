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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AgriPortal/pkg/config"
	"github.com/AleutianAI/AgriPortal/pkg/logging"
	"github.com/AleutianAI/AgriPortal/services/app"
	"github.com/AleutianAI/AgriPortal/services/datasets"
	"github.com/AleutianAI/AgriPortal/services/ingest"
	"github.com/AleutianAI/AgriPortal/services/retry"
	"github.com/AleutianAI/AgriPortal/services/store"
)

// errAllFailed is returned when no batch of the run was written.
var errAllFailed = errors.New("ingestion failed: every batch failed")

func runIngest(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if storeBackend != "" {
		cfg.Store.Backend = storeBackend
	}
	if batchSize > 0 {
		cfg.Ingest.BatchSize = batchSize
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sets, err := selectDatasets(datasetNames, targetTable)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "agriseed",
		Format:  logging.Format(cfg.Logging.Format),
	})
	defer logger.Close()

	run := seedRun{
		Writer: &ingest.Writer{
			BatchSize: cfg.Ingest.BatchSize,
			Policy:    retry.Policy{MaxAttempts: cfg.Ingest.MaxAttempts, Delay: cfg.Ingest.RetryDelay},
			Logger:    logger.Slog(),
		},
		Seed:  pickSeed(seedFlag, cfg.Resolver.Seed),
		AsOf:  time.Now().UTC(),
		Table: targetTable,
	}
	out := cmd.OutOrStdout()

	if dryRun {
		run.describe(out, sets)
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closer, err := app.OpenStore(ctx, cfg.Store, logger.Slog())
	if err != nil {
		return err
	}
	defer closer.Close()
	run.Sink = st

	preflight(ctx, st, sets, targetTable, out, logger.Slog())

	reports := run.run(ctx, sets)
	printSummary(out, reports)
	return outcome(reports)
}

// seedRun generates datasets and writes each through Writer into Sink.
type seedRun struct {
	Writer *ingest.Writer
	Sink   store.Writer
	Seed   uint64
	AsOf   time.Time

	// Table overrides the dataset's default table.
	Table string
}

func (s seedRun) table(ds datasets.Dataset) string {
	if s.Table != "" {
		return s.Table
	}
	return ds.DefaultTable
}

func (s seedRun) run(ctx context.Context, sets []datasets.Dataset) []ingest.Report {
	reports := make([]ingest.Report, 0, len(sets))
	for _, ds := range sets {
		records := ds.Generate(s.Seed, s.AsOf)
		reports = append(reports, s.Writer.Ingest(ctx, s.table(ds), records, s.Sink))
	}
	return reports
}

func (s seedRun) describe(out io.Writer, sets []datasets.Dataset) {
	size := s.Writer.BatchSize
	if size <= 0 {
		size = ingest.DefaultBatchSize
	}
	fmt.Fprintf(out, "dry run, seed %d\n", s.Seed)
	for _, ds := range sets {
		n := len(ds.Generate(s.Seed, s.AsOf))
		fmt.Fprintf(out, "  %-22s -> %-22s %5d records in %d batches\n",
			ds.Name, s.table(ds), n, len(ingest.Partition(n, size)))
	}
}

func selectDatasets(names []string, table string) ([]datasets.Dataset, error) {
	if len(names) == 0 {
		names = datasets.Names()
	}
	if table != "" && len(names) != 1 {
		return nil, fmt.Errorf("--table needs exactly one --dataset, got %d", len(names))
	}
	sets := make([]datasets.Dataset, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		ds, err := datasets.Lookup(name)
		if err != nil {
			return nil, err
		}
		sets = append(sets, ds)
	}
	return sets, nil
}

func pickSeed(flag, configured uint64) uint64 {
	switch {
	case flag != 0:
		return flag
	case configured != 0:
		return configured
	}
	return uint64(time.Now().UnixNano())
}

// preflight reads each target table once. A failure is only reported; the
// batches carry their own retries.
func preflight(ctx context.Context, st store.Reader, sets []datasets.Dataset, table string, out io.Writer, logger *slog.Logger) {
	checked := make(map[string]bool)
	for _, ds := range sets {
		t := ds.DefaultTable
		if table != "" {
			t = table
		}
		if checked[t] {
			continue
		}
		checked[t] = true

		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := store.Ping(pctx, st, t)
		cancel()
		if err != nil {
			logger.Warn("store pre-flight failed", "table", t, "error", err)
			fmt.Fprintf(out, "warning: could not reach table %s: %v\n", t, err)
		}
	}
}

func printSummary(out io.Writer, reports []ingest.Report) {
	var batches, failed, records, written int
	for _, r := range reports {
		fmt.Fprintf(out, "%s: %d/%d records written, %d/%d batches succeeded in %s\n",
			r.Table, r.SucceededRecords(), r.TotalRecords,
			r.SucceededBatches(), len(r.Batches), r.Duration.Round(time.Millisecond))
		for _, b := range r.Failures() {
			fmt.Fprintf(out, "  batch %d [%d,%d) failed after %d attempts: %v\n",
				b.Index, b.Start, b.End, b.Attempts, b.Err)
		}
		batches += len(r.Batches)
		failed += r.FailedBatches()
		records += r.ProcessedRecords()
		written += r.SucceededRecords()
	}

	fmt.Fprintf(out, "total: %d records processed, %d written, %d of %d batches failed\n",
		records, written, failed, batches)
	if failed > 0 && failed < batches {
		fmt.Fprintln(out, "warning: some batches failed; the store holds a partial load")
	}
}

// outcome maps a run to the process result: an error only when batches
// were attempted and none succeeded.
func outcome(reports []ingest.Report) error {
	var batches, succeeded int
	for _, r := range reports {
		batches += len(r.Batches)
		succeeded += r.SucceededBatches()
	}
	if batches > 0 && succeeded == 0 {
		return errAllFailed
	}
	return nil
}
