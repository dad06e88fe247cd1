// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest bulk-loads records into the persisted store in fixed-size
// batches with bounded retries.
//
// A failed batch never stops the run. The caller gets a Report describing
// every batch and decides what a partial failure means.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/observability"
	"github.com/AleutianAI/AgriPortal/services/retry"
	"github.com/AleutianAI/AgriPortal/services/store"
)

const (
	DefaultBatchSize   = 100
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 2 * time.Second
)

// Writer partitions records into batches and inserts each with retries.
// The zero value uses the defaults.
type Writer struct {
	// BatchSize is the number of records per insert. Default 100.
	BatchSize int

	// Policy bounds attempts per batch. Default 3 attempts, 2s apart.
	Policy retry.Policy

	// Clock schedules retry waits. Default retry.SystemClock.
	Clock retry.Clock

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Batch is one contiguous slice [Start, End) of the record set.
type Batch struct {
	Index    int
	Start    int
	End      int
	Attempts int

	// Err is the last error. Nil when the batch was written.
	Err error
}

// Size returns the number of records in the batch.
func (b Batch) Size() int { return b.End - b.Start }

// Succeeded reports whether the batch was written.
func (b Batch) Succeeded() bool { return b.Err == nil }

// Report describes one ingestion run.
type Report struct {
	Table        string
	TotalRecords int
	Batches      []Batch
	Duration     time.Duration
}

// SucceededBatches counts written batches.
func (r Report) SucceededBatches() int {
	n := 0
	for _, b := range r.Batches {
		if b.Succeeded() {
			n++
		}
	}
	return n
}

// FailedBatches counts batches that were not written.
func (r Report) FailedBatches() int { return len(r.Batches) - r.SucceededBatches() }

// SucceededRecords counts records in written batches.
func (r Report) SucceededRecords() int {
	n := 0
	for _, b := range r.Batches {
		if b.Succeeded() {
			n += b.Size()
		}
	}
	return n
}

// FailedRecords counts records in batches that were not written.
func (r Report) FailedRecords() int { return r.TotalRecords - r.SucceededRecords() }

// ProcessedRecords counts every record that was attempted or skipped.
func (r Report) ProcessedRecords() int {
	n := 0
	for _, b := range r.Batches {
		n += b.Size()
	}
	return n
}

// AllFailed reports whether there was at least one batch and none succeeded.
func (r Report) AllFailed() bool {
	return len(r.Batches) > 0 && r.SucceededBatches() == 0
}

// Failures returns the failed batches in order.
func (r Report) Failures() []Batch {
	var out []Batch
	for _, b := range r.Batches {
		if !b.Succeeded() {
			out = append(out, b)
		}
	}
	return out
}

// Partition splits n records into contiguous batches of at most size.
func Partition(n, size int) []Batch {
	if size < 1 {
		size = DefaultBatchSize
	}
	batches := make([]Batch, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		batches = append(batches, Batch{Index: len(batches), Start: start, End: end})
	}
	return batches
}

// AssignIDs gives every record without an id a random UUIDv4, in place.
// Nil records are left alone.
func AssignIDs(records []agri.Payload) {
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if id, ok := rec["id"].(string); ok && id != "" {
			continue
		}
		rec["id"] = uuid.NewString()
	}
}

// Ingest writes records to table through sink. Records are given ids
// before partitioning. Transient failures are retried per Policy; any other
// failure fails its batch at once. Once ctx ends every remaining batch is
// marked failed with the context error.
func (w *Writer) Ingest(ctx context.Context, table string, records []agri.Payload, sink store.Writer) Report {
	size := w.BatchSize
	if size < 1 {
		size = DefaultBatchSize
	}
	policy := w.Policy
	if policy.MaxAttempts < 1 {
		policy = retry.Policy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultRetryDelay}
	}
	clock := w.Clock
	if clock == nil {
		clock = retry.SystemClock{}
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ingest", "table", table)

	start := clock.Now()
	AssignIDs(records)

	report := Report{Table: table, TotalRecords: len(records), Batches: Partition(len(records), size)}
	logger.Info("ingestion started", "records", len(records), "batches", len(report.Batches), "batch_size", size)

	for i := range report.Batches {
		b := &report.Batches[i]
		rows := records[b.Start:b.End]

		if err := checkRows(rows, b.Start); err != nil {
			b.Err = fmt.Errorf("batch %d [%d,%d): %w", b.Index, b.Start, b.End,
				faults.Permanent(faults.ErrBatchValidation, "insert "+table, err))
			logger.Error("batch rejected before insert", "batch", b.Index, "error", err)
			w.Metrics.ObserveBatch(table, "failed", 0, b.Size())
			continue
		}

		res, err := retry.Do(ctx, clock, policy, faults.IsTransient,
			func(ctx context.Context, attempt int) error {
				if attempt > 1 {
					logger.Warn("retrying batch", "batch", b.Index, "attempt", attempt)
				}
				return sink.Insert(ctx, table, rows)
			})
		b.Attempts = res.Attempts
		if err != nil {
			b.Err = fmt.Errorf("batch %d [%d,%d): %w", b.Index, b.Start, b.End, err)
		}

		status := "succeeded"
		if b.Err != nil {
			status = "failed"
			logger.Error("batch failed", "batch", b.Index, "attempts", b.Attempts, "outcome", res.Outcome, "error", err)
		} else {
			logger.Debug("batch written", "batch", b.Index, "records", b.Size(), "attempts", b.Attempts)
		}
		w.Metrics.ObserveBatch(table, status, b.Attempts, b.Size())
	}

	report.Duration = clock.Now().Sub(start)
	logger.Info("ingestion finished",
		"succeeded_batches", report.SucceededBatches(),
		"failed_batches", report.FailedBatches(),
		"succeeded_records", report.SucceededRecords(),
		"duration", report.Duration)
	return report
}

// checkRows rejects a batch holding a nil record. offset is the index of
// rows[0] in the full record set.
func checkRows(rows []agri.Payload, offset int) error {
	for i, row := range rows {
		if row == nil {
			return fmt.Errorf("record %d is nil", offset+i)
		}
	}
	return nil
}
