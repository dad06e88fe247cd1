// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry runs an operation a bounded number of times with a fixed
// delay between attempts.
//
// It is shared by the batch ingestion writer (transient insert failures)
// and the source cascade resolver (store polling after generation). Time
// is read through the Clock interface so tests can substitute
// retrytest.FakeClock and run without sleeping.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
)

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy configures a retry loop.
type Policy struct {
	// MaxAttempts is the maximum number of attempts including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Delay is the fixed wait between consecutive attempts.
	// No wait is scheduled after the last attempt.
	Delay time.Duration
}

// Validate checks that the policy is usable as configured.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 || p.Delay < 0 {
		return ErrInvalidPolicy
	}
	return nil
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Outcome describes how a retry loop ended.
type Outcome int

const (
	// Succeeded means an attempt returned nil.
	Succeeded Outcome = iota

	// Exhausted means every attempt failed with a transient error.
	Exhausted

	// Aborted means an attempt failed with a non-transient error.
	Aborted

	// Canceled means the context ended before the loop finished.
	Canceled
)

// String returns the lower-case outcome name.
func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	case Aborted:
		return "aborted"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result reports what a retry loop did.
type Result struct {
	// Attempts is the number of times the operation ran.
	Attempts int

	// Waited is the total delay scheduled between attempts.
	Waited time.Duration

	// Outcome says how the loop ended.
	Outcome Outcome

	// LastError is the error of the last attempt, or the context error
	// when Outcome is Canceled. Nil on success.
	LastError error
}

// Operation is a unit of work that may be retried. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Classifier reports whether an error is worth another attempt.
type Classifier func(err error) bool

// Do runs op until it succeeds, fails with a non-transient error, the
// attempt bound is reached, or ctx ends.
//
// A nil clock uses SystemClock. A nil isTransient uses faults.IsTransient.
// The returned error equals Result.LastError.
//
// Example:
//
//	res, err := retry.Do(ctx, nil, retry.Policy{MaxAttempts: 3, Delay: 2 * time.Second},
//	    faults.IsTransient,
//	    func(ctx context.Context, attempt int) error {
//	        return sink.Insert(ctx, table, rows)
//	    })
func Do(ctx context.Context, clock Clock, policy Policy, isTransient Classifier, op Operation) (Result, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if isTransient == nil {
		isTransient = faults.IsTransient
	}

	var res Result
	maxAttempts := policy.attempts()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Outcome = Canceled
			res.LastError = err
			return res, err
		}

		res.Attempts = attempt
		err := op(ctx, attempt)
		if err == nil {
			res.Outcome = Succeeded
			res.LastError = nil
			return res, nil
		}
		res.LastError = err

		if !isTransient(err) {
			res.Outcome = Aborted
			return res, err
		}

		if attempt == maxAttempts {
			break
		}

		res.Waited += policy.Delay
		select {
		case <-ctx.Done():
			res.Outcome = Canceled
			res.LastError = ctx.Err()
			return res, res.LastError
		case <-clock.After(policy.Delay):
		}
	}

	res.Outcome = Exhausted
	return res, res.LastError
}
