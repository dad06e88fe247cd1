// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/services/retry/retrytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

func transientErr() error {
	return faults.Transient(faults.ErrBatchTransient, "insert", errors.New("connection reset"))
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"valid", Policy{MaxAttempts: 3, Delay: 2 * time.Second}, false},
		{"zero delay", Policy{MaxAttempts: 1}, false},
		{"zero attempts", Policy{MaxAttempts: 0, Delay: time.Second}, true},
		{"negative delay", Policy{MaxAttempts: 3, Delay: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPolicy)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	clock := retrytest.NewFakeClock(epoch)
	calls := 0

	res, err := Do(context.Background(), clock, Policy{MaxAttempts: 3, Delay: 2 * time.Second}, nil,
		func(ctx context.Context, attempt int) error {
			calls++
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, Succeeded, res.Outcome)
	assert.Empty(t, clock.Waits())
}

func TestDo_ExhaustionBound(t *testing.T) {
	clock := retrytest.NewFakeClock(epoch)
	calls := 0

	res, err := Do(context.Background(), clock, Policy{MaxAttempts: 3, Delay: 2 * time.Second}, faults.IsTransient,
		func(ctx context.Context, attempt int) error {
			calls++
			return transientErr()
		})

	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrBatchTransient)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, Exhausted, res.Outcome)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.Waits())
	assert.Equal(t, 4*time.Second, res.Waited)
	assert.Equal(t, epoch.Add(4*time.Second), clock.Now())
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	clock := retrytest.NewFakeClock(epoch)

	res, err := Do(context.Background(), clock, Policy{MaxAttempts: 3, Delay: time.Second}, nil,
		func(ctx context.Context, attempt int) error {
			if attempt < 3 {
				return transientErr()
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, Succeeded, res.Outcome)
	assert.Len(t, clock.Waits(), 2)
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	clock := retrytest.NewFakeClock(epoch)
	calls := 0
	permanent := faults.Permanent(faults.ErrBatchValidation, "insert", errors.New("null value in column"))

	res, err := Do(context.Background(), clock, Policy{MaxAttempts: 3, Delay: time.Second}, nil,
		func(ctx context.Context, attempt int) error {
			calls++
			return permanent
		})

	assert.ErrorIs(t, err, faults.ErrBatchValidation)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Aborted, res.Outcome)
	assert.Empty(t, clock.Waits())
}

func TestDo_CustomClassifier(t *testing.T) {
	clock := retrytest.NewFakeClock(epoch)
	calls := 0

	res, _ := Do(context.Background(), clock, Policy{MaxAttempts: 4, Delay: time.Second}, faults.IsNotFound,
		func(ctx context.Context, attempt int) error {
			calls++
			return faults.NotFound("select weather_data")
		})

	assert.Equal(t, 4, calls)
	assert.Equal(t, Exhausted, res.Outcome)
	assert.Len(t, clock.Waits(), 3)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, _ = Do(context.Background(), retrytest.NewFakeClock(epoch), Policy{}, nil,
		func(ctx context.Context, attempt int) error {
			calls++
			return transientErr()
		})
	assert.Equal(t, 1, calls)
}

func TestDo_CanceledBetweenAttempts(t *testing.T) {
	clock := retrytest.NewFakeClock(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0

	res, err := Do(ctx, clock, Policy{MaxAttempts: 10, Delay: time.Second}, nil,
		func(ctx context.Context, attempt int) error {
			calls++
			if attempt == 2 {
				cancel()
			}
			return transientErr()
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Canceled, res.Outcome)
	assert.Equal(t, 2, calls)
}

func TestDo_AlreadyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0

	res, err := Do(ctx, retrytest.NewFakeClock(epoch), Policy{MaxAttempts: 3}, nil,
		func(ctx context.Context, attempt int) error {
			calls++
			return nil
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, res.Attempts)
}

func TestDo_SystemClockWaits(t *testing.T) {
	start := time.Now()
	res, err := Do(context.Background(), nil, Policy{MaxAttempts: 2, Delay: 20 * time.Millisecond}, nil,
		func(ctx context.Context, attempt int) error {
			if attempt == 1 {
				return transientErr()
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "succeeded", Succeeded.String())
	assert.Equal(t, "exhausted", Exhausted.String())
	assert.Equal(t, "aborted", Aborted.String())
	assert.Equal(t, "canceled", Canceled.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
