// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// MockReader implements Reader for testing.
type MockReader struct {
	SelectFunc func(ctx context.Context, q Query) ([]agri.Payload, error)
	Queries    []Query
}

func (m *MockReader) Select(ctx context.Context, q Query) ([]agri.Payload, error) {
	m.Queries = append(m.Queries, q)
	return m.SelectFunc(ctx, q)
}

func TestLatestQuery(t *testing.T) {
	spec, _ := agri.Lookup(agri.KindMarketPrice)
	q := LatestQuery(spec, map[string]string{"state": "Punjab", "crop": "Wheat"})

	assert.Equal(t, "market_prices", q.Table)
	assert.Equal(t, map[string]string{"state": "Punjab", "crop_name": "Wheat"}, q.Eq)
	assert.Equal(t, "updated_at", q.OrderBy)
	assert.True(t, q.Descending)
	assert.Equal(t, 1, q.Limit)
	assert.Equal(t, `market_prices crop_name="Wheat" state="Punjab" order=updated_at.desc limit=1`, q.String())

	crops, _ := agri.Lookup(agri.KindCropRecommendation)
	assert.False(t, LatestQuery(crops, nil).Descending)
}

func TestLatest(t *testing.T) {
	ctx := context.Background()

	t.Run("first row", func(t *testing.T) {
		r := &MockReader{SelectFunc: func(ctx context.Context, q Query) ([]agri.Payload, error) {
			return []agri.Payload{{"id": "a"}, {"id": "b"}}, nil
		}}
		row, err := Latest(ctx, r, Query{Table: "weather_data", Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, "a", row.String("id"))
		assert.Equal(t, 1, r.Queries[0].Limit)
	})

	t.Run("empty result is not found", func(t *testing.T) {
		r := &MockReader{SelectFunc: func(ctx context.Context, q Query) ([]agri.Payload, error) {
			return nil, nil
		}}
		_, err := Latest(ctx, r, Query{Table: "weather_data"})
		assert.True(t, faults.IsNotFound(err))
	})

	t.Run("transport error passes through", func(t *testing.T) {
		r := &MockReader{SelectFunc: func(ctx context.Context, q Query) ([]agri.Payload, error) {
			return nil, faults.Transient(faults.ErrStoreTransport, "select", errors.New("refused"))
		}}
		_, err := Latest(ctx, r, Query{Table: "weather_data"})
		assert.ErrorIs(t, err, faults.ErrStoreTransport)
	})
}

func TestPing(t *testing.T) {
	ctx := context.Background()
	notFound := &MockReader{SelectFunc: func(ctx context.Context, q Query) ([]agri.Payload, error) {
		return nil, faults.NotFound("select")
	}}
	assert.NoError(t, Ping(ctx, notFound, "weather_data"))

	down := &MockReader{SelectFunc: func(ctx context.Context, q Query) ([]agri.Payload, error) {
		return nil, faults.Transient(faults.ErrStoreTransport, "select", nil)
	}}
	assert.Error(t, Ping(ctx, down, "weather_data"))
}

func TestMatches(t *testing.T) {
	row := agri.Payload{"state": "Tamil Nadu", "district": "Madurai", "temperature": 31.0}
	assert.True(t, Matches(row, map[string]string{"state": "tamil nadu"}))
	assert.True(t, Matches(row, map[string]string{"temperature": "31"}))
	assert.True(t, Matches(row, nil))
	assert.False(t, Matches(row, map[string]string{"district": "Chennai"}))
	assert.False(t, Matches(row, map[string]string{"crop_name": "Rice"}))
}

func TestFeed_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	feed := NewFeed(0, cancel)

	go func() {
		for {
			if !feed.Publish(ctx, ChangeEvent{Table: "weather_data", Type: ChangeInsert}) {
				feed.Finish(nil)
				return
			}
		}
	}()

	ev := <-feed.Events()
	assert.Equal(t, ChangeInsert, ev.Type)

	require.NoError(t, feed.Close())
	require.NoError(t, feed.Close())
	assert.NoError(t, feed.Err())

	for range feed.Events() {
	}
}

func TestFeed_ProducerError(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := NewFeed(1, cancel)

	lost := errors.New("connection lost")
	go feed.Finish(lost)

	<-feed.Done()
	_, open := <-feed.Events()
	assert.False(t, open)
	assert.ErrorIs(t, feed.Err(), lost)
}
