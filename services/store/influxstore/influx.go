// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package influxstore keeps weather and market price history in InfluxDB.
//
// Each table is a measurement. Identity columns (state, district, crop,
// market) become tags, numbers and remaining strings become fields, and the
// table's timestamp column becomes the point time. Reads pivot fields back
// into rows. InfluxDB has no change feed, so Subscribe is unsupported and
// the resolver falls back to TTL expiry for cache freshness.
package influxstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	ihttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/pkg/validation"
	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/retry"
	"github.com/AleutianAI/AgriPortal/services/store"
)

// Config configures the InfluxDB connection.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// Lookback bounds every read. Default 30 days.
	Lookback time.Duration

	// HealthPolicy controls the startup readiness wait.
	// Default 10 attempts, 3s apart.
	HealthPolicy retry.Policy

	Logger *slog.Logger
}

// layout describes how a table maps onto a measurement.
type layout struct {
	tags       []string
	timeColumn string
}

var layouts = map[string]layout{
	"weather_data":         {tags: []string{"state", "district"}, timeColumn: "forecast_date"},
	"market_prices":        {tags: []string{"state", "district", "crop_name", "market_name"}, timeColumn: "updated_at"},
	"crop_recommendations": {tags: []string{"state", "crop_name", "soil_type", "climate_zone"}},

	"fertilizer_recommendations": {tags: []string{"crop_name"}},
}

func layoutFor(table string) layout {
	if l, ok := layouts[table]; ok {
		return l
	}
	return layout{}
}

// Store implements store.Store on InfluxDB.
type Store struct {
	client   influxdb2.Client
	write    api.WriteAPIBlocking
	query    api.QueryAPI
	bucket   string
	lookback time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to InfluxDB and waits until it reports healthy.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.HealthPolicy
	if policy.MaxAttempts == 0 {
		policy = retry.Policy{MaxAttempts: 10, Delay: 3 * time.Second}
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	_, err := retry.Do(ctx, nil, policy, func(error) bool { return true },
		func(ctx context.Context, attempt int) error {
			health, err := client.Health(ctx)
			if err == nil && health.Status == "pass" {
				return nil
			}
			if err == nil {
				err = fmt.Errorf("status %s", health.Status)
			}
			logger.Warn("InfluxDB not ready, retrying", "attempt", attempt, "error", err)
			return err
		})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to InfluxDB at %s: %w", cfg.URL, err)
	}

	s := New(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), client.QueryAPI(cfg.Org), cfg.Bucket, cfg.Lookback, logger)
	s.client = client
	return s, nil
}

// New wraps existing write and query APIs.
func New(w api.WriteAPIBlocking, q api.QueryAPI, bucket string, lookback time.Duration, logger *slog.Logger) *Store {
	if lookback <= 0 {
		lookback = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		write:    w,
		query:    q,
		bucket:   bucket,
		lookback: lookback,
		now:      time.Now,
		logger:   logger.With("component", "influxstore"),
	}
}

// Close releases the client when the Store owns it.
func (s *Store) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

// Insert writes rows as points of the table's measurement.
func (s *Store) Insert(ctx context.Context, table string, rows []agri.Payload) error {
	op := "insert " + table
	if err := validation.ValidateTable(table); err != nil {
		return faults.Permanent(faults.ErrBatchValidation, op, err)
	}

	points := make([]*write.Point, 0, len(rows))
	for i, row := range rows {
		p, err := s.toPoint(table, row)
		if err != nil {
			return faults.Permanent(faults.ErrBatchValidation, op, fmt.Errorf("row %d: %w", i, err))
		}
		points = append(points, p)
	}

	if err := s.write.WritePoint(ctx, points...); err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return ctx.Err()
		}
		var herr *ihttp.Error
		if errors.As(err, &herr) && herr.StatusCode >= 400 && herr.StatusCode < 500 &&
			herr.StatusCode != 408 && herr.StatusCode != 429 {
			return faults.Permanent(faults.ErrBatchValidation, op, err)
		}
		return faults.Transient(faults.ErrBatchTransient, op, err)
	}
	return nil
}

func (s *Store) toPoint(table string, row agri.Payload) (*write.Point, error) {
	l := layoutFor(table)
	tags := make(map[string]string, len(l.tags))
	fields := make(map[string]interface{}, len(row))
	ts := s.now()

	isTag := make(map[string]bool, len(l.tags))
	for _, t := range l.tags {
		isTag[t] = true
	}

	for k, v := range row {
		switch {
		case v == nil:
			continue
		case k == l.timeColumn && l.timeColumn != "":
			str, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s: expected RFC3339 string", k)
			}
			parsed, err := time.Parse(time.RFC3339, str)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			ts = parsed
		case isTag[k]:
			tags[k] = fmt.Sprint(v)
		default:
			if f, ok := row.Float(k); ok {
				if _, isString := v.(string); !isString {
					fields[k] = f
					continue
				}
			}
			switch tv := v.(type) {
			case string:
				fields[k] = tv
			case bool:
				fields[k] = tv
			case []string:
				fields[k] = strings.Join(tv, listSeparator)
			case []any:
				joined, err := joinStrings(tv)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", k, err)
				}
				fields[k] = joined
			default:
				return nil, fmt.Errorf("%s: unsupported value type %T", k, v)
			}
		}
	}
	if len(fields) == 0 {
		return nil, errors.New("row has no fields")
	}
	return influxdb2.NewPoint(table, tags, fields, ts), nil
}

// listSeparator joins string lists into one field value. Influx fields
// are scalar, so list columns read back as this joined string.
const listSeparator = ", "

func joinStrings(items []any) (string, error) {
	parts := make([]string, len(items))
	for i, item := range items {
		str, ok := item.(string)
		if !ok {
			return "", fmt.Errorf("unsupported list element type %T", item)
		}
		parts[i] = str
	}
	return strings.Join(parts, listSeparator), nil
}

// BuildQuery renders q as Flux. Filter values must already be validated.
func BuildQuery(bucket string, lookback time.Duration, q store.Query) string {
	l := layoutFor(q.Table)
	isTag := make(map[string]bool, len(l.tags))
	for _, t := range l.tags {
		isTag[t] = true
	}

	cols := make([]string, 0, len(q.Eq))
	for c := range q.Eq {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&b, "  |> range(start: -%ds)\n", int64(lookback/time.Second))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q)\n", q.Table)
	for _, c := range cols {
		if isTag[c] {
			fmt.Fprintf(&b, "  |> filter(fn: (r) => r.%s == %q)\n", c, q.Eq[c])
		}
	}
	b.WriteString("  |> pivot(rowKey: [\"_time\"], columnKey: [\"_field\"], valueColumn: \"_value\")\n")
	b.WriteString("  |> group()\n")
	for _, c := range cols {
		if !isTag[c] {
			fmt.Fprintf(&b, "  |> filter(fn: (r) => r.%s == %q)\n", c, q.Eq[c])
		}
	}

	sortCol := q.OrderBy
	if sortCol == "" || sortCol == l.timeColumn {
		sortCol = "_time"
	}
	fmt.Fprintf(&b, "  |> sort(columns: [%q], desc: %t)\n", sortCol, q.Descending || q.OrderBy == "")
	if q.Limit > 0 {
		fmt.Fprintf(&b, "  |> limit(n: %d)\n", q.Limit)
	}
	return b.String()
}

// Select implements store.Reader.
func (s *Store) Select(ctx context.Context, q store.Query) ([]agri.Payload, error) {
	op := "select " + q.Table
	if err := validation.ValidateTable(q.Table); err != nil {
		return nil, faults.Permanent(faults.ErrInvalidRequest, op, err)
	}
	for c, v := range q.Eq {
		if err := validation.ValidateTable(c); err != nil {
			return nil, faults.Permanent(faults.ErrInvalidRequest, op, err)
		}
		if err := validation.ValidateParam(v); err != nil {
			return nil, faults.Permanent(faults.ErrInvalidRequest, op, err)
		}
	}
	if q.OrderBy != "" {
		if err := validation.ValidateTable(q.OrderBy); err != nil {
			return nil, faults.Permanent(faults.ErrInvalidRequest, op, err)
		}
	}

	flux := BuildQuery(s.bucket, s.lookback, q)
	result, err := s.query.Query(ctx, flux)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, faults.Transient(faults.ErrStoreTransport, op, err)
	}
	if result == nil {
		return nil, faults.NotFound(op)
	}
	defer result.Close()

	timeColumn := layoutFor(q.Table).timeColumn
	var rows []agri.Payload
	for result.Next() {
		rec := result.Record()
		row := agri.Payload{}
		for k, v := range rec.Values() {
			if k == "result" || k == "table" || strings.HasPrefix(k, "_") {
				continue
			}
			row[k] = v
		}
		if timeColumn != "" {
			row[timeColumn] = rec.Time().UTC().Format(time.RFC3339)
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, faults.Transient(faults.ErrStoreTransport, op, err)
	}
	if len(rows) == 0 {
		return nil, faults.NotFound(op)
	}
	return rows, nil
}

// Subscribe is not supported by InfluxDB.
func (s *Store) Subscribe(ctx context.Context, table string) (store.Subscription, error) {
	return nil, faults.Permanent(faults.ErrSubscribeUnsupported, "subscribe "+table, nil)
}
