// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store defines the persisted store consumed by the resolver and
// the batch ingestion writer.
//
// Adapters live in subpackages: badgerstore (embedded), postgrest
// (Supabase-compatible REST with realtime change feed) and influxstore
// (time series). Every adapter reports failures as *faults.Error so that
// callers can tell a missing record (ClassNotFound) from an unreachable
// store (ClassTransient) from a rejected write (ClassPermanent).
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/services/agri"
)

// Query selects rows from one table.
type Query struct {
	// Table is the table to read.
	Table string

	// Eq holds column equality filters.
	Eq map[string]string

	// OrderBy sorts results by this column. Empty keeps store order.
	OrderBy string

	// Descending reverses the OrderBy sort.
	Descending bool

	// Limit caps the number of rows. Zero means no limit.
	Limit int
}

// String renders the query for logs.
func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.Table)
	for _, k := range sortedKeys(q.Eq) {
		fmt.Fprintf(&b, " %s=%q", k, q.Eq[k])
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		fmt.Fprintf(&b, " order=%s.%s", q.OrderBy, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " limit=%d", q.Limit)
	}
	return b.String()
}

// LatestQuery builds the point read for the most recent row of spec's
// table matching params.
func LatestQuery(spec agri.Spec, params map[string]string) Query {
	eq := make(map[string]string, len(params))
	for k, v := range params {
		eq[spec.Column(k)] = v
	}
	return Query{
		Table:      spec.Table,
		Eq:         eq,
		OrderBy:    spec.OrderBy,
		Descending: spec.OrderBy != "",
		Limit:      1,
	}
}

// ChangeType is the kind of row change reported by a subscription.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent reports one row change.
type ChangeEvent struct {
	Table string
	Type  ChangeType

	// Record is the new row. Nil for deletes.
	Record agri.Payload

	// Old is the previous row when the store provides it.
	Old agri.Payload
}

// Subscription is a live change feed. The owner must call Close.
//
// Events is closed when the feed ends, either through Close or because the
// connection to the store was lost. Err reports the loss; it is nil after
// a clean Close.
type Subscription interface {
	Events() <-chan ChangeEvent
	Err() error
	Close() error
}

// Reader reads rows. Select returns a ClassNotFound error when no row matches.
type Reader interface {
	Select(ctx context.Context, q Query) ([]agri.Payload, error)
}

// Writer bulk-inserts rows into a table.
type Writer interface {
	Insert(ctx context.Context, table string, rows []agri.Payload) error
}

// Notifier opens change feeds on a table.
type Notifier interface {
	Subscribe(ctx context.Context, table string) (Subscription, error)
}

// Store is the full persisted store capability.
type Store interface {
	Reader
	Writer
	Notifier
}

// Latest runs q with a limit of one and returns the single row.
func Latest(ctx context.Context, r Reader, q Query) (agri.Payload, error) {
	q.Limit = 1
	rows, err := r.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, faults.NotFound("select " + q.Table)
	}
	return rows[0], nil
}

// Ping checks that the store answers a trivial read. A NotFound answer
// counts as reachable.
func Ping(ctx context.Context, r Reader, table string) error {
	_, err := r.Select(ctx, Query{Table: table, Limit: 1})
	if err != nil && !faults.IsNotFound(err) {
		return err
	}
	return nil
}

// Matches reports whether row satisfies every equality filter, comparing
// string forms case-insensitively.
func Matches(row agri.Payload, eq map[string]string) bool {
	for col, want := range eq {
		v, ok := row[col]
		if !ok {
			return false
		}
		if !strings.EqualFold(fmt.Sprint(v), want) {
			return false
		}
	}
	return true
}
