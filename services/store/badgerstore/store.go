// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore is the embedded persisted store, built on BadgerDB.
//
// Rows are JSON documents stored under "t/<table>/<id>". Reads scan the
// table prefix, so this store suits the portal's reference tables (a few
// thousand rows each), not unbounded history. Change notifications come
// from badger's native key subscription on the table prefix.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badgerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/pkg/validation"
	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/store"
)

// User meta bytes recorded on each write, surfaced to subscribers.
const (
	metaInsert byte = 1
	metaUpdate byte = 2
)

// IDField is the primary key column every row must carry.
const IDField = "id"

// Store implements store.Store on BadgerDB.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens the database described by cfg and starts value log GC when
// configured.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger.With("component", "badgerstore")}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = runner
		runner.start()
	}
	return s, nil
}

// OpenInMemory opens an empty in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func tablePrefix(table string) []byte {
	return []byte("t/" + table + "/")
}

func rowKey(table, id string) []byte {
	return append(tablePrefix(table), id...)
}

// Insert writes rows into table, replacing rows with the same id.
//
// Every row must carry a non-empty string id; otherwise the whole batch
// is rejected with a permanent ErrBatchValidation error and nothing is
// written.
func (s *Store) Insert(ctx context.Context, table string, rows []agri.Payload) error {
	op := "insert " + table
	if err := validation.ValidateTable(table); err != nil {
		return faults.Permanent(faults.ErrBatchValidation, op, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	keys := make([][]byte, len(rows))
	values := make([][]byte, len(rows))
	for i, row := range rows {
		id, _ := row[IDField].(string)
		if id == "" {
			return faults.Permanent(faults.ErrBatchValidation, op, fmt.Errorf("row %d: missing %q", i, IDField))
		}
		data, err := json.Marshal(row)
		if err != nil {
			return faults.Permanent(faults.ErrBatchValidation, op, fmt.Errorf("row %d: %w", i, err))
		}
		keys[i] = rowKey(table, id)
		values[i] = data
	}

	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for i := range keys {
		meta := metaInsert
		if _, err := txn.Get(keys[i]); err == nil {
			meta = metaUpdate
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return s.writeError(op, err)
		}

		entry := badger.NewEntry(keys[i], values[i]).WithMeta(meta)
		err := txn.SetEntry(entry)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return s.writeError(op, err)
			}
			txn = s.db.NewTransaction(true)
			err = txn.SetEntry(entry)
		}
		if err != nil {
			return s.writeError(op, err)
		}
	}

	if err := txn.Commit(); err != nil {
		return s.writeError(op, err)
	}
	return nil
}

// Delete removes one row.
func (s *Store) Delete(ctx context.Context, table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(rowKey(table, id))
	})
	if err != nil {
		return s.writeError("delete "+table, err)
	}
	return nil
}

func (s *Store) writeError(op string, err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return faults.Permanent(faults.ErrStoreTransport, op, err)
	}
	return faults.Transient(faults.ErrBatchTransient, op, err)
}

// Select returns rows of q.Table matching q.Eq, ordered and limited as
// requested. No match is reported as a NotFound error.
func (s *Store) Select(ctx context.Context, q store.Query) ([]agri.Payload, error) {
	op := "select " + q.Table
	if err := validation.ValidateTable(q.Table); err != nil {
		return nil, faults.Permanent(faults.ErrInvalidRequest, op, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []agri.Payload
	prefix := tablePrefix(q.Table)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var row agri.Payload
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if store.Matches(row, q.Eq) {
				rows = append(rows, row)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, badger.ErrDBClosed) {
			return nil, faults.Permanent(faults.ErrStoreTransport, op, err)
		}
		return nil, faults.Transient(faults.ErrStoreTransport, op, err)
	}

	if len(rows) == 0 {
		return nil, faults.NotFound(op)
	}

	if q.OrderBy != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			c := compareValues(rows[i][q.OrderBy], rows[j][q.OrderBy])
			if q.Descending {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

// compareValues orders two column values: numbers numerically, anything
// else by string form. Missing values sort first.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	fa, okA := agri.Payload{"v": a}.Float("v")
	fb, okB := agri.Payload{"v": b}.Float("v")
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Subscribe opens a change feed on table.
//
// Registration with badger completes asynchronously, so writes committed
// in the same instant as Subscribe may not be reported.
func (s *Store) Subscribe(ctx context.Context, table string) (store.Subscription, error) {
	if err := validation.ValidateTable(table); err != nil {
		return nil, faults.Permanent(faults.ErrInvalidRequest, "subscribe "+table, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	feed := store.NewFeed(64, cancel)
	prefix := tablePrefix(table)

	go func() {
		err := s.db.Subscribe(subCtx, func(kvs *badger.KVList) error {
			for _, kv := range kvs.Kv {
				ev, ok := decodeChange(table, prefix, kv)
				if !ok {
					s.logger.Warn("skipping undecodable change", "table", table, "key", string(kv.Key))
					continue
				}
				if !feed.Publish(subCtx, ev) {
					return subCtx.Err()
				}
			}
			return nil
		}, []pb.Match{{Prefix: prefix}})

		if err != nil && (errors.Is(err, context.Canceled) || subCtx.Err() != nil) {
			err = nil
		}
		if err != nil {
			err = faults.Transient(faults.ErrStoreTransport, "subscribe "+table, err)
		}
		feed.Finish(err)
	}()

	return feed, nil
}

func decodeChange(table string, prefix []byte, kv *pb.KV) (store.ChangeEvent, bool) {
	id := string(bytes.TrimPrefix(kv.Key, prefix))
	if len(kv.Value) == 0 {
		return store.ChangeEvent{
			Table: table,
			Type:  store.ChangeDelete,
			Old:   agri.Payload{IDField: id},
		}, true
	}

	var row agri.Payload
	if err := json.Unmarshal(kv.Value, &row); err != nil {
		return store.ChangeEvent{}, false
	}
	typ := store.ChangeInsert
	if len(kv.Meta) > 0 && kv.Meta[0] == metaUpdate {
		typ = store.ChangeUpdate
	}
	return store.ChangeEvent{Table: table, Type: typ, Record: row}, true
}
