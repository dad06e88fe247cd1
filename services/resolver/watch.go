// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/store"
)

// Watcher keeps the cache consistent with one table's change feed.
// The owner must call Close.
type Watcher struct {
	kind agri.Kind
	sub  store.Subscription
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

// Watch subscribes to kind's table and drops the cache entries each
// change affects. If the feed is lost every entry of kind is dropped and
// the watcher stops; Err reports why.
func (r *Resolver) Watch(ctx context.Context, kind agri.Kind) (*Watcher, error) {
	spec, ok := agri.Lookup(kind)
	if !ok {
		return nil, faults.Invalid("unknown kind %q", kind)
	}
	if r.notifier == nil {
		return nil, faults.Permanent(faults.ErrSubscribeUnsupported, "watch "+spec.Table, nil)
	}

	sub, err := r.notifier.Subscribe(ctx, spec.Table)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", spec.Table, err)
	}

	w := &Watcher{kind: kind, sub: sub, done: make(chan struct{})}
	go w.run(ctx, r, spec)
	return w, nil
}

func (w *Watcher) run(ctx context.Context, r *Resolver, spec agri.Spec) {
	defer close(w.done)
	logger := r.logger.With("kind", w.kind, "table", spec.Table)
	logger.Info("watching for changes")

	events := w.sub.Events()
	for {
		select {
		case <-ctx.Done():
			w.closeSub()
			// Drain until the feed closes so its producer can finish.
			for range events {
			}
			return
		case ev, ok := <-events:
			if !ok {
				if err := w.sub.Err(); err != nil {
					w.setErr(err)
					n := r.cache.InvalidatePrefix(kindPrefix(w.kind))
					r.metrics.ObserveInvalidation(string(w.kind), "feed_lost", n)
					logger.Error("change feed lost, cache entries dropped", "error", err, "dropped", n)
				}
				return
			}
			n := invalidate(r, spec, ev)
			r.metrics.ObserveInvalidation(string(w.kind), "change", n)
			logger.Debug("change applied", "type", ev.Type, "dropped", n)
		}
	}
}

// invalidate drops every cache key a request could have used to cache the
// changed row. An update without the previous row may have moved the row
// away from keys nobody can name, so it drops every entry of the kind.
func invalidate(r *Resolver, spec agri.Spec, ev store.ChangeEvent) int {
	if ev.Type == store.ChangeUpdate && ev.Old == nil {
		return r.cache.InvalidatePrefix(kindPrefix(spec.Kind))
	}
	rows := []agri.Payload{ev.Record, ev.Old}
	n := 0
	for _, row := range rows {
		if row == nil {
			continue
		}
		keys, ok := keysForRow(spec, row)
		if !ok {
			return n + r.cache.InvalidatePrefix(kindPrefix(spec.Kind))
		}
		for _, k := range keys {
			if r.cache.Invalidate(k) {
				n++
			}
		}
	}
	return n
}

// keysForRow lists the signatures of every request that row answers:
// the required parameters plus each subset of the optional parameters the
// row carries. ok is false when a required column is missing.
func keysForRow(spec agri.Spec, row agri.Payload) (keys []string, ok bool) {
	base := make(map[string]string, len(spec.RequiredParams))
	for _, p := range spec.RequiredParams {
		v, found := row[spec.Column(p)]
		if !found || v == nil {
			return nil, false
		}
		base[p] = fmt.Sprint(v)
	}

	var optional []string
	values := make(map[string]string)
	for _, p := range spec.OptionalParams {
		if v, found := row[spec.Column(p)]; found && v != nil {
			optional = append(optional, p)
			values[p] = fmt.Sprint(v)
		}
	}

	for mask := 0; mask < 1<<len(optional); mask++ {
		params := make(map[string]string, len(base)+len(optional))
		for k, v := range base {
			params[k] = v
		}
		for i, p := range optional {
			if mask&(1<<i) != 0 {
				params[p] = values[p]
			}
		}
		keys = append(keys, signatureFor(spec.Kind, params))
	}
	return keys, true
}

// Kind returns the watched kind.
func (w *Watcher) Kind() agri.Kind { return w.kind }

// Done is closed when the watcher has stopped.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// Err reports why the feed was lost. Nil after a clean Close.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close stops the watcher and waits for it to exit.
func (w *Watcher) Close() error {
	w.closeSub()
	<-w.done
	return nil
}

func (w *Watcher) closeSub() {
	w.once.Do(func() { _ = w.sub.Close() })
}

func (w *Watcher) setErr(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}
