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
	"sort"
	"sync"
)

// Feed is a Subscription backed by a producer goroutine.
//
// The adapter starts one goroutine that calls Publish for each change and
// Finish exactly once when it stops. Close cancels the producer's context
// and waits for Finish.
type Feed struct {
	events chan ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// NewFeed returns a Feed whose producer is stopped by cancel.
func NewFeed(buffer int, cancel context.CancelFunc) *Feed {
	return &Feed{
		events: make(chan ChangeEvent, buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Events implements Subscription.
func (f *Feed) Events() <-chan ChangeEvent { return f.events }

// Publish delivers ev unless ctx ends first.
func (f *Feed) Publish(ctx context.Context, ev ChangeEvent) bool {
	select {
	case f.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish records why the producer stopped and closes Events. Must be
// called once, by the producer.
func (f *Feed) Finish(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	close(f.events)
	close(f.done)
}

// Err implements Subscription.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Done is closed after Finish.
func (f *Feed) Done() <-chan struct{} { return f.done }

// Close implements Subscription. Safe to call more than once.
func (f *Feed) Close() error {
	f.cancel()
	<-f.done
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
