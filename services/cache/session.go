// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides the process-lifetime session cache used by the
// resolver and the live source client.
//
// Entries expire after a fixed TTL and can be invalidated individually or
// by key prefix when the persisted store reports a change. Writes for a
// single key are atomic; two concurrent writers for the same key leave one
// of the two values, and at worst cause one duplicate upstream fetch.
package cache

import (
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Entry is a cached value and the time it was stored.
type Entry[V any] struct {
	Value    V
	StoredAt time.Time
}

// Session is a TTL cache of V values keyed by request signature.
type Session[V any] struct {
	c   *gocache.Cache
	ttl time.Duration
	now func() time.Time
}

// New returns a Session whose entries live for ttl. A ttl of zero or less
// keeps entries until they are invalidated.
func New[V any](ttl time.Duration) *Session[V] {
	expiration := ttl
	cleanup := 2 * ttl
	if ttl <= 0 {
		expiration = gocache.NoExpiration
		cleanup = 0
	}
	return &Session[V]{
		c:   gocache.New(expiration, cleanup),
		ttl: ttl,
		now: time.Now,
	}
}

// TTL returns the configured entry lifetime.
func (s *Session[V]) TTL() time.Duration { return s.ttl }

// Get returns the live entry for key.
func (s *Session[V]) Get(key string) (Entry[V], bool) {
	obj, found := s.c.Get(key)
	if !found {
		return Entry[V]{}, false
	}
	e, ok := obj.(Entry[V])
	return e, ok
}

// Set stores value under key with the default TTL.
func (s *Session[V]) Set(key string, value V) {
	s.c.SetDefault(key, Entry[V]{Value: value, StoredAt: s.now()})
}

// Invalidate removes key and reports whether it was present.
func (s *Session[V]) Invalidate(key string) bool {
	_, found := s.c.Get(key)
	s.c.Delete(key)
	return found
}

// InvalidatePrefix removes every key starting with prefix and returns how
// many were removed.
func (s *Session[V]) InvalidatePrefix(prefix string) int {
	n := 0
	for key := range s.c.Items() {
		if strings.HasPrefix(key, prefix) {
			s.c.Delete(key)
			n++
		}
	}
	return n
}

// Flush removes every entry.
func (s *Session[V]) Flush() { s.c.Flush() }

// Len returns the number of stored entries, including expired ones not yet
// cleaned up.
func (s *Session[V]) Len() int { return s.c.ItemCount() }

// CoordinateKey builds a key from coordinates rounded to three decimals
// (about 110 m), so nearby lookups share an entry.
func CoordinateKey(prefix string, lat, lon float64) string {
	return fmt.Sprintf("%s:%.3f,%.3f", prefix, lat, lon)
}

// QueryKey builds a case-insensitive key from a free-text query.
func QueryKey(prefix, query string) string {
	return prefix + ":" + strings.ToLower(strings.Join(strings.Fields(query), " "))
}
