// Package cache provides a keyed TTL store for fetched account data.
// Each data category carries its own TTL: balances change fast, trade and
// income history change slowly, so a single global TTL would either waste
// API weight or serve stale balances.
package cache

import (
	"sync"
	"time"

	"github.com/terryso/binance-dashboard/internal/clock"
)

// Entry is a cached value with its fetch metadata. Stale is set when the
// value is being served past its TTL because an upstream refresh failed.
type Entry[T any] struct {
	Value     T
	FetchedAt time.Time
	TTL       time.Duration
	Stale     bool
}

// Fresh reports whether the entry is still inside its TTL.
func (e Entry[T]) Fresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) < e.TTL
}

// Age returns how long ago the entry was fetched.
func (e Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Store is a goroutine-safe keyed store of Entry values. Readers always
// observe a complete entry, either the old tuple or the new one. Values are
// returned by copy; the store never hands out a mutable reference.
type Store[T any] struct {
	clk clock.Clock

	mu      sync.RWMutex
	entries map[string]Entry[T]
}

// NewStore creates an empty store using the given clock.
func NewStore[T any](clk clock.Clock) *Store[T] {
	return &Store[T]{
		clk:     clk,
		entries: make(map[string]Entry[T]),
	}
}

// Get returns the entry for key, if present. Expired entries are returned
// as-is; freshness is the caller's call via Entry.Fresh.
func (s *Store[T]) Get(key string) (Entry[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// Put stores value under key with the given TTL, clearing any stale mark.
func (s *Store[T]) Put(key string, value T, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = Entry[T]{
		Value:     value,
		FetchedAt: s.clk.Now(),
		TTL:       ttl,
	}
}

// MarkStale flags the entry for key as served-past-TTL.
func (s *Store[T]) MarkStale(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.Stale = true
		s.entries[key] = e
	}
}

// Invalidate drops the entry for key.
func (s *Store[T]) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// InvalidateAll drops every entry. Called on credential rotation so data
// fetched under the old identity is never served under the new one.
func (s *Store[T]) InvalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry[T])
}

// Len returns the number of cached entries.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
