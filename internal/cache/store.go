// Package cache implements the in-memory instance state cache: a
// store keyed by instance index, a field-level diff engine, a
// periodic refresher, and a subscriber hub for change notifications.
package cache

import (
	"sync"
	"time"

	"github.com/mumutools/mumuctl/internal/instance"
)

// Entry wraps a snapshot with the time it was committed to the store.
// LastUpdated is set at commit time and may differ slightly from the
// snapshot's ObservedAt.
type Entry struct {
	Snapshot    instance.Snapshot
	LastUpdated time.Time
}

// Store holds the last-known snapshot per instance index. A full
// refresh replaces the whole mapping atomically, so readers observe
// either the entirely-old or entirely-new mapping, never a mix.
// Freshness is tracked by a single store-wide timestamp written on
// each full refresh.
type Store struct {
	mu          sync.RWMutex
	entries     map[int]Entry
	lastRefresh time.Time

	now func() time.Time // injectable clock for tests
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[int]Entry),
		now:     time.Now,
	}
}

// Get returns the stored snapshot for index if present and no older
// than maxAge. A maxAge of zero or less means always stale, so the
// second return is false and the caller should refresh.
func (s *Store) Get(index int, maxAge time.Duration) (instance.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[index]
	if !ok {
		return instance.Snapshot{}, false
	}
	if maxAge <= 0 || s.now().Sub(e.LastUpdated) > maxAge {
		return instance.Snapshot{}, false
	}
	return e.Snapshot, true
}

// GetAll returns a copy of the current mapping and whether the store
// as a whole is fresh. Freshness is judged by the last full refresh
// timestamp; a store that has never been refreshed is never fresh.
func (s *Store) GetAll(maxAge time.Duration) (map[int]instance.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int]instance.Snapshot, len(s.entries))
	for idx, e := range s.entries {
		out[idx] = e.Snapshot
	}

	fresh := maxAge > 0 &&
		!s.lastRefresh.IsZero() &&
		s.now().Sub(s.lastRefresh) <= maxAge
	return out, fresh
}

// Snapshots returns a copy of the current mapping without a freshness
// judgement, for diffing against a freshly fetched set.
func (s *Store) Snapshots() map[int]instance.Snapshot {
	snaps, _ := s.GetAll(time.Nanosecond)
	return snaps
}

// ReplaceAll swaps the entire mapping for the new snapshot set and
// stamps the full-refresh time. This is the only write path for full
// refreshes; entries absent from snaps are dropped.
func (s *Store) ReplaceAll(snaps map[int]instance.Snapshot) {
	entries := make(map[int]Entry, len(snaps))

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for idx, snap := range snaps {
		entries[idx] = Entry{Snapshot: snap, LastUpdated: now}
	}
	s.entries = entries
	s.lastRefresh = now
}

// SetOne commits a single snapshot, leaving the rest of the mapping
// and the full-refresh timestamp untouched. Used by single-instance
// refreshes.
func (s *Store) SetOne(snap instance.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[snap.Index] = Entry{Snapshot: snap, LastUpdated: s.now()}
}

// Clear empties the mapping and zeroes the refresh timestamp.
// Clearing an empty store is a no-op.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[int]Entry)
	s.lastRefresh = time.Time{}
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// LastRefresh returns the time of the last committed full refresh,
// zero if none has happened yet.
func (s *Store) LastRefresh() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRefresh
}
