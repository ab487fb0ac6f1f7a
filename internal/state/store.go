package state

import (
	"sync"

	"golang.org/x/time/rate"
)

// Overlay is a transient optimistic mutation layered on the last-known
// snapshot while its transaction is in flight. Overlays are never merged
// into the snapshot; the next successful refresh supersedes them.
type Overlay struct {
	ID    string
	Apply func(*Snapshot)
}

// Store owns the snapshot and its overlays. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	snap     Snapshot
	overlays []Overlay
	closed   bool

	limiter *rate.Limiter
}

// NewStore builds a store whose chain refreshes are throttled to
// refreshPerMinute; a stale-but-cached view is served when the budget is
// spent. Refresh is idempotent so throttling is always safe.
func NewStore(refreshPerMinute int) *Store {
	if refreshPerMinute <= 0 {
		refreshPerMinute = 30
	}
	return &Store{
		limiter: rate.NewLimiter(rate.Limit(float64(refreshPerMinute)/60.0), 1),
	}
}

// View returns a copy of the snapshot with all pending overlays applied.
func (s *Store) View() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := cloneSnapshot(s.snap)
	for _, ov := range s.overlays {
		ov.Apply(&snap)
	}
	return snap
}

// Base returns the last refreshed snapshot without overlays.
func (s *Store) Base() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSnapshot(s.snap)
}

// SetSnapshot replaces the snapshot wholesale and drops every overlay: a
// successful refresh is chain truth and supersedes optimistic state. No-op
// after Close, so a teardown mid-flight never commits late state.
func (s *Store) SetSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.snap = snap
	s.overlays = nil
}

// AddOverlay records an optimistic mutation for an in-flight operation.
func (s *Store) AddOverlay(ov Overlay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.overlays = append(s.overlays, ov)
}

// DropOverlay removes the overlay for an operation that reached a terminal
// state. On success the following refresh carries the real change; on
// failure the optimistic view must disappear immediately.
func (s *Store) DropOverlay(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.overlays[:0]
	for _, ov := range s.overlays {
		if ov.ID != id {
			kept = append(kept, ov)
		}
	}
	s.overlays = kept
}

// AllowRefresh reports whether the refresh budget permits hitting the chain
// now.
func (s *Store) AllowRefresh() bool {
	return s.limiter.Allow()
}

// Close marks the store torn down; subsequent commits are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func cloneSnapshot(in Snapshot) Snapshot {
	out := in
	out.Admins = append([]RoleAssignment(nil), in.Admins...)
	out.Projects = append([]Project(nil), in.Projects...)
	out.Tokens = append([]Token(nil), in.Tokens...)
	out.Listings = append([]Listing(nil), in.Listings...)
	return out
}
