package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/assetpulse/assetpulse/internal/engine"
)

// Entry is a completed report together with the time it was stored.
type Entry struct {
	Report    *engine.Report
	UpdatedAt time.Time
}

// Store is a thread-safe in-memory report store, keyed by report ID.
// A background goroutine (Run) periodically evicts reports that have
// outlived the configured TTL; durable retention belongs to the history
// sink, not here.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Put stores or replaces the report under rep.ID.
// Callers must not modify rep after calling Put.
func (s *Store) Put(rep *engine.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rep.ID] = &Entry{
		Report:    rep,
		UpdatedAt: s.now(),
	}
}

// TTL returns the store's configured entry lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Get returns the Entry for the given report ID and a boolean indicating
// whether an entry was found. The entry may be stale if TTL has elapsed.
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[id]
	return e, ok
}

// List returns all entries within the TTL, newest first. Stale entries that
// have not yet been evicted are excluded.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]*Entry, 0, len(s.data))
	for _, e := range s.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Report.ReceivedAt.After(out[j].Report.ReceivedAt)
	})
	return out
}

// Count returns the total number of entries currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// interval (minimum 1 second) so reports disappear promptly once expired.
// Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted expired reports", "count", n)
			}
		}
	}
}
