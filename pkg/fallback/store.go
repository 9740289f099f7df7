// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package fallback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/phi-audit/pkg/metrics"
)

// DefaultCapacity is the number of entries kept before the oldest is evicted.
const DefaultCapacity = 1000

// ErrNotFound is returned when no entry exists for an id.
var ErrNotFound = errors.New("fallback: entry not found")

// Entry is a sealed audit envelope held for later reconciliation.
// Envelope holds the already-encrypted wire payload and is never plaintext PHI.
type Entry struct {
	ID          string    `json:"id" yaml:"id"`
	EventType   string    `json:"eventType" yaml:"eventType"`
	Sensitivity string    `json:"sensitivity" yaml:"sensitivity"`
	Reason      string    `json:"reason" yaml:"reason"`
	StoredAt    time.Time `json:"storedAt" yaml:"storedAt"`
	Envelope    []byte    `json:"envelope" yaml:"-"`
}

// Backend persists entries. Put must insert or replace by ID while keeping
// the original insertion position; Load returns entries oldest first.
type Backend interface {
	Load(ctx context.Context) ([]Entry, error)
	Put(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, id string) error
	Close() error
	Name() string
}

// Stats describes the store's current occupancy.
type Stats struct {
	Backend  string `json:"backend"`
	Len      int    `json:"len"`
	Capacity int    `json:"capacity"`
	Evicted  int64  `json:"evicted"`
}

// Store is a fixed-capacity ring buffer. When full, inserting a new entry
// evicts exactly the oldest one. Entries are indexed by ID so writing the
// same event twice occupies a single slot.
type Store struct {
	mu       sync.Mutex
	entries  []*Entry
	head     int
	count    int
	index    map[string]int
	evicted  int64
	backend  Backend
	logger   *zap.Logger
	now      func() time.Time
	capacity int
}

// Open creates a store on top of backend and reloads any persisted entries.
// If the backend holds more than capacity entries, the oldest are evicted.
func Open(ctx context.Context, backend Backend, capacity int, logger *zap.Logger) (*Store, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if backend == nil {
		backend = NewMemoryBackend()
	}

	s := &Store{
		entries:  make([]*Entry, capacity),
		index:    make(map[string]int, capacity),
		backend:  backend,
		logger:   logger.Named("fallback-store").With(zap.String("backend", backend.Name())),
		now:      func() time.Time { return time.Now().UTC() },
		capacity: capacity,
	}

	persisted, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load fallback entries from %s: %w", backend.Name(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range persisted {
		entry := persisted[i]
		if _, err := s.insertLocked(ctx, &entry, false); err != nil {
			return nil, err
		}
	}
	metrics.AuditFallbackEntries.Set(float64(s.count))

	s.logger.Info("fallback store opened",
		zap.Int("entries", s.count),
		zap.Int("capacity", capacity))

	return s, nil
}

// Put stores entry, evicting the oldest entry if the store is full.
// It reports whether an eviction happened. The in-memory ring is updated even
// when the backend write fails; the backend error is returned to the caller.
func (s *Store) Put(ctx context.Context, entry Entry) (bool, error) {
	if entry.ID == "" {
		return false, errors.New("fallback: entry id is required")
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted, err := s.insertLocked(ctx, &entry, true)
	metrics.AuditFallbackEntries.Set(float64(s.count))
	return evicted, err
}

func (s *Store) insertLocked(ctx context.Context, entry *Entry, persist bool) (bool, error) {
	if slot, ok := s.index[entry.ID]; ok {
		s.entries[slot] = entry
		if persist {
			return false, s.persist(ctx, entry)
		}
		return false, nil
	}

	var evictErr error
	evicted := false
	if s.count == s.capacity {
		oldest := s.entries[s.head]
		delete(s.index, oldest.ID)
		s.entries[s.head] = nil
		s.head = (s.head + 1) % s.capacity
		s.count--
		s.evicted++
		evicted = true
		metrics.AuditFallbackEvictions.Inc()
		s.logger.Warn("fallback store full, evicted oldest entry",
			zap.String("event_id", oldest.ID),
			zap.Time("stored_at", oldest.StoredAt))
		if err := s.backend.Delete(ctx, oldest.ID); err != nil && !errors.Is(err, ErrNotFound) {
			evictErr = fmt.Errorf("failed to delete evicted entry %s: %w", oldest.ID, err)
		}
	}

	slot := (s.head + s.count) % s.capacity
	s.entries[slot] = entry
	s.index[entry.ID] = slot
	s.count++

	if persist {
		if err := s.persist(ctx, entry); err != nil {
			return evicted, errors.Join(evictErr, err)
		}
	}
	return evicted, evictErr
}

func (s *Store) persist(ctx context.Context, entry *Entry) error {
	if err := s.backend.Put(ctx, *entry); err != nil {
		return fmt.Errorf("failed to persist fallback entry %s: %w", entry.ID, err)
	}
	return nil
}

// Get returns the entry for id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.index[id]
	if !ok {
		return Entry{}, false
	}
	return *s.entries[slot], true
}

// List returns a copy of all entries, oldest first.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, s.count)
	for i := 0; i < s.count; i++ {
		out = append(out, *s.entries[(s.head+i)%s.capacity])
	}
	return out
}

// Remove deletes the entry for id, typically after it was reconciled with the sink.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; !ok {
		return ErrNotFound
	}

	kept := make([]*Entry, 0, s.count-1)
	for i := 0; i < s.count; i++ {
		e := s.entries[(s.head+i)%s.capacity]
		if e.ID != id {
			kept = append(kept, e)
		}
	}

	clear(s.entries)
	clear(s.index)
	for i, e := range kept {
		s.entries[i] = e
		s.index[e.ID] = i
	}
	s.head = 0
	s.count = len(kept)
	metrics.AuditFallbackEntries.Set(float64(s.count))

	if err := s.backend.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete fallback entry %s: %w", id, err)
	}
	return nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Capacity returns the maximum number of entries.
func (s *Store) Capacity() int {
	return s.capacity
}

// Stats returns occupancy statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Backend:  s.backend.Name(),
		Len:      s.count,
		Capacity: s.capacity,
		Evicted:  s.evicted,
	}
}

// Close releases the backend.
func (s *Store) Close() error {
	s.logger.Info("closing fallback store", zap.Int("entries", s.Len()))
	return s.backend.Close()
}
