// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package fallback

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps entries in process memory. Entries do not survive a
// restart; it is meant for tests and for deployments without local disk.
type MemoryBackend struct {
	mu      sync.Mutex
	seq     int64
	entries map[string]memoryRecord
}

type memoryRecord struct {
	seq   int64
	entry Entry
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memoryRecord)}
}

func (b *MemoryBackend) Load(_ context.Context) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := make([]memoryRecord, 0, len(b.entries))
	for _, r := range b.entries {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })

	out := make([]Entry, 0, len(records))
	for _, r := range records {
		out = append(out, r.entry)
	}
	return out, nil
}

func (b *MemoryBackend) Put(_ context.Context, entry Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.entries[entry.ID]; ok {
		b.entries[entry.ID] = memoryRecord{seq: existing.seq, entry: entry}
		return nil
	}
	b.seq++
	b.entries[entry.ID] = memoryRecord{seq: b.seq, entry: entry}
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[id]; !ok {
		return ErrNotFound
	}
	delete(b.entries, id)
	return nil
}

func (b *MemoryBackend) Close() error { return nil }

func (b *MemoryBackend) Name() string { return "memory" }
