// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package fallback

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func entry(id string) Entry {
	return Entry{
		ID:          id,
		EventType:   "data_access",
		Sensitivity: "critical",
		Reason:      "retries_exhausted",
		Envelope:    []byte(`{"id":"` + id + `"}`),
	}
}

func openStore(t *testing.T, backend Backend, capacity int) *Store {
	t.Helper()
	s, err := Open(context.Background(), backend, capacity, zap.NewNop())
	require.NoError(t, err)
	return s
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestStore_FullStoreEvictsExactlyOldest(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, nil, DefaultCapacity)

	for i := 0; i < DefaultCapacity; i++ {
		evicted, err := s.Put(ctx, entry(fmt.Sprintf("evt-%04d", i)))
		require.NoError(t, err)
		require.False(t, evicted)
	}
	require.Equal(t, DefaultCapacity, s.Len())

	evicted, err := s.Put(ctx, entry("evt-new"))
	require.NoError(t, err)
	assert.True(t, evicted)
	assert.Equal(t, DefaultCapacity, s.Len())

	_, ok := s.Get("evt-0000")
	assert.False(t, ok, "oldest entry evicted")
	_, ok = s.Get("evt-0001")
	assert.True(t, ok, "second oldest kept")

	list := s.List()
	assert.Equal(t, "evt-0001", list[0].ID)
	assert.Equal(t, "evt-new", list[len(list)-1].ID)
	assert.Equal(t, int64(1), s.Stats().Evicted)
}

func TestStore_SizeNeverExceedsCapacity(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, nil, 5)

	for i := 0; i < 23; i++ {
		_, err := s.Put(ctx, entry(fmt.Sprintf("evt-%d", i)))
		require.NoError(t, err)
		require.LessOrEqual(t, s.Len(), 5)
	}
	assert.Equal(t, []string{"evt-18", "evt-19", "evt-20", "evt-21", "evt-22"}, ids(s.List()))
}

func TestStore_PutSameIDOccupiesOneSlot(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, nil, 3)

	_, err := s.Put(ctx, entry("a"))
	require.NoError(t, err)
	_, err = s.Put(ctx, entry("b"))
	require.NoError(t, err)

	updated := entry("a")
	updated.Reason = "critical_send_failed"
	evicted, err := s.Put(ctx, updated)
	require.NoError(t, err)
	assert.False(t, evicted)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"a", "b"}, ids(s.List()), "position of the original insert is kept")
	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "critical_send_failed", got.Reason)
	assert.False(t, got.StoredAt.IsZero())
}

func TestStore_Remove(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := openStore(t, backend, 3)

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := s.Put(ctx, entry(id))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"b", "c", "d"}, ids(s.List()))

	require.NoError(t, s.Remove(ctx, "c"))
	assert.Equal(t, []string{"b", "d"}, ids(s.List()))
	assert.ErrorIs(t, s.Remove(ctx, "c"), ErrNotFound)

	_, err := s.Put(ctx, entry("e"))
	require.NoError(t, err)
	_, err = s.Put(ctx, entry("f"))
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "e", "f"}, ids(s.List()))

	persisted, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "e", "f"}, ids(persisted))
}

func TestStore_ReloadsFromBackend(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	first := openStore(t, backend, 10)
	for _, id := range []string{"a", "b", "c"} {
		_, err := first.Put(ctx, entry(id))
		require.NoError(t, err)
	}

	restarted := openStore(t, backend, 10)
	assert.Equal(t, []string{"a", "b", "c"}, ids(restarted.List()))

	shrunk := openStore(t, backend, 2)
	assert.Equal(t, []string{"b", "c"}, ids(shrunk.List()), "excess persisted entries are evicted oldest first")
}

func TestStore_RejectsMissingID(t *testing.T) {
	s := openStore(t, nil, 2)
	_, err := s.Put(context.Background(), Entry{})
	assert.Error(t, err)
}

type failingBackend struct {
	*MemoryBackend
}

func (b failingBackend) Put(context.Context, Entry) error {
	return errors.New("disk full")
}

func TestStore_BackendFailureKeepsMemoryCopy(t *testing.T) {
	s := openStore(t, failingBackend{NewMemoryBackend()}, 2)

	_, err := s.Put(context.Background(), entry("a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	_, ok := s.Get("a")
	assert.True(t, ok)
}
