// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package fallback

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openSQLite(t *testing.T, path string) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(context.Background(), path)
	if err != nil && strings.Contains(err.Error(), "CGO_ENABLED") {
		t.Skip("sqlite3 driver requires cgo")
	}
	require.NoError(t, err)
	return b
}

func TestSQLiteBackend_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fallback.db")

	backend := openSQLite(t, path)
	s, err := Open(ctx, backend, 3, zap.NewNop())
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := s.Put(ctx, entry(id))
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	reopened := openSQLite(t, path)
	defer func() { _ = reopened.Close() }()

	persisted, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, ids(persisted))
	assert.Equal(t, []byte(`{"id":"b"}`), persisted[0].Envelope)
	assert.False(t, persisted[0].StoredAt.IsZero())
}

func TestSQLiteBackend_UpsertKeepsPosition(t *testing.T) {
	ctx := context.Background()
	backend := openSQLite(t, filepath.Join(t.TempDir(), "fallback.db"))
	defer func() { _ = backend.Close() }()

	require.NoError(t, backend.Put(ctx, entry("a")))
	require.NoError(t, backend.Put(ctx, entry("b")))

	updated := entry("a")
	updated.Reason = "critical_send_failed"
	require.NoError(t, backend.Put(ctx, updated))

	persisted, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(persisted))
	assert.Equal(t, "critical_send_failed", persisted[0].Reason)

	require.NoError(t, backend.Delete(ctx, "a"))
	assert.ErrorIs(t, backend.Delete(ctx, "a"), ErrNotFound)
}
