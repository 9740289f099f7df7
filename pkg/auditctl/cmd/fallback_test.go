/*
SPDX-FileCopyrightText: 2026 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/phi-audit/pkg/fallback"
)

func sqliteConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dbPath = filepath.Join(t.TempDir(), "fallback.db")
	backend, err := fallback.NewSQLiteBackend(context.Background(), dbPath)
	if err != nil && strings.Contains(err.Error(), "CGO_ENABLED") {
		t.Skip("sqlite3 driver requires cgo")
	}
	require.NoError(t, err)

	for i, reason := range []string{"exhausted", "shutdown", "pending"} {
		require.NoError(t, backend.Put(context.Background(), fallback.Entry{
			ID:          "evt-" + reason,
			EventType:   "data_access",
			Sensitivity: "critical",
			Reason:      reason,
			StoredAt:    time.Date(2026, 4, 1, 9, i, 0, 0, time.UTC),
			Envelope:    []byte(`{"id":"evt-` + reason + `"}`),
		}))
	}
	require.NoError(t, backend.Close())

	cfgPath = writeConfig(t, "sink:\n  type: log\nfallback:\n  backend: sqlite\n  capacity: 50\n  sqlite:\n    path: "+dbPath+"\n")
	return cfgPath, dbPath
}

func TestFallbackList(t *testing.T) {
	cfgPath, _ := sqliteConfig(t)

	out, err := runCommand(t, Config{ConfigPath: cfgPath}, "fallback", "list")
	require.NoError(t, err)
	rows := lines(out)
	require.Len(t, rows, 4)
	assert.Contains(t, rows[1], "evt-exhausted")
	assert.Contains(t, rows[3], "evt-pending")

	out, err = runCommand(t, Config{ConfigPath: cfgPath}, "fallback", "list", "--reason", "shutdown", "-o", "json")
	require.NoError(t, err)
	var entries []fallback.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "evt-shutdown", entries[0].ID)
}

func TestFallbackStats(t *testing.T) {
	cfgPath, _ := sqliteConfig(t)

	out, err := runCommand(t, Config{ConfigPath: cfgPath}, "fallback", "stats", "-o", "json")
	require.NoError(t, err)
	var stats fallback.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, fallback.Stats{Backend: "sqlite", Len: 3, Capacity: 50}, stats)
}

func TestFallbackReplay(t *testing.T) {
	env := newTestEnv(t)
	env.park(t, "evt-1")
	env.park(t, "evt-2")
	path := writeConfig(t, minimalConfig)

	out, err := runCommand(t, Config{ConfigPath: path, NewService: env.factory()}, "fallback", "replay")
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "2", "0"}, strings.Fields(lines(out)[1]))

	events, _ := env.sink.counts()
	assert.Equal(t, 2, events)
	remaining, err := env.backend.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.True(t, env.sink.closed)
}

func TestFallbackReplay_SinkDown(t *testing.T) {
	env := newTestEnv(t)
	env.sink.err = errors.New("ingest offline")
	env.park(t, "evt-1")
	path := writeConfig(t, minimalConfig)

	out, err := runCommand(t, Config{ConfigPath: path, NewService: env.factory()}, "fallback", "replay", "-o", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 entry could not be replayed")
	assert.Contains(t, out, `"failed": 1`)

	remaining, err := env.backend.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
