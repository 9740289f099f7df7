// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package fallback

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fallback_entries (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	event_type  TEXT NOT NULL,
	sensitivity TEXT NOT NULL,
	reason      TEXT NOT NULL,
	stored_at   INTEGER NOT NULL,
	envelope    BLOB NOT NULL
);`

// SQLiteBackend persists entries in a local SQLite database in WAL mode.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens (or creates) the database at path.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open fallback database %s: %w", path, err)
	}
	// A single writer connection keeps insertion order equal to seq order.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to fallback database %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create fallback schema: %w", err)
	}
	return &SQLiteBackend{db: db, path: path}, nil
}

func (b *SQLiteBackend) Load(ctx context.Context) ([]Entry, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, event_type, sensitivity, reason, stored_at, envelope FROM fallback_entries ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query fallback entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			storedAt int64
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.Sensitivity, &e.Reason, &storedAt, &e.Envelope); err != nil {
			return nil, fmt.Errorf("failed to scan fallback entry: %w", err)
		}
		e.StoredAt = time.Unix(0, storedAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Put(ctx context.Context, entry Entry) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO fallback_entries (id, event_type, sensitivity, reason, stored_at, envelope)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reason = excluded.reason,
			stored_at = excluded.stored_at,
			envelope = excluded.envelope`,
		entry.ID, entry.EventType, entry.Sensitivity, entry.Reason, entry.StoredAt.UnixNano(), entry.Envelope)
	if err != nil {
		return fmt.Errorf("failed to upsert fallback entry: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM fallback_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete fallback entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) Name() string { return "sqlite" }
