package state

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS checkpoints (
    stream     TEXT NOT NULL,
    field      TEXT NOT NULL,
    value      TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (stream, field)
);
`

const upsertCheckpoint = `
INSERT INTO checkpoints (stream, field, value, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (stream, field) DO UPDATE SET
    value = excluded.value,
    updated_at = excluded.updated_at
WHERE checkpoints.value <> excluded.value`

// SQLiteBackend keeps one row per stream field. Values are stored JSON
// encoded so integers and strings survive a round trip.
type SQLiteBackend struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the checkpoint database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// a single writer keeps the pragmas on one connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteBackend{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// Load reads every checkpoint row.
func (b *SQLiteBackend) Load(ctx context.Context) (Bookmarks, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT stream, field, value FROM checkpoints`)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	bookmarks := Bookmarks{}
	for rows.Next() {
		var stream, field, raw string
		if err := rows.Scan(&stream, &field, &raw); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
		decoder.UseNumber()
		var value any
		if err := decoder.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode checkpoint %s.%s: %w", stream, field, err)
		}
		if bookmarks[stream] == nil {
			bookmarks[stream] = map[string]any{}
		}
		bookmarks[stream][field] = normalizeValue(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return bookmarks, nil
}

// Save upserts every field in one transaction.
func (b *SQLiteBackend) Save(ctx context.Context, bookmarks Bookmarks) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertCheckpoint)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	updatedAt := b.now().UTC().Format(time.RFC3339)
	for stream, fields := range bookmarks {
		for field, value := range fields {
			raw, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("encode checkpoint %s.%s: %w", stream, field, err)
			}
			if _, err := stmt.ExecContext(ctx, stream, field, string(raw), updatedAt); err != nil {
				return fmt.Errorf("upsert checkpoint %s.%s: %w", stream, field, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoints: %w", err)
	}
	return nil
}
