// Package kvstore is the reference implementation of the kernel's
// external KV contract (internal/store.KVStore), backed by an embedded
// modernc.org/sqlite database. Intended for local/dev use; production
// deployments can substitute any other KV backend behind the same
// contract.
package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-table key/value store: key TEXT PRIMARY KEY,
// value TEXT (JSON-encoded).
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if absent) a sqlite database at path and ensures
// its kv table exists. Pass ":memory:" for an ephemeral store.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite write-serialises; avoid SQLITE_BUSY under concurrent writers

	const schema = `
	CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// KVGet returns the decoded value stored at key, or nil if absent.
func (s *SQLiteStore) KVGet(ctx context.Context, key string) (any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: get %q: %w", key, err)
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("kvstore: decode %q: %w", key, err)
	}
	return decoded, nil
}

// KVSet JSON-encodes value and upserts it at key.
func (s *SQLiteStore) KVSet(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kvstore: encode %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, string(encoded))
	if err != nil {
		return fmt.Errorf("kvstore: set %q: %w", key, err)
	}
	return nil
}

// KVRemove deletes key, a no-op if it was already absent.
func (s *SQLiteStore) KVRemove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("kvstore: remove %q: %w", key, err)
	}
	return nil
}

// KVKeysWithPrefix lists every key matching a LIKE prefix scan. Sqlite's
// LIKE wildcards (% and _) are escaped in prefix so a literal key
// containing them still matches only as a prefix.
func (s *SQLiteStore) KVKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	escaped := strings.NewReplacer("%", "\\%", "_", "\\_").Replace(prefix)
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv WHERE key LIKE ? ESCAPE '\' ORDER BY key`, escaped+"%")
	if err != nil {
		return nil, fmt.Errorf("kvstore: scan prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("kvstore: scan row: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
