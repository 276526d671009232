// Package store provides the SQLite-backed ingestion manifest. It records
// which chunk, with which content hash, has been upserted into which
// collection, so re-running ingestion over an unchanged corpus skips the
// embedding calls. It is a ledger only; vectors live in the vector store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Entry is one chunk recorded as ingested.
type Entry struct {
	// ChunkID is the id the chunk was upserted under.
	ChunkID string
	// ContentHash is the hex sha256 of the chunk content at ingest time.
	ContentHash string
}

// Summary describes what the manifest holds for one collection.
type Summary struct {
	// Chunks is the number of distinct chunk ids recorded.
	Chunks int
	// LastIngestedAt is the most recent record time; zero when empty.
	LastIngestedAt time.Time
}

// Manifest tracks ingested chunks per collection. Implementations must be
// safe for concurrent use.
type Manifest interface {
	// Seen reports whether chunkID was recorded for collection with exactly
	// contentHash.
	Seen(ctx context.Context, collection, chunkID, contentHash string) (bool, error)
	// Record upserts entries for collection, stamping them with the current time.
	Record(ctx context.Context, collection string, entries []Entry) error
	// Summary returns the recorded state of collection.
	Summary(ctx context.Context, collection string) (Summary, error)
	// Close releases any resources held by the manifest.
	Close() error
}

// SQLiteManifest is a Manifest backed by a local SQLite database.
type SQLiteManifest struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// now is the clock used for ingested_at; replaced in tests.
	now func() time.Time
}

// DefaultDBPath returns the default path for the manifest database.
// It resolves to ~/.mrag/manifest.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".mrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "manifest.db"), nil
}

// Open opens (or creates) a SQLiteManifest at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteManifest, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Single writer connection; also keeps ":memory:" on one database.
	db.SetMaxOpenConns(1)

	m := &SQLiteManifest{db: db, now: time.Now}
	if err := m.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// migrate creates the schema if it does not already exist.
func (m *SQLiteManifest) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ingested_chunks (
    collection     TEXT    NOT NULL,
    chunk_id       TEXT    NOT NULL,
    content_sha256 TEXT    NOT NULL,
    ingested_at    INTEGER NOT NULL,  -- Unix timestamp (seconds)
    PRIMARY KEY (collection, chunk_id)
);
CREATE INDEX IF NOT EXISTS idx_ingested_chunks_collection_time
    ON ingested_chunks (collection, ingested_at);
`
	if _, err := m.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Seen reports whether chunkID is recorded for collection with contentHash.
func (m *SQLiteManifest) Seen(ctx context.Context, collection, chunkID, contentHash string) (bool, error) {
	const q = `SELECT content_sha256 FROM ingested_chunks WHERE collection = ? AND chunk_id = ?`
	var stored string
	err := m.db.QueryRowContext(ctx, q, collection, chunkID).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("store: seen: %w", err)
	}
	return stored == contentHash, nil
}

// Record upserts entries in a single transaction.
func (m *SQLiteManifest) Record(ctx context.Context, collection string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: record: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
INSERT INTO ingested_chunks (collection, chunk_id, content_sha256, ingested_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (collection, chunk_id) DO UPDATE SET
    content_sha256 = excluded.content_sha256,
    ingested_at    = excluded.ingested_at`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("store: record: prepare: %w", err)
	}
	defer stmt.Close()

	ts := m.now().Unix()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, collection, e.ChunkID, e.ContentHash, ts); err != nil {
			return fmt.Errorf("store: record %q: %w", e.ChunkID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: record: commit: %w", err)
	}
	return nil
}

// Summary returns the chunk count and last ingest time for collection.
func (m *SQLiteManifest) Summary(ctx context.Context, collection string) (Summary, error) {
	const q = `SELECT COUNT(*), COALESCE(MAX(ingested_at), 0) FROM ingested_chunks WHERE collection = ?`
	var (
		s  Summary
		ts int64
	)
	if err := m.db.QueryRowContext(ctx, q, collection).Scan(&s.Chunks, &ts); err != nil {
		return Summary{}, fmt.Errorf("store: summary: %w", err)
	}
	if ts > 0 {
		s.LastIngestedAt = time.Unix(ts, 0)
	}
	return s, nil
}

// Close releases the database connection pool.
func (m *SQLiteManifest) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
