// Package blobindex maintains a SQLite index of stored asset blobs:
// which blob backs which asset, what it was called, and where it
// originally came from. The origin URL is what lets a JSON or PNG
// export point back at the source instead of shipping the bytes.
package blobindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	cerrors "github.com/axAilotl/character-architect-sub002/core/errors"
)

// schemaVersion is the latest schema version. Bump when adding migrations.
const schemaVersion = 1

// Record describes one indexed asset blob.
type Record struct {
	Key       string // ULID, unique per import
	SHA256    string // content hash in the CAS
	Name      string // asset display name
	Ext       string // file extension without dot
	AssetType string // icon, background, emotion, ...
	MediaType string // MIME type when known
	OriginURL string // original external URL, "" when the asset arrived inline
	Size      int64
	CreatedAt time.Time
}

// Index is a SQLite-backed blob index.
type Index struct {
	db *sql.DB
}

// Open opens (or creates) the index at dir/assets.db.
func Open(dir string) (*Index, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	dsn := filepath.Join(dir, "assets.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (ix *Index) Close() error { return ix.db.Close() }

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_info (version INTEGER NOT NULL);
		CREATE TABLE IF NOT EXISTS blobs (
			key        TEXT PRIMARY KEY,
			sha256     TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			ext        TEXT NOT NULL DEFAULT '',
			asset_type TEXT NOT NULL DEFAULT '',
			media_type TEXT NOT NULL DEFAULT '',
			origin_url TEXT NOT NULL DEFAULT '',
			size       INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_blobs_sha256 ON blobs(sha256);
	`); err != nil {
		return fmt.Errorf("migrate blob index: %w", err)
	}
	var n int
	err := db.QueryRow(`SELECT version FROM schema_info`).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = db.Exec(`INSERT INTO schema_info (version) VALUES (?)`, schemaVersion)
	}
	return err
}

// NewKey returns a fresh record key. ULIDs sort by creation time, which
// keeps listings chronological for free.
func NewKey() string { return ulid.Make().String() }

// Put inserts or replaces a record. An empty Key is filled in; the
// stored record is returned.
func (ix *Index) Put(ctx context.Context, rec Record) (Record, error) {
	if rec.Key == "" {
		rec.Key = NewKey()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := ix.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO blobs
			(key, sha256, name, ext, asset_type, media_type, origin_url, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Key, rec.SHA256, rec.Name, rec.Ext, rec.AssetType, rec.MediaType,
		rec.OriginURL, rec.Size, rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Record{}, fmt.Errorf("index blob %s: %w", rec.Key, err)
	}
	return rec, nil
}

// Get returns the record with the given key.
func (ix *Index) Get(ctx context.Context, key string) (*Record, error) {
	row := ix.db.QueryRowContext(ctx, `
		SELECT key, sha256, name, ext, asset_type, media_type, origin_url, size, created_at
		FROM blobs WHERE key = ?`, key)
	return scanRecord(row, "key", key)
}

// ByHash returns the most recent record for a content hash, which is
// how exports recover the origin URL for a blob:// reference.
func (ix *Index) ByHash(ctx context.Context, sha256 string) (*Record, error) {
	row := ix.db.QueryRowContext(ctx, `
		SELECT key, sha256, name, ext, asset_type, media_type, origin_url, size, created_at
		FROM blobs WHERE sha256 = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, sha256)
	return scanRecord(row, "blob record for hash", sha256)
}

func scanRecord(row *sql.Row, resource, id string) (*Record, error) {
	var rec Record
	var created string
	err := row.Scan(&rec.Key, &rec.SHA256, &rec.Name, &rec.Ext, &rec.AssetType,
		&rec.MediaType, &rec.OriginURL, &rec.Size, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerrors.NewNotFound(resource, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan blob record: %w", err)
	}
	if ts, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
		rec.CreatedAt = ts
	}
	return &rec, nil
}
