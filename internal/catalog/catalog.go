// Package catalog indexes published cache entries in SQLite.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	DefaultLimit = 200
	MaxLimit     = 500
)

// ErrNotFound is returned by Get for unknown video ids.
var ErrNotFound = errors.New("catalog entry not found")

// Entry represents a row in the entries table.
type Entry struct {
	VideoID   string    `json:"videoId"`
	FileSize  int64     `json:"fileSize"`
	Container string    `json:"container"`
	Strategy  string    `json:"strategy"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS entries (
    video_id    TEXT PRIMARY KEY,
    file_size   INTEGER NOT NULL DEFAULT 0,
    container   TEXT NOT NULL DEFAULT '',
    strategy    TEXT NOT NULL DEFAULT '',
    source      TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_updated_at ON entries(updated_at);
`

// Catalog wraps an SQLite connection.
type Catalog struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// Open opens or creates the catalog database at path.
func Open(path string) (*Catalog, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog at %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if _, err := sqlDB.Exec(createTableSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Catalog{db: sqlDB, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Upsert records a publish. A republished id keeps its created_at.
func (c *Catalog) Upsert(e Entry) error {
	if c == nil || c.db == nil {
		return errors.New("catalog not initialized")
	}
	if e.VideoID == "" {
		return errors.New("video id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	_, err := c.db.Exec(`
		INSERT INTO entries (video_id, file_size, container, strategy, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			file_size=excluded.file_size, container=excluded.container,
			strategy=excluded.strategy, source=excluded.source,
			updated_at=excluded.updated_at
	`, e.VideoID, e.FileSize, e.Container, e.Strategy, e.Source, now, now)
	if err != nil {
		return fmt.Errorf("upserting entry %s: %w", e.VideoID, err)
	}
	return nil
}

// Ensure inserts e only when the id is not yet indexed and reports whether
// a row was added. It backfills files published before the catalog existed.
func (c *Catalog) Ensure(e Entry) (bool, error) {
	if c == nil || c.db == nil {
		return false, errors.New("catalog not initialized")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	created := e.CreatedAt
	if created.IsZero() {
		created = c.now()
	}
	res, err := c.db.Exec(`
		INSERT INTO entries (video_id, file_size, container, strategy, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO NOTHING
	`, e.VideoID, e.FileSize, e.Container, e.Strategy, e.Source, created, created)
	if err != nil {
		return false, fmt.Errorf("ensuring entry %s: %w", e.VideoID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking insert for %s: %w", e.VideoID, err)
	}
	return n > 0, nil
}

// Get returns the entry for videoID.
func (c *Catalog) Get(videoID string) (Entry, error) {
	if c == nil || c.db == nil {
		return Entry{}, errors.New("catalog not initialized")
	}
	row := c.db.QueryRow(`
		SELECT video_id, file_size, container, strategy, source, created_at, updated_at
		FROM entries WHERE video_id = ?
	`, videoID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// List returns entries, most recently published first. limit is clamped to
// [1, MaxLimit] with DefaultLimit for non-positive values.
func (c *Catalog) List(limit, offset int) ([]Entry, error) {
	if c == nil || c.db == nil {
		return nil, errors.New("catalog not initialized")
	}

	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := c.db.Query(`
		SELECT video_id, file_size, container, strategy, source, created_at, updated_at
		FROM entries
		ORDER BY updated_at DESC, video_id ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the total number of entries.
func (c *Catalog) Count() (int, error) {
	if c == nil || c.db == nil {
		return 0, errors.New("catalog not initialized")
	}

	var count int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	if err := s.Scan(&e.VideoID, &e.FileSize, &e.Container, &e.Strategy, &e.Source, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scanning entry row: %w", err)
	}
	return e, nil
}
