// Package catalog provides read-only access to media and part records.
// The core never writes to this store from its hot path; handle refreshes
// stay in memory (see internal/chunkcache).
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a media id has no matching record.
var ErrNotFound = errors.New("catalog: media not found")

// Part is an immutable record describing one upstream object holding a
// contiguous byte span of a Media.
type Part struct {
	ID        int64
	MediaID   int64
	Index     int
	Size      int64
	StartByte int64
	EndByte   int64
	Channel   string
	Message   string
	Handle    string
}

// Media is a media id, its total size, and its ordered Parts.
type Media struct {
	ID        int64
	TotalSize int64
	Parts     []Part
}

// DBQuerier is satisfied by both *sql.DB and *sql.Tx, matching the teacher's
// pattern for threading a single querier type through read paths that may
// or may not run inside a transaction.
type DBQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is read-only catalog access over a sqlite database.
type Store struct {
	db *sql.DB
}

// NewStoreForTest wraps an already-open, already-migrated *sql.DB, for use
// by other packages' tests that need a Store without going through Open.
func NewStoreForTest(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (and does not migrate) the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the underlying database handle, for passing to Migrate and
// for tests that need direct access.
func (s *Store) DB() *sql.DB { return s.db }

// GetMedia loads a Media and its ordered Parts. Returns ErrNotFound if the
// media id doesn't exist or has zero parts.
func (s *Store) GetMedia(ctx context.Context, mediaID int64) (*Media, error) {
	return s.getMedia(ctx, s.db, mediaID)
}

func (s *Store) getMedia(ctx context.Context, q DBQuerier, mediaID int64) (*Media, error) {
	row := q.QueryRowContext(ctx, `SELECT id, total_size FROM media WHERE id = ?`, mediaID)
	m := &Media{}
	if err := row.Scan(&m.ID, &m.TotalSize); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: scan media: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, media_id, idx, size, start_byte, end_byte, channel, message, handle
		FROM part WHERE media_id = ? ORDER BY idx ASC`, mediaID)
	if err != nil {
		return nil, fmt.Errorf("catalog: query parts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Part
		if err := rows.Scan(&p.ID, &p.MediaID, &p.Index, &p.Size, &p.StartByte, &p.EndByte,
			&p.Channel, &p.Message, &p.Handle); err != nil {
			return nil, fmt.Errorf("catalog: scan part: %w", err)
		}
		m.Parts = append(m.Parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate parts: %w", err)
	}
	if len(m.Parts) == 0 {
		return nil, ErrNotFound
	}
	return m, nil
}
