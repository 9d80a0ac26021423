package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/voicepages/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS characters (
    book_id     TEXT NOT NULL,
    name        TEXT NOT NULL,
    gender      TEXT NOT NULL DEFAULT 'unknown',
    role        TEXT NOT NULL DEFAULT '',
    voice_id    TEXT NOT NULL DEFAULT '',
    is_narrator INTEGER NOT NULL DEFAULT 0,
    position    INTEGER NOT NULL DEFAULT 0,
    updated_at  TIMESTAMP NOT NULL,
    PRIMARY KEY (book_id, name)
);
CREATE INDEX IF NOT EXISTS idx_characters_book_position ON characters(book_id, position);
CREATE TABLE IF NOT EXISTS bookmarks (
    book_id    TEXT PRIMARY KEY,
    chapter_id TEXT NOT NULL,
    position   REAL NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
`

// SQLiteStore is a [Store] backed by a SQLite file.
type SQLiteStore struct {
	db    *sql.DB
	clock func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path in WAL mode
// and applies the schema. The path ":memory:" opens a private in-memory
// database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	memory := path == ":memory:"
	if !memory {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create data dir: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if memory {
		// Every connection would get its own in-memory database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db, clock: time.Now}, nil
}

// SaveCharacters implements [Store].
func (s *SQLiteStore) SaveCharacters(ctx context.Context, book string, records []types.CharacterRecord) error {
	if err := validateRecords(book, records); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM characters WHERE book_id = ?`, book); err != nil {
		return fmt.Errorf("store: save %q: %w", book, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO characters (book_id, name, gender, role, voice_id, is_narrator, position, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: save %q: %w", book, err)
	}
	defer stmt.Close()

	now := s.clock().UTC()
	for i, r := range records {
		g := r.Gender
		if !g.IsValid() {
			g = types.GenderUnknown
		}
		if _, err := stmt.ExecContext(ctx, book, r.Name, string(g), string(r.Role), r.VoiceID, r.IsNarrator, i, now); err != nil {
			return fmt.Errorf("store: save %q: insert %q: %w", book, r.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: save %q: commit: %w", book, err)
	}
	return nil
}

// Characters implements [Store].
func (s *SQLiteStore) Characters(ctx context.Context, book string) ([]types.CharacterRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, gender, role, voice_id, is_narrator
		FROM characters
		WHERE book_id = ?
		ORDER BY position`, book)
	if err != nil {
		return nil, fmt.Errorf("store: characters %q: %w", book, err)
	}
	defer rows.Close()

	out := []types.CharacterRecord{}
	for rows.Next() {
		var (
			name, g, r, voice string
			narrator          bool
		)
		if err := rows.Scan(&name, &g, &r, &voice, &narrator); err != nil {
			return nil, fmt.Errorf("store: characters %q: scan: %w", book, err)
		}
		out = append(out, record(name, g, r, voice, narrator))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: characters %q: %w", book, err)
	}
	return out, nil
}

// SetVoice implements [Store].
func (s *SQLiteStore) SetVoice(ctx context.Context, book, name, voiceID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE characters SET voice_id = ?, updated_at = ?
		WHERE book_id = ? AND name = ?`, voiceID, s.clock().UTC(), book, name)
	if err != nil {
		return fmt.Errorf("store: set voice %q/%q: %w", book, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set voice %q/%q: %w", book, name, err)
	}
	if n == 0 {
		return fmt.Errorf("store: character %q in book %q: %w", name, book, ErrNotFound)
	}
	return nil
}

// SaveBookmark implements [Store].
func (s *SQLiteStore) SaveBookmark(ctx context.Context, book string, b types.Bookmark) error {
	if err := validateBookmark(book, b); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookmarks (book_id, chapter_id, position, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (book_id) DO UPDATE SET
			chapter_id = excluded.chapter_id,
			position = excluded.position,
			updated_at = excluded.updated_at`,
		book, b.Chapter, b.Position, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("store: save bookmark %q: %w", book, err)
	}
	return nil
}

// Bookmark implements [Store].
func (s *SQLiteStore) Bookmark(ctx context.Context, book string) (types.Bookmark, error) {
	var b types.Bookmark
	err := s.db.QueryRowContext(ctx, `
		SELECT chapter_id, position FROM bookmarks WHERE book_id = ?`, book).Scan(&b.Chapter, &b.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Bookmark{}, fmt.Errorf("store: bookmark of %q: %w", book, ErrNotFound)
	}
	if err != nil {
		return types.Bookmark{}, fmt.Errorf("store: bookmark of %q: %w", book, err)
	}
	return b, nil
}

// DeleteBook implements [Store].
func (s *SQLiteStore) DeleteBook(ctx context.Context, book string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range []string{
		`DELETE FROM characters WHERE book_id = ?`,
		`DELETE FROM bookmarks WHERE book_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, book); err != nil {
			return fmt.Errorf("store: delete %q: %w", book, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: delete %q: commit: %w", book, err)
	}
	return nil
}

// Ping implements [Store].
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [Store].
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
