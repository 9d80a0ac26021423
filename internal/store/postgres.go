package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voicepages/pkg/types"
)

// PostgresSchema is the DDL applied by [PostgresStore.Migrate].
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS characters (
    book_id     TEXT NOT NULL,
    name        TEXT NOT NULL,
    gender      TEXT NOT NULL DEFAULT 'unknown',
    role        TEXT NOT NULL DEFAULT '',
    voice_id    TEXT NOT NULL DEFAULT '',
    is_narrator BOOLEAN NOT NULL DEFAULT false,
    position    INTEGER NOT NULL DEFAULT 0,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (book_id, name)
);
CREATE INDEX IF NOT EXISTS idx_characters_book_position ON characters(book_id, position);
CREATE TABLE IF NOT EXISTS bookmarks (
    book_id    TEXT PRIMARY KEY,
    chapter_id TEXT NOT NULL,
    position   DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db    DB
	close func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a store using db. The caller owns db and must
// call [PostgresStore.Migrate] before the first query.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, close: func() {}}
}

// OpenPostgres connects a pool to dsn and applies the schema. Close releases
// the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [PostgresSchema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("store: migrate postgres: %w", err)
	}
	return nil
}

// SaveCharacters implements [Store]. Upsert and cleanup run as one
// statement so readers never see a partial record set.
func (s *PostgresStore) SaveCharacters(ctx context.Context, book string, records []types.CharacterRecord) error {
	if err := validateRecords(book, records); err != nil {
		return err
	}

	var (
		names     = make([]string, len(records))
		genders   = make([]string, len(records))
		roles     = make([]string, len(records))
		voices    = make([]string, len(records))
		narrators = make([]bool, len(records))
		positions = make([]int32, len(records))
	)
	for i, r := range records {
		g := r.Gender
		if !g.IsValid() {
			g = types.GenderUnknown
		}
		names[i], genders[i], roles[i], voices[i] = r.Name, string(g), string(r.Role), r.VoiceID
		narrators[i], positions[i] = r.IsNarrator, int32(i)
	}

	const query = `
		WITH upserted AS (
			INSERT INTO characters (book_id, name, gender, role, voice_id, is_narrator, position)
			SELECT $1::text, * FROM unnest($2::text[], $3::text[], $4::text[], $5::text[], $6::boolean[], $7::integer[])
			ON CONFLICT (book_id, name) DO UPDATE SET
				gender = EXCLUDED.gender,
				role = EXCLUDED.role,
				voice_id = EXCLUDED.voice_id,
				is_narrator = EXCLUDED.is_narrator,
				position = EXCLUDED.position,
				updated_at = now()
		)
		DELETE FROM characters WHERE book_id = $1 AND NOT (name = ANY($2::text[]))`

	if _, err := s.db.Exec(ctx, query, book, names, genders, roles, voices, narrators, positions); err != nil {
		return fmt.Errorf("store: save %q: %w", book, err)
	}
	return nil
}

// Characters implements [Store].
func (s *PostgresStore) Characters(ctx context.Context, book string) ([]types.CharacterRecord, error) {
	const query = `
		SELECT name, gender, role, voice_id, is_narrator
		FROM characters
		WHERE book_id = $1
		ORDER BY position`

	rows, err := s.db.Query(ctx, query, book)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("store: characters %q: schema missing, run Migrate: %w", book, err)
		}
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
func (s *PostgresStore) SetVoice(ctx context.Context, book, name, voiceID string) error {
	const query = `
		UPDATE characters SET voice_id = $3, updated_at = now()
		WHERE book_id = $1 AND name = $2`

	tag, err := s.db.Exec(ctx, query, book, name, voiceID)
	if err != nil {
		return fmt.Errorf("store: set voice %q/%q: %w", book, name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: character %q in book %q: %w", name, book, ErrNotFound)
	}
	return nil
}

// SaveBookmark implements [Store].
func (s *PostgresStore) SaveBookmark(ctx context.Context, book string, b types.Bookmark) error {
	if err := validateBookmark(book, b); err != nil {
		return err
	}
	const query = `
		INSERT INTO bookmarks (book_id, chapter_id, position)
		VALUES ($1, $2, $3)
		ON CONFLICT (book_id) DO UPDATE SET
			chapter_id = EXCLUDED.chapter_id,
			position = EXCLUDED.position,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query, book, b.Chapter, b.Position); err != nil {
		return fmt.Errorf("store: save bookmark %q: %w", book, err)
	}
	return nil
}

// Bookmark implements [Store].
func (s *PostgresStore) Bookmark(ctx context.Context, book string) (types.Bookmark, error) {
	rows, err := s.db.Query(ctx, `SELECT chapter_id, position FROM bookmarks WHERE book_id = $1`, book)
	if err != nil {
		if isUndefinedTable(err) {
			return types.Bookmark{}, fmt.Errorf("store: bookmark of %q: schema missing, run Migrate: %w", book, err)
		}
		return types.Bookmark{}, fmt.Errorf("store: bookmark of %q: %w", book, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return types.Bookmark{}, fmt.Errorf("store: bookmark of %q: %w", book, err)
		}
		return types.Bookmark{}, fmt.Errorf("store: bookmark of %q: %w", book, ErrNotFound)
	}
	var b types.Bookmark
	if err := rows.Scan(&b.Chapter, &b.Position); err != nil {
		return types.Bookmark{}, fmt.Errorf("store: bookmark of %q: scan: %w", book, err)
	}
	return b, nil
}

// DeleteBook implements [Store]. Both tables are cleared by one statement.
func (s *PostgresStore) DeleteBook(ctx context.Context, book string) error {
	const query = `
		WITH marks AS (DELETE FROM bookmarks WHERE book_id = $1)
		DELETE FROM characters WHERE book_id = $1`

	if _, err := s.db.Exec(ctx, query, book); err != nil {
		return fmt.Errorf("store: delete %q: %w", book, err)
	}
	return nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("store: ping postgres: %w", err)
	}
	return nil
}

// Close implements [Store].
func (s *PostgresStore) Close() error {
	s.close()
	return nil
}

// isUndefinedTable reports SQLSTATE 42P01, raised when Migrate was skipped.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
