// Package store persists per-book character records and caches generated
// chapter audio.
//
// Two [Store] implementations exist: [SQLiteStore] for single-node
// deployments and [PostgresStore] for shared databases. Both keep the record
// order they were saved in.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/MrWong99/voicepages/pkg/types"
)

// ErrNotFound is returned when a character, bookmark or cached chapter does
// not exist.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidKey is returned for book or chapter identifiers that are not
// safe to use as keys.
var ErrInvalidKey = errors.New("store: invalid key")

// Store persists character records per book. Implementations are safe for
// concurrent use.
type Store interface {
	// SaveCharacters replaces every record of book with records.
	SaveCharacters(ctx context.Context, book string, records []types.CharacterRecord) error

	// Characters returns the records of book in saved order. An unknown
	// book yields an empty slice.
	Characters(ctx context.Context, book string) ([]types.CharacterRecord, error)

	// SetVoice overrides the voice of one character. Returns [ErrNotFound]
	// if the character does not exist.
	SetVoice(ctx context.Context, book, name, voiceID string) error

	// SaveBookmark stores the reading position of book, replacing the
	// previous one.
	SaveBookmark(ctx context.Context, book string, b types.Bookmark) error

	// Bookmark returns the reading position of book, or [ErrNotFound] if
	// none was saved.
	Bookmark(ctx context.Context, book string) (types.Bookmark, error)

	// DeleteBook removes every record and the bookmark of book. Unknown
	// books are not an error.
	DeleteBook(ctx context.Context, book string) error

	// Ping reports whether the backing database is reachable.
	Ping(ctx context.Context) error

	Close() error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidKey reports whether s may be used as a book or chapter identifier:
// 1 to 128 ASCII letters, digits, dots, underscores or dashes, not starting
// with punctuation.
func ValidKey(s string) bool {
	return keyPattern.MatchString(s)
}

// validateRecords checks a record set before it is saved.
func validateRecords(book string, records []types.CharacterRecord) error {
	var errs []error
	if !ValidKey(book) {
		errs = append(errs, fmt.Errorf("%w: book %q", ErrInvalidKey, book))
	}
	seen := make(map[string]struct{}, len(records))
	narrators := 0
	for i, r := range records {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("record %d: name must not be empty", i))
			continue
		}
		if _, dup := seen[r.Name]; dup {
			errs = append(errs, fmt.Errorf("record %d: duplicate name %q", i, r.Name))
		}
		seen[r.Name] = struct{}{}
		if r.IsNarrator {
			narrators++
		}
	}
	if narrators > 1 {
		errs = append(errs, fmt.Errorf("%d records flagged as narrator, want at most 1", narrators))
	}
	if len(errs) > 0 {
		return fmt.Errorf("store: invalid records: %w", errors.Join(errs...))
	}
	return nil
}

func validateBookmark(book string, b types.Bookmark) error {
	if !ValidKey(book) {
		return fmt.Errorf("%w: book %q", ErrInvalidKey, book)
	}
	if !ValidKey(b.Chapter) {
		return fmt.Errorf("%w: chapter %q", ErrInvalidKey, b.Chapter)
	}
	return nil
}

// record builds a CharacterRecord from its persisted columns.
func record(name, g, r, voiceID string, narrator bool) types.CharacterRecord {
	rec := types.CharacterRecord{
		Name:       name,
		Gender:     types.ParseGender(g),
		VoiceID:    voiceID,
		IsNarrator: narrator,
	}
	if r != "" {
		rec.Role = types.ParseRole(r)
	}
	return rec
}
