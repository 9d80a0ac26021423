package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/MrWong99/voicepages/pkg/audio/wav"
)

// AudioCache stores generated chapter audio as <dir>/<book>/<chapter>.wav.
// Writes go to a uniquely named temp file that is renamed into place, so
// readers see either the old or the new file. It is safe for concurrent use.
type AudioCache struct {
	dir string
}

// NewAudioCache creates dir if needed.
func NewAudioCache(dir string) (*AudioCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create audio cache: %w", err)
	}
	return &AudioCache{dir: dir}, nil
}

// Dir returns the cache root.
func (c *AudioCache) Dir() string { return c.dir }

func (c *AudioCache) path(book, chapter string) (string, error) {
	if !ValidKey(book) || !ValidKey(chapter) {
		return "", fmt.Errorf("%w: %q/%q", ErrInvalidKey, book, chapter)
	}
	return filepath.Join(c.dir, book, chapter+".wav"), nil
}

// Put stores audio for (book, chapter), replacing any previous entry.
func (c *AudioCache) Put(book, chapter string, audio []byte) error {
	dst, err := c.path(book, chapter)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("store: cache %s/%s: %w", book, chapter, err)
	}
	tmp := filepath.Join(filepath.Dir(dst), ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, audio, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: cache %s/%s: %w", book, chapter, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: cache %s/%s: %w", book, chapter, err)
	}
	return nil
}

// Get returns the cached audio for (book, chapter), sanitised to a
// canonical WAV container. Returns [ErrNotFound] if nothing is cached.
func (c *AudioCache) Get(book, chapter string) ([]byte, error) {
	p, err := c.path(book, chapter)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("store: cache %s/%s: %w", book, chapter, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: cache %s/%s: %w", book, chapter, err)
	}
	return wav.Sanitize(b), nil
}

// DeleteBook removes every cached chapter of book.
func (c *AudioCache) DeleteBook(book string) error {
	if !ValidKey(book) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, book)
	}
	if err := os.RemoveAll(filepath.Join(c.dir, book)); err != nil {
		return fmt.Errorf("store: cache delete %s: %w", book, err)
	}
	return nil
}
