package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"

	"github.com/MrWong99/voicepages/internal/casting"
	"github.com/MrWong99/voicepages/internal/catalog"
	"github.com/MrWong99/voicepages/internal/character"
	"github.com/MrWong99/voicepages/internal/narrate"
	"github.com/MrWong99/voicepages/internal/observe"
	"github.com/MrWong99/voicepages/internal/store"
	"github.com/MrWong99/voicepages/pkg/provider/tts"
	"github.com/MrWong99/voicepages/pkg/types"
)

// Speed bounds accepted by [Library.Synthesize].
const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
)

// CastCharacter is a detected character together with its voice.
type CastCharacter struct {
	types.Character
	Voice types.VoiceAssignment `json:"voice"`
}

// Detection is the result of [Library.DetectCharacters].
type Detection struct {
	Book       string          `json:"book"`
	Characters []CastCharacter `json:"characters"`

	// Source is "llm" or "heuristic"; Version is the lexicon version of a
	// heuristic detection.
	Source  string `json:"source"`
	Version string `json:"version,omitempty"`
}

// LibraryConfig holds the dependencies of a [Library].
type LibraryConfig struct {
	Catalog   *catalog.Catalog
	Registry  *character.Registry
	Caster    casting.Caster
	Store     store.Store
	Cache     *store.AudioCache
	Synth     narrate.Synthesizer
	Generator *narrate.Generator

	// SampleChapters and SampleBudget bound the detection sample.
	SampleChapters int
	SampleBudget   int

	// MaxTextLength caps single-text synthesis, in runes.
	MaxTextLength int
}

// Library implements the book-level operations: character detection and
// casting, voice overrides, bookmarks, chapter generation and the chapter
// audio cache.
// All methods are safe for concurrent use.
type Library struct {
	catalog  *catalog.Catalog
	registry *character.Registry
	caster   casting.Caster
	store    store.Store
	cache    *store.AudioCache
	synth    narrate.Synthesizer
	gen      atomic.Pointer[narrate.Generator]

	sampleChapters int
	sampleBudget   int
	maxText        int
}

// NewLibrary returns a Library over cfg.
func NewLibrary(cfg LibraryConfig) *Library {
	l := &Library{
		catalog:        cfg.Catalog,
		registry:       cfg.Registry,
		caster:         cfg.Caster,
		store:          cfg.Store,
		cache:          cfg.Cache,
		synth:          cfg.Synth,
		sampleChapters: cfg.SampleChapters,
		sampleBudget:   cfg.SampleBudget,
		maxText:        cfg.MaxTextLength,
	}
	if l.caster == nil {
		l.caster = casting.NewPolicy(cfg.Catalog)
	}
	if l.maxText <= 0 {
		l.maxText = narrate.DefaultMaxTextLength
	}
	l.gen.Store(cfg.Generator)
	return l
}

// SetGenerator swaps the chapter generator. Generations already running
// finish on the previous one.
func (l *Library) SetGenerator(g *narrate.Generator) {
	l.gen.Store(g)
}

// Voices returns the voice catalog in table order.
func (l *Library) Voices() []types.VoiceProfile {
	return l.catalog.Voices()
}

// DetectCharacters detects the characters of book from its leading
// chapters, casts a voice for each and replaces the stored records. Cached
// chapter audio of the book is discarded since it was narrated with the
// previous cast.
func (l *Library) DetectCharacters(ctx context.Context, book string, chapters []string) (Detection, error) {
	if err := checkKey(book); err != nil {
		return Detection{}, err
	}
	sample := character.SampleChapters(chapters, l.sampleChapters, l.sampleBudget)
	if strings.TrimSpace(sample) == "" {
		return Detection{}, fmt.Errorf("%w: no chapter text", narrate.ErrValidation)
	}

	res, err := l.registry.Detect(ctx, sample)
	if err != nil {
		return Detection{}, err
	}
	assignments, err := l.caster.Cast(ctx, res.Characters)
	if err != nil {
		return Detection{}, fmt.Errorf("app: cast %s: %w", book, err)
	}
	if err := l.store.SaveCharacters(ctx, book, casting.Records(assignments, res.Characters)); err != nil {
		return Detection{}, fmt.Errorf("app: save characters of %s: %w", book, err)
	}
	l.invalidate(ctx, book)

	out := Detection{
		Book:       book,
		Characters: make([]CastCharacter, 0, len(res.Characters)),
		Source:     res.Source,
		Version:    res.Version,
	}
	for _, c := range res.Characters {
		out.Characters = append(out.Characters, CastCharacter{Character: c, Voice: assignments[c.Name]})
	}
	return out, nil
}

// Characters returns the stored records of book.
func (l *Library) Characters(ctx context.Context, book string) ([]types.CharacterRecord, error) {
	if err := checkKey(book); err != nil {
		return nil, err
	}
	return l.store.Characters(ctx, book)
}

// SetVoice overrides the voice of one character. The voice id must be in
// the catalog (legacy ids are accepted and stored resolved). Returns
// [store.ErrNotFound] for unknown characters.
func (l *Library) SetVoice(ctx context.Context, book, name, voiceID string) (types.VoiceProfile, error) {
	if err := checkKey(book); err != nil {
		return types.VoiceProfile{}, err
	}
	v, err := l.catalog.Require(voiceID)
	if err != nil {
		return types.VoiceProfile{}, err
	}
	if err := l.store.SetVoice(ctx, book, name, v.ID); err != nil {
		return types.VoiceProfile{}, err
	}
	l.invalidate(ctx, book)
	observe.Logger(ctx).Info("voice overridden",
		slog.String("book", book),
		slog.String("character", name),
		slog.String("voice", v.ID),
	)
	return v, nil
}

// SaveBookmark stores the reading position of book. An empty chapter means
// the first one. It returns the bookmark as stored.
func (l *Library) SaveBookmark(ctx context.Context, book string, b types.Bookmark) (types.Bookmark, error) {
	if b.Chapter == "" {
		b.Chapter = types.DefaultBookmark.Chapter
	}
	if err := checkKey(book, b.Chapter); err != nil {
		return types.Bookmark{}, err
	}
	if math.IsNaN(b.Position) || math.IsInf(b.Position, 0) || b.Position < 0 {
		return types.Bookmark{}, fmt.Errorf("%w: position %v must be a non-negative number of seconds", narrate.ErrValidation, b.Position)
	}
	if err := l.store.SaveBookmark(ctx, book, b); err != nil {
		return types.Bookmark{}, err
	}
	return b, nil
}

// Bookmark returns the reading position of book, or
// [types.DefaultBookmark] when none was saved.
func (l *Library) Bookmark(ctx context.Context, book string) (types.Bookmark, error) {
	if err := checkKey(book); err != nil {
		return types.Bookmark{}, err
	}
	b, err := l.store.Bookmark(ctx, book)
	if errors.Is(err, store.ErrNotFound) {
		return types.DefaultBookmark, nil
	}
	return b, err
}

// DeleteBook removes the records, bookmark and cached audio of book.
func (l *Library) DeleteBook(ctx context.Context, book string) error {
	if err := checkKey(book); err != nil {
		return err
	}
	return errors.Join(l.store.DeleteBook(ctx, book), l.cache.DeleteBook(book))
}

// GenerateChapter narrates text with the stored voices of book and caches
// the result. A book without records is narrated entirely in the narrator
// voice. Cache write failures are logged, not returned.
func (l *Library) GenerateChapter(ctx context.Context, book, chapter, text string) ([]byte, narrate.Report, error) {
	if err := checkKey(book, chapter); err != nil {
		return nil, narrate.Report{}, err
	}
	records, err := l.store.Characters(ctx, book)
	if err != nil {
		return nil, narrate.Report{}, fmt.Errorf("app: load characters of %s: %w", book, err)
	}

	audio, report, err := l.gen.Load().Generate(ctx, text, records)
	if err != nil {
		return nil, report, err
	}
	if err := l.cache.Put(book, chapter, audio); err != nil {
		observe.Logger(ctx).Warn("failed to cache chapter audio",
			slog.String("book", book),
			slog.String("chapter", chapter),
			slog.Any("err", err),
		)
	}
	return audio, report, nil
}

// ChapterAudio returns the cached audio of (book, chapter), or
// [store.ErrNotFound].
func (l *Library) ChapterAudio(_ context.Context, book, chapter string) ([]byte, error) {
	return l.cache.Get(book, chapter)
}

// Synthesize renders a single text. An empty voice id selects the narrator
// voice; zero speed selects the neutral rate. It returns the audio and the
// backend that produced it.
func (l *Library) Synthesize(ctx context.Context, text, voiceID string, speed float64) ([]byte, string, error) {
	text, err := narrate.Normalize(text, l.maxText)
	if err != nil {
		return nil, "", err
	}
	if speed == 0 {
		speed = tts.DefaultSpeed
	}
	if speed < MinSpeed || speed > MaxSpeed {
		return nil, "", fmt.Errorf("%w: speed %.2f is out of range [%.1f, %.1f]", narrate.ErrValidation, speed, MinSpeed, MaxSpeed)
	}
	v := l.catalog.Narrator()
	if voiceID != "" {
		if v, err = l.catalog.Require(voiceID); err != nil {
			return nil, "", err
		}
	}
	return l.synth.SynthesizeNamed(ctx, tts.Request{Text: text, VoiceID: v.ID, Speed: speed})
}

func (l *Library) invalidate(ctx context.Context, book string) {
	if err := l.cache.DeleteBook(book); err != nil {
		observe.Logger(ctx).Warn("failed to drop cached audio", slog.String("book", book), slog.Any("err", err))
	}
}

func checkKey(keys ...string) error {
	for _, k := range keys {
		if !store.ValidKey(k) {
			return fmt.Errorf("%w: %q", store.ErrInvalidKey, k)
		}
	}
	return nil
}
