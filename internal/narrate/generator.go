// Package narrate turns chapter text into one narrated WAV buffer.
//
// A [Generator] splits the text into speaker segments, synthesises every
// segment through a [Synthesizer] on a bounded worker pool and concatenates
// the clips in segment order, whatever order they complete in. Segment
// failures are isolated: the chapter fails only when no segment produced
// audio.
package narrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicepages/internal/catalog"
	"github.com/MrWong99/voicepages/internal/observe"
	"github.com/MrWong99/voicepages/internal/segment"
	"github.com/MrWong99/voicepages/pkg/audio/wav"
	"github.com/MrWong99/voicepages/pkg/provider/tts"
	"github.com/MrWong99/voicepages/pkg/types"
)

// ErrChapterFailed is returned when no segment of a chapter produced usable
// audio. It is joined with every [SegmentError].
var ErrChapterFailed = errors.New("narrate: chapter failed")

// DefaultWorkers is the number of segments synthesised concurrently.
const DefaultWorkers = 4

// FailurePolicy decides what happens to a segment whose synthesis failed.
type FailurePolicy string

const (
	// PolicyOmit drops failed segments from the chapter.
	PolicyOmit FailurePolicy = "omit"

	// PolicyNarratorVoice retries failed dialogue once with the narrator
	// voice. Failed narration is omitted.
	PolicyNarratorVoice FailurePolicy = "narrator_voice"
)

// IsValid reports whether p is a known policy.
func (p FailurePolicy) IsValid() bool {
	return p == PolicyOmit || p == PolicyNarratorVoice
}

// SegmentError describes the failure of one segment.
type SegmentError struct {
	Index   int
	Speaker string

	// Backend is the last backend that was tried. Empty when the segment
	// was never dispatched.
	Backend string

	Err error
}

func (e *SegmentError) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("segment %d (%s): %v", e.Index, e.Speaker, e.Err)
	}
	return fmt.Sprintf("segment %d (%s) via %s: %v", e.Index, e.Speaker, e.Backend, e.Err)
}

func (e *SegmentError) Unwrap() error { return e.Err }

// Synthesizer is a synthesis backend chain that reports which backend
// served a request. [resilience.TTSFallback] implements it.
type Synthesizer interface {
	SynthesizeNamed(ctx context.Context, req tts.Request) (audio []byte, backend string, err error)
}

// SegmentReport is the outcome of one segment.
type SegmentReport struct {
	Index   int               `json:"index"`
	Speaker string            `json:"speaker"`
	Kind    types.SegmentKind `json:"kind"`
	VoiceID string            `json:"voice_id"`
	Backend string            `json:"backend,omitempty"`

	// Outcome is one of the observe.Outcome* values.
	Outcome string `json:"outcome"`

	// Substituted is set when the narrator voice stood in for the
	// speaker's voice.
	Substituted bool   `json:"substituted,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Report summarises a chapter generation.
type Report struct {
	Segments []SegmentReport `json:"segments"`

	// Synthesized counts segments with audio; Failed counts the rest.
	Synthesized int `json:"synthesized"`
	Failed      int `json:"failed"`

	// Dropped counts synthesised clips the assembler could not use.
	Dropped int `json:"dropped"`
}

// Option configures a [Generator].
type Option func(*Generator)

// WithWorkers sets the worker pool size. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.workers = n
		}
	}
}

// WithMaxTextLength sets the per-call text limit in runes.
func WithMaxTextLength(n int) Option {
	return func(g *Generator) {
		g.maxText = n
	}
}

// WithFailurePolicy sets the segment failure policy. Default: [PolicyOmit].
func WithFailurePolicy(p FailurePolicy) Option {
	return func(g *Generator) {
		if p.IsValid() {
			g.policy = p
		}
	}
}

// WithSpeed sets the speaking rate sent to backends. Default: 1.0.
func WithSpeed(s float64) Option {
	return func(g *Generator) {
		g.speed = s
	}
}

// WithPause sets the silence between clips. Default: [wav.DefaultPause].
func WithPause(d time.Duration) Option {
	return func(g *Generator) {
		g.pause = d
	}
}

// WithResample resamples clips with a mismatched sample rate instead of
// dropping them.
func WithResample(enabled bool) Option {
	return func(g *Generator) {
		g.resample = enabled
	}
}

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) {
		g.metrics = m
	}
}

// Generator produces chapter audio. It holds no per-chapter state and is
// safe for concurrent use.
type Generator struct {
	segmenter *segment.Segmenter
	synth     Synthesizer
	catalog   *catalog.Catalog
	metrics   *observe.Metrics

	workers  int
	maxText  int
	policy   FailurePolicy
	speed    float64
	pause    time.Duration
	resample bool
}

// New returns a Generator. Per-call timeouts belong to synth.
func New(seg *segment.Segmenter, synth Synthesizer, cat *catalog.Catalog, opts ...Option) *Generator {
	g := &Generator{
		segmenter: seg,
		synth:     synth,
		catalog:   cat,
		workers:   DefaultWorkers,
		maxText:   DefaultMaxTextLength,
		policy:    PolicyOmit,
		speed:     tts.DefaultSpeed,
		pause:     wav.DefaultPause,
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// voiceMap resolves speakers to voice ids for one chapter.
type voiceMap struct {
	known    map[string]string
	narrator string
}

func (v voiceMap) voiceFor(speaker string) string {
	if speaker == types.NarratorName {
		return v.narrator
	}
	if id := v.known[speaker]; id != "" {
		return id
	}
	return v.narrator
}

// voices builds the voice map from persisted records. A record flagged as
// narrator supplies the narrator voice whatever its name.
func (g *Generator) voices(records []types.CharacterRecord) voiceMap {
	vm := voiceMap{
		known:    make(map[string]string, len(records)),
		narrator: g.catalog.Narrator().ID,
	}
	for _, r := range records {
		id := g.catalog.Resolve(strings.TrimSpace(r.VoiceID))
		if r.IsNarrator {
			if id != "" {
				vm.narrator = id
			}
			continue
		}
		if r.Name == "" || r.Name == types.NarratorName {
			continue
		}
		vm.known[r.Name] = id
	}
	return vm
}

// result is the outcome of one segment before assembly.
type result struct {
	audio  []byte
	report SegmentReport
	err    error
}

// Generate narrates text with the voices in records. On cancellation no
// further segment is dispatched, partial results are discarded and ctx's
// error is returned.
func (g *Generator) Generate(ctx context.Context, text string, records []types.CharacterRecord) (_ []byte, _ Report, err error) {
	ctx, span := observe.StartSpan(ctx, "narrate.generate")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	g.metrics.ActiveChapters.Add(ctx, 1)
	defer func() {
		g.metrics.ActiveChapters.Add(ctx, -1)
		g.metrics.ChapterDuration.Record(ctx, time.Since(start).Seconds())
	}()

	vm := g.voices(records)
	segments := g.segmenter.Split(text, vm.known)
	if len(segments) == 0 {
		return nil, Report{}, fmt.Errorf("%w: chapter text is empty", ErrValidation)
	}
	span.SetAttributes(attribute.Int("segments", len(segments)))

	results := make([]result, len(segments))
	var eg errgroup.Group
	eg.SetLimit(g.workers)
	for i, seg := range segments {
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			results[i] = g.synthesize(ctx, i, seg, vm)
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, Report{}, err
	}

	return g.assemble(ctx, results)
}

// synthesize runs one segment through the backend chain and applies the
// failure policy.
func (g *Generator) synthesize(ctx context.Context, i int, seg types.Segment, vm voiceMap) result {
	ctx, span := observe.StartSpan(ctx, "narrate.segment", trace.WithAttributes(
		attribute.Int("index", i),
		attribute.String("speaker", seg.Speaker),
	))
	var err error
	defer func() { observe.EndSpan(span, err) }()

	rep := SegmentReport{
		Index:   i,
		Speaker: seg.Speaker,
		Kind:    seg.Kind,
		VoiceID: vm.voiceFor(seg.Speaker),
	}

	text, err := Normalize(seg.Text, g.maxText)
	if err != nil {
		rep.Outcome = observe.OutcomeInvalid
		return result{report: rep, err: &SegmentError{Index: i, Speaker: seg.Speaker, Err: err}}
	}

	req := tts.Request{Text: text, VoiceID: rep.VoiceID, Speed: g.speed}
	audio, backend, err := g.synth.SynthesizeNamed(ctx, req)
	rep.Backend = backend
	if err == nil {
		rep.Outcome = observe.OutcomeOK
		return result{audio: audio, report: rep}
	}
	if ctx.Err() != nil {
		return result{report: rep, err: ctx.Err()}
	}

	log := observe.Logger(ctx).With(slog.Int("segment", i), slog.String("speaker", seg.Speaker))
	if g.policy == PolicyNarratorVoice && seg.Kind == types.SegmentDialogue && rep.VoiceID != vm.narrator {
		log.Warn("segment failed, retrying with narrator voice", slog.Any("err", err))
		req.VoiceID = vm.narrator
		subAudio, subBackend, subErr := g.synth.SynthesizeNamed(ctx, req)
		if subErr == nil {
			rep.VoiceID = vm.narrator
			rep.Backend = subBackend
			rep.Substituted = true
			rep.Outcome = observe.OutcomeSubstituted
			err = nil
			return result{audio: subAudio, report: rep}
		}
		err = errors.Join(err, fmt.Errorf("narrator voice: %w", subErr))
		backend = subBackend
	}

	log.Warn("segment omitted", slog.String("backend", backend), slog.Any("err", err))
	rep.Outcome = observe.OutcomeOmitted
	rep.Error = err.Error()
	return result{report: rep, err: &SegmentError{Index: i, Speaker: seg.Speaker, Backend: backend, Err: err}}
}

// assemble concatenates the usable clips in segment order.
func (g *Generator) assemble(ctx context.Context, results []result) ([]byte, Report, error) {
	rep := Report{Segments: make([]SegmentReport, len(results))}
	var (
		clips   [][]byte
		owners  []int
		segErrs []error
	)
	for i, r := range results {
		g.metrics.RecordSegment(ctx, r.report.Outcome)
		if r.err != nil {
			if r.report.Error == "" {
				r.report.Error = r.err.Error()
			}
			segErrs = append(segErrs, r.err)
			rep.Failed++
		} else {
			clips = append(clips, r.audio)
			owners = append(owners, i)
			rep.Synthesized++
		}
		rep.Segments[i] = r.report
	}
	if len(clips) == 0 {
		return nil, rep, fmt.Errorf("%w: %w", ErrChapterFailed, errors.Join(segErrs...))
	}

	out, err := wav.Concatenate(clips,
		wav.WithPause(g.pause),
		wav.WithResample(g.resample),
		wav.WithLogger(observe.Logger(ctx)),
		wav.WithOnDrop(func(i int) {
			rep.Dropped++
			g.metrics.DroppedClips.Add(ctx, 1)
			rep.Segments[owners[i]].Error = "clip dropped by assembler"
		}),
	)
	if err != nil {
		return nil, rep, fmt.Errorf("%w: %w", ErrChapterFailed, err)
	}
	// A lone clip comes back from Concatenate exactly as the backend wrote it.
	out = wav.Sanitize(out)
	observe.Logger(ctx).Info("chapter generated",
		slog.Int("segments", len(results)),
		slog.Int("synthesized", rep.Synthesized),
		slog.Int("failed", rep.Failed),
		slog.Int("dropped", rep.Dropped),
		slog.Int("bytes", len(out)),
	)
	return out, rep, nil
}
