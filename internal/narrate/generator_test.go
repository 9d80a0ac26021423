package narrate

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voicepages/internal/catalog"
	"github.com/MrWong99/voicepages/internal/lexicon"
	"github.com/MrWong99/voicepages/internal/observe"
	"github.com/MrWong99/voicepages/internal/observe/observetest"
	"github.com/MrWong99/voicepages/internal/resilience"
	"github.com/MrWong99/voicepages/internal/segment"
	"github.com/MrWong99/voicepages/pkg/audio/wav"
	"github.com/MrWong99/voicepages/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voicepages/pkg/provider/tts/mock"
	"github.com/MrWong99/voicepages/pkg/types"
)

const threeLines = `Alice said, "One." Bob whispered, "Two." Carol asked, "Three?"`

var castRecords = []types.CharacterRecord{
	{Name: "Alice", Gender: types.GenderFemale, VoiceID: "af_nova"},
	{Name: "Bob", Gender: types.GenderMale, VoiceID: "am_daniel"},
	{Name: "Carol", Gender: types.GenderFemale, VoiceID: "af_zoey"},
}

// levels maps each line to the constant sample value of its clip.
var levels = map[string]float64{"One.": 0.1, "Two.": 0.2, "Three?": 0.3}

func constClip(t *testing.T, v float64, n int) []byte {
	t.Helper()
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = v
	}
	b, err := wav.Encode(&wav.Clip{
		Format:  wav.Format{SampleRate: 8000, BitDepth: 16, Channels: 1, Encoding: wav.EncodingPCM},
		Samples: samples,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return b
}

// levelSequence decodes b and returns the distinct consecutive sample
// levels, rounded to one decimal.
func levelSequence(t *testing.T, b []byte) []float64 {
	t.Helper()
	clip, err := wav.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var seq []float64
	for _, s := range clip.Samples {
		v := math.Round(s*10) / 10
		if len(seq) == 0 || seq[len(seq)-1] != v {
			seq = append(seq, v)
		}
	}
	return seq
}

func equalLevels(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// lineSynth returns a mock that answers every line with its level clip.
func lineSynth(t *testing.T) *ttsmock.Provider {
	return &ttsmock.Provider{
		SynthesizeFunc: func(_ context.Context, req tts.Request) ([]byte, error) {
			v, ok := levels[req.Text]
			if !ok {
				return nil, fmt.Errorf("unexpected text %q: %w", req.Text, tts.ErrSynthesisFailure)
			}
			return constClip(t, v, 80), nil
		},
	}
}

func newChain(m *observe.Metrics, providers ...tts.Provider) *resilience.TTSFallback {
	fb := resilience.NewTTSFallback(resilience.FallbackConfig{}, m)
	for i, p := range providers {
		fb.Add(fmt.Sprintf("backend%d", i), p)
	}
	return fb
}

func newGenerator(t *testing.T, synth Synthesizer, opts ...Option) (*Generator, observetest.Reader) {
	t.Helper()
	m, reader := observetest.NewMetrics(t)
	opts = append([]Option{WithMetrics(m), WithPause(0)}, opts...)
	return New(segment.New(lexicon.Default()), synth, catalog.Default(), opts...), reader
}

func TestGenerate_OrderedUnderOutOfOrderCompletion(t *testing.T) {
	t.Parallel()

	delays := map[string]time.Duration{"One.": 60 * time.Millisecond, "Two.": 30 * time.Millisecond}
	p := &ttsmock.Provider{
		SynthesizeFunc: func(ctx context.Context, req tts.Request) ([]byte, error) {
			select {
			case <-time.After(delays[req.Text]):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return constClip(t, levels[req.Text], 80), nil
		},
	}
	g, reader := newGenerator(t, newChain(nil, p))

	out, rep, err := g.Generate(context.Background(), threeLines, castRecords)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got, want := levelSequence(t, out), []float64{0.1, 0.2, 0.3}; !equalLevels(got, want) {
		t.Errorf("levels = %v, want %v", got, want)
	}
	if rep.Synthesized != 3 || rep.Failed != 0 {
		t.Errorf("report = %+v", rep)
	}
	wantVoices := []string{"af_nova", "am_daniel", "af_zoey"}
	for i, s := range rep.Segments {
		if s.VoiceID != wantVoices[i] || s.Outcome != observe.OutcomeOK || s.Backend != "backend0" {
			t.Errorf("segment %d = %+v", i, s)
		}
	}
	if got := reader.Counter(t, "voicepages.segment.outcomes", observe.Attr("outcome", observe.OutcomeOK)); got != 3 {
		t.Errorf("ok outcomes = %d, want 3", got)
	}
	if got := reader.HistogramCount(t, "voicepages.chapter.duration"); got != 1 {
		t.Errorf("chapter recordings = %d, want 1", got)
	}
}

func TestGenerate_RequestShape(t *testing.T) {
	t.Parallel()

	p := lineSynth(t)
	g, _ := newGenerator(t, newChain(nil, p), WithSpeed(1.25))

	if _, _, err := g.Generate(context.Background(), `Alice said, "One."`, castRecords); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	want := tts.Request{Text: "One.", VoiceID: "af_nova", Speed: 1.25}
	if calls[0].Req != want {
		t.Errorf("request = %+v, want %+v", calls[0].Req, want)
	}
}

func TestGenerate_VoiceResolution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		records []types.CharacterRecord
		want    string
	}{
		{
			name: "narrator flag is authoritative",
			text: "The night was quiet.",
			records: []types.CharacterRecord{
				{Name: "Storyteller", VoiceID: "bm_oliver", IsNarrator: true},
			},
			want: "bm_oliver",
		},
		{
			name: "catalog narrator by default",
			text: "The night was quiet.",
			want: catalog.DefaultNarratorID,
		},
		{
			name:    "legacy ids resolve",
			text:    `Bob said, "Hi."`,
			records: []types.CharacterRecord{{Name: "Bob", VoiceID: "am_adam"}},
			want:    "am_daniel",
		},
		{
			name:    "character without a voice uses the narrator",
			text:    `Bob said, "Hi."`,
			records: []types.CharacterRecord{{Name: "Bob"}},
			want:    catalog.DefaultNarratorID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &ttsmock.Provider{Audio: constClip(t, 0.5, 80)}
			g, _ := newGenerator(t, newChain(nil, p))
			if _, _, err := g.Generate(context.Background(), tt.text, tt.records); err != nil {
				t.Fatalf("Generate: %v", err)
			}
			calls := p.Calls()
			if len(calls) != 1 || calls[0].Req.VoiceID != tt.want {
				t.Errorf("calls = %+v, want one call with voice %q", calls, tt.want)
			}
		})
	}
}

func TestGenerate_FallbackBackend(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{SynthesizeErr: fmt.Errorf("offline: %w", tts.ErrBackendUnavailable)}
	g, _ := newGenerator(t, newChain(nil, primary, lineSynth(t)))

	out, rep, err := g.Generate(context.Background(), threeLines, castRecords)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := levelSequence(t, out); !equalLevels(got, []float64{0.1, 0.2, 0.3}) {
		t.Errorf("levels = %v", got)
	}
	for _, s := range rep.Segments {
		if s.Backend != "backend1" {
			t.Errorf("segment %d backend = %q, want backend1", s.Index, s.Backend)
		}
	}
}

func TestGenerate_FailurePolicy(t *testing.T) {
	t.Parallel()

	// Bob's voice is broken on every backend.
	brokenVoice := func(t *testing.T) *ttsmock.Provider {
		inner := lineSynth(t)
		return &ttsmock.Provider{
			SynthesizeFunc: func(ctx context.Context, req tts.Request) ([]byte, error) {
				if req.VoiceID == "am_daniel" {
					return nil, fmt.Errorf("voice missing: %w", tts.ErrSynthesisFailure)
				}
				return inner.Synthesize(ctx, req)
			},
		}
	}

	tests := []struct {
		name        string
		policy      FailurePolicy
		wantLevels  []float64
		wantOutcome string
		wantVoice   string
		wantFailed  int
	}{
		{"omit", PolicyOmit, []float64{0.1, 0.3}, observe.OutcomeOmitted, "am_daniel", 1},
		{"narrator voice", PolicyNarratorVoice, []float64{0.1, 0.2, 0.3}, observe.OutcomeSubstituted, catalog.DefaultNarratorID, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g, reader := newGenerator(t, newChain(nil, brokenVoice(t)), WithFailurePolicy(tt.policy))

			out, rep, err := g.Generate(context.Background(), threeLines, castRecords)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if got := levelSequence(t, out); !equalLevels(got, tt.wantLevels) {
				t.Errorf("levels = %v, want %v", got, tt.wantLevels)
			}
			bob := rep.Segments[1]
			if bob.Outcome != tt.wantOutcome || bob.VoiceID != tt.wantVoice {
				t.Errorf("bob = %+v, want outcome %q voice %q", bob, tt.wantOutcome, tt.wantVoice)
			}
			if rep.Failed != tt.wantFailed {
				t.Errorf("failed = %d, want %d", rep.Failed, tt.wantFailed)
			}
			if got := reader.Counter(t, "voicepages.segment.outcomes", observe.Attr("outcome", tt.wantOutcome)); got != 1 {
				t.Errorf("%s outcomes = %d, want 1", tt.wantOutcome, got)
			}
		})
	}
}

func TestGenerate_AllSegmentsFail(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{SynthesizeErr: fmt.Errorf("exit status 1: %w", tts.ErrSynthesisFailure)}
	g, _ := newGenerator(t, newChain(nil, p))

	out, rep, err := g.Generate(context.Background(), threeLines, castRecords)
	if out != nil {
		t.Errorf("audio = %d bytes, want nil", len(out))
	}
	for _, want := range []error{ErrChapterFailed, resilience.ErrAllFailed, tts.ErrSynthesisFailure} {
		if !errors.Is(err, want) {
			t.Errorf("err = %v, want it to wrap %v", err, want)
		}
	}
	var segErr *SegmentError
	if !errors.As(err, &segErr) {
		t.Fatalf("err = %v, want a SegmentError", err)
	}
	if segErr.Backend != "backend0" || segErr.Speaker == "" {
		t.Errorf("segment error = %+v", segErr)
	}
	if rep.Failed != 3 || rep.Synthesized != 0 {
		t.Errorf("report = %+v", rep)
	}
}

func TestGenerate_Validation(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{Audio: constClip(t, 0.5, 80)}
	g, _ := newGenerator(t, newChain(nil, p))

	for _, text := range []string{"", "   \n\t"} {
		if _, _, err := g.Generate(context.Background(), text, nil); !errors.Is(err, ErrValidation) {
			t.Errorf("Generate(%q) err = %v, want ErrValidation", text, err)
		}
	}
	if len(p.Calls()) != 0 {
		t.Errorf("backend called %d times for empty text", len(p.Calls()))
	}
}

func TestGenerate_InvalidSegmentNeverDispatched(t *testing.T) {
	t.Parallel()

	p := lineSynth(t)
	g, _ := newGenerator(t, newChain(nil, p))

	// The second line is only junk runes once quotes are removed.
	_, rep, err := g.Generate(context.Background(), "Alice said, \"One.\" Bob said, \"\x00\uFFFD\"", castRecords)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(p.Calls()) != 1 {
		t.Errorf("calls = %d, want 1", len(p.Calls()))
	}
	last := rep.Segments[len(rep.Segments)-1]
	if last.Outcome != observe.OutcomeInvalid || last.Backend != "" {
		t.Errorf("last segment = %+v, want an undispatched invalid segment", last)
	}
}

func TestGenerate_Cancellation(t *testing.T) {
	t.Parallel()

	t.Run("before start", func(t *testing.T) {
		t.Parallel()
		p := lineSynth(t)
		g, _ := newGenerator(t, newChain(nil, p))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, _, err := g.Generate(ctx, threeLines, castRecords); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if len(p.Calls()) != 0 {
			t.Errorf("calls = %d, want 0", len(p.Calls()))
		}
	})

	t.Run("stops dispatch", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p := &ttsmock.Provider{
			SynthesizeFunc: func(context.Context, tts.Request) ([]byte, error) {
				cancel()
				return constClip(t, 0.1, 80), nil
			},
		}
		g, _ := newGenerator(t, newChain(nil, p), WithWorkers(1))

		out, _, err := g.Generate(ctx, threeLines, castRecords)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if out != nil {
			t.Errorf("audio = %d bytes after cancellation", len(out))
		}
		if len(p.Calls()) != 1 {
			t.Errorf("calls = %d, want 1", len(p.Calls()))
		}
	})
}

func TestGenerate_DroppedClip(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{
		SynthesizeFunc: func(_ context.Context, req tts.Request) ([]byte, error) {
			if req.Text == "Two." {
				return []byte("not a wav file"), nil
			}
			return constClip(t, levels[req.Text], 80), nil
		},
	}
	g, reader := newGenerator(t, newChain(nil, p))

	out, rep, err := g.Generate(context.Background(), threeLines, castRecords)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := levelSequence(t, out); !equalLevels(got, []float64{0.1, 0.3}) {
		t.Errorf("levels = %v", got)
	}
	if rep.Dropped != 1 || rep.Segments[1].Error == "" {
		t.Errorf("report = %+v", rep)
	}
	if got := reader.Counter(t, "voicepages.assembler.dropped_clips"); got != 1 {
		t.Errorf("dropped clips = %d, want 1", got)
	}
}

func TestFailurePolicyIsValid(t *testing.T) {
	t.Parallel()
	for p, want := range map[FailurePolicy]bool{
		PolicyOmit:          true,
		PolicyNarratorVoice: true,
		"":                  false,
		"retry":             false,
	} {
		if got := p.IsValid(); got != want {
			t.Errorf("%q.IsValid() = %v, want %v", p, got, want)
		}
	}
}

// withListChunk inserts a LIST chunk between the fmt and data chunks of a
// canonical WAV, the way many encoders tag their output.
func withListChunk(b []byte) []byte {
	list := append([]byte("LIST"), 4, 0, 0, 0, 'I', 'N', 'F', 'O')
	out := make([]byte, 0, len(b)+len(list))
	out = append(out, b[:36]...)
	out = append(out, list...)
	out = append(out, b[36:]...)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(out)-8))
	return out
}

func TestGenerate_SingleClipIsCanonical(t *testing.T) {
	t.Parallel()

	tagged := withListChunk(constClip(t, 0.1, 80))
	p := &ttsmock.Provider{
		SynthesizeFunc: func(context.Context, tts.Request) ([]byte, error) {
			return tagged, nil
		},
	}
	g, _ := newGenerator(t, newChain(nil, p))

	out, rep, err := g.Generate(context.Background(), "Just narration, no dialogue.", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if rep.Synthesized != 1 {
		t.Fatalf("synthesized = %d, want 1", rep.Synthesized)
	}
	if bytes.Contains(out, []byte("LIST")) {
		t.Error("output still carries the LIST chunk")
	}
	if want := wav.HeaderSize + 80*2; len(out) != want {
		t.Errorf("len = %d, want %d", len(out), want)
	}
	if !bytes.Equal(out, wav.Sanitize(out)) {
		t.Error("output is not in canonical layout")
	}
}
