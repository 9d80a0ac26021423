// Package placeholder provides a last-resort tts.Provider that renders a
// soft tone whose length follows the text length. It never touches the
// network and only fails on a cancelled context.
package placeholder

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/voicepages/pkg/audio/wav"
	"github.com/MrWong99/voicepages/pkg/provider/tts"
	"github.com/MrWong99/voicepages/pkg/types"
)

const (
	Frequency   = 200.0
	Amplitude   = 0.3
	PerRune     = 50 * time.Millisecond
	MinDuration = time.Second
	MaxDuration = 30 * time.Second
	Fade        = 100 * time.Millisecond

	// DefaultSampleRate matches the Kokoro output rate.
	DefaultSampleRate = 24000
)

// Provider implements tts.Provider with a generated tone.
type Provider struct {
	sampleRate int
}

// New returns a Provider rendering at sampleRate, or [DefaultSampleRate]
// when sampleRate is not positive.
func New(sampleRate int) *Provider {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Provider{sampleRate: sampleRate}
}

// Duration returns the tone length for text: [PerRune] per rune, clamped to
// [MinDuration, MaxDuration].
func Duration(text string) time.Duration {
	d := time.Duration(utf8.RuneCountInString(text)) * PerRune
	return min(max(d, MinDuration), MaxDuration)
}

// Synthesize implements tts.Provider. Voice and speed are ignored.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := wav.Encode(wav.Tone(wav.ToneConfig{
		Frequency:  Frequency,
		Amplitude:  Amplitude,
		Duration:   Duration(req.Text),
		Fade:       Fade,
		SampleRate: p.sampleRate,
	}))
	if err != nil {
		return nil, fmt.Errorf("placeholder: encode tone: %v: %w", err, tts.ErrSynthesisFailure)
	}
	return b, nil
}

// ListVoices implements tts.Provider. The tone has no voices.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	return nil, nil
}

// Available always reports true.
func (p *Provider) Available(context.Context) bool { return true }

var _ tts.Provider = (*Provider)(nil)
