// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider turns one piece of text into one complete WAV buffer. The
// narration pipeline owns normalisation of the text, fallback ordering
// between providers, retries and timeouts; providers only translate a
// [Request] into a call to their backend.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/voicepages/pkg/types"
)

var (
	// ErrBackendUnavailable reports that the backend is not configured or
	// cannot be reached. The pipeline moves on to the next backend.
	ErrBackendUnavailable = errors.New("tts: backend unavailable")

	// ErrSynthesisFailure reports that the backend was reached but failed
	// to produce audio: a non-success status, a non-zero exit or an empty
	// result.
	ErrSynthesisFailure = errors.New("tts: synthesis failed")
)

// DefaultSpeed is the neutral speaking rate.
const DefaultSpeed = 1.0

// Request is a single synthesis call.
type Request struct {
	// Text is already normalised and non-empty.
	Text string

	// VoiceID is a catalog voice id. Providers map it onto their own voice
	// names where they differ.
	VoiceID string

	// Speed is a rate multiplier; zero means [DefaultSpeed].
	Speed float64
}

// EffectiveSpeed returns r.Speed, or [DefaultSpeed] when unset.
func (r Request) EffectiveSpeed() float64 {
	if r.Speed <= 0 {
		return DefaultSpeed
	}
	return r.Speed
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize returns a WAV buffer for req. Errors wrap
	// [ErrBackendUnavailable] or [ErrSynthesisFailure], or are ctx's error.
	Synthesize(ctx context.Context, req Request) ([]byte, error)

	// ListVoices returns the voices the backend offers.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	// Available is a cheap, side-effect-free readiness probe.
	Available(ctx context.Context) bool
}
