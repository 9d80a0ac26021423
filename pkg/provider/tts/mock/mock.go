// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    Audio:            wavBytes,
//	    ListVoicesResult: []types.VoiceProfile{{ID: "af_nova", Name: "Nova"}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicepages/pkg/provider/tts"
	"github.com/MrWong99/voicepages/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx context.Context
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize when SynthesizeFunc is nil.
	Audio []byte

	// SynthesizeErr, if non-nil, is returned by Synthesize instead of Audio.
	SynthesizeErr error

	// SynthesizeFunc, if set, overrides Audio and SynthesizeErr.
	SynthesizeFunc func(ctx context.Context, req tts.Request) ([]byte, error)

	ListVoicesResult []types.VoiceProfile
	ListVoicesErr    error

	// Unavailable makes Available report false.
	Unavailable bool

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// AvailableCalls counts calls to Available.
	AvailableCalls int
}

// Synthesize records the call and returns the configured result.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	fn, audio, err := p.SynthesizeFunc, p.Audio, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), audio...), nil
}

// ListVoices returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// Available records the call and reports !Unavailable.
func (p *Provider) Available(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AvailableCalls++
	return !p.Unavailable
}

// Calls returns a copy of the recorded Synthesize calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.SynthesizeCalls...)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.AvailableCalls = 0
}

var _ tts.Provider = (*Provider)(nil)
