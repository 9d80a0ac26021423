package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voicepages/internal/observe"
	"github.com/MrWong99/voicepages/pkg/provider/llm"
)

const kindLLM = "llm"

// LLMFallback implements [llm.Provider] over an ordered list of LLM
// backends, each behind its own circuit breaker.
type LLMFallback struct {
	group   *FallbackGroup[llm.Provider]
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an empty [LLMFallback]. A nil m records on
// [observe.DefaultMetrics].
func NewLLMFallback(cfg FallbackConfig, m *observe.Metrics) *LLMFallback {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &LLMFallback{group: NewFallbackGroup[llm.Provider](cfg), metrics: m}
}

// Add appends a backend. The first added backend is the primary.
func (f *LLMFallback) Add(name string, p llm.Provider) {
	f.group.Add(name, &instrumentedLLM{name: name, Provider: p, metrics: f.metrics})
}

// Len returns the number of backends.
func (f *LLMFallback) Len() int { return f.group.Len() }

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, _, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	return resp, err
}

// CountTokens uses the primary's counter, so that prompt fitting matches
// [LLMFallback.Capabilities].
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	if f.group.Len() == 0 {
		return llm.EstimateTokens(messages), nil
	}
	return f.group.entries[0].value.CountTokens(messages)
}

// Capabilities returns the smallest context window across backends, so a
// prompt fitted for the primary also fits every fallback.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	var caps llm.ModelCapabilities
	for i, e := range f.group.entries {
		c := e.value.Capabilities()
		if i == 0 {
			caps = c
			continue
		}
		if c.ContextWindow > 0 && (caps.ContextWindow <= 0 || c.ContextWindow < caps.ContextWindow) {
			caps.ContextWindow = c.ContextWindow
		}
		caps.SupportsJSONMode = caps.SupportsJSONMode && c.SupportsJSONMode
	}
	return caps
}

// instrumentedLLM records request and error counts for one backend.
type instrumentedLLM struct {
	llm.Provider
	name    string
	metrics *observe.Metrics
}

func (p *instrumentedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.Provider.Complete(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
		if !errors.Is(err, context.Canceled) {
			p.metrics.RecordProviderError(ctx, p.name, kindLLM)
		}
	}
	p.metrics.RecordProviderRequest(ctx, p.name, kindLLM, status)
	return resp, err
}
