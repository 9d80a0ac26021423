package character

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/voicepages/pkg/provider/llm"
	"github.com/MrWong99/voicepages/pkg/types"
)

// ErrInsufficient is returned by [LLMExtractor.Extract] when the model named
// fewer than [MinCharacters] characters.
var ErrInsufficient = errors.New("character: too few characters extracted")

// MinCharacters is the smallest acceptable LLM result, narrator excluded.
const MinCharacters = 2

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 2048

	// promptMargin keeps headroom for per-message overhead the token
	// estimate does not see.
	promptMargin = 64
)

const extractSystemPrompt = `You analyse excerpts from novels and list the characters (people) who speak or are mentioned.

For each character determine:
- gender: male, female or unknown
- role: main, supporting or minor
- description: a brief description

Use the name the text uses for the character. Do not list the narrator.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "characters": {
    "<name>": {"gender": "male|female|unknown", "role": "main|supporting|minor", "description": "<text>"}
  }
}`

type extractResponse struct {
	Characters map[string]struct {
		Gender      string `json:"gender"`
		Role        string `json:"role"`
		Description string `json:"description"`
	} `json:"characters"`
}

// ExtractOption configures an [LLMExtractor].
type ExtractOption func(*LLMExtractor)

// WithTemperature sets the sampling temperature. Default: 0.1.
func WithTemperature(temp float64) ExtractOption {
	return func(e *LLMExtractor) {
		e.temperature = temp
	}
}

// WithMaxTokens caps the completion length. Default: 2048.
func WithMaxTokens(n int) ExtractOption {
	return func(e *LLMExtractor) {
		e.maxTokens = n
	}
}

// LLMExtractor asks a language model for the character list. It is safe
// for concurrent use.
type LLMExtractor struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

// NewLLMExtractor returns an extractor backed by provider.
func NewLLMExtractor(provider llm.Provider, opts ...ExtractOption) *LLMExtractor {
	e := &LLMExtractor{
		llm:         provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract sends sample to the model and parses its answer. The narrator is
// not part of the result. Transport failures, unparseable output and results
// with fewer than [MinCharacters] characters are errors.
func (e *LLMExtractor) Extract(ctx context.Context, sample string) ([]types.Character, error) {
	sample, err := e.fit(sample)
	if err != nil {
		return nil, err
	}

	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: extractSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: userPrompt(sample)}},
		Temperature:  e.temperature,
		MaxTokens:    e.maxTokens,
		JSONMode:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("character: complete: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("character: complete: empty response")
	}
	return parseExtraction(resp.Content)
}

// fit trims sample until prompt and completion fit the model's context
// window. Providers reporting no window are trusted with any sample.
func (e *LLMExtractor) fit(sample string) (string, error) {
	window := e.llm.Capabilities().ContextWindow
	if window <= 0 {
		return sample, nil
	}
	fixed, err := e.llm.CountTokens([]llm.Message{{Role: llm.RoleSystem, Content: extractSystemPrompt}})
	if err != nil {
		return "", fmt.Errorf("character: count tokens: %w", err)
	}
	avail := window - e.maxTokens - promptMargin - fixed
	for range 8 {
		if avail <= 0 {
			break
		}
		n, err := e.llm.CountTokens([]llm.Message{{Role: llm.RoleUser, Content: userPrompt(sample)}})
		if err != nil {
			return "", fmt.Errorf("character: count tokens: %w", err)
		}
		if n <= avail {
			return sample, nil
		}
		runes := utf8.RuneCountInString(sample)
		keep := min(runes*avail/n, runes-1)
		if keep <= 0 {
			break
		}
		sample = truncateRunes(sample, keep)
	}
	return "", fmt.Errorf("character: sample does not fit a %d token context window", window)
}

func userPrompt(sample string) string {
	return "Text to analyse:\n\n" + sample
}

func parseExtraction(content string) ([]types.Character, error) {
	var r extractResponse
	if err := json.Unmarshal([]byte(llm.StripMarkdown(content)), &r); err != nil {
		return nil, fmt.Errorf("character: parse response: %w", err)
	}

	out := make([]types.Character, 0, len(r.Characters))
	seen := make(map[string]struct{}, len(r.Characters))
	for name, c := range r.Characters {
		name = strings.Join(strings.Fields(name), " ")
		if name == "" || strings.EqualFold(name, types.NarratorName) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		role := types.ParseRole(c.Role)
		if role == types.RoleSystem {
			continue
		}
		out = append(out, types.Character{
			Name:        name,
			Gender:      types.ParseGender(c.Gender),
			Role:        role,
			Description: strings.TrimSpace(c.Description),
			Confidence:  1,
		})
	}
	if len(out) < MinCharacters {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficient, len(out))
	}

	slices.SortFunc(out, func(a, b types.Character) int {
		if pa, pb := a.Role.Priority(), b.Role.Priority(); pa != pb {
			return pa - pb
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}
