package casting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/voicepages/internal/catalog"
	"github.com/MrWong99/voicepages/internal/observe"
	"github.com/MrWong99/voicepages/pkg/provider/llm"
	"github.com/MrWong99/voicepages/pkg/types"
)

const castSystemPrompt = `You are a voice casting director for an audiobook.

Pick the best voice for each character from the voice list. Match the
character's gender. Give principal characters distinct voices.

Voices:
%s
Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"assignments": {"<character name>": "<voice id>"}}`

type castResponse struct {
	Assignments map[string]string `json:"assignments"`
}

// LLMCaster asks a language model for voice choices. Suggestions that name
// unknown voices or contradict a known gender are discarded; the [Policy]
// fills in everything else. Any model failure degrades to the policy alone.
type LLMCaster struct {
	llm     llm.Provider
	catalog *catalog.Catalog
	policy  *Policy
}

// NewLLMCaster returns a caster backed by provider and cat.
func NewLLMCaster(provider llm.Provider, cat *catalog.Catalog) *LLMCaster {
	return &LLMCaster{llm: provider, catalog: cat, policy: NewPolicy(cat)}
}

// Cast implements [Caster]. The only error is ctx's.
func (c *LLMCaster) Cast(ctx context.Context, chars []types.Character) (map[string]types.VoiceAssignment, error) {
	preset, err := c.suggest(ctx, chars)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		observe.Logger(ctx).Warn("llm casting failed, using policy", slog.Any("err", err))
		preset = nil
	}
	return c.policy.Assign(chars, preset), nil
}

func (c *LLMCaster) suggest(ctx context.Context, chars []types.Character) (map[string]string, error) {
	var voices, cast strings.Builder
	for _, v := range c.catalog.Voices() {
		fmt.Fprintf(&voices, "- %s: %s, %s, %s %s\n", v.ID, v.Name, v.Gender, v.Accent, v.Style)
	}
	byName := make(map[string]types.Character, len(chars))
	for _, ch := range chars {
		if ch.Role == types.RoleSystem {
			continue
		}
		byName[ch.Name] = ch
		fmt.Fprintf(&cast, "- %s (%s, %s): %s\n", ch.Name, ch.Gender, ch.Role, ch.Description)
	}
	if len(byName) == 0 {
		return nil, nil
	}

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(castSystemPrompt, voices.String()),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Characters:\n" + cast.String()}},
		Temperature:  0.2,
		JSONMode:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("casting: complete: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("casting: complete: empty response")
	}

	var r castResponse
	if err := json.Unmarshal([]byte(llm.StripMarkdown(resp.Content)), &r); err != nil {
		return nil, fmt.Errorf("casting: parse response: %w", err)
	}

	preset := make(map[string]string, len(r.Assignments))
	for name, id := range r.Assignments {
		ch, ok := byName[name]
		if !ok {
			continue
		}
		v, ok := c.catalog.Lookup(id)
		if !ok {
			continue
		}
		if ch.Gender != types.GenderUnknown && ch.Gender.IsValid() && v.Gender != ch.Gender {
			continue
		}
		preset[name] = v.ID
	}
	return preset, nil
}

var _ Caster = (*LLMCaster)(nil)
