// Package kokoro provides a tts.Provider for Kokoro servers that expose the
// OpenAI-compatible /v1/audio/speech endpoint (Kokoro-FastAPI, mlx-audio).
// Requests are sent with the openai-go client and always ask for WAV.
package kokoro

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/voicepages/pkg/provider/tts"
	"github.com/MrWong99/voicepages/pkg/types"
)

// DefaultModel is the Kokoro model most local servers ship.
const DefaultModel = "mlx-community/Kokoro-82M-bf16"

const (
	defaultBaseURL = "http://localhost:8880/v1/"
	probeTimeout   = 2 * time.Second

	// Local servers ignore the key, but the client insists on one.
	placeholderKey = "kokoro"
)

// Provider implements tts.Provider against a Kokoro speech server.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL sets the server base URL, including the /v1/ prefix.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithAPIKey sets the bearer token for servers that require one.
func WithAPIKey(key string) Option {
	return func(c *config) {
		c.apiKey = key
	}
}

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Kokoro Provider.
func New(opts ...Option) *Provider {
	cfg := &config{baseURL: defaultBaseURL, apiKey: placeholderKey, model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}
	if !strings.HasSuffix(cfg.baseURL, "/") {
		cfg.baseURL += "/"
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.apiKey),
		option.WithBaseURL(cfg.baseURL),
		// Retries are owned by the fallback chain.
		option.WithMaxRetries(0),
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(req.VoiceID),
		Speed:          param.NewOpt(req.EffectiveSpeed()),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kokoro: read speech response: %v: %w", err, tts.ErrSynthesisFailure)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("kokoro: empty speech response: %w", tts.ErrSynthesisFailure)
	}
	return b, nil
}

// classify maps client errors onto the tts sentinels: an HTTP status from
// the server is a synthesis failure, anything else means the server could
// not be reached.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("kokoro: speech: status %d: %w", apiErr.StatusCode, tts.ErrSynthesisFailure)
	}
	return fmt.Errorf("kokoro: speech: %v: %w", err, tts.ErrBackendUnavailable)
}

type voicesResponse struct {
	Voices []string `json:"voices"`
}

// ListVoices returns the server's voices. Gender and accent are derived from
// the Kokoro id prefix ("af_" american female, "bm_" british male).
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	var res voicesResponse
	if err := p.client.Get(ctx, "audio/voices", nil, &res); err != nil {
		return nil, classify(ctx, err)
	}
	out := make([]types.VoiceProfile, 0, len(res.Voices))
	for _, id := range res.Voices {
		out = append(out, profileFor(id))
	}
	return out, nil
}

// Available reports whether the server answers its voice list.
func (p *Provider) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	var res voicesResponse
	return p.client.Get(ctx, "audio/voices", nil, &res) == nil
}

func profileFor(id string) types.VoiceProfile {
	v := types.VoiceProfile{ID: id, Name: id, Gender: types.GenderUnknown, Style: "kokoro"}
	prefix, name, ok := strings.Cut(id, "_")
	if !ok || len(prefix) != 2 {
		return v
	}
	if name != "" {
		v.Name = strings.ToUpper(name[:1]) + name[1:]
	}
	switch prefix[0] {
	case 'a':
		v.Accent = "american"
	case 'b':
		v.Accent = "british"
	}
	switch prefix[1] {
	case 'f':
		v.Gender = types.GenderFemale
	case 'm':
		v.Gender = types.GenderMale
	}
	return v
}

var _ tts.Provider = (*Provider)(nil)
