// Package command provides a tts.Provider that runs local speech programs.
//
// A provider is a pipeline of command templates. Each template is split into
// arguments with shellwords and placeholders are substituted per argument,
// so text is never interpreted by a shell:
//
//	{text}    the text to speak
//	{voice}   the program voice mapped from the catalog voice id
//	{rate}    words per minute, 180 at speed 1.0
//	{speed}   the speed multiplier
//	{input}   a file holding the text for the first step, the previous
//	          step's {output} afterwards
//	{output}  a fresh temporary file for this step
//	{wav}     the final WAV file
//
// The result is read from {wav} when any step names it, else from the last
// step's {output}, else from the last step's stdout. It is passed through
// wav.Sanitize, since afconvert and friends write extra chunks.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-shellwords"

	"github.com/MrWong99/voicepages/pkg/audio/wav"
	"github.com/MrWong99/voicepages/pkg/provider/tts"
	"github.com/MrWong99/voicepages/pkg/types"
)

// Default templates render with macOS say and convert the AIFF result to
// 24 kHz 16-bit WAV.
var DefaultTemplates = []string{
	"say -v {voice} -r {rate} -o {output} {text}",
	"afconvert -f WAVE -d LEI16@24000 {input} {wav}",
}

// KokoroCLITemplate runs the kokoro-tts command line tool on a text file.
const KokoroCLITemplate = "kokoro-tts {input} {wav} --voice {voice} --speed {speed}"

// DefaultVoice is the say voice used for catalog ids without a mapping.
const DefaultVoice = "Samantha"

// DefaultVoiceMap maps catalog voice ids to macOS say voices.
var DefaultVoiceMap = map[string]string{
	"af_samantha": "Samantha",
	"af_sky":      "Samantha",
	"af_heart":    "Victoria",
	"af_bella":    "Zoey",
	"af_nova":     "Samantha",
	"af_sarah":    "Allison",
	"af_nicole":   "Samantha",
	"af_zoey":     "Zoey",
	"af_allison":  "Allison",
	"af_victoria": "Victoria",
	"am_adam":     "Daniel",
	"am_echo":     "Alex",
	"am_michael":  "Daniel",
	"am_liam":     "Alex",
	"am_alex":     "Alex",
	"bm_daniel":   "Daniel",
	"bm_george":   "Oliver",
	"bm_lewis":    "Oliver",
	"bm_fable":    "Oliver",
	"bf_alice":    "Samantha",
	"bf_emma":     "Samantha",
	"bf_lily":     "Samantha",
	"bf_isabella": "Samantha",
}

// baseRate is the say rate in words per minute at speed 1.0.
const baseRate = 180

const (
	phText   = "{text}"
	phVoice  = "{voice}"
	phRate   = "{rate}"
	phSpeed  = "{speed}"
	phInput  = "{input}"
	phOutput = "{output}"
	phWAV    = "{wav}"
)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithVoiceMap replaces [DefaultVoiceMap].
func WithVoiceMap(m map[string]string) Option {
	return func(p *Provider) {
		p.voices = m
	}
}

// WithDefaultVoice replaces [DefaultVoice].
func WithDefaultVoice(v string) Option {
	return func(p *Provider) {
		p.defaultVoice = v
	}
}

// WithOutputExt sets the file extension of {output} files. Default ".aiff",
// which makes say pick AIFF.
func WithOutputExt(ext string) Option {
	return func(p *Provider) {
		p.outputExt = ext
	}
}

// WithTempDir sets where per-request scratch directories are created.
// Default: os.TempDir().
func WithTempDir(dir string) Option {
	return func(p *Provider) {
		p.tempDir = dir
	}
}

// Provider implements tts.Provider by running command templates. It is safe
// for concurrent use; every request gets its own scratch directory.
type Provider struct {
	steps        [][]string
	voices       map[string]string
	defaultVoice string
	outputExt    string
	tempDir      string
}

// New parses templates. With no templates, [DefaultTemplates] are used.
func New(templates []string, opts ...Option) (*Provider, error) {
	if len(templates) == 0 {
		templates = DefaultTemplates
	}
	p := &Provider{
		voices:       DefaultVoiceMap,
		defaultVoice: DefaultVoice,
		outputExt:    ".aiff",
	}
	for _, o := range opts {
		o(p)
	}

	parser := shellwords.NewParser()
	for i, tmpl := range templates {
		args, err := parser.Parse(tmpl)
		if err != nil {
			return nil, fmt.Errorf("command: parse template %d: %w", i, err)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("command: template %d is empty", i)
		}
		p.steps = append(p.steps, args)
	}
	return p, nil
}

func (p *Provider) voice(id string) string {
	if v, ok := p.voices[id]; ok && v != "" {
		return v
	}
	return p.defaultVoice
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	dir, err := os.MkdirTemp(p.tempDir, "voicepages-cmd-")
	if err != nil {
		return nil, fmt.Errorf("command: create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, uuid.NewString()+".txt")
	if err := os.WriteFile(input, []byte(req.Text), 0o600); err != nil {
		return nil, fmt.Errorf("command: write text file: %w", err)
	}
	wavPath := filepath.Join(dir, uuid.NewString()+".wav")
	speed := req.EffectiveSpeed()
	rate := strconv.Itoa(int(baseRate * speed))
	speedArg := strconv.FormatFloat(speed, 'f', -1, 64)
	voice := p.voice(req.VoiceID)

	var (
		stdout  []byte
		output  string
		usesWAV bool
		usesOut bool
	)
	for _, step := range p.steps {
		output = filepath.Join(dir, uuid.NewString()+p.outputExt)
		usesOut = slices.ContainsFunc(step, func(a string) bool { return strings.Contains(a, phOutput) })
		if slices.ContainsFunc(step, func(a string) bool { return strings.Contains(a, phWAV) }) {
			usesWAV = true
		}

		// One pass, so placeholders inside the text stay literal.
		r := strings.NewReplacer(
			phText, req.Text,
			phVoice, voice,
			phRate, rate,
			phSpeed, speedArg,
			phInput, input,
			phOutput, output,
			phWAV, wavPath,
		)
		args := make([]string, len(step))
		for i, a := range step {
			args[i] = r.Replace(a)
		}

		stdout, err = run(ctx, args)
		if err != nil {
			return nil, err
		}
		input = output
	}

	var audio []byte
	switch {
	case usesWAV:
		audio, err = os.ReadFile(wavPath)
	case usesOut:
		audio, err = os.ReadFile(output)
	default:
		audio = stdout
	}
	if err != nil {
		return nil, fmt.Errorf("command: read result: %v: %w", err, tts.ErrSynthesisFailure)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("command: empty result: %w", tts.ErrSynthesisFailure)
	}
	return wav.Sanitize(audio), nil
}

func run(ctx context.Context, args []string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("command: %s: %v: %w", args[0], err, tts.ErrBackendUnavailable)
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, fmt.Errorf("command: %s: %v: %s: %w", args[0], err, msg, tts.ErrSynthesisFailure)
	}
	return stdout.Bytes(), nil
}

// Available reports whether every program in the pipeline is on PATH.
func (p *Provider) Available(context.Context) bool {
	for _, step := range p.steps {
		if _, err := exec.LookPath(step[0]); err != nil {
			return false
		}
	}
	return true
}

// ListVoices returns one profile per mapped catalog id, sorted by id.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	ids := make([]string, 0, len(p.voices))
	for id := range p.voices {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]types.VoiceProfile, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.VoiceProfile{
			ID:     id,
			Name:   p.voices[id],
			Gender: types.GenderUnknown,
			Style:  "command",
		})
	}
	return out, nil
}

var _ tts.Provider = (*Provider)(nil)
