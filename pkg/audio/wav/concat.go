package wav

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MrWong99/voicepages/pkg/audio"
)

// DefaultPause is the silence inserted between consecutive clips.
const DefaultPause = 300 * time.Millisecond

type concatConfig struct {
	pause    time.Duration
	resample bool
	logger   *slog.Logger
	onDrop   func(index int)
}

// ConcatOption configures [Concatenate].
type ConcatOption func(*concatConfig)

// WithPause sets the silence inserted between consecutive clips. Negative
// values are treated as zero.
func WithPause(d time.Duration) ConcatOption {
	return func(c *concatConfig) {
		c.pause = max(d, 0)
	}
}

// WithResample makes [Concatenate] linearly resample clips whose sample rate
// differs from the reference clip instead of dropping them.
func WithResample(enabled bool) ConcatOption {
	return func(c *concatConfig) {
		c.resample = enabled
	}
}

// WithLogger sets the logger used for dropped-clip warnings. Defaults to
// [slog.Default].
func WithLogger(l *slog.Logger) ConcatOption {
	return func(c *concatConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOnDrop registers fn to be called with the input index of every clip
// [Concatenate] drops.
func WithOnDrop(fn func(index int)) ConcatOption {
	return func(c *concatConfig) {
		c.onDrop = fn
	}
}

// Concatenate joins WAV buffers into one mono buffer.
//
// Zero buffers yield an empty slice and one buffer is returned unchanged.
// Otherwise every buffer is decoded and downmixed to mono by averaging its
// channels. The first decodable buffer is the reference: the output uses its
// sample rate, bit depth and integer/float encoding. Silence of the
// configured pause (computed at the reference rate) separates consecutive
// clips, never leading or trailing.
//
// Undecodable buffers are dropped with a warning. Buffers whose sample rate
// differs from the reference are dropped with a warning unless
// [WithResample] is set. If no buffer decodes, the returned error wraps
// [ErrMalformedAudio].
func Concatenate(buffers [][]byte, opts ...ConcatOption) ([]byte, error) {
	switch len(buffers) {
	case 0:
		return []byte{}, nil
	case 1:
		return buffers[0], nil
	}

	cfg := concatConfig{pause: DefaultPause, logger: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.onDrop == nil {
		cfg.onDrop = func(int) {}
	}

	var (
		ref   Format
		haveR bool
		mono  [][]float64
	)
	for i, b := range buffers {
		clip, err := Decode(b)
		if err != nil {
			cfg.logger.Warn("wav: dropping undecodable clip", "index", i, "bytes", len(b), "err", err)
			cfg.onDrop(i)
			continue
		}
		samples := audio.Downmix(clip.Samples, clip.Format.Channels)
		if !haveR {
			ref = clip.Format
			haveR = true
		} else if clip.Format.SampleRate != ref.SampleRate {
			if !cfg.resample {
				cfg.logger.Warn("wav: dropping clip with mismatched sample rate",
					"index", i,
					"got", clip.Format.SampleRate,
					"want", ref.SampleRate,
				)
				cfg.onDrop(i)
				continue
			}
			samples = audio.Resample(samples, clip.Format.SampleRate, ref.SampleRate)
		}
		mono = append(mono, samples)
	}
	if !haveR {
		return nil, fmt.Errorf("wav: concatenate %d buffers: none decodable: %w", len(buffers), ErrMalformedAudio)
	}

	gap := int(math.Round(cfg.pause.Seconds() * float64(ref.SampleRate)))
	total := 0
	for _, m := range mono {
		total += len(m)
	}
	total += gap * (len(mono) - 1)

	joined := make([]float64, 0, total)
	for i, m := range mono {
		if i > 0 {
			joined = append(joined, audio.Silence(gap)...)
		}
		joined = append(joined, m...)
	}

	out := Format{
		SampleRate: ref.SampleRate,
		BitDepth:   ref.BitDepth,
		Channels:   1,
		Encoding:   ref.Encoding,
	}
	return Encode(&Clip{Format: out, Samples: joined})
}
