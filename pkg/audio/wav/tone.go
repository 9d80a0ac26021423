package wav

import (
	"math"
	"time"
)

// ToneConfig describes a sine tone with linear fade-in and fade-out.
type ToneConfig struct {
	Frequency  float64
	Amplitude  float64
	Duration   time.Duration
	Fade       time.Duration
	SampleRate int
}

// Tone renders a mono 16-bit PCM sine tone.
func Tone(cfg ToneConfig) *Clip {
	n := int(cfg.Duration.Seconds() * float64(cfg.SampleRate))
	fade := int(cfg.Fade.Seconds() * float64(cfg.SampleRate))
	if fade*2 > n {
		fade = n / 2
	}

	samples := make([]float64, n)
	for i := range n {
		t := float64(i) / float64(cfg.SampleRate)
		v := cfg.Amplitude * math.Sin(2*math.Pi*cfg.Frequency*t)
		switch {
		case fade > 0 && i < fade:
			v *= float64(i) / float64(fade)
		case fade > 0 && i >= n-fade:
			v *= float64(n-1-i) / float64(fade)
		}
		samples[i] = v
	}
	return &Clip{
		Format: Format{
			SampleRate: cfg.SampleRate,
			BitDepth:   16,
			Channels:   1,
			Encoding:   EncodingPCM,
		},
		Samples: samples,
	}
}
