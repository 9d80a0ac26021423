// Package wav reads, normalises and writes RIFF/WAVE audio.
//
// Backends return WAV buffers with assorted extra chunks (LIST, FLLR, fact)
// and occasionally with stale size fields. [Sanitize] rewrites such buffers
// into the canonical fmt+data layout; [Decode] and [Encode] convert between
// that layout and a [Clip] of normalised float64 samples; [Concatenate]
// joins clips into a single mono buffer.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedAudio reports a buffer that cannot be parsed as WAV.
var ErrMalformedAudio = errors.New("wav: malformed audio")

// HeaderSize is the size of the canonical RIFF+fmt+data header written by
// [Encode] and [Sanitize] for a 16-byte fmt chunk.
const HeaderSize = 44

// Encoding is the WAVE format tag of the sample data.
type Encoding uint16

const (
	// EncodingPCM is signed (or, at 8 bits, unsigned) integer PCM.
	EncodingPCM Encoding = 1

	// EncodingFloat is IEEE 754 floating point.
	EncodingFloat Encoding = 3

	encodingExtensible Encoding = 0xFFFE
)

// Format describes the layout of a clip's samples.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
	Encoding   Encoding
}

// BlockAlign returns the size in bytes of one frame (one sample per
// channel).
func (f Format) BlockAlign() int { return f.Channels * f.BitDepth / 8 }

func (f Format) validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("%w: %d Hz, %d channels", ErrMalformedAudio, f.SampleRate, f.Channels)
	}
	switch f.Encoding {
	case EncodingPCM:
		switch f.BitDepth {
		case 8, 16, 24, 32:
			return nil
		}
	case EncodingFloat:
		switch f.BitDepth {
		case 32, 64:
			return nil
		}
	default:
		return fmt.Errorf("%w: unsupported format tag %#x", ErrMalformedAudio, uint16(f.Encoding))
	}
	return fmt.Errorf("%w: unsupported bit depth %d for format tag %d", ErrMalformedAudio, f.BitDepth, f.Encoding)
}

// Clip is decoded audio. Samples are interleaved by channel and normalised to
// [-1, 1]; integer PCM round-trips through a Clip without loss.
type Clip struct {
	Format  Format
	Samples []float64
}

// Frames returns the number of sample frames in the clip.
func (c *Clip) Frames() int {
	if c.Format.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Format.Channels
}

// Duration returns the playback length of the clip.
func (c *Clip) Duration() time.Duration {
	if c.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.Format.SampleRate)
}

// chunks holds the byte ranges of the first fmt and data chunks in a RIFF
// buffer.
type chunks struct {
	fmt  []byte
	data []byte
}

// findChunks walks the RIFF chunk list from offset 12. Chunks are word
// aligned, so an odd size is followed by one pad byte. A data chunk whose
// declared size exceeds the buffer is cut to the bytes actually present.
func findChunks(b []byte) (chunks, bool) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return chunks{}, false
	}

	var c chunks
	offset := 12
	for offset+8 <= len(b) {
		id := string(b[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(b[offset+4 : offset+8]))
		start := offset + 8
		end := start + size
		if end > len(b) || end < start {
			end = len(b)
		}

		switch id {
		case "fmt ":
			if c.fmt == nil {
				c.fmt = b[start:end]
			}
		case "data":
			if c.data == nil {
				c.data = b[start:end]
			}
		}
		if c.fmt != nil && c.data != nil {
			return c, true
		}

		offset = end
		if size%2 != 0 {
			offset++
		}
	}
	return c, c.fmt != nil && c.data != nil
}

// parseFormat reads a fmt chunk body. WAVE_FORMAT_EXTENSIBLE is resolved to
// its sub-format tag.
func parseFormat(body []byte) (Format, error) {
	if len(body) < 16 {
		return Format{}, fmt.Errorf("%w: fmt chunk is %d bytes", ErrMalformedAudio, len(body))
	}
	f := Format{
		Encoding:   Encoding(binary.LittleEndian.Uint16(body[0:2])),
		Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
		SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
		BitDepth:   int(binary.LittleEndian.Uint16(body[14:16])),
	}
	if f.Encoding == encodingExtensible {
		if len(body) < 26 {
			return Format{}, fmt.Errorf("%w: truncated extensible fmt chunk", ErrMalformedAudio)
		}
		// The sub-format GUID starts at offset 24; its first two bytes are the
		// effective format tag.
		f.Encoding = Encoding(binary.LittleEndian.Uint16(body[24:26]))
	}
	return f, f.validate()
}

// Decode parses a WAV buffer into a [Clip]. Extra chunks are ignored. A
// trailing partial frame in the data chunk is dropped. Errors wrap
// [ErrMalformedAudio].
func Decode(b []byte) (*Clip, error) {
	c, ok := findChunks(b)
	if !ok {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header or fmt/data chunk", ErrMalformedAudio)
	}
	f, err := parseFormat(c.fmt)
	if err != nil {
		return nil, err
	}

	width := f.BitDepth / 8
	frames := len(c.data) / f.BlockAlign()
	n := frames * f.Channels
	samples := make([]float64, n)
	for i := range n {
		samples[i] = readSample(c.data[i*width:], f)
	}
	return &Clip{Format: f, Samples: samples}, nil
}

// Encode writes c as a canonical 44-byte-header WAV buffer. Samples outside
// [-1, 1] are clamped.
func Encode(c *Clip) ([]byte, error) {
	if err := c.Format.validate(); err != nil {
		return nil, err
	}
	f := c.Format
	width := f.BitDepth / 8
	dataSize := len(c.Samples) * width

	out := make([]byte, HeaderSize+dataSize)
	putHeader(out, f, dataSize)
	for i, s := range c.Samples {
		writeSample(out[HeaderSize+i*width:], f, s)
	}
	return out, nil
}

// WrapPCM16 wraps raw little-endian 16-bit mono PCM in a canonical WAV
// header. A trailing odd byte is dropped.
func WrapPCM16(pcm []byte, sampleRate int) []byte {
	pcm = pcm[:len(pcm)&^1]
	f := Format{SampleRate: sampleRate, BitDepth: 16, Channels: 1, Encoding: EncodingPCM}
	out := make([]byte, HeaderSize+len(pcm))
	putHeader(out, f, len(pcm))
	copy(out[HeaderSize:], pcm)
	return out
}

// putHeader writes the canonical 44-byte header into out[:44].
func putHeader(out []byte, f Format, dataSize int) {
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(4+8+16+8+dataSize))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], uint16(f.Encoding))
	binary.LittleEndian.PutUint16(out[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(f.SampleRate*f.BlockAlign()))
	binary.LittleEndian.PutUint16(out[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(out[34:36], uint16(f.BitDepth))
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))
}

// Integer scales are powers of two so that normalisation is exact.
const (
	scale8  = 1 << 7
	scale16 = 1 << 15
	scale24 = 1 << 23
	scale32 = 1 << 31
)

func readSample(b []byte, f Format) float64 {
	if f.Encoding == EncodingFloat {
		if f.BitDepth == 64 {
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	switch f.BitDepth {
	case 8:
		return float64(int(b[0])-128) / scale8
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / scale16
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
		return float64(v) / scale24
	default:
		return float64(int32(binary.LittleEndian.Uint32(b))) / scale32
	}
}

func writeSample(b []byte, f Format, s float64) {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if f.Encoding == EncodingFloat {
		if f.BitDepth == 64 {
			binary.LittleEndian.PutUint64(b, math.Float64bits(s))
		} else {
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(s)))
		}
		return
	}
	switch f.BitDepth {
	case 8:
		b[0] = byte(quantize(s, scale8) + 128)
	case 16:
		binary.LittleEndian.PutUint16(b, uint16(int16(quantize(s, scale16))))
	case 24:
		v := quantize(s, scale24)
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
	default:
		binary.LittleEndian.PutUint32(b, uint32(int32(quantize(s, scale32))))
	}
}

// quantize maps s in [-1, 1] to an integer in [-scale, scale-1].
func quantize(s float64, scale int64) int64 {
	v := int64(math.Round(s * float64(scale)))
	if v > scale-1 {
		v = scale - 1
	} else if v < -scale {
		v = -scale
	}
	return v
}
