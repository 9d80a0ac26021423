package wav

import "encoding/binary"

// Sanitize rewrites a WAV buffer into the canonical layout: a RIFF/WAVE
// header followed by exactly one fmt chunk and one data chunk, with the RIFF
// and data sizes recomputed from the bytes actually present. Chunks other
// than the first fmt and data (LIST, FLLR, fact, ...) are dropped.
//
// Buffers shorter than [HeaderSize], without the RIFF/WAVE magic, or without
// both a fmt and a data chunk are returned unchanged. Sanitize is
// idempotent.
func Sanitize(b []byte) []byte {
	if len(b) < HeaderSize {
		return b
	}
	c, ok := findChunks(b)
	if !ok {
		return b
	}

	fmtPad := len(c.fmt) % 2
	riffSize := 4 + 8 + len(c.fmt) + fmtPad + 8 + len(c.data)

	out := make([]byte, 0, 8+riffSize)
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(riffSize))
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(c.fmt)))
	out = append(out, c.fmt...)
	if fmtPad == 1 {
		out = append(out, 0)
	}
	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(c.data)))
	out = append(out, c.data...)
	return out
}
