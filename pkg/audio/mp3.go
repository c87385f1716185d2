package audio

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// decodeMP3 decodes to mono. go-mp3 always yields 16-bit little-endian stereo.
func decodeMP3(r io.Reader) ([]float32, int, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	const frameBytes = 4
	frames := len(pcm) / frameBytes
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(pcm[i*frameBytes:]))
		r := int16(binary.LittleEndian.Uint16(pcm[i*frameBytes+2:]))
		out[i] = (float32(l) + float32(r)) / 2 / 32768
	}
	return out, dec.SampleRate(), nil
}
