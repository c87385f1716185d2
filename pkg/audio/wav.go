package audio

import (
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/james-see/audio2midi/pkg/mathx"
)

func decodeWAV(r io.ReadSeeker) ([]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: invalid wav file", ErrDecode)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, 0, fmt.Errorf("%w: invalid wav buffer", ErrDecode)
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = buf.SourceBitDepth
	}
	if depth < 8 || depth > 32 {
		return nil, 0, fmt.Errorf("%w: unsupported bit depth %d", ErrDecode, depth)
	}
	return mixdown(buf, depth), buf.Format.SampleRate, nil
}

// mixdown averages interleaved integer channels into [-1,1] mono
func mixdown(buf *audio.IntBuffer, depth int) []float32 {
	ch := buf.Format.NumChannels
	frames := len(buf.Data) / ch
	scale := float64(int64(1) << (depth - 1))
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < ch; c++ {
			v := float64(buf.Data[i*ch+c])
			if depth == 8 {
				v -= 128 // 8-bit PCM is unsigned
			}
			sum += v / scale
		}
		out[i] = float32(mathx.Clamp(sum/float64(ch), -1, 1))
	}
	return out
}

// WriteWAV encodes a buffer as 16-bit mono PCM
func WriteWAV(w io.WriteSeeker, b *SampleBuffer) error {
	enc := wav.NewEncoder(w, b.SampleRateHz, 16, 1, 1)
	data := make([]int, len(b.ChannelData))
	for i, s := range b.ChannelData {
		data[i] = mathx.RoundInt(float64(mathx.Clamp(s, -1, 1)) * 32767)
	}
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			SampleRate:  b.SampleRateHz,
			NumChannels: 1,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write wav data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav file: %w", err)
	}
	return nil
}

// WriteWAVFile writes a buffer to path as 16-bit mono PCM
func WriteWAVFile(path string, b *SampleBuffer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav file: %w", err)
	}
	if err := WriteWAV(f, b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
