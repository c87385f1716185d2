// Package audio decodes uploaded or recorded audio into the mono sample buffer the model expects
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/james-see/audio2midi/pkg/notes"
)

// MaxInputSize is the largest accepted encoded input
const MaxInputSize = 100 << 20

var (
	// ErrUnsupportedFormat is returned for input that is neither WAV nor MP3
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrDecode is returned when recognised input cannot be decoded
	ErrDecode = errors.New("audio decode failed")
)

// Format is an encoded audio container
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatUnknown Format = "unknown"
)

// SampleBuffer is decoded mono audio
type SampleBuffer struct {
	ChannelData     []float32
	SampleRateHz    int
	DurationSeconds float64
}

// NewSampleBuffer wraps mono samples and computes the duration
func NewSampleBuffer(samples []float32, sampleRate int) *SampleBuffer {
	b := &SampleBuffer{ChannelData: samples, SampleRateHz: sampleRate}
	if sampleRate > 0 {
		b.DurationSeconds = float64(len(samples)) / float64(sampleRate)
	}
	return b
}

// DetectFormat sniffs the container from magic bytes
func DetectFormat(raw []byte) Format {
	switch {
	case len(raw) >= 12 && string(raw[:4]) == "RIFF" && string(raw[8:12]) == "WAVE":
		return FormatWAV
	case len(raw) >= 3 && string(raw[:3]) == "ID3":
		return FormatMP3
	case len(raw) >= 2 && raw[0] == 0xFF && raw[1]&0xE0 == 0xE0:
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// Decode decodes raw bytes into mono samples at the model sample rate
func Decode(raw []byte) (*SampleBuffer, error) {
	return DecodeContext(context.Background(), raw)
}

// DecodeContext is Decode with cancellation between the decode, mixdown and resample stages
func DecodeContext(ctx context.Context, raw []byte) (*SampleBuffer, error) {
	if len(raw) > MaxInputSize {
		return nil, fmt.Errorf("%w: input is %d bytes, limit is %d", ErrDecode, len(raw), MaxInputSize)
	}

	var (
		mono []float32
		rate int
		err  error
	)
	switch DetectFormat(raw) {
	case FormatWAV:
		mono, rate, err = decodeWAV(bytes.NewReader(raw))
	case FormatMP3:
		mono, rate, err = decodeMP3(bytes.NewReader(raw))
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}
	if len(mono) == 0 || rate <= 0 {
		return nil, fmt.Errorf("%w: no audio samples", ErrDecode)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := ResampleContext(ctx, mono, rate, notes.SampleRate)
	if err != nil {
		return nil, err
	}
	return NewSampleBuffer(out, notes.SampleRate), nil
}
