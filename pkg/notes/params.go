package notes

import (
	"fmt"
	"math"
)

// Default decoding parameters
const (
	DefaultOnsetThreshold      = 0.5
	DefaultFrameThreshold      = 0.3
	DefaultMinNoteLengthFrames = 11
	DefaultMinPitchHz          = 0
	DefaultMaxPitchHz          = 4200
)

// DecodingParameters controls how model output is turned into notes.
// A new value is built for every change; decoders never mutate it.
type DecodingParameters struct {
	OnsetThreshold      float64 `json:"onsetThreshold" form:"onsetThreshold" binding:"gte=0,lte=1"`
	FrameThreshold      float64 `json:"frameThreshold" form:"frameThreshold" binding:"gte=0,lte=1"`
	MinNoteLengthFrames int     `json:"minNoteLengthFrames" form:"minNoteLengthFrames" binding:"gte=1"`
	MinPitchHz          float64 `json:"minPitchHz" form:"minPitchHz" binding:"gte=0"`
	MaxPitchHz          float64 `json:"maxPitchHz" form:"maxPitchHz" binding:"gtfield=MinPitchHz"`
	UseMelodiaTrick     bool    `json:"useMelodiaTrick" form:"useMelodiaTrick"`
	InferOnsets         bool    `json:"inferOnsets" form:"inferOnsets"`
}

// DefaultParameters returns the parameters used before the user touches anything
func DefaultParameters() DecodingParameters {
	return DecodingParameters{
		OnsetThreshold:      DefaultOnsetThreshold,
		FrameThreshold:      DefaultFrameThreshold,
		MinNoteLengthFrames: DefaultMinNoteLengthFrames,
		MinPitchHz:          DefaultMinPitchHz,
		MaxPitchHz:          DefaultMaxPitchHz,
		UseMelodiaTrick:     true,
		InferOnsets:         true,
	}
}

// Validate reports the first out-of-range field
func (p DecodingParameters) Validate() error {
	if !unitRange(p.OnsetThreshold) {
		return fmt.Errorf("%w: onset threshold %v outside [0,1]", ErrInvalidParameters, p.OnsetThreshold)
	}
	if !unitRange(p.FrameThreshold) {
		return fmt.Errorf("%w: frame threshold %v outside [0,1]", ErrInvalidParameters, p.FrameThreshold)
	}
	if p.MinNoteLengthFrames < 1 {
		return fmt.Errorf("%w: minimum note length %d frames, need at least 1", ErrInvalidParameters, p.MinNoteLengthFrames)
	}
	if math.IsNaN(p.MinPitchHz) || p.MinPitchHz < 0 {
		return fmt.Errorf("%w: minimum pitch %v Hz is negative", ErrInvalidParameters, p.MinPitchHz)
	}
	if math.IsNaN(p.MaxPitchHz) || p.MaxPitchHz <= p.MinPitchHz {
		return fmt.Errorf("%w: maximum pitch %v Hz not above minimum %v Hz", ErrInvalidParameters, p.MaxPitchHz, p.MinPitchHz)
	}
	return nil
}

// MinNoteLengthSeconds converts the minimum note length to seconds
func (p DecodingParameters) MinNoteLengthSeconds() float64 {
	return FramesToSeconds(p.MinNoteLengthFrames)
}

// inRange reports whether a pitch bin maps to a frequency inside [MinPitchHz, MaxPitchHz]
func (p DecodingParameters) inRange(bin int) bool {
	hz := MIDIToHz(BinToMIDI(bin))
	return hz >= p.MinPitchHz && hz <= p.MaxPitchHz
}

func unitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
