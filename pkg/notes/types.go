// Package notes turns the per-frame output of the pitch detection model into note events
package notes

import (
	"fmt"
	"math"
)

// Model geometry of the pitch detector. These are properties of the model, not settings.
const (
	SampleRate             = 22050
	FFTHop                 = 256
	NumPitchBins           = 88
	MIDIOffset             = 21 // bin 0 is A0
	ContourBinsPerSemitone = 3
	NumContourBins         = NumPitchBins * ContourBinsPerSemitone
)

// FrameDuration is the time covered by one model frame, in seconds
const FrameDuration = float64(FFTHop) / float64(SampleRate)

// FrameTensor holds one activation vector per time step, NumPitchBins wide
type FrameTensor [][]float32

// OnsetTensor has the same shape as FrameTensor and holds onset likelihoods
type OnsetTensor [][]float32

// ContourTensor holds one NumContourBins wide pitch likelihood vector per time step
type ContourTensor [][]float32

// Tensors is the full output of one inference run
type Tensors struct {
	Frames   FrameTensor   `json:"frames"`
	Onsets   OnsetTensor   `json:"onsets"`
	Contours ContourTensor `json:"contours"`
}

// Len returns the number of time steps
func (t *Tensors) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Frames)
}

// Duration returns the covered time span in seconds
func (t *Tensors) Duration() float64 {
	return float64(t.Len()) * FrameDuration
}

// Validate checks the tensors are non-empty and shaped like the model output
func (t *Tensors) Validate() error {
	if t == nil || len(t.Frames) == 0 || len(t.Onsets) == 0 || len(t.Contours) == 0 {
		return ErrEmptyInput
	}
	if len(t.Frames) != len(t.Onsets) {
		return fmt.Errorf("%w: %d frames but %d onsets", ErrShapeMismatch, len(t.Frames), len(t.Onsets))
	}
	for i := range t.Frames {
		if len(t.Frames[i]) != NumPitchBins {
			return fmt.Errorf("%w: frame %d has %d bins, want %d", ErrShapeMismatch, i, len(t.Frames[i]), NumPitchBins)
		}
		if len(t.Onsets[i]) != NumPitchBins {
			return fmt.Errorf("%w: onset %d has %d bins, want %d", ErrShapeMismatch, i, len(t.Onsets[i]), NumPitchBins)
		}
	}
	for i := range t.Contours {
		if len(t.Contours[i]) != NumContourBins {
			return fmt.Errorf("%w: contour %d has %d bins, want %d", ErrShapeMismatch, i, len(t.Contours[i]), NumContourBins)
		}
	}
	return nil
}

// NoteEvent is one decoded note. PitchBends are semitone offsets spread evenly over the note.
type NoteEvent struct {
	PitchMIDI        int       `json:"pitchMidi"`
	StartTimeSeconds float64   `json:"startTimeSeconds"`
	DurationSeconds  float64   `json:"durationSeconds"`
	Amplitude        float64   `json:"amplitude"`
	PitchBends       []float64 `json:"pitchBends"`
}

// EndTimeSeconds returns when the note stops sounding
func (n NoteEvent) EndTimeSeconds() float64 {
	return n.StartTimeSeconds + n.DurationSeconds
}

// Name returns the scientific pitch name, e.g. "C4" for MIDI 60
func (n NoteEvent) Name() string {
	return PitchName(n.PitchMIDI)
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// PitchName returns the scientific pitch name of a MIDI note number
func PitchName(pitch int) string {
	if pitch < 0 {
		return fmt.Sprintf("?%d", pitch)
	}
	return fmt.Sprintf("%s%d", noteNames[pitch%12], (pitch/12)-1)
}

// MIDIToHz converts a MIDI note number to its equal-tempered frequency
func MIDIToHz(pitch int) float64 {
	return 440 * math.Pow(2, float64(pitch-69)/12)
}

// BinToMIDI converts a pitch bin index to a MIDI note number
func BinToMIDI(bin int) int {
	return bin + MIDIOffset
}

// FramesToSeconds converts a frame index (or count) to seconds
func FramesToSeconds(frames int) float64 {
	return float64(frames) * FrameDuration
}
