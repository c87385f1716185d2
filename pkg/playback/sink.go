package playback

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/james-see/audio2midi/pkg/converter"
)

// Sink receives the channel events of a playing note sequence
type Sink interface {
	NoteOn(channel, pitch, velocity uint8) error
	NoteOff(channel, pitch uint8) error
	PitchBend(channel uint8, semitones float64) error
}

// NopSink discards everything, for previews that only need the transport
type NopSink struct{}

func (NopSink) NoteOn(uint8, uint8, uint8) error { return nil }
func (NopSink) NoteOff(uint8, uint8) error       { return nil }
func (NopSink) PitchBend(uint8, float64) error   { return nil }

// MIDISink sends events as MIDI messages on the channel each note was given
type MIDISink struct {
	send func(midi.Message) error
}

// NewMIDISink wraps a send function, such as the one returned by midi.SendTo
func NewMIDISink(send func(midi.Message) error) *MIDISink {
	return &MIDISink{send: send}
}

// OpenMIDIOut opens the output port whose name contains name, or port 0 when name is
// empty. A driver must be registered, e.g. by importing rtmididrv.
func OpenMIDIOut(name string) (*MIDISink, func() error, error) {
	var (
		out drivers.Out
		err error
	)
	if name == "" {
		out, err = midi.OutPort(0)
	} else {
		out, err = midi.FindOutPort(name)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find MIDI output: %w", err)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open MIDI output %s: %w", out, err)
	}
	return NewMIDISink(send), out.Close, nil
}

func (s *MIDISink) NoteOn(channel, pitch, velocity uint8) error {
	return s.send(midi.NoteOn(channel, pitch, velocity))
}

func (s *MIDISink) NoteOff(channel, pitch uint8) error {
	return s.send(midi.NoteOff(channel, pitch))
}

func (s *MIDISink) PitchBend(channel uint8, semitones float64) error {
	return s.send(midi.Pitchbend(channel, converter.PitchBendValue(semitones)))
}
