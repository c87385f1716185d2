package converter

import (
	"sort"

	"github.com/james-see/audio2midi/pkg/mathx"
	"github.com/james-see/audio2midi/pkg/notes"
)

// EventKind orders events that fall on the same instant
type EventKind int

const (
	EventNoteOff EventKind = iota
	EventBendReset
	EventPitchBend
	EventNoteOn
)

func (k EventKind) String() string {
	switch k {
	case EventNoteOff:
		return "note-off"
	case EventBendReset:
		return "bend-reset"
	case EventPitchBend:
		return "pitch-bend"
	case EventNoteOn:
		return "note-on"
	default:
		return "unknown"
	}
}

// TimedEvent is one channel event positioned in seconds
type TimedEvent struct {
	Seconds  float64
	Kind     EventKind
	Channel  uint8
	Pitch    uint8
	Velocity uint8
	Bend     float64 // semitones, for bend events
	Note     int     // index of the note in the input
}

// VoiceChannels are the channels notes are spread over. Channel 10 is left to percussion.
var VoiceChannels = []uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 10, 11, 12, 13, 14, 15}

// Timeline flattens notes into time-ordered channel events. Every note gets a channel of
// its own while it sounds (see AssignChannels), so each note carries all of its pitch
// bends followed by a reset on that channel.
func Timeline(events []notes.NoteEvent) []TimedEvent {
	channels := AssignChannels(events)
	out := make([]TimedEvent, 0, len(events)*2)
	for i, n := range events {
		pitch := uint8(mathx.Clamp(n.PitchMIDI, 0, 127))
		ch := channels[i]
		out = append(out, TimedEvent{
			Seconds:  n.StartTimeSeconds,
			Kind:     EventNoteOn,
			Channel:  ch,
			Pitch:    pitch,
			Velocity: Velocity(n.Amplitude),
			Note:     i,
		})
		out = append(out, TimedEvent{
			Seconds: n.EndTimeSeconds(),
			Kind:    EventNoteOff,
			Channel: ch,
			Pitch:   pitch,
			Note:    i,
		})
		if len(n.PitchBends) == 0 {
			continue
		}
		for j, b := range n.PitchBends {
			out = append(out, TimedEvent{
				Seconds: n.StartTimeSeconds + float64(j)/float64(len(n.PitchBends))*n.DurationSeconds,
				Kind:    EventPitchBend,
				Channel: ch,
				Pitch:   pitch,
				Bend:    b,
				Note:    i,
			})
		}
		out = append(out, TimedEvent{
			Seconds: n.EndTimeSeconds(),
			Kind:    EventBendReset,
			Channel: ch,
			Pitch:   pitch,
			Note:    i,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Seconds != out[j].Seconds {
			return out[i].Seconds < out[j].Seconds
		}
		return sameInstantLess(out[i], out[j])
	})
	return out
}

// sameInstantLess orders simultaneous events by kind, then pitch, then input order
func sameInstantLess(a, b TimedEvent) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Pitch != b.Pitch {
		return a.Pitch < b.Pitch
	}
	return a.Note < b.Note
}

// AssignChannels gives every note the lowest voice channel that is free at its start.
// Notes that never overlap all land on the first channel. With more simultaneous notes
// than channels, a note shares the channel that frees up first.
func AssignChannels(events []notes.NoteEvent) []uint8 {
	order := make([]int, len(events))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return events[order[a]].StartTimeSeconds < events[order[b]].StartTimeSeconds
	})

	busyUntil := make([]float64, len(VoiceChannels))
	out := make([]uint8, len(events))
	for _, i := range order {
		n := events[i]
		pick := -1
		for c, until := range busyUntil {
			if until <= n.StartTimeSeconds {
				pick = c
				break
			}
		}
		if pick < 0 {
			pick = 0
			for c, until := range busyUntil {
				if until < busyUntil[pick] {
					pick = c
				}
			}
		}
		busyUntil[pick] = max(busyUntil[pick], n.EndTimeSeconds())
		out[i] = VoiceChannels[pick]
	}
	return out
}

// Velocity maps an amplitude in [0,1] to a MIDI velocity in [1,127]
func Velocity(amplitude float64) uint8 {
	return uint8(mathx.Clamp(mathx.RoundInt(amplitude*127), 1, 127))
}

// BendRangeSemitones is the pitch bend range assumed by receivers (General MIDI default)
const BendRangeSemitones = 2

// PitchBendValue maps a semitone offset to a 14-bit signed pitch bend value
func PitchBendValue(semitones float64) int16 {
	v := mathx.RoundInt(semitones / BendRangeSemitones * 8192)
	return int16(mathx.Clamp(v, -8192, 8191))
}

// BendSemitones is the inverse of PitchBendValue
func BendSemitones(value int16) float64 {
	return float64(value) / 8192 * BendRangeSemitones
}
