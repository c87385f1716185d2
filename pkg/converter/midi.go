package converter

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/james-see/audio2midi/pkg/mathx"
	"github.com/james-see/audio2midi/pkg/notes"
)

// MIDI encoding defaults
const (
	DefaultTicksPerQuarter = 480
	DefaultTempo           = 120.0
	DefaultTrackName       = "audio2midi"
)

var (
	// ErrEmptyNoteSequence is returned when there are no notes and no tempo to write
	ErrEmptyNoteSequence = errors.New("empty note sequence without tempo")
	// ErrEncoding wraps failures of the underlying MIDI writer
	ErrEncoding = errors.New("MIDI encoding failed")
)

// MIDIFile is the content of a parsed MIDI byte stream
type MIDIFile struct {
	Notes           []notes.NoteEvent `json:"notes"`
	Tempo           float64           `json:"tempo"`
	TicksPerQuarter uint16            `json:"ticksPerQuarter"`
	TrackName       string            `json:"trackName"`
}

// MIDIConverter handles MIDI file parsing and generation
type MIDIConverter struct {
	ticksPerQuarter uint16
	trackName       string
}

// NewMIDIConverter creates a new MIDI converter
func NewMIDIConverter() *MIDIConverter {
	return &MIDIConverter{
		ticksPerQuarter: DefaultTicksPerQuarter,
		trackName:       DefaultTrackName,
	}
}

// SetTrackName sets the name written into the track header
func (m *MIDIConverter) SetTrackName(name string) {
	m.trackName = name
}

// GenerateMIDI encodes notes with the default converter
func GenerateMIDI(events []notes.NoteEvent, bpm float64) ([]byte, error) {
	return NewMIDIConverter().GenerateMIDI(events, bpm)
}

// ParseMIDI decodes a MIDI byte stream with the default converter
func ParseMIDI(data []byte) (*MIDIFile, error) {
	return NewMIDIConverter().ParseMIDI(data)
}

type tickEvent struct {
	tick uint32
	TimedEvent
}

// GenerateMIDI creates a single-track MIDI file from notes. A tempo of zero or less falls
// back to DefaultTempo, unless there are no notes at all.
func (m *MIDIConverter) GenerateMIDI(events []notes.NoteEvent, bpm float64) ([]byte, error) {
	if !(bpm > 0) {
		if len(events) == 0 {
			return nil, ErrEmptyNoteSequence
		}
		bpm = DefaultTempo
	}

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(m.ticksPerQuarter)

	var track smf.Track
	track.Add(0, smf.MetaTrackSequenceName(m.trackName))
	track.Add(0, smf.MetaTempo(bpm))
	track.Add(0, smf.MetaMeter(4, 4))

	// A note keeps at least one tick, and its bends stay between its on and off
	onTicks := make([]uint32, len(events))
	offTicks := make([]uint32, len(events))
	for i, n := range events {
		onTicks[i] = m.secondsToTicks(n.StartTimeSeconds, bpm)
		offTicks[i] = max(m.secondsToTicks(n.EndTimeSeconds(), bpm), onTicks[i]+1)
	}

	timeline := Timeline(events)
	ticks := make([]tickEvent, len(timeline))
	for i, ev := range timeline {
		var tick uint32
		switch ev.Kind {
		case EventNoteOn:
			tick = onTicks[ev.Note]
		case EventNoteOff, EventBendReset:
			tick = offTicks[ev.Note]
		default:
			tick = mathx.Clamp(m.secondsToTicks(ev.Seconds, bpm), onTicks[ev.Note], offTicks[ev.Note]-1)
		}
		ticks[i] = tickEvent{tick: tick, TimedEvent: ev}
	}
	sort.SliceStable(ticks, func(i, j int) bool {
		if ticks[i].tick != ticks[j].tick {
			return ticks[i].tick < ticks[j].tick
		}
		return sameInstantLess(ticks[i].TimedEvent, ticks[j].TimedEvent)
	})

	var currentTick uint32
	for _, ev := range ticks {
		delta := ev.tick - currentTick
		currentTick = ev.tick
		switch ev.Kind {
		case EventNoteOn:
			track.Add(delta, midi.NoteOn(ev.Channel, ev.Pitch, ev.Velocity))
		case EventNoteOff:
			track.Add(delta, midi.NoteOff(ev.Channel, ev.Pitch))
		case EventPitchBend:
			track.Add(delta, midi.Pitchbend(ev.Channel, PitchBendValue(ev.Bend)))
		case EventBendReset:
			track.Add(delta, midi.Pitchbend(ev.Channel, 0))
		}
	}
	track.Close(0)

	if err := s.Add(track); err != nil {
		return nil, fmt.Errorf("%w: failed to add track: %w", ErrEncoding, err)
	}

	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("%w: failed to write MIDI: %w", ErrEncoding, err)
	}
	return buf.Bytes(), nil
}

// WriteMIDIFile encodes notes and writes them to filename
func (m *MIDIConverter) WriteMIDIFile(events []notes.NoteEvent, bpm float64, filename string) error {
	data, err := m.GenerateMIDI(events, bpm)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// ParseMIDIFile reads a MIDI file and extracts its notes
func (m *MIDIConverter) ParseMIDIFile(filename string) (*MIDIFile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read MIDI file: %w", err)
	}
	return m.ParseMIDI(data)
}

func (m *MIDIConverter) secondsToTicks(sec, bpm float64) uint32 {
	sec = math.Max(sec, 0)
	return uint32(mathx.RoundInt(sec * bpm / 60 * float64(m.ticksPerQuarter)))
}

type openNote struct {
	tick     int64
	velocity uint8
	bends    []float64
}

type voice struct {
	channel, key uint8
}

// ErrTimeFormat is returned for files timed in SMPTE frames rather than metric ticks
var ErrTimeFormat = errors.New("unsupported MIDI time format")

// ParseMIDI parses a MIDI byte stream back into note events. Pitch bends apply to the notes
// open on their channel; bends just before a note-on on the same tick belong to that note.
func (m *MIDIConverter) ParseMIDI(data []byte) (*MIDIFile, error) {
	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse MIDI: %w", err)
	}
	mt, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrTimeFormat, s.TimeFormat)
	}

	out := &MIDIFile{TicksPerQuarter: mt.Resolution(), Tempo: DefaultTempo}
	seconds := func(tick int64) float64 {
		return float64(s.TimeAt(tick)) / 1e6
	}
	for _, tc := range s.TempoChanges() {
		if tc.AbsTicks == 0 {
			out.Tempo = tc.BPM
			break
		}
	}

	for _, track := range s.Tracks {
		var tick int64
		open := map[voice][]*openNote{}
		// bends seen on the current tick per channel, waiting for a note-on
		pendingTick := map[uint8]int64{}
		pending := map[uint8][]float64{}
		// channels whose bent note just ended; the next bend there is its reset
		resetAt := map[uint8]int64{}

		closeNote := func(v voice, end int64) {
			queue := open[v]
			if len(queue) == 0 {
				return
			}
			n := queue[0]
			open[v] = queue[1:]
			if len(n.bends) > 0 {
				resetAt[v.channel] = end
			}
			start := seconds(n.tick)
			out.Notes = append(out.Notes, notes.NoteEvent{
				PitchMIDI:        int(v.key),
				StartTimeSeconds: start,
				DurationSeconds:  seconds(end) - start,
				Amplitude:        float64(n.velocity) / 127,
				PitchBends:       flatToNil(n.bends),
			})
		}

		for _, ev := range track {
			tick += int64(ev.Delta)
			var name string
			if out.TrackName == "" && ev.Message.GetMetaTrackName(&name) {
				out.TrackName = name
			}
			msg := midi.Message(ev.Message)

			var ch, key, vel uint8
			var rel int16
			var abs uint16
			switch {
			case msg.GetNoteStart(&ch, &key, &vel):
				n := &openNote{tick: tick, velocity: vel}
				if pendingTick[ch] == tick {
					n.bends = append(n.bends, pending[ch]...)
				}
				delete(pending, ch)
				delete(pendingTick, ch)
				v := voice{ch, key}
				open[v] = append(open[v], n)
			case msg.GetNoteEnd(&ch, &key):
				closeNote(voice{ch, key}, tick)
			case msg.GetPitchBend(&ch, &rel, &abs):
				at, reset := resetAt[ch]
				delete(resetAt, ch)
				if reset && at == tick && rel == 0 {
					break
				}
				bend := BendSemitones(rel)
				if t, ok := pendingTick[ch]; !ok || t != tick {
					pendingTick[ch] = tick
					pending[ch] = nil
				}
				pending[ch] = append(pending[ch], bend)
				for v, queue := range open {
					if v.channel != ch {
						continue
					}
					for _, n := range queue {
						n.bends = append(n.bends, bend)
					}
				}
			}
		}

		// Notes never switched off end with the track
		voices := make([]voice, 0, len(open))
		for v := range open {
			voices = append(voices, v)
		}
		sort.Slice(voices, func(i, j int) bool {
			if voices[i].channel != voices[j].channel {
				return voices[i].channel < voices[j].channel
			}
			return voices[i].key < voices[j].key
		})
		for _, v := range voices {
			for len(open[v]) > 0 {
				closeNote(v, tick)
			}
		}
	}

	notes.SortNotes(out.Notes)
	return out, nil
}

func flatToNil(bends []float64) []float64 {
	for _, b := range bends {
		if math.Abs(b) > 1e-6 {
			return bends
		}
	}
	return nil
}
