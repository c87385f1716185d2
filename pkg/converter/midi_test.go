package converter

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/james-see/audio2midi/pkg/notes"
)

func TestVelocity(t *testing.T) {
	tests := []struct {
		amplitude float64
		want      uint8
	}{
		{0, 1},
		{0.5, 64},
		{1, 127},
		{1.7, 127},
		{-0.2, 1},
	}
	for _, tt := range tests {
		if got := Velocity(tt.amplitude); got != tt.want {
			t.Errorf("Velocity(%v) = %d, want %d", tt.amplitude, got, tt.want)
		}
	}
}

func TestPitchBendValue(t *testing.T) {
	tests := []struct {
		semitones float64
		want      int16
	}{
		{0, 0},
		{1, 4096},
		{-1, -4096},
		{2, 8191},
		{-2, -8192},
		{5, 8191},
		{1.0 / 3, 1365},
	}
	for _, tt := range tests {
		if got := PitchBendValue(tt.semitones); got != tt.want {
			t.Errorf("PitchBendValue(%v) = %d, want %d", tt.semitones, got, tt.want)
		}
	}
}

func TestGenerateMIDIRoundTrip(t *testing.T) {
	in := []notes.NoteEvent{
		{PitchMIDI: 60, StartTimeSeconds: 0, DurationSeconds: 0.5, Amplitude: 0.8},
		{PitchMIDI: 64, StartTimeSeconds: 0, DurationSeconds: 0.75, Amplitude: 0.5},
		{PitchMIDI: 60, StartTimeSeconds: 0.5, DurationSeconds: 0.333, Amplitude: 0.3},
		{PitchMIDI: 67, StartTimeSeconds: 1.5, DurationSeconds: 1.2, Amplitude: 1, PitchBends: []float64{0, 0.5, 1, -0.5}},
		{PitchMIDI: 72, StartTimeSeconds: 3.01, DurationSeconds: 0.1234, Amplitude: 0.6},
	}

	for _, bpm := range []float64{60, 120, 97.5} {
		data, err := GenerateMIDI(in, bpm)
		if err != nil {
			t.Fatalf("GenerateMIDI() error = %v", err)
		}
		got, err := ParseMIDI(data)
		if err != nil {
			t.Fatalf("ParseMIDI() error = %v", err)
		}

		tick := 60 / bpm / DefaultTicksPerQuarter
		if len(got.Notes) != len(in) {
			t.Fatalf("bpm %v: parsed %d notes, want %d", bpm, len(got.Notes), len(in))
		}
		for i, want := range in {
			n := got.Notes[i]
			if n.PitchMIDI != want.PitchMIDI {
				t.Errorf("bpm %v note %d: pitch = %d, want %d", bpm, i, n.PitchMIDI, want.PitchMIDI)
			}
			if math.Abs(n.StartTimeSeconds-want.StartTimeSeconds) > tick {
				t.Errorf("bpm %v note %d: start = %v, want %v", bpm, i, n.StartTimeSeconds, want.StartTimeSeconds)
			}
			if math.Abs(n.DurationSeconds-want.DurationSeconds) > 2*tick {
				t.Errorf("bpm %v note %d: duration = %v, want %v", bpm, i, n.DurationSeconds, want.DurationSeconds)
			}
			if math.Abs(n.Amplitude-want.Amplitude) > 1.0/127 {
				t.Errorf("bpm %v note %d: amplitude = %v, want %v", bpm, i, n.Amplitude, want.Amplitude)
			}
			if len(n.PitchBends) != len(want.PitchBends) {
				t.Errorf("bpm %v note %d: bends = %v, want %v", bpm, i, n.PitchBends, want.PitchBends)
				continue
			}
			for j := range want.PitchBends {
				if math.Abs(n.PitchBends[j]-want.PitchBends[j]) > 1e-3 {
					t.Errorf("bpm %v note %d: bend %d = %v, want %v", bpm, i, j, n.PitchBends[j], want.PitchBends[j])
				}
			}
		}
		if math.Abs(got.Tempo-bpm) > 0.01 {
			t.Errorf("Tempo = %v, want %v", got.Tempo, bpm)
		}
		if got.TrackName != DefaultTrackName {
			t.Errorf("TrackName = %q, want %q", got.TrackName, DefaultTrackName)
		}
	}
}

func TestGenerateMIDIDeterministic(t *testing.T) {
	in := []notes.NoteEvent{
		{PitchMIDI: 48, StartTimeSeconds: 0.2, DurationSeconds: 0.4, Amplitude: 0.7, PitchBends: []float64{0.3, 0.6}},
		{PitchMIDI: 50, StartTimeSeconds: 0.9, DurationSeconds: 0.4, Amplitude: 0.2},
	}
	a, err := GenerateMIDI(in, 120)
	if err != nil {
		t.Fatalf("GenerateMIDI() error = %v", err)
	}
	b, err := GenerateMIDI(in, 120)
	if err != nil {
		t.Fatalf("GenerateMIDI() error = %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("GenerateMIDI() output differs between runs")
	}
}

func TestGenerateMIDIEmpty(t *testing.T) {
	if _, err := GenerateMIDI(nil, 0); !errors.Is(err, ErrEmptyNoteSequence) {
		t.Errorf("GenerateMIDI(nil, 0) error = %v, want %v", err, ErrEmptyNoteSequence)
	}

	data, err := GenerateMIDI(nil, 90)
	if err != nil {
		t.Fatalf("GenerateMIDI(nil, 90) error = %v", err)
	}
	got, err := ParseMIDI(data)
	if err != nil {
		t.Fatalf("ParseMIDI() error = %v", err)
	}
	if len(got.Notes) != 0 {
		t.Errorf("parsed %d notes, want 0", len(got.Notes))
	}
}

func TestGenerateMIDIDefaultTempo(t *testing.T) {
	in := []notes.NoteEvent{{PitchMIDI: 60, DurationSeconds: 1, Amplitude: 1}}
	data, err := GenerateMIDI(in, 0)
	if err != nil {
		t.Fatalf("GenerateMIDI() error = %v", err)
	}
	got, err := ParseMIDI(data)
	if err != nil {
		t.Fatalf("ParseMIDI() error = %v", err)
	}
	if math.Abs(got.Tempo-DefaultTempo) > 0.01 {
		t.Errorf("Tempo = %v, want %v", got.Tempo, DefaultTempo)
	}
}

func TestOverlappingNotesKeepBends(t *testing.T) {
	in := []notes.NoteEvent{
		{PitchMIDI: 60, StartTimeSeconds: 0, DurationSeconds: 1, Amplitude: 1, PitchBends: []float64{0.5, 1, 0.5}},
		{PitchMIDI: 64, StartTimeSeconds: 0, DurationSeconds: 1, Amplitude: 1, PitchBends: []float64{-0.5, -1}},
	}
	data, err := GenerateMIDI(in, 120)
	if err != nil {
		t.Fatalf("GenerateMIDI() error = %v", err)
	}

	s, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("smf.ReadFrom() error = %v", err)
	}
	bends := map[uint8]int{}
	for _, ev := range s.Tracks[0] {
		var ch uint8
		var rel int16
		var abs uint16
		if ev.Message.GetPitchBend(&ch, &rel, &abs) && rel != 0 {
			bends[ch]++
		}
	}
	if bends[0] != 3 || bends[1] != 2 {
		t.Errorf("non-zero bends per channel = %v, want map[0:3 1:2]", bends)
	}

	got, err := ParseMIDI(data)
	if err != nil {
		t.Fatalf("ParseMIDI() error = %v", err)
	}
	if len(got.Notes) != 2 {
		t.Fatalf("parsed %d notes, want 2", len(got.Notes))
	}
	for i, want := range in {
		if n := got.Notes[i]; len(n.PitchBends) != len(want.PitchBends) {
			t.Errorf("note %d bends = %v, want %v", n.PitchMIDI, n.PitchBends, want.PitchBends)
		}
	}
}

func TestPolyphonicRoundTripWithBends(t *testing.T) {
	in := []notes.NoteEvent{
		{PitchMIDI: 48, StartTimeSeconds: 0, DurationSeconds: 2, Amplitude: 0.9},
		{PitchMIDI: 60, StartTimeSeconds: 0, DurationSeconds: 1, Amplitude: 0.8, PitchBends: []float64{0.5, 1, 0.5}},
		{PitchMIDI: 64, StartTimeSeconds: 0, DurationSeconds: 1, Amplitude: 0.6, PitchBends: []float64{-0.5, -1}},
		{PitchMIDI: 67, StartTimeSeconds: 0.5, DurationSeconds: 1, Amplitude: 0.7, PitchBends: []float64{0.25, 0.75, 0.25, 0.1}},
		{PitchMIDI: 60, StartTimeSeconds: 1, DurationSeconds: 0.5, Amplitude: 0.4, PitchBends: []float64{0, 1.5}},
		{PitchMIDI: 72, StartTimeSeconds: 1.25, DurationSeconds: 0.3, Amplitude: 0.5},
	}
	bpm := 100.0
	data, err := GenerateMIDI(in, bpm)
	if err != nil {
		t.Fatalf("GenerateMIDI() error = %v", err)
	}
	got, err := ParseMIDI(data)
	if err != nil {
		t.Fatalf("ParseMIDI() error = %v", err)
	}

	want := append([]notes.NoteEvent(nil), in...)
	notes.SortNotes(want)
	if len(got.Notes) != len(want) {
		t.Fatalf("parsed %d notes, want %d", len(got.Notes), len(want))
	}
	tick := 60 / bpm / DefaultTicksPerQuarter
	for i, w := range want {
		n := got.Notes[i]
		if n.PitchMIDI != w.PitchMIDI {
			t.Errorf("note %d: pitch = %d, want %d", i, n.PitchMIDI, w.PitchMIDI)
		}
		if math.Abs(n.StartTimeSeconds-w.StartTimeSeconds) > tick {
			t.Errorf("note %d: start = %v, want %v", i, n.StartTimeSeconds, w.StartTimeSeconds)
		}
		if math.Abs(n.DurationSeconds-w.DurationSeconds) > 2*tick {
			t.Errorf("note %d: duration = %v, want %v", i, n.DurationSeconds, w.DurationSeconds)
		}
		if len(n.PitchBends) != len(w.PitchBends) {
			t.Errorf("note %d (%d): bends = %v, want %v", i, w.PitchMIDI, n.PitchBends, w.PitchBends)
			continue
		}
		for j := range w.PitchBends {
			if math.Abs(n.PitchBends[j]-w.PitchBends[j]) > 1e-3 {
				t.Errorf("note %d: bend %d = %v, want %v", i, j, n.PitchBends[j], w.PitchBends[j])
			}
		}
	}
}

func TestNoteShorterThanHalfTick(t *testing.T) {
	bpm := 120.0
	tick := 60 / bpm / DefaultTicksPerQuarter
	in := []notes.NoteEvent{
		{PitchMIDI: 60, StartTimeSeconds: 0.5, DurationSeconds: tick / 4, Amplitude: 1, PitchBends: []float64{0.5, 1}},
		{PitchMIDI: 62, StartTimeSeconds: 2, DurationSeconds: 1, Amplitude: 1},
	}
	data, err := GenerateMIDI(in, bpm)
	if err != nil {
		t.Fatalf("GenerateMIDI() error = %v", err)
	}
	got, err := ParseMIDI(data)
	if err != nil {
		t.Fatalf("ParseMIDI() error = %v", err)
	}
	if len(got.Notes) != 2 {
		t.Fatalf("parsed %d notes, want 2", len(got.Notes))
	}
	short := got.Notes[0]
	if short.PitchMIDI != 60 {
		t.Fatalf("first note pitch = %d, want 60", short.PitchMIDI)
	}
	if short.DurationSeconds <= 0 || short.DurationSeconds > 1.5*tick {
		t.Errorf("short note duration = %v, want one tick (%v)", short.DurationSeconds, tick)
	}
	if len(short.PitchBends) != 2 {
		t.Errorf("short note bends = %v, want 2 values", short.PitchBends)
	}
}

func TestAssignChannels(t *testing.T) {
	tests := []struct {
		name string
		in   []notes.NoteEvent
		want []uint8
	}{
		{
			"sequential notes share the first channel",
			[]notes.NoteEvent{
				{StartTimeSeconds: 0, DurationSeconds: 1},
				{StartTimeSeconds: 1, DurationSeconds: 1},
				{StartTimeSeconds: 2.5, DurationSeconds: 1},
			},
			[]uint8{0, 0, 0},
		},
		{
			"overlapping notes take the lowest free channel",
			[]notes.NoteEvent{
				{StartTimeSeconds: 0.5, DurationSeconds: 1},
				{StartTimeSeconds: 0, DurationSeconds: 2},
				{StartTimeSeconds: 1.5, DurationSeconds: 1},
			},
			[]uint8{1, 0, 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssignChannels(tt.in)
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("AssignChannels() = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}

	chord := make([]notes.NoteEvent, 10)
	for i := range chord {
		chord[i] = notes.NoteEvent{PitchMIDI: 50 + i, DurationSeconds: 1}
	}
	for i, ch := range AssignChannels(chord) {
		if ch == 9 {
			t.Errorf("note %d assigned to the percussion channel", i)
		}
	}
}

func TestTimelineOrdering(t *testing.T) {
	in := []notes.NoteEvent{
		{PitchMIDI: 62, StartTimeSeconds: 0, DurationSeconds: 1, Amplitude: 1, PitchBends: []float64{0.2}},
		{PitchMIDI: 60, StartTimeSeconds: 1, DurationSeconds: 1, Amplitude: 1},
	}
	got := Timeline(in)
	wantKinds := []EventKind{EventPitchBend, EventNoteOn, EventNoteOff, EventBendReset, EventNoteOn, EventNoteOff}
	if len(got) != len(wantKinds) {
		t.Fatalf("Timeline() returned %d events, want %d", len(got), len(wantKinds))
	}
	for i, k := range wantKinds {
		if got[i].Kind != k {
			t.Errorf("event %d kind = %v, want %v", i, got[i].Kind, k)
		}
	}
}
