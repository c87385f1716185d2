package notes

import (
	"sort"

	"github.com/james-see/audio2midi/pkg/mathx"
)

// Decode turns model output into note events ordered by start time, then pitch.
// It is a pure function: the same input always yields the same notes.
func Decode(t *Tensors, p DecodingParameters) ([]NoteEvent, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	onsets := t.Onsets
	if p.InferOnsets {
		onsets = inferOnsets(t.Onsets, t.Frames)
	}

	var spans []span
	for bin := 0; bin < NumPitchBins; bin++ {
		peaks := onsetPeaks(onsets, bin, p.OnsetThreshold)
		spans = append(spans, groupBin(t.Frames, peaks, bin, p.FrameThreshold, p.MinNoteLengthFrames, SplitOnOnset)...)
	}
	if p.UseMelodiaTrick {
		spans = append(spans, melodia(t.Frames, spans, p.FrameThreshold, p.MinNoteLengthFrames, p.inRange)...)
	}

	events := make([]NoteEvent, 0, len(spans))
	for _, sp := range spans {
		if !p.inRange(sp.bin) {
			continue
		}
		events = append(events, NoteEvent{
			PitchMIDI:        BinToMIDI(sp.bin),
			StartTimeSeconds: FramesToSeconds(sp.start),
			DurationSeconds:  FramesToSeconds(sp.length()),
			Amplitude:        amplitude(t.Frames, sp),
			PitchBends:       pitchBends(t.Contours, sp),
		})
	}
	SortNotes(events)
	return events, nil
}

// SortNotes orders notes by start time, then pitch
func SortNotes(events []NoteEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].StartTimeSeconds != events[j].StartTimeSeconds {
			return events[i].StartTimeSeconds < events[j].StartTimeSeconds
		}
		return events[i].PitchMIDI < events[j].PitchMIDI
	})
}

func amplitude(frames FrameTensor, sp span) float64 {
	vals := make([]float64, 0, sp.length())
	for t := sp.start; t < sp.end; t++ {
		vals = append(vals, float64(frames[t][sp.bin]))
	}
	return mathx.Clamp(mathx.Mean(vals), 0, 1)
}
