package tui

import (
	"fmt"

	"github.com/james-see/audio2midi/pkg/mathx"
	"github.com/james-see/audio2midi/pkg/notes"
)

// Slider identifies one tunable row on the tuning screen
type Slider int

const (
	SliderOnset Slider = iota
	SliderFrame
	SliderMinLength
	SliderMinHz
	SliderMaxHz
	SliderMelodia
	SliderTempo
	numSliders
)

// Slider ranges
const (
	thresholdStep = 0.05
	lengthStep    = 1
	maxLength     = 200
	hzStep        = 10.0
	maxHz         = 8000.0
	tempoStep     = 5.0
	minTempo      = 20.0
	maxTempo      = 300.0
)

var sliderLabels = [numSliders]string{
	SliderOnset:     "Onset threshold",
	SliderFrame:     "Frame threshold",
	SliderMinLength: "Min note length",
	SliderMinHz:     "Min pitch",
	SliderMaxHz:     "Max pitch",
	SliderMelodia:   "Melodia trick",
	SliderTempo:     "Tempo",
}

// tuning is what the sliders edit
type tuning struct {
	params notes.DecodingParameters
	tempo  float64
}

// adjust moves slider s by dir steps and reports whether anything changed. The result is
// always a valid parameter set.
func (t tuning) adjust(s Slider, dir int) (tuning, bool) {
	d := float64(dir)
	p := t.params
	switch s {
	case SliderOnset:
		p.OnsetThreshold = roundStep(mathx.Clamp(p.OnsetThreshold+d*thresholdStep, 0, 1))
	case SliderFrame:
		p.FrameThreshold = roundStep(mathx.Clamp(p.FrameThreshold+d*thresholdStep, 0, 1))
	case SliderMinLength:
		p.MinNoteLengthFrames = mathx.Clamp(p.MinNoteLengthFrames+dir*lengthStep, 1, maxLength)
	case SliderMinHz:
		p.MinPitchHz = mathx.Clamp(p.MinPitchHz+d*hzStep, 0, p.MaxPitchHz-hzStep)
	case SliderMaxHz:
		p.MaxPitchHz = mathx.Clamp(p.MaxPitchHz+d*hzStep*5, p.MinPitchHz+hzStep, maxHz)
	case SliderMelodia:
		if dir != 0 {
			p.UseMelodiaTrick = !p.UseMelodiaTrick
		}
	case SliderTempo:
		tempo := mathx.Clamp(t.tempo+d*tempoStep, minTempo, maxTempo)
		if tempo == t.tempo {
			return t, false
		}
		t.tempo = tempo
		return t, true
	}
	if p == t.params {
		return t, false
	}
	t.params = p
	return t, true
}

// value renders the current setting of slider s
func (t tuning) value(s Slider) string {
	p := t.params
	switch s {
	case SliderOnset:
		return fmt.Sprintf("%.2f", p.OnsetThreshold)
	case SliderFrame:
		return fmt.Sprintf("%.2f", p.FrameThreshold)
	case SliderMinLength:
		return fmt.Sprintf("%d frames (%.0f ms)", p.MinNoteLengthFrames, p.MinNoteLengthSeconds()*1000)
	case SliderMinHz:
		return fmt.Sprintf("%.0f Hz", p.MinPitchHz)
	case SliderMaxHz:
		return fmt.Sprintf("%.0f Hz", p.MaxPitchHz)
	case SliderMelodia:
		if p.UseMelodiaTrick {
			return "on"
		}
		return "off"
	case SliderTempo:
		return fmt.Sprintf("%.0f BPM", t.tempo)
	}
	return ""
}

// roundStep drops float drift from repeated steps
func roundStep(v float64) float64 {
	return float64(mathx.RoundInt(v*100)) / 100
}
