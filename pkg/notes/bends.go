package notes

import "math"

// Contour window used to estimate pitch bends
const (
	BendWindowBins = 25
	BendSigmaBins  = 5.0
	bendEpsilon    = 1e-6
)

var bendWeights = func() []float64 {
	w := make([]float64, 2*BendWindowBins+1)
	for i := range w {
		x := float64(i - BendWindowBins)
		w[i] = math.Exp(-x * x / (2 * BendSigmaBins * BendSigmaBins))
	}
	return w
}()

// ContourBin returns the contour bin at the centre of a MIDI pitch
func ContourBin(pitch int) int {
	return (pitch - MIDIOffset) * ContourBinsPerSemitone
}

// pitchBends estimates the per-frame deviation of the sounding pitch from the nominal bin,
// in semitones. It returns nil when the pitch never leaves the bin centre.
func pitchBends(contours ContourTensor, sp span) []float64 {
	center := sp.bin * ContourBinsPerSemitone
	lo := max(0, center-BendWindowBins)
	hi := min(NumContourBins, center+BendWindowBins+1)

	bends := make([]float64, 0, sp.length())
	bent := false
	for t := sp.start; t < sp.end && t < len(contours); t++ {
		row := contours[t]
		bestBin, best := center, 0.0
		for c := lo; c < hi; c++ {
			v := float64(row[c]) * bendWeights[c-center+BendWindowBins]
			if v > best {
				bestBin, best = c, v
			}
		}
		semis := float64(bestBin-center) / ContourBinsPerSemitone
		if math.Abs(semis) > bendEpsilon {
			bent = true
		}
		bends = append(bends, semis)
	}
	if !bent {
		return nil
	}
	return bends
}
