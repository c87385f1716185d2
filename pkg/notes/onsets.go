package notes

// inferredOnsetDiffs is how many frames back the activation difference looks
const inferredOnsetDiffs = 2

// inferOnsets adds onsets implied by sudden rises in activation. The rise signal is the
// smallest positive difference against the previous inferredOnsetDiffs frames, rescaled so
// its peak matches the peak of the model's onsets, and merged by taking the maximum.
func inferOnsets(onsets OnsetTensor, frames FrameTensor) OnsetTensor {
	n := len(frames)
	diff := make([][]float32, n)
	var diffMax float32
	for t := 0; t < n; t++ {
		diff[t] = make([]float32, NumPitchBins)
		if t < inferredOnsetDiffs {
			continue
		}
		for b := 0; b < NumPitchBins; b++ {
			d := frames[t][b] - frames[t-1][b]
			for k := 2; k <= inferredOnsetDiffs; k++ {
				if dk := frames[t][b] - frames[t-k][b]; dk < d {
					d = dk
				}
			}
			if d < 0 {
				d = 0
			}
			diff[t][b] = d
			if d > diffMax {
				diffMax = d
			}
		}
	}

	var onsetMax float32
	for t := range onsets {
		for _, v := range onsets[t] {
			if v > onsetMax {
				onsetMax = v
			}
		}
	}

	out := make(OnsetTensor, n)
	for t := 0; t < n; t++ {
		out[t] = make([]float32, NumPitchBins)
		for b := 0; b < NumPitchBins; b++ {
			v := onsets[t][b]
			if diffMax > 0 {
				if d := diff[t][b] * onsetMax / diffMax; d > v {
					v = d
				}
			}
			out[t][b] = v
		}
	}
	return out
}

// onsetPeaks marks the time-local maxima of one bin's onset curve that exceed threshold.
// A plateau counts once, at its first frame. Peaks do not depend on the threshold.
func onsetPeaks(onsets OnsetTensor, bin int, threshold float64) []bool {
	n := len(onsets)
	peaks := make([]bool, n)
	for t := 0; t < n; t++ {
		v := onsets[t][bin]
		if float64(v) <= threshold {
			continue
		}
		if t > 0 && onsets[t-1][bin] >= v {
			continue
		}
		if t+1 < n && onsets[t+1][bin] > v {
			continue
		}
		peaks[t] = true
	}
	return peaks
}
