package notes

// EnergyTolerance is how many consecutive frames below the frame threshold the melodia
// pass bridges while extending a note
const EnergyTolerance = 11

// residual returns a copy of frames with the bins of existing notes (and their direct
// neighbours) zeroed, and out-of-range bins removed entirely
func residual(frames FrameTensor, spans []span, keep func(bin int) bool) [][]float32 {
	r := make([][]float32, len(frames))
	for t := range frames {
		r[t] = make([]float32, NumPitchBins)
		for b := 0; b < NumPitchBins; b++ {
			if keep(b) {
				r[t][b] = frames[t][b]
			}
		}
	}
	for _, sp := range spans {
		for t := sp.start; t < sp.end; t++ {
			clearAround(r[t], sp.bin)
		}
	}
	return r
}

func clearAround(row []float32, bin int) {
	for b := bin - 1; b <= bin+1; b++ {
		if b >= 0 && b < len(row) {
			row[b] = 0
		}
	}
}

// melodia recovers notes the onset detector missed by repeatedly growing a note outwards
// from the strongest remaining activation. Growth stops at frames where a note of the same
// pitch already sounds.
func melodia(frames FrameTensor, spans []span, frameThreshold float64, minLen int, keep func(bin int) bool) []span {
	r := residual(frames, spans, keep)
	n := len(r)
	covered := make([][]bool, n)
	for t := range covered {
		covered[t] = make([]bool, NumPitchBins)
	}
	cover := func(sp span) {
		for t := sp.start; t < sp.end; t++ {
			covered[t][sp.bin] = true
		}
	}
	for _, sp := range spans {
		cover(sp)
	}

	var found []span
	for {
		tMid, bin, peak := maxCell(r)
		if peak <= frameThreshold {
			return found
		}
		r[tMid][bin] = 0

		t, below := tMid+1, 0
		for t < n && below < EnergyTolerance && !covered[t][bin] {
			if float64(r[t][bin]) < frameThreshold {
				below++
			} else {
				below = 0
			}
			clearAround(r[t], bin)
			t++
		}
		end := t - below

		t, below = tMid-1, 0
		for t >= 0 && below < EnergyTolerance && !covered[t][bin] {
			if float64(r[t][bin]) < frameThreshold {
				below++
			} else {
				below = 0
			}
			clearAround(r[t], bin)
			t--
		}
		start := t + 1 + below

		if end-start >= minLen {
			sp := span{start: start, end: end, bin: bin}
			cover(sp)
			found = append(found, sp)
		}
	}
}

func maxCell(r [][]float32) (int, int, float64) {
	bt, bb := 0, 0
	var best float32 = -1
	for t := range r {
		for b, v := range r[t] {
			if v > best {
				bt, bb, best = t, b, v
			}
		}
	}
	return bt, bb, float64(best)
}
