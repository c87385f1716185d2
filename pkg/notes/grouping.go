package notes

import "fmt"

// OnsetPolicy decides what happens when an onset arrives inside an already sounding note
type OnsetPolicy int

const (
	// SplitAlways closes the sounding note at every new onset
	SplitAlways OnsetPolicy = iota
	// SplitIfBothLong closes the sounding note only when the note so far and the run
	// remaining after the onset both span the minimum note length; otherwise the onset
	// is absorbed into the sounding note
	SplitIfBothLong
)

// SplitOnOnset is the policy used by Decode
const SplitOnOnset = SplitIfBothLong

func (p OnsetPolicy) String() string {
	switch p {
	case SplitAlways:
		return "split-always"
	case SplitIfBothLong:
		return "split-if-both-long"
	default:
		return fmt.Sprintf("OnsetPolicy(%d)", int(p))
	}
}

// BinState is the state of one pitch bin while scanning time
type BinState int

const (
	Idle BinState = iota
	Active
)

func (s BinState) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// span is a note in frame units; end is exclusive
type span struct {
	start, end int
	bin        int
}

func (s span) length() int { return s.end - s.start }

// binScanner is the per-bin state machine of the grouping stage
type binScanner struct {
	bin    int
	minLen int
	policy OnsetPolicy

	state BinState
	start int
	out   []span
}

func newBinScanner(bin, minLen int, policy OnsetPolicy) *binScanner {
	return &binScanner{bin: bin, minLen: minLen, policy: policy}
}

// step consumes frame t. active reports activation at or above the frame threshold,
// onset reports an onset peak, and runLeft is how many frames from t onward stay active.
func (s *binScanner) step(t int, active, onset bool, runLeft int) {
	switch s.state {
	case Idle:
		if onset && active && runLeft >= s.minLen {
			s.state = Active
			s.start = t
		}
	case Active:
		if !active {
			s.emit(t)
			s.state = Idle
			return
		}
		if onset && t > s.start && s.splits(t, runLeft) {
			s.emit(t)
			s.start = t
		}
	}
}

func (s *binScanner) splits(t, runLeft int) bool {
	switch s.policy {
	case SplitAlways:
		return true
	default:
		return t-s.start >= s.minLen && runLeft >= s.minLen
	}
}

// finish closes a note still sounding after the last frame n-1
func (s *binScanner) finish(n int) []span {
	if s.state == Active {
		s.emit(n)
		s.state = Idle
	}
	return s.out
}

func (s *binScanner) emit(end int) {
	sp := span{start: s.start, end: end, bin: s.bin}
	if sp.length() >= s.minLen {
		s.out = append(s.out, sp)
	}
}

// groupBin runs the scanner over one pitch bin
func groupBin(frames FrameTensor, peaks []bool, bin int, frameThreshold float64, minLen int, policy OnsetPolicy) []span {
	n := len(frames)
	runLeft := make([]int, n+1)
	for t := n - 1; t >= 0; t-- {
		if float64(frames[t][bin]) >= frameThreshold {
			runLeft[t] = runLeft[t+1] + 1
		}
	}
	sc := newBinScanner(bin, minLen, policy)
	for t := 0; t < n; t++ {
		sc.step(t, runLeft[t] > 0, peaks[t], runLeft[t])
	}
	return sc.finish(n)
}
