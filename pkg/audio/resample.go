package audio

import (
	"context"
	"math"
)

// cancellation is checked once per this many output samples
const resampleChunk = 1 << 16

// Resample converts mono samples between rates by linear interpolation
func Resample(in []float32, from, to int) []float32 {
	out, _ := ResampleContext(context.Background(), in, from, to)
	return out
}

// ResampleContext is Resample with cancellation
func ResampleContext(ctx context.Context, in []float32, from, to int) ([]float32, error) {
	if from == to || len(in) == 0 {
		return in, nil
	}
	n := int(math.Round(float64(len(in)) * float64(to) / float64(from)))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		if i%resampleChunk == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out, nil
}
