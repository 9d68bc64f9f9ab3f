// Package indicator provides the exponential moving average computation the
// strategy decisions are based on.
//
// Series semantics follow the pandas-ta convention: the first EMA point is
// the simple average of the first L inputs, every later point applies the
// recursive smoothing EMA = price*α + prev*(1-α) with α = 2/(L+1). The
// output is aligned 1:1 with the trailing suffix of the input.
package indicator

// EMA computes the exponential moving average series of values with the
// given window length.
//
// The result has length len(values)-length+1 and its last element aligns
// with the last input. When fewer than length samples are available the
// series is undefined and EMA returns nil; callers must branch on nil
// before indexing rather than treat a short series as valid.
func EMA(values []float64, length int) []float64 {
	if length <= 0 || len(values) < length {
		return nil
	}

	out := make([]float64, 0, len(values)-length+1)

	// Seed with the simple average of the first window.
	var sum float64
	for _, v := range values[:length] {
		sum += v
	}
	prev := sum / float64(length)
	out = append(out, prev)

	alpha := 2.0 / float64(length+1)
	for _, v := range values[length:] {
		prev = v*alpha + prev*(1-alpha)
		out = append(out, prev)
	}
	return out
}
