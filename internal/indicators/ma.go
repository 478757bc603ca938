package indicators

import "math"

// SMA computes the simple moving average of values over n periods.
// Values before the warmup window are NaN.
func SMA(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if n <= 0 || len(values) < n {
		return out
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += values[i]
	}
	out[n-1] = sum / float64(n)
	for i := n; i < len(values); i++ {
		sum = sum - values[i-n] + values[i]
		out[i] = sum / float64(n)
	}
	return out
}

// Closes extracts the close price of each bar.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Volumes extracts the volume of each bar.
func Volumes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}
