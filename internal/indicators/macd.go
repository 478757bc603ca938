package indicators

import "math"

// EMA computes the exponential moving average over n periods, seeded with
// a simple average of the first n closes. Values before the warmup window
// are NaN.
func EMA(values []float64, n int) []float64 {
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

	alpha := 2.0 / float64(n+1)
	for i := n; i < len(values); i++ {
		out[i] = out[i-1] + alpha*(values[i]-out[i-1])
	}
	return out
}

// MACDResult carries the MACD line, its signal line, and the histogram
// (macd - signal), one slice entry per input bar.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes EMA(fast) - EMA(slow) as the MACD line and an EMA(signal)
// of that line as the signal line, per the standard MACD(12,26,9) formula.
func MACD(bars []Bar, fast, slow, signal int) MACDResult {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)

	macdLine := make([]float64, len(bars))
	for i := range macdLine {
		if math.IsNaN(emaFast[i]) || math.IsNaN(emaSlow[i]) {
			macdLine[i] = math.NaN()
			continue
		}
		macdLine[i] = emaFast[i] - emaSlow[i]
	}

	// EMA of the MACD line only over the portion where it's defined.
	start := slow - 1
	signalLine := make([]float64, len(bars))
	for i := range signalLine {
		signalLine[i] = math.NaN()
	}
	if start < len(bars) {
		validMACD := macdLine[start:]
		sig := EMA(validMACD, signal)
		copy(signalLine[start:], sig)
	}

	hist := make([]float64, len(bars))
	for i := range hist {
		if math.IsNaN(macdLine[i]) || math.IsNaN(signalLine[i]) {
			hist[i] = math.NaN()
			continue
		}
		hist[i] = macdLine[i] - signalLine[i]
	}

	return MACDResult{MACD: macdLine, Signal: signalLine, Histogram: hist}
}
