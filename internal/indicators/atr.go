package indicators

import "math"

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|) for
// bar i, using bars[i-1].Close as the previous close. i must be > 0.
func TrueRange(bars []Bar, i int) float64 {
	high, low := bars[i].High, bars[i].Low
	prevClose := bars[i-1].Close
	tr := high - low
	if v := math.Abs(high - prevClose); v > tr {
		tr = v
	}
	if v := math.Abs(low - prevClose); v > tr {
		tr = v
	}
	return tr
}

// ATR computes the simple-moving-average Average True Range over n bars,
// one value per input bar. Bars before the warmup window (index < n) are
// NaN since there is no prior close for bar 0 and not enough true-range
// samples before index n.
func ATR(bars []Bar, n int) []float64 {
	out := make([]float64, len(bars))
	for i := range out {
		out[i] = math.NaN()
	}
	if n <= 0 || len(bars) <= n {
		return out
	}

	trs := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		trs[i] = TrueRange(bars, i)
	}

	var sum float64
	for i := 1; i <= n; i++ {
		sum += trs[i]
	}
	out[n] = sum / float64(n)
	for i := n + 1; i < len(bars); i++ {
		sum = sum - trs[i-n] + trs[i]
		out[i] = sum / float64(n)
	}
	return out
}

// LatestATR returns the ATR(n) value for the final bar of the series, or
// NaN if the series is shorter than the warmup window.
func LatestATR(bars []Bar, n int) float64 {
	vals := ATR(bars, n)
	if len(vals) == 0 {
		return math.NaN()
	}
	return vals[len(vals)-1]
}
