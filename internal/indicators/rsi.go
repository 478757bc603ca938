package indicators

import "math"

// RSI computes Wilder's smoothed Relative Strength Index over n bars:
// exponentially smoothed average gain/loss with smoothing factor 1/n.
// Values before the warmup window are NaN.
func RSI(bars []Bar, n int) []float64 {
	out := make([]float64, len(bars))
	for i := range out {
		out[i] = math.NaN()
	}
	if n <= 0 || len(bars) <= n {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= n; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(n)
	avgLoss /= float64(n)
	out[n] = rsiFromAvg(avgGain, avgLoss)

	for i := n + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(n-1) + gain) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + loss) / float64(n)
		out[i] = rsiFromAvg(avgGain, avgLoss)
	}
	return out
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// LatestRSI returns the RSI(n) value for the final bar, or NaN if the
// series is shorter than the warmup window.
func LatestRSI(bars []Bar, n int) float64 {
	vals := RSI(bars, n)
	if len(vals) == 0 {
		return math.NaN()
	}
	return vals[len(vals)-1]
}
