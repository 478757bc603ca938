package indicators

import "math"

// Resample aggregates bars into coarser buckets of bucketSize consecutive
// input bars: open=first, high=max, low=min, close=last, volume=sum. The
// last partial bucket (fewer than bucketSize bars) is dropped, matching
// the "only complete bars" assumption used when resampling 5-min bars to
// 30-min (bucketSize=6).
func Resample(bars []Bar, bucketSize int) []Bar {
	if bucketSize <= 0 {
		return nil
	}
	n := len(bars) / bucketSize
	out := make([]Bar, 0, n)
	for i := 0; i < n; i++ {
		chunk := bars[i*bucketSize : (i+1)*bucketSize]
		agg := Bar{
			Time:  chunk[len(chunk)-1].Time,
			Open:  chunk[0].Open,
			High:  chunk[0].High,
			Low:   chunk[0].Low,
			Close: chunk[len(chunk)-1].Close,
		}
		for _, b := range chunk {
			if b.High > agg.High {
				agg.High = b.High
			}
			if b.Low < agg.Low {
				agg.Low = b.Low
			}
			agg.Volume += b.Volume
			agg.OpenInterest += b.OpenInterest
		}
		out = append(out, agg)
	}
	return out
}

// HTFTrend computes higher-timeframe trend on the given (already
// resampled) bars: +1 iff close > MA5 > MA10, -1 iff close < MA5 < MA10,
// else 0. NaN where MA10 is not yet available.
func HTFTrend(htfBars []Bar) []float64 {
	closes := Closes(htfBars)
	ma5 := SMA(closes, 5)
	ma10 := SMA(closes, 10)

	out := make([]float64, len(htfBars))
	for i := range out {
		if math.IsNaN(ma5[i]) || math.IsNaN(ma10[i]) {
			out[i] = math.NaN()
			continue
		}
		close := closes[i]
		switch {
		case close > ma5[i] && ma5[i] > ma10[i]:
			out[i] = 1
		case close < ma5[i] && ma5[i] < ma10[i]:
			out[i] = -1
		default:
			out[i] = 0
		}
	}
	return out
}

// ForwardFillToIndex maps a coarser-timeframe trend value onto a
// finer-timeframe index of the same length as baseBars, holding each
// htf value constant across all base bars until the next htf bar
// closes. bucketSize is the number of base bars per htf bar (e.g. 6 for
// 5-min -> 30-min).
func ForwardFillToIndex(baseLen int, htfTrend []float64, bucketSize int) []float64 {
	out := make([]float64, baseLen)
	for i := range out {
		out[i] = math.NaN()
	}
	if bucketSize <= 0 {
		return out
	}
	for i := 0; i < baseLen; i++ {
		htfIdx := i/bucketSize - 1
		if htfIdx < 0 || htfIdx >= len(htfTrend) {
			continue
		}
		out[i] = htfTrend[htfIdx]
	}
	return out
}

// LatestHTFTrend resamples the given 5-min bars to 30-min (bucketSize=6)
// and returns the most recent forward-filled trend value: +1, -1, or 0.
// Returns NaN if there isn't enough history yet.
func LatestHTFTrend(bars5m []Bar) float64 {
	const bucketSize = 6
	htf := Resample(bars5m, bucketSize)
	trend := HTFTrend(htf)
	filled := ForwardFillToIndex(len(bars5m), trend, bucketSize)
	if len(filled) == 0 {
		return math.NaN()
	}
	return filled[len(filled)-1]
}
