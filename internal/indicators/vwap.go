package indicators

// VWAP computes the session volume-weighted average price, one cumulative
// value per bar, resetting the accumulator whenever a bar's Time starts a
// new calendar day. This is a diagnostic indicator only: nothing in the
// signal evaluator or position manager consults it.
func VWAP(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	var cumPV, cumVol float64
	var sessionDay int

	for i, b := range bars {
		day := b.Time.YearDay() + b.Time.Year()*1000
		if i == 0 || day != sessionDay {
			cumPV, cumVol = 0, 0
			sessionDay = day
		}
		typicalPrice := (b.High + b.Low + b.Close) / 3
		cumPV += typicalPrice * b.Volume
		cumVol += b.Volume

		if cumVol == 0 {
			out[i] = typicalPrice
			continue
		}
		out[i] = cumPV / cumVol
	}
	return out
}
