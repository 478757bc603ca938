package indicators

import "math"

// KDJResult carries the K, D, and J lines, one slice entry per input bar.
type KDJResult struct {
	K []float64
	D []float64
	J []float64
}

// KDJ computes the stochastic KDJ oscillator with an n-period RSV window
// and m1/m2-period smoothing, seeded at K=D=50 per the conventional
// default. Values before the RSV warmup window are NaN.
func KDJ(bars []Bar, n, m1, m2 int) KDJResult {
	out := KDJResult{
		K: make([]float64, len(bars)),
		D: make([]float64, len(bars)),
		J: make([]float64, len(bars)),
	}
	for i := range bars {
		out.K[i], out.D[i], out.J[i] = math.NaN(), math.NaN(), math.NaN()
	}
	if n <= 0 || len(bars) < n {
		return out
	}

	prevK, prevD := 50.0, 50.0
	for i := n - 1; i < len(bars); i++ {
		lowN, highN := bars[i-n+1].Low, bars[i-n+1].High
		for j := i - n + 2; j <= i; j++ {
			if bars[j].Low < lowN {
				lowN = bars[j].Low
			}
			if bars[j].High > highN {
				highN = bars[j].High
			}
		}

		rsv := 50.0
		if highN != lowN {
			rsv = (bars[i].Close - lowN) / (highN - lowN) * 100
		}

		k := (prevK*float64(m1-1) + rsv) / float64(m1)
		d := (prevD*float64(m2-1) + k) / float64(m2)
		j := 3*k - 2*d

		out.K[i], out.D[i], out.J[i] = k, d, j
		prevK, prevD = k, d
	}
	return out
}
