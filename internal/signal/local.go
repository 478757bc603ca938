package signal

import (
	"github.com/mkovacs-dev/futurecore/internal/indicators"
)

// Action is the local layer's raw directional call, before alignment
// gating.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

const scoreThreshold = 0.55

// LocalResult is the 7-factor composite evaluation over the latest bar.
type LocalResult struct {
	Action Action
	Score  float64
	RSI    float64
}

// EvaluateLocal computes the 7-factor weighted composite score over the
// most recent 5-minute bars and returns the resulting BUY/SELL/HOLD call
// per spec §4.5. bars must be ordered oldest-first. The MA20 and volume
// MA20 factors need at least 20 bars, RSI and KDJ fewer; the MACD
// crossover factor compares the signal line on the last two bars and the
// signal line is first defined at index 33, so it needs at least 35 bars.
// A factor whose inputs are not yet defined does not fire.
func EvaluateLocal(bars []indicators.Bar) LocalResult {
	k := len(bars) - 1
	if k < 1 {
		return LocalResult{Action: Hold}
	}

	closes := indicators.Closes(bars)
	ma5 := indicators.SMA(closes, 5)
	ma10 := indicators.SMA(closes, 10)
	ma20 := indicators.SMA(closes, 20)
	volMA20 := indicators.SMA(indicators.Volumes(bars), 20)
	rsi := indicators.RSI(bars, 6)
	macd := indicators.MACD(bars, 12, 26, 9)
	kdj := indicators.KDJ(bars, 9, 3, 3)

	bullMA := gt(ma5[k], ma10[k]) && gt(ma10[k], ma20[k])
	bearMA := lt(ma5[k], ma10[k]) && lt(ma10[k], ma20[k])

	rsiBull := (rsi[k-1] < 35 && rsi[k] > 35) || rsi[k] < 30
	rsiBear := (rsi[k-1] > 65 && rsi[k] < 65) || rsi[k] > 70

	macdG := macd.MACD[k-1] <= macd.Signal[k-1] && macd.MACD[k] > macd.Signal[k]
	macdD := macd.MACD[k-1] >= macd.Signal[k-1] && macd.MACD[k] < macd.Signal[k]

	kdjBull := (kdj.K[k-1] <= kdj.D[k-1] && kdj.K[k] > kdj.D[k]) || kdj.J[k] < 0
	kdjBear := (kdj.K[k-1] >= kdj.D[k-1] && kdj.K[k] < kdj.D[k]) || kdj.J[k] > 100

	volConf := bars[k].Volume > 1.2*volMA20[k]

	oiUp := false
	if k >= 5 && bars[k].OpenInterest != 0 {
		oiUp = bars[k].OpenInterest > 1.005*bars[k-5].OpenInterest
	}

	breakout := bars[k].Close > bars[k-1].High
	breakdown := bars[k].Close < bars[k-1].Low

	buyScore := 0.25*b2f(bullMA) + 0.25*b2f(macdG) + 0.15*b2f(rsiBull) +
		0.10*b2f(kdjBull) + 0.10*b2f(volConf) + 0.10*b2f(oiUp) + 0.05*b2f(breakout)
	sellScore := 0.25*b2f(bearMA) + 0.25*b2f(macdD) + 0.15*b2f(rsiBear) +
		0.10*b2f(kdjBear) + 0.10*b2f(volConf) + 0.10*b2f(oiUp) + 0.05*b2f(breakdown)

	rsiChop := rsi[k] >= 40 && rsi[k] <= 60

	if buyScore >= scoreThreshold && !(rsiChop && !macdG && !kdjBull) {
		return LocalResult{Action: Buy, Score: buyScore, RSI: rsi[k]}
	}
	if sellScore >= scoreThreshold && !(rsiChop && !macdD && !kdjBear) {
		return LocalResult{Action: Sell, Score: sellScore, RSI: rsi[k]}
	}
	return LocalResult{Action: Hold, Score: 0, RSI: rsi[k]}
}

func gt(a, b float64) bool { return a > b }
func lt(a, b float64) bool { return a < b }

func b2f(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// Alignment is the v6 strict gate outcome: whether an entry in the local
// layer's direction is permitted, and if not, why.
type Alignment struct {
	Permitted bool
	Reason    string
}

// Align applies the v6 alignment rules: HTF trend must agree with the
// local direction, ADX must clear the trend-strength floor, and the AI
// bias must not contradict the local direction.
func Align(local LocalResult, bias Bias, htfTrend float64, adx float64) Alignment {
	if local.Action == Hold {
		return Alignment{Permitted: false, Reason: "no local signal"}
	}
	if adx < 15 {
		return Alignment{Permitted: false, Reason: "ADX below 15 trend-strength floor"}
	}
	switch local.Action {
	case Buy:
		if htfTrend != 1 {
			return Alignment{Permitted: false, Reason: "higher-timeframe trend not bullish"}
		}
		if bias == ShortBias {
			return Alignment{Permitted: false, Reason: "AI bias contradicts BUY"}
		}
	case Sell:
		if htfTrend != -1 {
			return Alignment{Permitted: false, Reason: "higher-timeframe trend not bearish"}
		}
		if bias == LongBias {
			return Alignment{Permitted: false, Reason: "AI bias contradicts SELL"}
		}
	}
	return Alignment{Permitted: true}
}
