package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mkovacs-dev/futurecore/internal/indicators"
)

func TestEvaluateLocalHoldsOnInsufficientBars(t *testing.T) {
	bars := []indicators.Bar{{Close: 100}}
	r := EvaluateLocal(bars)
	assert.Equal(t, Hold, r.Action)
}

func TestEvaluateLocalHoldsOnFlatMarket(t *testing.T) {
	bars := make([]indicators.Bar, 30)
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i] = indicators.Bar{
			Time: base.Add(time.Duration(i) * 5 * time.Minute),
			Open: 100, High: 100.5, Low: 99.5, Close: 100, Volume: 1000,
		}
	}
	r := EvaluateLocal(bars)
	assert.Equal(t, Hold, r.Action)
}

func TestEvaluateLocalUptrendBreakoutDoesNotSell(t *testing.T) {
	bars := make([]indicators.Bar, 40)
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	price := 100.0
	for i := range bars {
		bars[i] = indicators.Bar{
			Time: base.Add(time.Duration(i) * 5 * time.Minute),
			Open: price, High: price + 1, Low: price - 0.5, Close: price + 0.8, Volume: 1000,
		}
		price += 0.8
	}
	// final bar breaks out with a volume surge
	bars[len(bars)-1].Volume = 5000
	bars[len(bars)-1].Close = bars[len(bars)-2].High + 2

	r := EvaluateLocal(bars)
	assert.Contains(t, []Action{Buy, Hold}, r.Action)
}
