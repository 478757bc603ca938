// Package indicators implements pure technical-analysis functions over
// OHLCV bar series: ATR, RSI, MACD, KDJ, ADX, higher-timeframe trend
// resampling, and VWAP.
package indicators

import "time"

// Bar is one OHLCV sample. OpenInterest is optional; callers that don't
// have it leave it at zero and must not rely on oi_up-style gates firing.
type Bar struct {
	Time         time.Time
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
	OpenInterest float64
}
