// Package broker defines the futures brokerage gateway contract consumed
// by the market-data service, along with a circuit-breaker wrapper and an
// in-memory simulated implementation used for tests and paper trading.
package broker

import (
	"context"
	"time"
)

// TradeMode selects whether Login authenticates against a simulated or a
// live trading account.
type TradeMode string

const (
	Sim  TradeMode = "sim"
	Live TradeMode = "live"
)

// Side is an order's buy/sell direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Offset distinguishes opening a new position from closing an existing
// one; CLOSETODAY matters on exchanges that charge different fees for
// closing a position opened the same day.
type Offset string

const (
	Open        Offset = "OPEN"
	Close       Offset = "CLOSE"
	CloseToday  Offset = "CLOSETODAY"
)

// Quote is a snapshot of a contract's current market data. Fields may be
// NaN when the broker hasn't yet delivered a value for them; callers must
// tolerate that rather than treating it as an error.
type Quote struct {
	Symbol          string // broker form
	LastPrice       float64
	PreSettlement   float64
	PreClose        float64
	High            float64
	Low             float64
	Volume          float64
	OpenInterest    float64
	Settlement      float64
	UpperLimit      float64
	LowerLimit      float64
	Open            float64
	Amount          float64
	PreOpenInterest float64
	VolumeMultiple  float64
	BidPrice1       float64
	AskPrice1       float64
	UpdatedAt       time.Time
}

// KlineBar is one OHLCV sample from a broker kline series.
type KlineBar struct {
	DateTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	CloseOI  float64
}

// Position is the broker's reported LONG/SHORT volumes and average prices
// for one symbol, independent of the engine's own managed-position view.
type Position struct {
	Symbol          string
	PosLong         int
	PosShort        int
	OpenPriceLong   float64
	OpenPriceShort  float64
	FloatProfitLong float64
	FloatProfitShort float64
}

// Account is the broker-reported account snapshot.
type Account struct {
	Balance        float64
	Available      float64
	FloatProfit    float64
	PositionProfit float64
	CloseProfit    float64
	Margin         float64
	Commission     float64
	RiskRatio      float64
	StaticBalance  float64
}

// OrderStatus is the terminal (or pending) state of a submitted order.
type OrderStatus string

const (
	Submitted OrderStatus = "SUBMITTED"
	ErrorStatus OrderStatus = "ERROR"
	Timeout     OrderStatus = "TIMEOUT"
)

// OrderResult is returned by InsertOrder once the gateway has reported a
// terminal submission status (or a timeout waiting for one).
type OrderResult struct {
	ID        string
	Status    OrderStatus
	Symbol    string
	Direction Side
	Offset    Offset
	Volume    int
	Price     float64
	Time      time.Time
	Error     string
}

// Gateway is the inbound contract the engine consumes from a brokerage
// connection. Exactly one goroutine (the market-data service's worker) may
// call any of these methods; see internal/marketdata.
type Gateway interface {
	// Login authenticates the session.
	Login(ctx context.Context, user, password string, mode TradeMode, brokerID, account string) error
	GetQuote(ctx context.Context, brokerSymbol string) (Quote, error)
	GetKlineSerial(ctx context.Context, brokerSymbol string, durationSeconds int, count int) ([]KlineBar, error)
	GetPosition(ctx context.Context, brokerSymbol string) (Position, error)
	GetAccount(ctx context.Context) (Account, error)
	// InsertOrder submits an order. LimitPrice is omitted (zero) by
	// callers that want a market order.
	InsertOrder(ctx context.Context, brokerSymbol string, direction Side, offset Offset, volume int, limitPrice float64) (OrderResult, error)
	// WaitUpdate blocks until any subscribed handle's state changes or the
	// deadline elapses, advancing the gateway's internal event loop.
	WaitUpdate(ctx context.Context, deadline time.Time) error
	// Close releases the session, unblocking any in-flight WaitUpdate.
	Close() error
}
