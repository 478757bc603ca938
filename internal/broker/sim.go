package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimGateway is an in-memory Gateway implementation for paper trading and
// tests: it has no network I/O, advances instantly, and fills every order
// immediately at the requested price (or the last quote price for a
// market order).
//
// SimGateway is goroutine-safe; callers still must route every call
// through a single owning goroutine per the single-owner contract the
// rest of the engine assumes, the same discipline a real broker session
// would require.
type SimGateway struct {
	mu        sync.Mutex
	loggedIn  bool
	quotes    map[string]Quote
	klines    map[string][]KlineBar
	positions map[string]Position
	account   Account
	nextOrder int
}

// NewSimGateway creates a simulated gateway seeded with a starting account
// balance.
func NewSimGateway(startingBalance float64) *SimGateway {
	return &SimGateway{
		quotes:    make(map[string]Quote),
		klines:    make(map[string][]KlineBar),
		positions: make(map[string]Position),
		account: Account{
			Balance:       startingBalance,
			Available:     startingBalance,
			StaticBalance: startingBalance,
		},
	}
}

// SetQuote installs or updates the current quote for a broker-form symbol.
func (s *SimGateway) SetQuote(brokerSymbol string, q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q.Symbol = brokerSymbol
	q.UpdatedAt = time.Now().UTC()
	s.quotes[brokerSymbol] = q
}

// SetKlineSerial installs a fixed kline series for a symbol and bar
// duration; GetKlineSerial returns at most the last count bars of it.
func (s *SimGateway) SetKlineSerial(brokerSymbol string, duration int, bars []KlineBar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.klines[key(brokerSymbol, duration)] = bars
}

// SetPosition installs a broker-reported position for a symbol.
func (s *SimGateway) SetPosition(brokerSymbol string, p Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Symbol = brokerSymbol
	s.positions[brokerSymbol] = p
}

// SetAccount replaces the simulated account snapshot.
func (s *SimGateway) SetAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = a
}

func key(symbol string, duration int) string {
	return fmt.Sprintf("%s|%d", symbol, duration)
}

func (s *SimGateway) Login(_ context.Context, _, _ string, _ TradeMode, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = true
	return nil
}

func (s *SimGateway) GetQuote(_ context.Context, brokerSymbol string) (Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotes[brokerSymbol], nil
}

func (s *SimGateway) GetKlineSerial(_ context.Context, brokerSymbol string, durationSeconds, count int) ([]KlineBar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bars := s.klines[key(brokerSymbol, durationSeconds)]
	if len(bars) <= count {
		out := make([]KlineBar, len(bars))
		copy(out, bars)
		return out, nil
	}
	out := make([]KlineBar, count)
	copy(out, bars[len(bars)-count:])
	return out, nil
}

func (s *SimGateway) GetPosition(_ context.Context, brokerSymbol string) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[brokerSymbol], nil
}

func (s *SimGateway) GetAccount(_ context.Context) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account, nil
}

func (s *SimGateway) InsertOrder(_ context.Context, brokerSymbol string, direction Side, offset Offset, volume int, limitPrice float64) (OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price := limitPrice
	if price == 0 {
		price = s.quotes[brokerSymbol].LastPrice
	}

	s.nextOrder++
	id := fmt.Sprintf("sim-%d", s.nextOrder)

	pos := s.positions[brokerSymbol]
	pos.Symbol = brokerSymbol
	switch {
	case direction == Buy && offset == Open:
		pos.PosLong += volume
		pos.OpenPriceLong = price
	case direction == Sell && offset == Open:
		pos.PosShort += volume
		pos.OpenPriceShort = price
	case direction == Sell && offset != Open:
		pos.PosLong -= volume
		if pos.PosLong < 0 {
			pos.PosLong = 0
		}
	case direction == Buy && offset != Open:
		pos.PosShort -= volume
		if pos.PosShort < 0 {
			pos.PosShort = 0
		}
	}
	s.positions[brokerSymbol] = pos

	return OrderResult{
		ID:        id,
		Status:    Submitted,
		Symbol:    brokerSymbol,
		Direction: direction,
		Offset:    offset,
		Volume:    volume,
		Price:     price,
		Time:      time.Now().UTC(),
	}, nil
}

func (s *SimGateway) WaitUpdate(ctx context.Context, deadline time.Time) error {
	wait := time.Until(deadline)
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (s *SimGateway) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedIn = false
	return nil
}
