// Package marketdata implements the single-owner broker session: one
// worker goroutine exclusively drives a broker.Gateway, and every other
// goroutine interacts with it through lock-protected queues and
// lock-guarded cache snapshots.
package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mkovacs-dev/futurecore/internal/broker"
)

const (
	pollInterval = 100 * time.Millisecond
	pollAttempts = 50 // ~5s
	waitUpdateWindow = 500 * time.Millisecond
	orderTimeout     = 5 * time.Second
)

type klineKey struct {
	symbol   string
	duration int
	count    int
}

type atrKey struct {
	symbol   string
	duration int
	period   int
}

type orderRequest struct {
	symbol      string
	direction   broker.Side
	offset      broker.Offset
	volume      int
	limitPrice  float64
	resultCh    chan broker.OrderResult
}

// Service is the market-data and order-routing front door the rest of the
// engine uses. Every exported method is safe to call from any goroutine;
// only the internal worker goroutine touches the Gateway directly.
type Service struct {
	gw     broker.Gateway
	onFill func(broker.OrderResult)

	mu       sync.RWMutex
	ready    bool
	quotes   map[string]broker.Quote
	klines   map[klineKey][]broker.KlineBar
	atrs     map[atrKey]float64
	positions map[string]broker.Position
	account  broker.Account

	subQuote    chan string
	subKline    chan klineKey
	subATR      chan atrKey
	subPosition chan string
	orders      chan orderRequest

	sg singleflight.Group

	stop   chan struct{}
	done   chan struct{}
}

// New creates a Service wrapping gw. onFill, if non-nil, is invoked by the
// worker goroutine for every non-timeout order result so the caller can
// append it to a persistent trade/decision log.
func New(gw broker.Gateway, onFill func(broker.OrderResult)) *Service {
	return &Service{
		gw:          gw,
		onFill:      onFill,
		quotes:      make(map[string]broker.Quote),
		klines:      make(map[klineKey][]broker.KlineBar),
		atrs:        make(map[atrKey]float64),
		positions:   make(map[string]broker.Position),
		subQuote:    make(chan string, 256),
		subKline:    make(chan klineKey, 256),
		subATR:      make(chan atrKey, 256),
		subPosition: make(chan string, 256),
		orders:      make(chan orderRequest, 64),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start logs in and launches the worker goroutine. It returns once login
// has completed (successfully or not); the worker keeps running until Stop
// is called or the broker connection fails unrecoverably.
func (s *Service) Start(ctx context.Context, user, password string, mode broker.TradeMode, brokerID, account string) error {
	if err := s.gw.Login(ctx, user, password, mode, brokerID, account); err != nil {
		return fmt.Errorf("broker login: %w", err)
	}
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop releases the broker session and waits for the worker to exit.
func (s *Service) Stop() {
	close(s.stop)
	<-s.done
	_ = s.gw.Close()
}

// IsReady reports whether the worker has completed login and is actively
// driving the broker session.
func (s *Service) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	quoteSubs := make(map[string]struct{})
	klineSubs := make(map[klineKey]struct{})
	atrSubs := make(map[atrKey]struct{})
	posSubs := make(map[string]struct{})

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			s.ready = false
			s.mu.Unlock()
			return
		case sym := <-s.subQuote:
			quoteSubs[sym] = struct{}{}
			posSubs[sym] = struct{}{} // auto-subscribe position on first quote request
		case k := <-s.subKline:
			klineSubs[k] = struct{}{}
		case k := <-s.subATR:
			atrSubs[k] = struct{}{}
			klineSubs[klineKey{symbol: k.symbol, duration: k.duration, count: k.period + 1}] = struct{}{}
		case sym := <-s.subPosition:
			posSubs[sym] = struct{}{}
		case req := <-s.orders:
			s.handleOrder(ctx, req)
		default:
			s.refresh(ctx, quoteSubs, klineSubs, atrSubs, posSubs)
			deadline := time.Now().Add(waitUpdateWindow)
			if err := s.gw.WaitUpdate(ctx, deadline); err != nil {
				s.mu.Lock()
				s.ready = false
				s.mu.Unlock()
				return
			}
		}
	}
}

func (s *Service) refresh(ctx context.Context, quoteSubs map[string]struct{}, klineSubs map[klineKey]struct{}, atrSubs map[atrKey]struct{}, posSubs map[string]struct{}) {
	for sym := range quoteSubs {
		// A quote the broker has never updated is not cached as a value.
		if q, err := s.gw.GetQuote(ctx, sym); err == nil && !q.UpdatedAt.IsZero() {
			s.mu.Lock()
			s.quotes[sym] = q
			s.mu.Unlock()
		}
	}
	for k := range klineSubs {
		if bars, err := s.gw.GetKlineSerial(ctx, k.symbol, k.duration, k.count); err == nil {
			s.mu.Lock()
			s.klines[k] = bars
			s.mu.Unlock()
		}
	}
	for k := range atrSubs {
		if bars, ok := s.klineSnapshot(klineKey{symbol: k.symbol, duration: k.duration, count: k.period + 1}); ok {
			s.mu.Lock()
			s.atrs[k] = atrFromBars(bars, k.period)
			s.mu.Unlock()
		}
	}
	for sym := range posSubs {
		if p, err := s.gw.GetPosition(ctx, sym); err == nil {
			s.mu.Lock()
			s.positions[sym] = p
			s.mu.Unlock()
		}
	}
	if acc, err := s.gw.GetAccount(ctx); err == nil {
		s.mu.Lock()
		s.account = acc
		s.mu.Unlock()
	}
}

func (s *Service) klineSnapshot(k klineKey) ([]broker.KlineBar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bars, ok := s.klines[k]
	return bars, ok
}

func (s *Service) handleOrder(ctx context.Context, req orderRequest) {
	orderCtx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	res, err := s.gw.InsertOrder(orderCtx, req.symbol, req.direction, req.offset, req.volume, req.limitPrice)
	if err != nil {
		res = broker.OrderResult{
			Status: broker.ErrorStatus,
			Symbol: req.symbol, Direction: req.direction, Offset: req.offset,
			Volume: req.volume, Time: time.Now().UTC(), Error: err.Error(),
		}
	}
	if res.Status != broker.Timeout && s.onFill != nil {
		s.onFill(res)
	}
	req.resultCh <- res
}

// GetQuote returns the cached quote for a broker-form symbol, subscribing
// it if not already tracked. ok is false if the cache has no value after
// the poll window elapses.
func (s *Service) GetQuote(symbol string) (broker.Quote, bool) {
	v, _, _ := s.sg.Do("quote:"+symbol, func() (interface{}, error) {
		return s.pollQuote(symbol)
	})
	q, ok := v.(quoteResult)
	if !ok {
		return broker.Quote{}, false
	}
	return q.q, q.ok
}

type quoteResult struct {
	q  broker.Quote
	ok bool
}

func (s *Service) pollQuote(symbol string) (quoteResult, error) {
	if q, ok := s.quoteSnapshot(symbol); ok {
		return quoteResult{q, true}, nil
	}
	select {
	case s.subQuote <- symbol:
	default:
	}
	for i := 0; i < pollAttempts; i++ {
		time.Sleep(pollInterval)
		if q, ok := s.quoteSnapshot(symbol); ok {
			return quoteResult{q, true}, nil
		}
	}
	return quoteResult{}, nil
}

func (s *Service) quoteSnapshot(symbol string) (broker.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	return q, ok
}

// GetKlines returns the cached kline series for (symbol, durationSeconds,
// count), subscribing it if not already tracked.
func (s *Service) GetKlines(symbol string, durationSeconds, count int) ([]broker.KlineBar, bool) {
	key := klineKey{symbol, durationSeconds, count}
	v, _, _ := s.sg.Do(fmt.Sprintf("kline:%s:%d:%d", symbol, durationSeconds, count), func() (interface{}, error) {
		return s.pollKlines(key)
	})
	r, ok := v.(klineResult)
	if !ok {
		return nil, false
	}
	return r.bars, r.ok
}

type klineResult struct {
	bars []broker.KlineBar
	ok   bool
}

func (s *Service) pollKlines(key klineKey) (klineResult, error) {
	if bars, ok := s.klineSnapshot(key); ok {
		return klineResult{bars, true}, nil
	}
	select {
	case s.subKline <- key:
	default:
	}
	for i := 0; i < pollAttempts; i++ {
		time.Sleep(pollInterval)
		if bars, ok := s.klineSnapshot(key); ok {
			return klineResult{bars, true}, nil
		}
	}
	return klineResult{}, nil
}

// GetATR returns the cached ATR(period) value computed on (symbol,
// durationSeconds) bars, subscribing it if not already tracked.
func (s *Service) GetATR(symbol string, durationSeconds, period int) (float64, bool) {
	key := atrKey{symbol, durationSeconds, period}
	v, _, _ := s.sg.Do(fmt.Sprintf("atr:%s:%d:%d", symbol, durationSeconds, period), func() (interface{}, error) {
		return s.pollATR(key)
	})
	r, ok := v.(atrResult)
	if !ok {
		return 0, false
	}
	return r.v, r.ok
}

type atrResult struct {
	v  float64
	ok bool
}

func (s *Service) atrSnapshot(key atrKey) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.atrs[key]
	return v, ok
}

func (s *Service) pollATR(key atrKey) (atrResult, error) {
	if v, ok := s.atrSnapshot(key); ok {
		return atrResult{v, true}, nil
	}
	select {
	case s.subATR <- key:
	default:
	}
	for i := 0; i < pollAttempts; i++ {
		time.Sleep(pollInterval)
		if v, ok := s.atrSnapshot(key); ok {
			return atrResult{v, true}, nil
		}
	}
	return atrResult{}, nil
}

// GetPosition returns the broker-reported position for symbol, subscribing
// it if not already tracked.
func (s *Service) GetPosition(symbol string) (broker.Position, bool) {
	v, _, _ := s.sg.Do("pos:"+symbol, func() (interface{}, error) {
		return s.pollPosition(symbol)
	})
	r, ok := v.(positionResult)
	if !ok {
		return broker.Position{}, false
	}
	return r.p, r.ok
}

type positionResult struct {
	p  broker.Position
	ok bool
}

func (s *Service) positionSnapshot(symbol string) (broker.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[symbol]
	return p, ok
}

func (s *Service) pollPosition(symbol string) (positionResult, error) {
	if p, ok := s.positionSnapshot(symbol); ok {
		return positionResult{p, true}, nil
	}
	select {
	case s.subPosition <- symbol:
	default:
	}
	for i := 0; i < pollAttempts; i++ {
		time.Sleep(pollInterval)
		if p, ok := s.positionSnapshot(symbol); ok {
			return positionResult{p, true}, nil
		}
	}
	return positionResult{}, nil
}

// GetAccount returns the most recently refreshed account snapshot. It is
// never subscription-gated since the worker refreshes it every step once
// ready.
func (s *Service) GetAccount() broker.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

// PlaceOrder submits an order and blocks until the worker reports a
// terminal status or orderTimeout elapses.
func (s *Service) PlaceOrder(ctx context.Context, symbol string, direction broker.Side, offset broker.Offset, volume int, limitPrice float64) (broker.OrderResult, error) {
	if !s.IsReady() {
		return broker.OrderResult{}, fmt.Errorf("marketdata: broker session not ready")
	}
	req := orderRequest{
		symbol: symbol, direction: direction, offset: offset,
		volume: volume, limitPrice: limitPrice,
		resultCh: make(chan broker.OrderResult, 1),
	}
	select {
	case s.orders <- req:
	case <-ctx.Done():
		return broker.OrderResult{}, ctx.Err()
	}
	select {
	case res := <-req.resultCh:
		return res, nil
	case <-time.After(orderTimeout):
		return broker.OrderResult{Symbol: symbol, Direction: direction, Offset: offset, Volume: volume, Status: broker.Timeout}, nil
	case <-ctx.Done():
		return broker.OrderResult{}, ctx.Err()
	}
}

// ClosePosition reads the broker's current LONG/SHORT volumes for symbol
// and emits one close order per non-zero side.
func (s *Service) ClosePosition(ctx context.Context, symbol string) ([]broker.OrderResult, error) {
	pos, ok := s.GetPosition(symbol)
	if !ok {
		return nil, fmt.Errorf("marketdata: position for %s not available", symbol)
	}
	var results []broker.OrderResult
	if pos.PosLong > 0 {
		res, err := s.PlaceOrder(ctx, symbol, broker.Sell, broker.Close, pos.PosLong, 0)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	if pos.PosShort > 0 {
		res, err := s.PlaceOrder(ctx, symbol, broker.Buy, broker.Close, pos.PosShort, 0)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// atrFromBars computes ATR(period) as the simple average of the last
// period true ranges in bars, the same formula as indicators.ATR, applied
// directly to broker.KlineBar values instead of indicators.Bar.
func atrFromBars(bars []broker.KlineBar, period int) float64 {
	if len(bars) < period+1 {
		return 0
	}
	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		h, l, pc := bars[i].High, bars[i].Low, bars[i-1].Close
		tr := h - l
		if v := h - pc; v > tr {
			tr = v
		}
		if v := pc - l; v > tr {
			tr = v
		}
		trs = append(trs, tr)
	}
	if len(trs) < period {
		return 0
	}
	var sum float64
	for _, tr := range trs[len(trs)-period:] {
		sum += tr
	}
	return sum / float64(period)
}
