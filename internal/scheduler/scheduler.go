// Package scheduler runs the swing and intraday strategy loops: a
// non-blocking cycle lock around the scan cycle, a sub-second SL/TP
// monitor, and per-mode entry scanning, grounded on the teacher's
// ticker-driven trading cycle but split into a monitor ticker and a scan
// ticker that one goroutine serves in turn.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkovacs-dev/futurecore/internal/broker"
	"github.com/mkovacs-dev/futurecore/internal/indicators"
	"github.com/mkovacs-dev/futurecore/internal/marketdata"
	"github.com/mkovacs-dev/futurecore/internal/models"
	"github.com/mkovacs-dev/futurecore/internal/position"
	"github.com/mkovacs-dev/futurecore/internal/risk"
	"github.com/mkovacs-dev/futurecore/internal/signal"
	"github.com/mkovacs-dev/futurecore/internal/storage"
	"github.com/mkovacs-dev/futurecore/internal/symbol"
)

// Mode selects which strategy loop a Scheduler runs.
type Mode string

const (
	Swing    Mode = "swing"
	Intraday Mode = "intraday"
)

const (
	swingInterval    = 300 * time.Second
	fastScanInterval = 15 * time.Second
	monitorInterval  = 500 * time.Millisecond
	klineCount       = 60
	atrPeriod        = 14
	adxPeriod        = 14
)

// Config is the tunable set a Scheduler runs with, normally sourced from
// config.TradeConfig plus the persisted runtime overrides in
// storage.RuntimeConfig.
type Config struct {
	Mode        Mode
	Contracts   []string
	MaxLots     int
	RiskParams  risk.Params
	PosParams   position.Params
	SwingParams position.Params // ATR multipliers used by Reconcile's restore path

	// KlineDuration is the bar size, in seconds, ATR and signal evaluation
	// read: 900 (15m) for swing, 300 (5m) for intraday, per spec §4.6/§4.7.
	// config.TradeConfig.KlineDuration() selects the right value per mode.
	KlineDuration int
}

// Scheduler owns the trading loops for one running engine
// instance: the monitor loop manages SL/TP/forced-close on every open
// position; the scan loop (fast 15s intraday or 300s swing) evaluates
// new entries. cycleLocked prevents the scan loop from overlapping a
// cycle still in flight (e.g. a slow oracle call) with the next tick.
type Scheduler struct {
	md     *marketdata.Service
	oracle signal.Oracle
	store  *storage.Store
	posMgr *position.Manager
	logger *log.Logger

	cfg Config

	cycleLocked int32
	running     int32
	bias        *signal.BiasTracker

	dailyMu sync.Mutex
	daily   risk.DailyState

	// contractsMu guards the live contract list so add_contract/
	// remove_contract (spec §6) can mutate it safely while the monitor
	// and scan loops are iterating it concurrently.
	contractsMu sync.RWMutex
	contracts   []string
}

// New creates a Scheduler wired to the engine's shared components.
func New(cfg Config, md *marketdata.Service, oracle signal.Oracle, store *storage.Store, posMgr *position.Manager, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.KlineDuration == 0 {
		cfg.KlineDuration = 300
		if cfg.Mode == Swing {
			cfg.KlineDuration = 900
		}
	}
	contracts := make([]string, len(cfg.Contracts))
	copy(contracts, cfg.Contracts)
	return &Scheduler{
		md:        md,
		oracle:    oracle,
		store:     store,
		posMgr:    posMgr,
		logger:    logger,
		cfg:       cfg,
		contracts: contracts,
		bias:      signal.NewBiasTracker(),
	}
}

// tryAcquireCycle performs a non-blocking try-lock: if a cycle is
// already running, a new tick is dropped rather than queued.
func (s *Scheduler) tryAcquireCycle() bool {
	return atomic.CompareAndSwapInt32(&s.cycleLocked, 0, 1)
}

func (s *Scheduler) releaseCycle() {
	atomic.StoreInt32(&s.cycleLocked, 0)
}

// Run blocks until ctx is cancelled, driving the monitor loop and the
// mode-appropriate scan loop from this one goroutine: each tick's work
// finishes before the next tick of either loop is handled.
func (s *Scheduler) Run(ctx context.Context) {
	atomic.StoreInt32(&s.running, 1)
	defer atomic.StoreInt32(&s.running, 0)

	monitorTicker := time.NewTicker(monitorInterval)
	defer monitorTicker.Stop()

	scanInterval := swingInterval
	if s.cfg.Mode == Intraday {
		scanInterval = fastScanInterval
	}
	scanTicker := time.NewTicker(scanInterval)
	defer scanTicker.Stop()

	s.runScanCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-monitorTicker.C:
			s.runMonitor(ctx)
		case <-scanTicker.C:
			s.runScanCycle(ctx)
		}
	}
}

// runMonitor applies the trailing ratchet and exit detection to every
// open managed position. It does not take the scan loop's cycle lock, but
// since Run serves both tickers from one goroutine, a monitor tick waits
// for a scan cycle in progress, including its oracle calls, to return.
func (s *Scheduler) runMonitor(ctx context.Context) {
	now := time.Now()
	for _, internalSym := range s.Contracts() {
		brokerSym, err := symbol.ToBroker(internalSym)
		if err != nil {
			s.logger.Printf("scheduler: bad symbol %q: %v", internalSym, err)
			continue
		}
		quote, ok := s.md.GetQuote(brokerSym)
		if !ok {
			continue
		}
		res, err := s.posMgr.Tick(internalSym, quote.High, quote.Low, quote.LastPrice, s.cfg.PosParams.TrailStepATR, s.cfg.PosParams.TrailMoveATR, s.cfg.PosParams.BreakevenTriggerATR, now)
		if err != nil {
			s.logger.Printf("scheduler: tick %s: %v", internalSym, err)
			continue
		}
		if res == nil || !res.Exited {
			continue
		}
		s.closePosition(ctx, internalSym, brokerSym, quote.LastPrice, now)
	}
}

func (s *Scheduler) closePosition(ctx context.Context, internalSym, brokerSym string, price float64, now time.Time) {
	results, err := s.md.ClosePosition(ctx, brokerSym)
	if err != nil {
		s.logger.Printf("scheduler: close order for %s failed: %v", internalSym, err)
		return
	}
	closePrice := price
	for _, r := range results {
		if r.Status == broker.Submitted && r.Price > 0 {
			closePrice = r.Price
		}
	}
	cr, err := s.posMgr.Close(internalSym, closePrice, now)
	if err != nil {
		s.logger.Printf("scheduler: recording close for %s failed: %v", internalSym, err)
		return
	}
	s.dailyMu.Lock()
	s.daily.RecordClose(cr.PnLPoints, s.cfg.RiskParams.MaxConsecutiveLosses, now)
	s.dailyMu.Unlock()
	s.logger.Printf("scheduler: closed %s pnl_points=%.2f pnl_pct=%.3f%%", internalSym, cr.PnLPoints, cr.PnLPercent)
}

// runScanCycle evaluates every contract for a new entry, skipping
// entirely if a previous cycle is still running or the market session
// is closed. It always runs the broker-vs-local reconciliation pass
// first, per spec §4.7.
func (s *Scheduler) runScanCycle(ctx context.Context) {
	if !s.tryAcquireCycle() {
		return
	}
	defer s.releaseCycle()

	now := time.Now()
	if !risk.SessionOpen(now) {
		return
	}

	contracts := s.Contracts()

	if err := s.bias.RefreshAll(ctx, contracts, s.oracle, now); err != nil {
		s.logger.Printf("scheduler: bias refresh: %v", err)
	}

	account := s.md.GetAccount()

	for _, internalSym := range contracts {
		brokerSym, err := symbol.ToBroker(internalSym)
		if err != nil {
			s.logger.Printf("scheduler: bad symbol %q: %v", internalSym, err)
			continue
		}

		s.reconcileOne(internalSym, brokerSym)

		if s.store.Position(internalSym) != nil {
			continue // already holding; the monitor loop owns this symbol now
		}

		reason, ok := risk.Evaluate(risk.GateInput{
			RiskRatio:  account.RiskRatio,
			Equity:     account.Balance,
			Now:        now,
			DailyState: s.Daily(),
		}, s.cfg.RiskParams)
		if !ok {
			s.recordDecision(internalSym, "HOLD", 0, reason, "")
			continue
		}

		s.evaluateEntry(ctx, internalSym, brokerSym, account, now)
	}
}

func (s *Scheduler) reconcileOne(internalSym, brokerSym string) {
	bp, ok := s.md.GetPosition(brokerSym)
	if !ok {
		return
	}
	atr := s.latestATR(brokerSym)
	action, err := s.posMgr.Reconcile(internalSym, bp, atr, s.cfg.SwingParams)
	if err != nil {
		s.logger.Printf("scheduler: reconcile %s: %v", internalSym, err)
		return
	}
	if action != position.ReconcileNone {
		s.logger.Printf("scheduler: reconcile %s: %s", internalSym, action)
	}
}

func (s *Scheduler) latestATR(brokerSym string) float64 {
	atr, ok := s.md.GetATR(brokerSym, s.cfg.KlineDuration, atrPeriod)
	if !ok {
		return 0
	}
	return atr
}

func (s *Scheduler) toBars(brokerSym string) ([]indicators.Bar, bool) {
	klines, ok := s.md.GetKlines(brokerSym, s.cfg.KlineDuration, klineCount)
	if !ok || len(klines) == 0 {
		return nil, false
	}
	bars := make([]indicators.Bar, len(klines))
	for i, k := range klines {
		bars[i] = indicators.Bar{
			Time: k.DateTime, Open: k.Open, High: k.High, Low: k.Low,
			Close: k.Close, Volume: k.Volume, OpenInterest: k.CloseOI,
		}
	}
	return bars, true
}

// evaluateEntry decides and, if permitted, submits a new entry for one
// flat symbol. Swing mode enters directly off the AI bias; intraday
// mode requires the local 7-factor signal to pass the v6 alignment
// gates against that same bias.
func (s *Scheduler) evaluateEntry(ctx context.Context, internalSym, brokerSym string, account broker.Account, now time.Time) {
	bias := s.bias.Bias(internalSym)

	var direction models.Direction
	var score float64
	var reason string

	switch s.cfg.Mode {
	case Swing:
		switch bias {
		case signal.LongBias:
			direction = models.Long
		case signal.ShortBias:
			direction = models.Short
		default:
			s.recordDecision(internalSym, "HOLD", 0, "neutral bias", "")
			return
		}
		reason = "AI bias " + string(bias)

	default: // Intraday
		bars, ok := s.toBars(brokerSym)
		if !ok {
			return
		}
		local := signal.EvaluateLocal(bars)
		htfTrend := indicators.LatestHTFTrend(bars)
		adx := indicators.LatestADX(bars, adxPeriod)
		align := signal.Align(local, bias, htfTrend, adx)
		score = local.Score
		if !align.Permitted {
			s.recordDecision(internalSym, "HOLD", score, align.Reason, "")
			return
		}
		switch local.Action {
		case signal.Buy:
			direction = models.Long
		case signal.Sell:
			direction = models.Short
		default:
			s.recordDecision(internalSym, "HOLD", score, "no local signal", "")
			return
		}
		reason = fmt.Sprintf("local score %.2f aligned with %s bias", score, bias)
	}

	atr := s.latestATR(brokerSym)
	quote, ok := s.md.GetQuote(brokerSym)
	if !ok {
		return
	}

	lots := risk.Size(risk.SizeInput{
		Equity: account.Balance, EquityKnown: account.Balance > 0,
		VolumeMultiple: quote.VolumeMultiple, VolMultKnown: quote.VolumeMultiple > 0,
		ATR: atr,
	}, s.cfg.RiskParams)

	side := broker.Buy
	if direction == models.Short {
		side = broker.Sell
	}

	result, err := s.md.PlaceOrder(ctx, brokerSym, side, broker.Open, lots, 0)
	if err != nil {
		s.recordDecision(internalSym, string(direction), score, reason, err.Error())
		return
	}
	if result.Status != broker.Submitted {
		s.recordDecision(internalSym, string(direction), score, reason, string(result.Status))
		return
	}

	entryPrice := result.Price
	if entryPrice == 0 {
		entryPrice = quote.LastPrice
	}
	if _, err := s.posMgr.Open(internalSym, direction, entryPrice, atr, lots, s.cfg.PosParams); err != nil {
		s.logger.Printf("scheduler: recording open for %s: %v", internalSym, err)
		return
	}
	action := "BUY"
	if direction == models.Short {
		action = "SELL"
	}
	s.recordDecision(internalSym, action, score, reason, "")
}

func (s *Scheduler) recordDecision(sym, action string, score float64, reason, errMsg string) {
	status := ""
	if errMsg != "" {
		status = "ERROR"
	}
	if err := s.store.AddDecision(storage.Decision{
		Time: time.Now(), Symbol: sym, Action: action, Score: score,
		Reason: reason, Status: status, Error: errMsg,
	}); err != nil {
		s.logger.Printf("scheduler: recording decision for %s: %v", sym, err)
	}
}

// IsRunning reports whether Run's loops are currently active, for the
// status surface's `running` field.
func (s *Scheduler) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

// Bias returns the current AI directional bias for symbol, for the status
// surface's `ai_bias` field.
func (s *Scheduler) Bias(symbol string) signal.Bias {
	return s.bias.Bias(symbol)
}

// Daily returns a copy of the day's running risk state, for the status
// surface's `daily_pnl`/`daily_loss_count` fields.
func (s *Scheduler) Daily() risk.DailyState {
	s.dailyMu.Lock()
	defer s.dailyMu.Unlock()
	return s.daily
}

// Contracts returns a snapshot of the live contract list.
func (s *Scheduler) Contracts() []string {
	s.contractsMu.RLock()
	defer s.contractsMu.RUnlock()
	out := make([]string, len(s.contracts))
	copy(out, s.contracts)
	return out
}

// AddContract adds symbol to the live contract list, per spec §6's
// add_contract(symbol) control-surface operation. It is idempotent: adding
// an already-tracked symbol succeeds without duplicating it.
func (s *Scheduler) AddContract(sym string) (bool, string) {
	if _, err := symbol.ToBroker(sym); err != nil {
		return false, fmt.Sprintf("unknown symbol %q: %v", sym, err)
	}

	s.contractsMu.Lock()
	defer s.contractsMu.Unlock()
	for _, existing := range s.contracts {
		if existing == sym {
			return true, fmt.Sprintf("%s already tracked", sym)
		}
	}
	s.contracts = append(s.contracts, sym)
	return true, fmt.Sprintf("%s added", sym)
}

// RemoveContract removes symbol from the live contract list, per spec
// §6's remove_contract(symbol) control-surface operation. Removing a
// symbol with an open managed position fails rather than abandoning the
// position's SL/TP monitoring mid-flight.
func (s *Scheduler) RemoveContract(sym string) (bool, string) {
	if s.store.Position(sym) != nil {
		return false, fmt.Sprintf("%s has an open managed position", sym)
	}

	s.contractsMu.Lock()
	defer s.contractsMu.Unlock()
	for i, existing := range s.contracts {
		if existing == sym {
			s.contracts = append(s.contracts[:i], s.contracts[i+1:]...)
			return true, fmt.Sprintf("%s removed", sym)
		}
	}
	return false, fmt.Sprintf("%s is not tracked", sym)
}

// AutoResume reports whether a persisted runtime config should restart
// the scan/monitor loops on process startup without waiting for an
// explicit Start call through the control surface.
func AutoResume(cfg storage.RuntimeConfig) bool {
	return cfg.Enabled && len(cfg.Contracts) > 0
}
