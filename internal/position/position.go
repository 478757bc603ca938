// Package position implements the trailing-ratchet stop-loss/take-profit
// management, exit detection, and broker reconciliation for every managed
// position, grounded on the single-symbol stop-loss manager pattern but
// generalized across symbols via internal/storage.Store.
package position

import (
	"fmt"
	"math"
	"time"

	"github.com/mkovacs-dev/futurecore/internal/broker"
	"github.com/mkovacs-dev/futurecore/internal/models"
	"github.com/mkovacs-dev/futurecore/internal/storage"
)

// Params bundles the ATR multipliers that shape a position's SL/TP and
// trailing-ratchet grid. Intraday and swing strategy modes each carry
// their own Params.
type Params struct {
	SLMult              float64
	TPMult              float64
	TrailStepATR        float64
	TrailMoveATR        float64
	BreakevenTriggerATR float64
}

// ExitKind identifies why a position is being closed.
type ExitKind string

const (
	StopLossHit   ExitKind = "STOP_LOSS"
	TakeProfitHit ExitKind = "TAKE_PROFIT"
	ForcedClose   ExitKind = "FORCED_CLOSE"
)

// forceCloseStart and forceCloseEnd are minute-of-day bounds for the
// daily forced-close window, [14:55, 15:00).
const (
	forceCloseStart = 14*60 + 55
	forceCloseEnd   = 15 * 60
)

// InForceCloseWindow reports whether t falls in the daily forced-close
// window during which every open position must be closed regardless of
// its SL/TP levels.
func InForceCloseWindow(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	return minute >= forceCloseStart && minute < forceCloseEnd
}

// ApplyTrailingRatchet advances a holding position's stop-loss along the
// ATR step grid anchored at entry (spec §4.7). A full grid step only
// counts once price has strictly cleared its threshold, so a price that
// lands exactly on a step boundary does not yet earn that step; this
// keeps the ratchet from double-crediting the same move on successive
// ticks that happen to land on round numbers. Returns true if stop_loss
// moved.
func ApplyTrailingRatchet(p *models.ManagedPosition, price, trailStepATR, trailMoveATR float64) bool {
	stepDist := trailStepATR * p.ATRAtEntry
	moveDist := trailMoveATR * p.ATRAtEntry
	if stepDist <= 0 {
		return false
	}

	var dist float64
	if p.Direction == models.Long {
		if price > p.HighestSinceEntry {
			p.HighestSinceEntry = price
		}
		dist = price - p.EntryPrice
	} else {
		if price < p.LowestSinceEntry {
			p.LowestSinceEntry = price
		}
		dist = p.EntryPrice - price
	}

	totalSteps := gridSteps(dist, stepDist)
	incremental := totalSteps - p.TrailSteps
	if incremental <= 0 {
		return false
	}

	delta := float64(incremental) * moveDist
	var candidate float64
	if p.Direction == models.Long {
		candidate = p.StopLoss + delta
		if candidate <= p.StopLoss {
			return false
		}
	} else {
		candidate = p.StopLoss - delta
		if candidate >= p.StopLoss {
			return false
		}
	}

	p.StopLoss = candidate
	p.TrailSteps = totalSteps
	p.SLTightened = true
	return true
}

// ApplyBreakeven moves a holding position's stop-loss to its entry price
// the first time price has moved breakevenTriggerATR multiples of entry
// ATR in its favor (spec §3.1, supplemented from the original bot's
// breakeven rule). BreakevenTriggered latches true on that first crossing
// regardless of whether the move actually tightens the stop (it may
// already sit past entry via the trailing ratchet), so the check never
// re-fires on a later tick.
func ApplyBreakeven(p *models.ManagedPosition, price, breakevenTriggerATR float64) bool {
	if p.BreakevenTriggered || breakevenTriggerATR <= 0 {
		return false
	}
	threshold := breakevenTriggerATR * p.ATRAtEntry
	if threshold <= 0 {
		return false
	}

	var dist float64
	if p.Direction == models.Long {
		dist = price - p.EntryPrice
	} else {
		dist = p.EntryPrice - price
	}
	if dist < threshold {
		return false
	}

	p.BreakevenTriggered = true
	if p.Direction == models.Long {
		if p.EntryPrice <= p.StopLoss {
			return false
		}
	} else if p.EntryPrice >= p.StopLoss {
		return false
	}

	p.StopLoss = p.EntryPrice
	p.SLTightened = true
	return true
}

// gridSteps counts the number of complete stepDist-wide grid cells that
// dist has strictly cleared. A dist landing exactly on a multiple of
// stepDist (e.g. dist == 2*stepDist) counts as only 1 completed cell,
// not 2 — the boundary belongs to the step about to start, not the one
// just finished.
func gridSteps(dist, stepDist float64) int {
	if dist <= 0 {
		return 0
	}
	steps := int(math.Ceil(dist/stepDist)) - 1
	if steps < 0 {
		steps = 0
	}
	return steps
}

// DetectExit checks a bar's high/low against a holding position's
// stop-loss and take-profit levels per spec §4.7. Stop-loss is checked
// first since protecting capital takes priority over locking in a
// target on the same bar.
func DetectExit(p *models.ManagedPosition, barHigh, barLow float64) (ExitKind, bool) {
	if p.Direction == models.Long {
		if barLow <= p.StopLoss {
			return StopLossHit, true
		}
		if barHigh >= p.TakeProfit {
			return TakeProfitHit, true
		}
		return "", false
	}
	if barHigh >= p.StopLoss {
		return StopLossHit, true
	}
	if barLow <= p.TakeProfit {
		return TakeProfitHit, true
	}
	return "", false
}

// CloseResult is the P&L attribution for a closed position.
type CloseResult struct {
	PnLPoints      float64
	PnLPercent     float64
	HoldingSeconds float64
}

// Manager owns the managed-position lifecycle: opening, per-tick ratchet
// and exit evaluation, closing, and broker reconciliation, all mirrored
// to storage.Store so a restart resumes with the same position state.
type Manager struct {
	store *storage.Store
}

// NewManager creates a Manager backed by store.
func NewManager(store *storage.Store) *Manager {
	return &Manager{store: store}
}

// Open creates a managed position, persists it, and records the opening
// fill in the trade log.
func (m *Manager) Open(symbol string, direction models.Direction, entry, atr float64, lots int, p Params) (*models.ManagedPosition, error) {
	pos := models.NewManagedPosition(symbol, direction, entry, atr, p.SLMult, p.TPMult, lots, "entry_accepted")
	if err := m.store.SetPosition(symbol, pos); err != nil {
		return nil, fmt.Errorf("persisting opened position for %s: %w", symbol, err)
	}
	if err := m.store.AppendTradeLog(storage.TradeLogEntry{
		Time:      pos.OpenedAt,
		Symbol:    symbol,
		Direction: direction,
		Action:    "OPEN",
		Price:     entry,
		Lots:      lots,
	}); err != nil {
		return nil, fmt.Errorf("recording open fill for %s: %w", symbol, err)
	}
	return pos, nil
}

// TickResult reports what a price update did to a managed position.
type TickResult struct {
	TrailMoved bool
	Exited     bool
	ExitKind   ExitKind
}

// Tick applies the trailing ratchet and exit/forced-close detection for
// one symbol's latest bar. A nil, nil return means there is no managed
// position for symbol. An exit transitions the position to StateClosing
// but does not remove it from storage; call Close once the closing
// order fills.
func (m *Manager) Tick(symbol string, barHigh, barLow, barClose float64, trailStepATR, trailMoveATR, breakevenTriggerATR float64, now time.Time) (*TickResult, error) {
	pos := m.store.Position(symbol)
	if pos == nil {
		return nil, nil
	}
	if pos.State != models.StateHolding {
		return &TickResult{}, nil
	}

	res := &TickResult{}
	breakevenMoved := ApplyBreakeven(pos, barClose, breakevenTriggerATR)
	res.TrailMoved = ApplyTrailingRatchet(pos, barClose, trailStepATR, trailMoveATR) || breakevenMoved

	kind, hit := DetectExit(pos, barHigh, barLow)
	if !hit && InForceCloseWindow(now) {
		kind, hit = ForcedClose, true
	}

	if hit {
		condition := exitCondition(kind)
		if err := pos.TransitionState(models.StateClosing, condition); err != nil {
			return nil, fmt.Errorf("transitioning %s to closing: %w", symbol, err)
		}
		res.Exited = true
		res.ExitKind = kind
	}

	if res.TrailMoved || res.Exited {
		if err := m.store.SetPosition(symbol, pos); err != nil {
			return nil, fmt.Errorf("persisting tick update for %s: %w", symbol, err)
		}
	}
	return res, nil
}

func exitCondition(kind ExitKind) string {
	switch kind {
	case StopLossHit:
		return "stop_loss_hit"
	case TakeProfitHit:
		return "take_profit_hit"
	default:
		return "forced_close"
	}
}

// Close attributes P&L for an exit fill at exitPrice, records the close
// in the trade log, and removes the managed position from storage.
func (m *Manager) Close(symbol string, exitPrice float64, now time.Time) (*CloseResult, error) {
	pos := m.store.Position(symbol)
	if pos == nil {
		return nil, fmt.Errorf("no managed position for %s", symbol)
	}

	res := &CloseResult{
		PnLPoints:      pos.PnLPoints(exitPrice),
		PnLPercent:     pos.PnLPercent(exitPrice),
		HoldingSeconds: pos.HoldingSeconds(now),
	}

	if err := m.store.AppendTradeLog(storage.TradeLogEntry{
		Time:       now,
		Symbol:     symbol,
		Direction:  pos.Direction,
		Action:     "CLOSE",
		Price:      exitPrice,
		Lots:       pos.Lots,
		PnLPoints:  res.PnLPoints,
		PnLPercent: res.PnLPercent,
	}); err != nil {
		return nil, fmt.Errorf("recording close fill for %s: %w", symbol, err)
	}
	if err := m.store.RemovePosition(symbol); err != nil {
		return nil, fmt.Errorf("removing closed position for %s: %w", symbol, err)
	}
	return res, nil
}

// ReconcileAction reports what Reconcile did against the broker's
// reported position.
type ReconcileAction string

const (
	ReconcileNone    ReconcileAction = "NONE"
	ReconcileRestore ReconcileAction = "RESTORE"
	ReconcileDrop    ReconcileAction = "DROP"
)

// Reconcile compares the broker's reported volume for symbol against the
// locally managed position and resolves any mismatch per spec §4.7: a
// broker position with no local tracking is restored using swing ATR
// defaults (S4); a local position the broker no longer reports any
// volume for is dropped (its close was already executed broker-side,
// e.g. by a server-side stop).
func (m *Manager) Reconcile(symbol string, bp broker.Position, atr float64, swing Params) (ReconcileAction, error) {
	existing := m.store.Position(symbol)

	switch {
	case existing == nil && bp.PosLong > 0:
		pos := models.NewManagedPosition(symbol, models.Long, bp.OpenPriceLong, atr, swing.SLMult, swing.TPMult, bp.PosLong, "reconciled")
		if err := m.store.SetPosition(symbol, pos); err != nil {
			return "", fmt.Errorf("restoring reconciled LONG position for %s: %w", symbol, err)
		}
		return ReconcileRestore, nil

	case existing == nil && bp.PosShort > 0:
		pos := models.NewManagedPosition(symbol, models.Short, bp.OpenPriceShort, atr, swing.SLMult, swing.TPMult, bp.PosShort, "reconciled")
		if err := m.store.SetPosition(symbol, pos); err != nil {
			return "", fmt.Errorf("restoring reconciled SHORT position for %s: %w", symbol, err)
		}
		return ReconcileRestore, nil

	case existing != nil && bp.PosLong == 0 && bp.PosShort == 0:
		if err := m.store.RemovePosition(symbol); err != nil {
			return "", fmt.Errorf("dropping reconciled position for %s: %w", symbol, err)
		}
		return ReconcileDrop, nil

	default:
		return ReconcileNone, nil
	}
}
