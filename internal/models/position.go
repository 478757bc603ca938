package models

import (
	"time"

	"github.com/google/uuid"
)

// Direction is the side of a managed position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// ManagedPosition is the engine's internal view of an open futures trade,
// independent of whatever the broker reports until the next reconciliation
// pass. StopLoss is the only SL/TP level that changes after creation
// (TakeProfit stays fixed); it moves only in the favorable direction (the
// trailing ratchet and breakeven move are the sole writers). The trailing
// ratchet also updates HighestSinceEntry/LowestSinceEntry.
type ManagedPosition struct {
	ID                string    `json:"id"`
	Symbol            string    `json:"symbol"`
	Direction         Direction `json:"direction"`
	EntryPrice        float64   `json:"entry_price"`
	ATRAtEntry        float64   `json:"atr_at_entry"`
	StopLoss          float64   `json:"stop_loss"`
	TakeProfit        float64   `json:"take_profit"`
	HighestSinceEntry float64   `json:"highest_since_entry"`
	LowestSinceEntry  float64   `json:"lowest_since_entry"`
	Lots              int       `json:"lots"`
	OpenedAt          time.Time `json:"opened_at"`
	BreakevenTriggered bool     `json:"breakeven_triggered"`
	SLTightened       bool      `json:"sl_tightened"`
	TrailSteps        int       `json:"trail_steps"`

	StateMachine *StateMachine `json:"-"`
	State        PositionState `json:"state"`
}

// NewManagedPosition creates a position entering StateHolding with SL/TP
// set per the ATR-anchored entry rule (spec §4.7): LONG stop below entry
// and take-profit above; SHORT mirrored. condition distinguishes an
// optimistic creation on order acceptance ("entry_accepted") from a
// reconciliation-restored position ("reconciled").
func NewManagedPosition(symbol string, direction Direction, entry, atr, slMult, tpMult float64, lots int, condition string) *ManagedPosition {
	p := &ManagedPosition{
		ID:                uuid.New().String(),
		Symbol:            symbol,
		Direction:         direction,
		EntryPrice:        entry,
		ATRAtEntry:        atr,
		Lots:              lots,
		OpenedAt:          time.Now().UTC(),
		HighestSinceEntry: entry,
		LowestSinceEntry:  entry,
		StateMachine:      NewStateMachine(),
		State:             StateNone,
	}
	if direction == Long {
		p.StopLoss = entry - slMult*atr
		p.TakeProfit = entry + tpMult*atr
	} else {
		p.StopLoss = entry + slMult*atr
		p.TakeProfit = entry - tpMult*atr
	}
	_ = p.TransitionState(StateHolding, condition)
	return p
}

// TransitionState validates and applies a state-machine transition,
// keeping the denormalized State field (used for JSON persistence) in
// sync with the StateMachine's authoritative current state.
func (p *ManagedPosition) TransitionState(to PositionState, condition string) error {
	if p.StateMachine == nil {
		p.StateMachine = NewStateMachineFromState(p.State)
	}
	if err := p.StateMachine.Transition(to, condition); err != nil {
		return err
	}
	p.State = p.StateMachine.GetCurrentState()
	return nil
}

// Clone returns a deep copy so callers can never mutate a position held
// by the position manager or storage layer through an aliased pointer.
func (p *ManagedPosition) Clone() *ManagedPosition {
	if p == nil {
		return nil
	}
	cp := *p
	cp.StateMachine = p.StateMachine.Copy()
	return &cp
}

// PnLPoints returns the price-unit P&L for a hypothetical exit at the
// given price: (exit - entry) for LONG, (entry - exit) for SHORT.
func (p *ManagedPosition) PnLPoints(exit float64) float64 {
	if p.Direction == Long {
		return exit - p.EntryPrice
	}
	return p.EntryPrice - exit
}

// PnLPercent returns PnLPoints expressed as a percentage of entry price.
func (p *ManagedPosition) PnLPercent(exit float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return p.PnLPoints(exit) / p.EntryPrice * 100
}

// HoldingSeconds returns how long the position has been open as of now.
func (p *ManagedPosition) HoldingSeconds(now time.Time) float64 {
	return now.Sub(p.OpenedAt).Seconds()
}
