// Package risk implements ATR-based position sizing and the hard entry
// gates that can reject a signal before an order is ever placed.
package risk

import (
	"math"
	"time"
)

// Params bundles the sizing and gating inputs that vary between swing and
// intraday strategy modes.
type Params struct {
	SLMult               float64
	RiskPct              float64
	MaxLots              int
	MaxRiskRatio         float64
	MaxDailyLoss         float64
	MaxConsecutiveLosses int
	Intraday             bool
}

// SizeInput carries the live account/contract data a sizing decision
// needs.
type SizeInput struct {
	Equity         float64
	VolumeMultiple float64
	ATR            float64
	EquityKnown    bool
	VolMultKnown   bool
}

// Size computes the number of lots for a new entry per spec §4.6: clamp
// floor(R / (d*M)) between 1 and MaxLots, falling back to MaxLots when
// equity or the contract's volume multiple are unavailable.
func Size(in SizeInput, p Params) int {
	if !in.EquityKnown || !in.VolMultKnown || in.VolumeMultiple == 0 || in.ATR == 0 {
		return p.MaxLots
	}
	d := in.ATR * p.SLMult
	r := in.Equity * p.RiskPct
	lots := int(math.Floor(r / (d * in.VolumeMultiple)))
	if lots < 1 {
		lots = 1
	}
	if lots > p.MaxLots {
		lots = p.MaxLots
	}
	return lots
}

// DailyState tracks the running intraday risk state: realized P&L, the
// consecutive-loss streak, and any active pause window. It does not roll
// over by date on its own; the values persist until ResetDaily is called.
type DailyState struct {
	RealizedPnL       float64
	ConsecutiveLosses int
	PauseUntil        time.Time
}

// RecordClose updates the consecutive-loss streak and realized P&L after a
// position closes. Call this once per close; Evaluate consults the
// resulting state only when Params.Intraday is set.
func (d *DailyState) RecordClose(pnl float64, maxConsecutiveLosses int, now time.Time) {
	d.RealizedPnL += pnl
	if pnl < 0 {
		d.ConsecutiveLosses++
		if d.ConsecutiveLosses >= maxConsecutiveLosses {
			d.PauseUntil = now.Add(30 * time.Minute)
		}
	} else {
		d.ConsecutiveLosses = 0
	}
}

// ResetDaily clears the daily risk state at the start of a new calendar
// day.
func (d *DailyState) ResetDaily() {
	*d = DailyState{}
}

// GateInput carries everything the hard gates need to evaluate one entry
// attempt.
type GateInput struct {
	RiskRatio   float64
	Equity      float64
	Now         time.Time
	DailyState  DailyState
}

// Evaluate runs every hard gate in spec order and returns the first
// rejection reason, or ("", true) if the entry is permitted.
func Evaluate(in GateInput, p Params) (reason string, ok bool) {
	if in.RiskRatio >= p.MaxRiskRatio {
		return "risk ratio at or above cap", false
	}
	if p.Intraday {
		if in.Equity > 0 && in.DailyState.RealizedPnL < 0 &&
			math.Abs(in.DailyState.RealizedPnL)/in.Equity >= p.MaxDailyLoss {
			return "daily loss cap reached", false
		}
		if in.DailyState.ConsecutiveLosses >= p.MaxConsecutiveLosses && in.Now.Before(in.DailyState.PauseUntil) {
			return "consecutive-loss pause active", false
		}
		hour := in.Now.Hour()
		if hour == 3 || hour == 6 || hour == 13 {
			return "no-entry hour", false
		}
		if hour > 14 || (hour == 14 && in.Now.Minute() >= 30) {
			return "past 14:30 cutoff", false
		}
	}
	if !SessionOpen(in.Now) {
		return "outside trading session", false
	}
	return "", true
}

// sessionWindows are minute-of-day ranges, [start, end), that count as a
// trading minute for Chinese futures markets.
var sessionWindows = [][2]int{
	{540, 690},  // 09:00 - 11:30
	{810, 900},  // 13:30 - 15:00
	{1260, 1440}, // 21:00 - 24:00
	{0, 150},    // 00:00 - 02:30
}

// SessionOpen reports whether t falls within a trading session.
func SessionOpen(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	for _, w := range sessionWindows {
		if minute >= w[0] && minute < w[1] {
			return true
		}
	}
	return false
}
