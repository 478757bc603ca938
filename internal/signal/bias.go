// Package signal implements the two-layer entry decision: an AI
// directional bias refreshed on a slow cadence, and a 7-factor local
// signal recomputed every analysis cycle, reconciled by the v6 alignment
// rules.
package signal

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Bias is the AI oracle's directional read on a symbol.
type Bias string

const (
	LongBias  Bias = "LONG_BIAS"
	ShortBias Bias = "SHORT_BIAS"
	Neutral   Bias = "NEUTRAL"
)

// OracleResult is the raw response from the opaque LLM analyzer.
type OracleResult struct {
	Signal         string // STRONG_BUY, BUY, HOLD, SELL, STRONG_SELL
	CompositeScore float64
}

// Oracle consults an external directional-bias analyzer for one symbol.
// Implementations may call out to an LLM, a sentiment service, or any
// other opaque classifier; the bias tracker only needs the mapped result.
type Oracle interface {
	Analyze(ctx context.Context, symbol string) (OracleResult, error)
}

// ToBias maps a raw oracle result onto the three-way bias per spec §4.5.
func ToBias(r OracleResult) Bias {
	switch r.Signal {
	case "STRONG_BUY", "BUY":
		return LongBias
	case "STRONG_SELL", "SELL":
		return ShortBias
	}
	if r.CompositeScore > 0.15 {
		return LongBias
	}
	if r.CompositeScore < -0.15 {
		return ShortBias
	}
	return Neutral
}

const (
	refreshInterval = 1800 * time.Second
	maxWorkers      = 4
)

type biasEntry struct {
	bias       Bias
	lastRefresh time.Time
}

// BiasTracker holds the most recently refreshed bias per symbol. A failed
// oracle call leaves the previous bias in place; the symbol is retried on
// the next refresh window.
type BiasTracker struct {
	mu      sync.RWMutex
	entries map[string]biasEntry
}

// NewBiasTracker creates an empty tracker; every symbol starts Neutral
// until its first successful refresh.
func NewBiasTracker() *BiasTracker {
	return &BiasTracker{entries: make(map[string]biasEntry)}
}

// Bias returns the current bias for symbol, or Neutral if never refreshed.
func (t *BiasTracker) Bias(symbol string) Bias {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[symbol]
	if !ok {
		return Neutral
	}
	return e.bias
}

// dueForRefresh reports whether symbol has never been refreshed or its
// last refresh is older than the 1800s window.
func (t *BiasTracker) dueForRefresh(symbol string, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[symbol]
	if !ok {
		return true
	}
	return now.Sub(e.lastRefresh) >= refreshInterval
}

// RefreshAll consults oracle for every symbol due for refresh, through a
// pool bounded to maxWorkers concurrent calls. A failure on one symbol
// does not affect the others and does not clear its prior bias.
func (t *BiasTracker) RefreshAll(ctx context.Context, symbols []string, oracle Oracle, now time.Time) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for _, symbol := range symbols {
		symbol := symbol
		if !t.dueForRefresh(symbol, now) {
			continue
		}
		g.Go(func() error {
			res, err := oracle.Analyze(ctx, symbol)
			if err != nil {
				return nil //nolint:nilerr // failures retry next window, never abort the group
			}
			t.mu.Lock()
			t.entries[symbol] = biasEntry{bias: ToBias(res), lastRefresh: now}
			t.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}
