// Package storage provides crash-safe JSON persistence for the engine's
// decision buffer, managed positions, trade log, and runtime config, each
// stored in its own file under a configured data directory.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/mkovacs-dev/futurecore/internal/models"
)

const (
	decisionsFile = "auto_decisions.json"
	positionsFile = "auto_positions.json"
	tradeLogFile  = "auto_trade_log.json"
	configFile    = "auto_config.json"

	maxDecisionsInMemory = 500
	decisionsTruncateTo  = 300
)

// Decision is one recorded signal-evaluator outcome, independent of
// whether an order was actually placed.
type Decision struct {
	Time   time.Time `json:"time"`
	Symbol string    `json:"symbol"`
	Action string    `json:"action"` // BUY, SELL, HOLD, CLOSE_LONG, CLOSE_SHORT
	Score  float64   `json:"score"`
	Reason string    `json:"reason"`
	Status string    `json:"status,omitempty"` // SUBMITTED, ERROR, TIMEOUT
	Error  string    `json:"error,omitempty"`
}

// TradeLogEntry records an open or close fill; HOLD decisions never
// appear here.
type TradeLogEntry struct {
	Time       time.Time        `json:"time"`
	Symbol     string           `json:"symbol"`
	Direction  models.Direction `json:"direction"`
	Action     string           `json:"action"` // OPEN or CLOSE
	Price      float64          `json:"price"`
	Lots       int              `json:"lots"`
	PnLPoints  float64          `json:"pnl_points,omitempty"`
	PnLPercent float64          `json:"pnl_percent,omitempty"`
}

// RuntimeConfig is the persisted subset of trade configuration that the
// host application can change at runtime via the control surface,
// mirroring auto_config.json's schema.
type RuntimeConfig struct {
	Contracts              []string `json:"contracts"`
	Enabled                bool     `json:"enabled"`
	MaxLots                int      `json:"max_lots"`
	MaxPositions           int      `json:"max_positions"`
	SignalThreshold        float64  `json:"signal_threshold"`
	AnalysisInterval       int      `json:"analysis_interval"`
	ATRSLMultiplier        float64  `json:"atr_sl_multiplier"`
	ATRTPMultiplier        float64  `json:"atr_tp_multiplier"`
	TrailStepATR           float64  `json:"trail_step_atr"`
	TrailMoveATR           float64  `json:"trail_move_atr"`
	MaxRiskPerTrade        float64  `json:"max_risk_per_trade"`
	MaxRiskRatio           float64  `json:"max_risk_ratio"`
	CloseBeforeMarketClose bool     `json:"close_before_market_close"`
	StrategyMode           string   `json:"strategy_mode"`
	IntradayKlineDuration  int      `json:"intraday_kline_duration"`
	IntradayScanInterval   int      `json:"intraday_scan_interval"`
	MaxDailyLoss           float64  `json:"max_daily_loss"`
	MaxConsecutiveLosses   int      `json:"max_consecutive_losses"`
}

// Store is the engine's persistence layer: four independently-mutexed
// JSON-backed collections, each rewritten in full on every change.
type Store struct {
	dir string

	decMu     sync.RWMutex
	decisions []Decision

	posMu     sync.RWMutex
	positions map[string]*models.ManagedPosition

	logMu sync.RWMutex
	log   []TradeLogEntry

	cfgMu sync.RWMutex
	cfg   RuntimeConfig
}

// New creates a Store rooted at dir, creating the directory if needed and
// best-effort loading any existing files. A corrupt or missing file logs
// a warning via logf (if non-nil) and leaves that collection empty; it
// never prevents startup.
func New(dir string, logf func(format string, args ...interface{})) (*Store, error) {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	s := &Store{
		dir:       dir,
		positions: make(map[string]*models.ManagedPosition),
	}

	if err := loadJSON(filepath.Join(dir, decisionsFile), &s.decisions); err != nil {
		logf("storage: failed to load %s: %v", decisionsFile, err)
	}
	if err := loadJSON(filepath.Join(dir, positionsFile), &s.positions); err != nil {
		logf("storage: failed to load %s: %v", positionsFile, err)
	}
	if s.positions == nil {
		s.positions = make(map[string]*models.ManagedPosition)
	}
	if err := loadJSON(filepath.Join(dir, tradeLogFile), &s.log); err != nil {
		logf("storage: failed to load %s: %v", tradeLogFile, err)
	}
	if err := loadJSON(filepath.Join(dir, configFile), &s.cfg); err != nil {
		logf("storage: failed to load %s: %v", configFile, err)
	}

	return s, nil
}

func loadJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path) // #nosec G304 - path built from configured data dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, out)
}

// AddDecision appends a decision to the in-memory buffer and persists it.
// The in-memory buffer is capped at 500 entries; once exceeded it is
// truncated to the most recent 300 before saving.
func (s *Store) AddDecision(d Decision) error {
	s.decMu.Lock()
	defer s.decMu.Unlock()

	sanitizeDecision(&d)
	s.decisions = append(s.decisions, d)
	if len(s.decisions) > maxDecisionsInMemory {
		s.decisions = append([]Decision(nil), s.decisions[len(s.decisions)-decisionsTruncateTo:]...)
	}
	return atomicWriteJSON(filepath.Join(s.dir, decisionsFile), s.decisions)
}

// Decisions returns a copy of the decision buffer, most recent last.
func (s *Store) Decisions() []Decision {
	s.decMu.RLock()
	defer s.decMu.RUnlock()
	out := make([]Decision, len(s.decisions))
	copy(out, s.decisions)
	return out
}

// ClearDecisions empties the in-memory decision buffer and persists the
// empty state.
func (s *Store) ClearDecisions() error {
	s.decMu.Lock()
	defer s.decMu.Unlock()
	s.decisions = nil
	return atomicWriteJSON(filepath.Join(s.dir, decisionsFile), s.decisions)
}

// SetPosition installs or replaces the managed position for a symbol and
// persists the full position map.
func (s *Store) SetPosition(symbol string, pos *models.ManagedPosition) error {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	s.positions[symbol] = pos.Clone()
	return s.savePositionsUnsafe()
}

// RemovePosition drops the managed position for a symbol, if any, and
// persists the result.
func (s *Store) RemovePosition(symbol string) error {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	delete(s.positions, symbol)
	return s.savePositionsUnsafe()
}

// Position returns a clone of the managed position for symbol, or nil if
// none exists.
func (s *Store) Position(symbol string) *models.ManagedPosition {
	s.posMu.RLock()
	defer s.posMu.RUnlock()
	p, ok := s.positions[symbol]
	if !ok {
		return nil
	}
	return p.Clone()
}

// Positions returns a clone of every managed position, keyed by internal
// symbol.
func (s *Store) Positions() map[string]*models.ManagedPosition {
	s.posMu.RLock()
	defer s.posMu.RUnlock()
	out := make(map[string]*models.ManagedPosition, len(s.positions))
	for k, v := range s.positions {
		out[k] = v.Clone()
	}
	return out
}

func (s *Store) savePositionsUnsafe() error {
	sanitized := make(map[string]*models.ManagedPosition, len(s.positions))
	for k, v := range s.positions {
		cp := v.Clone()
		sanitizeFloats(cp)
		sanitized[k] = cp
	}
	return atomicWriteJSON(filepath.Join(s.dir, positionsFile), sanitized)
}

// AppendTradeLog records an open or close fill and persists the full
// log. HOLD decisions must never be passed here.
func (s *Store) AppendTradeLog(e TradeLogEntry) error {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	e.PnLPoints = sanitizeFloat(e.PnLPoints)
	e.PnLPercent = sanitizeFloat(e.PnLPercent)
	s.log = append(s.log, e)
	return atomicWriteJSON(filepath.Join(s.dir, tradeLogFile), s.log)
}

// TradeLogPage returns a page of trade-log entries, most recent first.
func (s *Store) TradeLogPage(page, pageSize int) []TradeLogEntry {
	s.logMu.RLock()
	defer s.logMu.RUnlock()
	if pageSize <= 0 {
		pageSize = len(s.log)
	}
	start := len(s.log) - (page+1)*pageSize
	end := len(s.log) - page*pageSize
	if end > len(s.log) {
		end = len(s.log)
	}
	if end <= 0 || start >= end {
		return nil
	}
	if start < 0 {
		start = 0
	}
	out := make([]TradeLogEntry, end-start)
	for i := range out {
		out[i] = s.log[end-1-i]
	}
	return out
}

// Config returns a copy of the persisted runtime config.
func (s *Store) Config() RuntimeConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// SetConfig replaces the persisted runtime config and saves it.
func (s *Store) SetConfig(cfg RuntimeConfig) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.cfg = cfg
	return atomicWriteJSON(filepath.Join(s.dir, configFile), s.cfg)
}

func sanitizeDecision(d *Decision) {
	d.Score = sanitizeFloat(d.Score)
}

func sanitizeFloats(p *models.ManagedPosition) {
	p.EntryPrice = sanitizeFloat(p.EntryPrice)
	p.ATRAtEntry = sanitizeFloat(p.ATRAtEntry)
	p.StopLoss = sanitizeFloat(p.StopLoss)
	p.TakeProfit = sanitizeFloat(p.TakeProfit)
	p.HighestSinceEntry = sanitizeFloat(p.HighestSinceEntry)
	p.LowestSinceEntry = sanitizeFloat(p.LowestSinceEntry)
}

// sanitizeFloat replaces NaN and ±Inf with 0, matching the fixed-point
// JSON shape the dashboard and host application expect.
func sanitizeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// atomicWriteJSON encodes v and writes it to path via a temp file in the
// same directory, fsync, rename, and a parent-directory fsync, falling
// back to a copy when rename fails cross-device.
func atomicWriteJSON(path string, v interface{}) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".storage-*")
	if err != nil {
		return err
	}
	tmpName := f.Name()
	defer func() {
		_ = f.Close()
		_ = os.Remove(tmpName)
	}()

	if err := f.Chmod(0o600); err != nil {
		return fmt.Errorf("set temp file permissions: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	dirSynced := false
	if err := os.Rename(tmpName, path); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
			if copyErr := copyFile(tmpName, path); copyErr != nil {
				return fmt.Errorf("copy temp file across devices: %w", copyErr)
			}
			dirSynced = true
		} else {
			return fmt.Errorf("rename temp file: %w", err)
		}
	}
	tmpName = ""

	if !dirSynced {
		if err := syncDir(dir); err != nil {
			return fmt.Errorf("sync parent directory: %w", err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src) // #nosec G304 - src is our own temp file
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return err
	}
	return syncDir(filepath.Dir(dst))
}

func syncDir(dir string) error {
	d, err := os.Open(dir) // #nosec G304 - dir is the configured storage directory
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}
