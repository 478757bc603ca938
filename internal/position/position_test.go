package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkovacs-dev/futurecore/internal/broker"
	"github.com/mkovacs-dev/futurecore/internal/models"
	"github.com/mkovacs-dev/futurecore/internal/storage"
)

// TestTrailingRatchetLong reproduces S1: entry 2450, atr=10, sl_mult=1.2,
// tp_mult=2.0, trail_step=0.3, trail_move=0.15. Feeding 2453, 2456, 2462
// should leave stop_loss at 2438, 2439.5, 2442.5 respectively.
func TestTrailingRatchetLong(t *testing.T) {
	p := models.NewManagedPosition("C2605", models.Long, 2450, 10, 1.2, 2.0, 1, "entry_accepted")
	require.Equal(t, 2438.0, p.StopLoss)

	moved := ApplyTrailingRatchet(p, 2453, 0.3, 0.15)
	assert.False(t, moved)
	assert.Equal(t, 2438.0, p.StopLoss)

	moved = ApplyTrailingRatchet(p, 2456, 0.3, 0.15)
	assert.True(t, moved)
	assert.InDelta(t, 2439.5, p.StopLoss, 1e-9)

	moved = ApplyTrailingRatchet(p, 2462, 0.3, 0.15)
	assert.True(t, moved)
	assert.InDelta(t, 2442.5, p.StopLoss, 1e-9)

	// monotonic: never loosens even on a pullback.
	moved = ApplyTrailingRatchet(p, 2458, 0.3, 0.15)
	assert.False(t, moved)
	assert.InDelta(t, 2442.5, p.StopLoss, 1e-9)
}

func TestApplyBreakevenMovesStopToEntryOnce(t *testing.T) {
	p := models.NewManagedPosition("C2605", models.Long, 2450, 10, 1.2, 2.0, 1, "entry_accepted")
	require.Equal(t, 2438.0, p.StopLoss)

	moved := ApplyBreakeven(p, 2455, 1.0)
	assert.False(t, moved)
	assert.Equal(t, 2438.0, p.StopLoss)
	assert.False(t, p.BreakevenTriggered)

	moved = ApplyBreakeven(p, 2461, 1.0)
	assert.True(t, moved)
	assert.Equal(t, 2450.0, p.StopLoss)
	assert.True(t, p.BreakevenTriggered)
	assert.True(t, p.SLTightened)

	// latched: a later pullback never re-triggers or loosens the move.
	moved = ApplyBreakeven(p, 2452, 1.0)
	assert.False(t, moved)
	assert.Equal(t, 2450.0, p.StopLoss)
}

func TestApplyBreakevenSkipsWhenRatchetAlreadyPastEntry(t *testing.T) {
	p := models.NewManagedPosition("C2605", models.Short, 2450, 10, 1.2, 2.0, 1, "entry_accepted")
	require.Equal(t, 2462.0, p.StopLoss)

	require.True(t, ApplyTrailingRatchet(p, 2400, 0.3, 0.15))
	require.Less(t, p.StopLoss, p.EntryPrice)

	moved := ApplyBreakeven(p, 2400, 1.0)
	assert.False(t, moved)
	assert.True(t, p.BreakevenTriggered)
}

// TestStopLossExitLong reproduces S2: feeding 2438.1 then 2437.9 only
// triggers CLOSE_LONG on the second tick, with pnl_points = -12.1.
func TestStopLossExitLong(t *testing.T) {
	p := models.NewManagedPosition("C2605", models.Long, 2450, 10, 1.2, 2.0, 1, "entry_accepted")

	_, hit := DetectExit(p, 2438.1, 2438.1)
	assert.False(t, hit)

	kind, hit := DetectExit(p, 2437.9, 2437.9)
	require.True(t, hit)
	assert.Equal(t, StopLossHit, kind)
	assert.InDelta(t, -12.1, p.PnLPoints(2437.9), 1e-9)
	assert.InDelta(t, -0.494, p.PnLPercent(2437.9), 1e-3)
}

// TestTakeProfitExitShort reproduces S3: entry 2450, atr=10, SHORT with
// stop_loss=2462, take_profit=2430. Feeding 2435 then 2429 only triggers
// CLOSE_SHORT on the second tick, with pnl_points = 21.
func TestTakeProfitExitShort(t *testing.T) {
	p := models.NewManagedPosition("C2605", models.Short, 2450, 10, 1.2, 2.0, 1, "entry_accepted")
	require.Equal(t, 2462.0, p.StopLoss)
	require.Equal(t, 2430.0, p.TakeProfit)

	_, hit := DetectExit(p, 2435, 2435)
	assert.False(t, hit)

	kind, hit := DetectExit(p, 2429, 2429)
	require.True(t, hit)
	assert.Equal(t, TakeProfitHit, kind)
	assert.Equal(t, 21.0, p.PnLPoints(2429))
}

func TestInForceCloseWindow(t *testing.T) {
	assert.True(t, InForceCloseWindow(time.Date(2026, 1, 1, 14, 55, 0, 0, time.UTC)))
	assert.True(t, InForceCloseWindow(time.Date(2026, 1, 1, 14, 59, 59, 0, time.UTC)))
	assert.False(t, InForceCloseWindow(time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC)))
	assert.False(t, InForceCloseWindow(time.Date(2026, 1, 1, 14, 54, 59, 0, time.UTC)))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := storage.New(t.TempDir(), nil)
	require.NoError(t, err)
	return NewManager(store)
}

func TestManagerOpenTickClose(t *testing.T) {
	m := newTestManager(t)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	opened, err := m.Open("C2605", models.Long, 2450, 10, 1, Params{SLMult: 1.2, TPMult: 2.0})
	require.NoError(t, err)

	res, err := m.Tick("C2605", 2456, 2456, 2456, 0.3, 0.15, 1.0, now)
	require.NoError(t, err)
	assert.True(t, res.TrailMoved)
	assert.False(t, res.Exited)

	res, err = m.Tick("C2605", 2437.9, 2437.9, 2437.9, 0.3, 0.15, 1.0, now)
	require.NoError(t, err)
	assert.True(t, res.Exited)
	assert.Equal(t, StopLossHit, res.ExitKind)

	closeRes, err := m.Close("C2605", 2437.9, opened.OpenedAt.Add(5*time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, -12.1, closeRes.PnLPoints, 1e-9)
	assert.Equal(t, 300.0, closeRes.HoldingSeconds)

	assert.Nil(t, m.store.Position("C2605"))
}

func TestManagerTickNoPositionIsNoop(t *testing.T) {
	m := newTestManager(t)
	res, err := m.Tick("C2605", 2456, 2456, 2456, 0.3, 0.15, 1.0, time.Now())
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestManagerForcedCloseWindow(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Open("C2605", models.Long, 2450, 10, 1, Params{SLMult: 1.2, TPMult: 2.0})
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 14, 56, 0, 0, time.UTC)
	res, err := m.Tick("C2605", 2451, 2451, 2451, 0.3, 0.15, 1.0, now)
	require.NoError(t, err)
	assert.True(t, res.Exited)
	assert.Equal(t, ForcedClose, res.ExitKind)
}

// TestReconcileRestoresLongPosition reproduces S4: broker reports
// pos_long=2, open_price_long=2440 with no existing managed position and
// ATR(14,15m)=8; swing defaults (sl_mult=1.5, tp_mult=3.0) restore a LONG
// position with stop_loss=2428, take_profit=2464.
func TestReconcileRestoresLongPosition(t *testing.T) {
	m := newTestManager(t)
	swing := Params{SLMult: 1.5, TPMult: 3.0}

	action, err := m.Reconcile("M2509", broker.Position{Symbol: "M2509", PosLong: 2, OpenPriceLong: 2440}, 8, swing)
	require.NoError(t, err)
	assert.Equal(t, ReconcileRestore, action)

	restored := m.store.Position("M2509")
	require.NotNil(t, restored)
	assert.Equal(t, models.Long, restored.Direction)
	assert.Equal(t, 2440.0, restored.EntryPrice)
	assert.Equal(t, 2, restored.Lots)
	assert.Equal(t, 2428.0, restored.StopLoss)
	assert.Equal(t, 2464.0, restored.TakeProfit)
}

func TestReconcileDropsPositionBrokerNoLongerReports(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Open("C2605", models.Long, 2450, 10, 1, Params{SLMult: 1.2, TPMult: 2.0})
	require.NoError(t, err)

	action, err := m.Reconcile("C2605", broker.Position{Symbol: "C2605"}, 10, Params{SLMult: 1.5, TPMult: 3.0})
	require.NoError(t, err)
	assert.Equal(t, ReconcileDrop, action)
	assert.Nil(t, m.store.Position("C2605"))
}

func TestReconcileNoActionWhenConsistent(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Open("C2605", models.Long, 2450, 10, 1, Params{SLMult: 1.2, TPMult: 2.0})
	require.NoError(t, err)

	action, err := m.Reconcile("C2605", broker.Position{Symbol: "C2605", PosLong: 1, OpenPriceLong: 2450}, 10, Params{SLMult: 1.5, TPMult: 3.0})
	require.NoError(t, err)
	assert.Equal(t, ReconcileNone, action)
}
