package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkovacs-dev/futurecore/internal/broker"
	"github.com/mkovacs-dev/futurecore/internal/marketdata"
	"github.com/mkovacs-dev/futurecore/internal/models"
	"github.com/mkovacs-dev/futurecore/internal/position"
	"github.com/mkovacs-dev/futurecore/internal/risk"
	"github.com/mkovacs-dev/futurecore/internal/signal"
	"github.com/mkovacs-dev/futurecore/internal/storage"
)

type stubOracle struct {
	signalOut string
}

func (o stubOracle) Analyze(_ context.Context, _ string) (signal.OracleResult, error) {
	return signal.OracleResult{Signal: o.signalOut}, nil
}

func newTestScheduler(t *testing.T, mode Mode) (*Scheduler, *broker.SimGateway) {
	t.Helper()
	sim := broker.NewSimGateway(100000)
	md := newStartedService(t, sim)

	store, err := storage.New(t.TempDir(), nil)
	require.NoError(t, err)
	posMgr := position.NewManager(store)

	cfg := Config{
		Mode:      mode,
		Contracts: []string{"C2605"},
		MaxLots:   5,
		RiskParams: risk.Params{
			SLMult: 1.2, RiskPct: 0.01, MaxLots: 5, MaxRiskRatio: 0.8,
			MaxDailyLoss: 0.05, MaxConsecutiveLosses: 3,
		},
		PosParams:   position.Params{SLMult: 1.2, TPMult: 2.0, TrailStepATR: 0.3, TrailMoveATR: 0.15, BreakevenTriggerATR: 1.0},
		SwingParams: position.Params{SLMult: 1.5, TPMult: 3.0},
	}

	s := New(cfg, md, stubOracle{}, store, posMgr, nil)
	return s, sim
}

func TestTryAcquireCycle(t *testing.T) {
	s, _ := newTestScheduler(t, Swing)
	require.True(t, s.tryAcquireCycle())
	assert.False(t, s.tryAcquireCycle())
	s.releaseCycle()
	assert.True(t, s.tryAcquireCycle())
}

func TestAutoResume(t *testing.T) {
	assert.True(t, AutoResume(storage.RuntimeConfig{Enabled: true, Contracts: []string{"C2605"}}))
	assert.False(t, AutoResume(storage.RuntimeConfig{Enabled: false, Contracts: []string{"C2605"}}))
	assert.False(t, AutoResume(storage.RuntimeConfig{Enabled: true}))
}

func TestSwingEntryOpensLongOnBuyBias(t *testing.T) {
	s, sim := newTestScheduler(t, Swing)
	sim.SetQuote("DCE.c2605", broker.Quote{LastPrice: 2450, VolumeMultiple: 10})

	require.NoError(t, s.bias.RefreshAll(context.Background(), s.cfg.Contracts, stubOracle{signalOut: "BUY"}, time.Now()))

	account := s.md.GetAccount()
	s.evaluateEntry(context.Background(), "C2605", "DCE.c2605", account, time.Now())

	pos := s.store.Position("C2605")
	require.NotNil(t, pos)
	assert.Equal(t, models.Long, pos.Direction)

	decisions := s.store.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, "BUY", decisions[0].Action)
}

func TestSwingEntryHoldsOnNeutralBias(t *testing.T) {
	s, sim := newTestScheduler(t, Swing)
	sim.SetQuote("DCE.c2605", broker.Quote{LastPrice: 2450, VolumeMultiple: 10})

	account := s.md.GetAccount()
	s.evaluateEntry(context.Background(), "C2605", "DCE.c2605", account, time.Now())

	assert.Nil(t, s.store.Position("C2605"))
	decisions := s.store.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, "HOLD", decisions[0].Action)
}

func TestIntradayFlatMarketRecordsHold(t *testing.T) {
	s, sim := newTestScheduler(t, Intraday)

	bars := flatKlineBars(30)
	sim.SetKlineSerial("DCE.c2605", 300, bars) // intraday mode reads 5-minute bars
	sim.SetQuote("DCE.c2605", broker.Quote{LastPrice: bars[len(bars)-1].Close, VolumeMultiple: 10})

	account := s.md.GetAccount()
	s.evaluateEntry(context.Background(), "C2605", "DCE.c2605", account, time.Now())

	assert.Nil(t, s.store.Position("C2605"))
	decisions := s.store.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, "HOLD", decisions[0].Action)
}

func TestRunMonitorClosesOnStopLossHit(t *testing.T) {
	s, sim := newTestScheduler(t, Swing)

	_, err := s.posMgr.Open("C2605", models.Long, 2450, 10, 1, s.cfg.PosParams)
	require.NoError(t, err)

	sim.SetPosition("DCE.c2605", broker.Position{PosLong: 1, OpenPriceLong: 2450})
	sim.SetQuote("DCE.c2605", broker.Quote{LastPrice: 2437.9, High: 2437.9, Low: 2437.9})

	s.runMonitor(context.Background())

	assert.Nil(t, s.store.Position("C2605"))
	page := s.store.TradeLogPage(0, 10)
	require.Len(t, page, 2)
	assert.Equal(t, "CLOSE", page[0].Action)
}

func TestReconcileOneRestoresPositionFromBroker(t *testing.T) {
	s, sim := newTestScheduler(t, Swing)

	sim.SetPosition("DCE.c2605", broker.Position{PosLong: 2, OpenPriceLong: 2440})
	sim.SetKlineSerial("DCE.c2605", 900, atrKlineBars(atrPeriod+1, 2440)) // swing mode reads 15-minute bars

	s.reconcileOne("C2605", "DCE.c2605")

	restored := s.store.Position("C2605")
	require.NotNil(t, restored)
	assert.Equal(t, models.Long, restored.Direction)
	assert.Equal(t, 2, restored.Lots)
}

func TestAddContractIsIdempotentAndRejectsUnknownSymbols(t *testing.T) {
	s, _ := newTestScheduler(t, Swing)

	ok, _ := s.AddContract("M2605")
	assert.True(t, ok)
	assert.Contains(t, s.Contracts(), "M2605")

	ok, msg := s.AddContract("M2605")
	assert.True(t, ok)
	assert.Contains(t, msg, "already tracked")

	ok, _ = s.AddContract("not-a-symbol")
	assert.False(t, ok)
}

func TestRemoveContractFailsWithOpenPosition(t *testing.T) {
	s, _ := newTestScheduler(t, Swing)
	_, err := s.posMgr.Open("C2605", models.Long, 2450, 10, 1, s.cfg.PosParams)
	require.NoError(t, err)

	ok, msg := s.RemoveContract("C2605")
	assert.False(t, ok)
	assert.Contains(t, msg, "open managed position")
	assert.Contains(t, s.Contracts(), "C2605")
}

func TestRemoveContractSucceedsWhenFlat(t *testing.T) {
	s, _ := newTestScheduler(t, Swing)

	ok, _ := s.RemoveContract("C2605")
	assert.True(t, ok)
	assert.NotContains(t, s.Contracts(), "C2605")

	ok, msg := s.RemoveContract("C2605")
	assert.False(t, ok)
	assert.Contains(t, msg, "not tracked")
}

func TestLatestATRUsesModeSpecificKlineDuration(t *testing.T) {
	swing, sim := newTestScheduler(t, Swing)
	assert.Equal(t, 900, swing.cfg.KlineDuration)
	sim.SetKlineSerial("DCE.c2605", 900, atrKlineBars(atrPeriod+1, 2440))
	assert.Greater(t, swing.latestATR("DCE.c2605"), 0.0)

	intraday, sim2 := newTestScheduler(t, Intraday)
	assert.Equal(t, 300, intraday.cfg.KlineDuration)
	sim2.SetKlineSerial("DCE.c2605", 300, atrKlineBars(atrPeriod+1, 2440))
	assert.Greater(t, intraday.latestATR("DCE.c2605"), 0.0)
}

func newStartedService(t *testing.T, sim *broker.SimGateway) *marketdata.Service {
	t.Helper()
	md := marketdata.New(sim, nil)
	require.NoError(t, md.Start(context.Background(), "u", "p", broker.Sim, "", "acct"))
	t.Cleanup(md.Stop)
	return md
}

func flatKlineBars(n int) []broker.KlineBar {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	bars := make([]broker.KlineBar, n)
	for i := range bars {
		bars[i] = broker.KlineBar{
			DateTime: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:     100, High: 100.5, Low: 99.5, Close: 100, Volume: 1000,
		}
	}
	return bars
}

func atrKlineBars(n int, base float64) []broker.KlineBar {
	bars := make([]broker.KlineBar, n)
	baseTime := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	price := base
	for i := range bars {
		bars[i] = broker.KlineBar{
			DateTime: baseTime.Add(time.Duration(i) * 5 * time.Minute),
			Open:     price, High: price + 4, Low: price - 4, Close: price, Volume: 1000,
		}
	}
	return bars
}
