package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validYAML() string {
	return `
environment: { mode: "sim", log_level: "info" }
broker: { user: "demo", broker_id: "", trade_mode: "sim" }
storage: { data_dir: "./data" }
dashboard: { enabled: false, port: 9847 }
trade:
  contracts: ["C2605"]
  enabled: true
  max_lots: 2
  max_positions: 3
  signal_threshold: 0.55
  analysis_interval: 300
  atr_sl_multiplier: 1.5
  atr_tp_multiplier: 3.0
  trail_step_atr: 0.5
  trail_move_atr: 0.25
  max_risk_per_trade: 0.02
  max_risk_ratio: 0.8
  close_before_market_close: true
  strategy_mode: "swing"
  intraday_kline_duration: 300
  intraday_scan_interval: 15
  max_daily_loss: 0.03
  max_consecutive_losses: 3
`
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("BROKER_API_KEY", "demo-user")
	path := writeTemp(t, validYAML())
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"C2605"}, cfg.Trade.Contracts)
	assert.Equal(t, "demo-user", cfg.Broker.User)
	assert.True(t, cfg.Trade.Enabled)
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	assert.Error(t, err)
}

func TestLoad_UnknownFields(t *testing.T) {
	t.Setenv("BROKER_API_KEY", "demo-user")
	bad := validYAML() + "\nextra_unknown_key: true\n"
	path := writeTemp(t, bad)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingCredentials(t *testing.T) {
	t.Setenv("BROKER_API_KEY", "")
	path := writeTemp(t, strings.Replace(validYAML(), "user: \"demo\", ", "", 1))
	_, err := Load(path)
	assert.ErrorContains(t, err, "broker credentials")
}

func TestValidate_StrategyMode(t *testing.T) {
	cfg := &Config{
		Environment: EnvironmentConfig{Mode: "sim", LogLevel: "info"},
		Broker:      BrokerConfig{User: "u"},
		Storage:     StorageConfig{DataDir: "./data"},
		Trade:       TradeConfig{StrategyMode: "bogus"},
	}
	cfg.Normalize()
	cfg.Trade.StrategyMode = "bogus"
	err := cfg.Validate()
	assert.ErrorContains(t, err, "strategy_mode")
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := &Config{
		Environment: EnvironmentConfig{Mode: "sim"},
		Broker:      BrokerConfig{User: "u"},
	}
	cfg.Normalize()
	assert.Equal(t, defaultMaxLots, cfg.Trade.MaxLots)
	assert.Equal(t, defaultSignalThreshold, cfg.Trade.SignalThreshold)
	assert.Equal(t, "swing", cfg.Trade.StrategyMode)
	assert.Equal(t, 9847, cfg.Dashboard.Port)
	require.NoError(t, cfg.Validate())
}

func TestNormalizeDefaults_ModeBranching(t *testing.T) {
	swing := &Config{
		Environment: EnvironmentConfig{Mode: "sim"},
		Broker:      BrokerConfig{User: "u"},
		Trade:       TradeConfig{StrategyMode: "swing"},
	}
	swing.Normalize()
	assert.InDelta(t, defaultATRSLMultiplierSwing, swing.Trade.ATRSLMultiplier, 1e-9)
	assert.InDelta(t, defaultATRTPMultiplierSwing, swing.Trade.ATRTPMultiplier, 1e-9)
	assert.InDelta(t, defaultTrailStepATRSwing, swing.Trade.TrailStepATR, 1e-9)
	assert.InDelta(t, defaultTrailMoveATRSwing, swing.Trade.TrailMoveATR, 1e-9)
	assert.InDelta(t, defaultMaxRiskPerTradeSwing, swing.Trade.MaxRiskPerTrade, 1e-9)
	assert.Equal(t, defaultSwingKlineDuration, swing.Trade.KlineDuration())

	intra := &Config{
		Environment: EnvironmentConfig{Mode: "sim"},
		Broker:      BrokerConfig{User: "u"},
		Trade:       TradeConfig{StrategyMode: "intraday"},
	}
	intra.Normalize()
	assert.InDelta(t, defaultATRSLMultiplierIntra, intra.Trade.ATRSLMultiplier, 1e-9)
	assert.InDelta(t, defaultATRTPMultiplierIntra, intra.Trade.ATRTPMultiplier, 1e-9)
	assert.InDelta(t, defaultTrailStepATRIntra, intra.Trade.TrailStepATR, 1e-9)
	assert.InDelta(t, defaultTrailMoveATRIntra, intra.Trade.TrailMoveATR, 1e-9)
	assert.InDelta(t, defaultMaxRiskPerTradeIntra, intra.Trade.MaxRiskPerTrade, 1e-9)
	assert.Equal(t, defaultIntradayKlineDuration, intra.Trade.KlineDuration())
}

func TestIsIntraday(t *testing.T) {
	tc := TradeConfig{StrategyMode: "intraday"}
	assert.True(t, tc.IsIntraday())
	tc.StrategyMode = "swing"
	assert.False(t, tc.IsIntraday())
}

func TestIsLive(t *testing.T) {
	cfg := &Config{Environment: EnvironmentConfig{Mode: "live"}}
	assert.True(t, cfg.IsLive())
	cfg.Environment.Mode = "sim"
	assert.False(t, cfg.IsLive())
}
