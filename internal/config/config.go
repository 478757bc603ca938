// Package config provides configuration management for the trading engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults for optional trade parameters, applied by Normalize.
const (
	defaultMaxLots               = 1
	defaultMaxPositions          = 1
	defaultSignalThreshold       = 0.55
	defaultAnalysisInterval      = 300
	defaultATRSLMultiplierSwing  = 1.5
	defaultATRTPMultiplierSwing  = 3.0
	defaultTrailStepATRSwing     = 0.5
	defaultTrailMoveATRSwing     = 0.25
	defaultMaxRiskPerTradeSwing  = 0.02
	defaultATRSLMultiplierIntra  = 1.2
	defaultATRTPMultiplierIntra  = 2.0
	defaultTrailStepATRIntra     = 0.3
	defaultTrailMoveATRIntra     = 0.15
	defaultMaxRiskPerTradeIntra  = 0.01
	defaultMaxRiskRatio          = 0.80
	defaultSwingKlineDuration    = 900
	defaultIntradayKlineDuration = 300
	defaultIntradayScanInterval  = 15
	defaultMaxDailyLoss          = 0.03
	defaultMaxConsecutiveLosses  = 3
)

// Config is the complete application configuration, loaded from YAML with
// environment variable overrides applied to broker credentials.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Trade       TradeConfig       `yaml:"trade"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // sim | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines gateway connection settings. User is read from the
// YAML file unless BROKER_API_KEY overrides it; Password and Account are
// never read from YAML and come only from the BROKER_PASSWORD and
// BROKER_ACCOUNT_ID environment variables.
type BrokerConfig struct {
	User      string `yaml:"user"`
	Password  string `yaml:"-"`
	BrokerID  string `yaml:"broker_id"`
	Account   string `yaml:"-"`
	TradeMode string `yaml:"trade_mode"` // sim | live
}

// StorageConfig defines the data directory holding the four persistence
// files (auto_decisions.json, auto_positions.json, auto_trade_log.json,
// auto_config.json).
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// DashboardConfig defines the read-only status/dashboard HTTP surface.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"-"`
}

// TradeConfig holds the strategy parameters enumerated in the engine's
// external control surface. This is the operator-editable structural
// subset (contracts, mode, intervals). The storage layer keeps a separate
// runtime copy of these fields, including enabled and the contract list,
// in auto_config.json (storage.RuntimeConfig), so it survives a restart
// without touching the YAML file an operator hand-edits. The intraday
// daily risk state is part of neither and is held in memory only.
type TradeConfig struct {
	Contracts              []string `yaml:"contracts"`
	Enabled                bool     `yaml:"enabled"`
	MaxLots                int      `yaml:"max_lots"`
	MaxPositions           int      `yaml:"max_positions"`
	SignalThreshold        float64  `yaml:"signal_threshold"`
	AnalysisInterval       int      `yaml:"analysis_interval"` // seconds, swing mode
	ATRSLMultiplier        float64  `yaml:"atr_sl_multiplier"`
	ATRTPMultiplier        float64  `yaml:"atr_tp_multiplier"`
	TrailStepATR           float64  `yaml:"trail_step_atr"`
	TrailMoveATR           float64  `yaml:"trail_move_atr"`
	MaxRiskPerTrade        float64  `yaml:"max_risk_per_trade"`
	MaxRiskRatio           float64  `yaml:"max_risk_ratio"`
	CloseBeforeMarketClose bool     `yaml:"close_before_market_close"`
	StrategyMode           string   `yaml:"strategy_mode"`        // swing | intraday
	SwingKlineDuration     int      `yaml:"swing_kline_duration"` // seconds, 15m bars per spec
	IntradayKlineDuration  int      `yaml:"intraday_kline_duration"`
	IntradayScanInterval   int      `yaml:"intraday_scan_interval"` // seconds
	MaxDailyLoss           float64  `yaml:"max_daily_loss"`
	MaxConsecutiveLosses   int      `yaml:"max_consecutive_losses"`
	BreakevenTriggerATR    float64  `yaml:"breakeven_trigger_atr"`
}

// IsIntraday reports whether the configured strategy mode is "intraday".
func (t *TradeConfig) IsIntraday() bool {
	return t.StrategyMode == "intraday"
}

// Load reads and parses the configuration file from the specified path,
// applying environment variable overrides for broker credentials.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", configPath, err)
	}

	cfg.Broker.Password = os.Getenv("BROKER_PASSWORD")
	cfg.Broker.Account = os.Getenv("BROKER_ACCOUNT_ID")
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		cfg.Broker.User = v
	}
	if v := os.Getenv("DASHBOARD_AUTH_TOKEN"); v != "" {
		cfg.Dashboard.AuthToken = v
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Normalize fills unset optional fields with defaults.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Environment.Mode) == "" {
		c.Environment.Mode = "sim"
	}
	if strings.TrimSpace(c.Environment.LogLevel) == "" {
		c.Environment.LogLevel = "info"
	}
	if strings.TrimSpace(c.Broker.TradeMode) == "" {
		c.Broker.TradeMode = c.Environment.Mode
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 9847
	}

	t := &c.Trade
	if t.MaxLots == 0 {
		t.MaxLots = defaultMaxLots
	}
	if t.MaxPositions == 0 {
		t.MaxPositions = defaultMaxPositions
	}
	if t.SignalThreshold == 0 {
		t.SignalThreshold = defaultSignalThreshold
	}
	if t.AnalysisInterval == 0 {
		t.AnalysisInterval = defaultAnalysisInterval
	}
	if strings.TrimSpace(t.StrategyMode) == "" {
		t.StrategyMode = "swing"
	}

	// ATR/trail/risk defaults differ by strategy mode per spec §4.6/§4.7:
	// swing trades wider ATR multiples on 15-minute bars, intraday trades
	// tighter multiples on 5-minute bars.
	if t.IsIntraday() {
		if t.ATRSLMultiplier == 0 {
			t.ATRSLMultiplier = defaultATRSLMultiplierIntra
		}
		if t.ATRTPMultiplier == 0 {
			t.ATRTPMultiplier = defaultATRTPMultiplierIntra
		}
		if t.TrailStepATR == 0 {
			t.TrailStepATR = defaultTrailStepATRIntra
		}
		if t.TrailMoveATR == 0 {
			t.TrailMoveATR = defaultTrailMoveATRIntra
		}
		if t.MaxRiskPerTrade == 0 {
			t.MaxRiskPerTrade = defaultMaxRiskPerTradeIntra
		}
	} else {
		if t.ATRSLMultiplier == 0 {
			t.ATRSLMultiplier = defaultATRSLMultiplierSwing
		}
		if t.ATRTPMultiplier == 0 {
			t.ATRTPMultiplier = defaultATRTPMultiplierSwing
		}
		if t.TrailStepATR == 0 {
			t.TrailStepATR = defaultTrailStepATRSwing
		}
		if t.TrailMoveATR == 0 {
			t.TrailMoveATR = defaultTrailMoveATRSwing
		}
		if t.MaxRiskPerTrade == 0 {
			t.MaxRiskPerTrade = defaultMaxRiskPerTradeSwing
		}
	}
	if t.MaxRiskRatio == 0 {
		t.MaxRiskRatio = defaultMaxRiskRatio
	}
	if t.SwingKlineDuration == 0 {
		t.SwingKlineDuration = defaultSwingKlineDuration
	}
	if t.IntradayKlineDuration == 0 {
		t.IntradayKlineDuration = defaultIntradayKlineDuration
	}
	if t.IntradayScanInterval == 0 {
		t.IntradayScanInterval = defaultIntradayScanInterval
	}
	if t.MaxDailyLoss == 0 {
		t.MaxDailyLoss = defaultMaxDailyLoss
	}
	if t.MaxConsecutiveLosses == 0 {
		t.MaxConsecutiveLosses = defaultMaxConsecutiveLosses
	}
	if t.BreakevenTriggerATR == 0 {
		t.BreakevenTriggerATR = 1.0
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "sim" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'sim' or 'live'")
	}
	switch strings.ToLower(c.Environment.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of: debug, info, warn, error")
	}
	if strings.TrimSpace(c.Broker.User) == "" {
		return fmt.Errorf("broker credentials are required (BROKER_API_KEY)")
	}

	t := &c.Trade
	if t.StrategyMode != "swing" && t.StrategyMode != "intraday" {
		return fmt.Errorf("trade.strategy_mode must be 'swing' or 'intraday'")
	}
	if t.MaxLots <= 0 {
		return fmt.Errorf("trade.max_lots must be > 0")
	}
	if t.MaxPositions <= 0 {
		return fmt.Errorf("trade.max_positions must be > 0")
	}
	if t.SignalThreshold <= 0 || t.SignalThreshold > 1 {
		return fmt.Errorf("trade.signal_threshold must be in (0,1]")
	}
	if t.MaxRiskRatio <= 0 || t.MaxRiskRatio > 1 {
		return fmt.Errorf("trade.max_risk_ratio must be in (0,1]")
	}
	if t.MaxRiskPerTrade <= 0 || t.MaxRiskPerTrade > 1 {
		return fmt.Errorf("trade.max_risk_per_trade must be in (0,1]")
	}
	if t.AnalysisInterval <= 0 {
		return fmt.Errorf("trade.analysis_interval must be > 0")
	}
	if t.IntradayScanInterval <= 0 {
		return fmt.Errorf("trade.intraday_scan_interval must be > 0")
	}
	if t.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("trade.max_consecutive_losses must be > 0")
	}

	if c.Dashboard.Enabled {
		if c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535 {
			return fmt.Errorf("dashboard.port must be between 1 and 65535")
		}
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return fmt.Errorf("storage.data_dir is required")
	}

	return nil
}

// IsLive returns true if the engine is configured for live trading.
func (c *Config) IsLive() bool {
	return c.Environment.Mode == "live"
}

// AnalysisIntervalDuration returns the swing-mode analysis interval as a
// time.Duration.
func (c *Config) AnalysisIntervalDuration() time.Duration {
	return time.Duration(c.Trade.AnalysisInterval) * time.Second
}

// IntradayScanIntervalDuration returns the intraday fast-scan interval as
// a time.Duration.
func (c *Config) IntradayScanIntervalDuration() time.Duration {
	return time.Duration(c.Trade.IntradayScanInterval) * time.Second
}

// KlineDuration returns the bar size, in seconds, that ATR and signal
// evaluation should use for the configured strategy mode: 15-minute bars
// for swing, 5-minute bars for intraday (spec §4.6/§4.7).
func (t *TradeConfig) KlineDuration() int {
	if t.IsIntraday() {
		return t.IntradayKlineDuration
	}
	return t.SwingKlineDuration
}
