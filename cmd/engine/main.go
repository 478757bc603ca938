// Package main is the entry point for the futures trading engine: it
// wires the broker gateway, market-data actor, persistence, position
// manager, strategy scheduler, and the read-only dashboard together, then
// runs until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkovacs-dev/futurecore/internal/broker"
	"github.com/mkovacs-dev/futurecore/internal/config"
	"github.com/mkovacs-dev/futurecore/internal/dashboard"
	"github.com/mkovacs-dev/futurecore/internal/marketdata"
	"github.com/mkovacs-dev/futurecore/internal/position"
	"github.com/mkovacs-dev/futurecore/internal/retry"
	"github.com/mkovacs-dev/futurecore/internal/risk"
	"github.com/mkovacs-dev/futurecore/internal/scheduler"
	"github.com/mkovacs-dev/futurecore/internal/signal"
	"github.com/mkovacs-dev/futurecore/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}

	logger := log.New(os.Stdout, "[ENGINE] ", log.LstdFlags|log.Lshortfile)
	logger.Printf("starting futures engine in %s mode (strategy=%s)", cfg.Environment.Mode, cfg.Trade.StrategyMode)

	if cfg.IsLive() {
		logger.Println("LIVE TRADING MODE - real money at risk")
	} else {
		logger.Println("SIM MODE - no real money at risk")
	}

	gw, err := buildGateway(cfg, logger)
	if err != nil {
		logger.Printf("failed to build broker gateway: %v", err)
		return 1
	}

	store, err := storage.New(cfg.Storage.DataDir, logger.Printf)
	if err != nil {
		logger.Printf("failed to initialize storage: %v", err)
		return 1
	}

	posMgr := position.NewManager(store)
	md := marketdata.New(gw, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := md.Start(ctx, cfg.Broker.User, cfg.Broker.Password, broker.TradeMode(cfg.Broker.TradeMode), cfg.Broker.BrokerID, cfg.Broker.Account); err != nil {
		logger.Printf("failed to start market data service: %v", err)
		return 1
	}
	defer md.Stop()

	oracle := buildOracle(logger)

	runtime := store.Config()
	contracts := cfg.Trade.Contracts
	if scheduler.AutoResume(runtime) {
		contracts = runtime.Contracts
		logger.Printf("resuming previous runtime config: %d contract(s)", len(contracts))
	}

	mode := scheduler.Swing
	if cfg.Trade.IsIntraday() {
		mode = scheduler.Intraday
	}

	sched := scheduler.New(scheduler.Config{
		Mode:      mode,
		Contracts: contracts,
		MaxLots:   cfg.Trade.MaxLots,
		RiskParams: risk.Params{
			SLMult:               cfg.Trade.ATRSLMultiplier,
			RiskPct:              cfg.Trade.MaxRiskPerTrade,
			MaxLots:              cfg.Trade.MaxLots,
			MaxRiskRatio:         cfg.Trade.MaxRiskRatio,
			MaxDailyLoss:         cfg.Trade.MaxDailyLoss,
			MaxConsecutiveLosses: cfg.Trade.MaxConsecutiveLosses,
			Intraday:             cfg.Trade.IsIntraday(),
		},
		PosParams: position.Params{
			SLMult:              cfg.Trade.ATRSLMultiplier,
			TPMult:              cfg.Trade.ATRTPMultiplier,
			TrailStepATR:        cfg.Trade.TrailStepATR,
			TrailMoveATR:        cfg.Trade.TrailMoveATR,
			BreakevenTriggerATR: cfg.Trade.BreakevenTriggerATR,
		},
		SwingParams: position.Params{
			SLMult: cfg.Trade.ATRSLMultiplier,
			TPMult: cfg.Trade.ATRTPMultiplier,
		},
		KlineDuration: cfg.Trade.KlineDuration(),
	}, md, oracle, store, posMgr, logger)

	var dashServer *dashboard.Server
	if cfg.Dashboard.Enabled {
		dashLogger := logrus.New()
		dashLogger.SetOutput(os.Stdout)
		if cfg.Environment.Mode == "live" {
			dashLogger.SetFormatter(&logrus.JSONFormatter{})
		} else {
			dashLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		}
		if lvl, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
			dashLogger.SetLevel(lvl)
		} else {
			dashLogger.SetLevel(logrus.InfoLevel)
		}

		dashServer = dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
		}, store, md, sched, cfg.Trade, dashLogger)

		go func() {
			if err := dashServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("dashboard server error: %v", err)
			}
		}()
		logger.Printf("dashboard enabled at :%d", cfg.Dashboard.Port)

		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := dashServer.Shutdown(shutdownCtx); err != nil {
				logger.Printf("error shutting down dashboard: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("shutdown signal received, stopping engine...")
		cancel()
	}()

	sched.Run(ctx)

	logger.Println("engine stopped")
	return 0
}

// buildGateway constructs the broker gateway per the configured trade
// mode, wrapping it in a circuit breaker and a retrying order client. Only
// sim mode has a concrete implementation in this tree; live mode has no
// CTP/exchange wire client to build against, so it fails fast rather than
// silently falling back to the simulator.
func buildGateway(cfg *config.Config, logger *log.Logger) (broker.Gateway, error) {
	switch cfg.Broker.TradeMode {
	case string(broker.Sim):
		sim := broker.NewSimGateway(1000000)
		cb := broker.NewCircuitBreakerGateway(sim, logger)
		return retry.NewClient(cb, logger), nil
	case string(broker.Live):
		return nil, fmt.Errorf("live broker gateway not implemented; run with broker.trade_mode: sim")
	default:
		return nil, fmt.Errorf("unknown trade mode %q", cfg.Broker.TradeMode)
	}
}

// buildOracle wires the AI directional-bias oracle from environment
// configuration. Without an API key the oracle errors on every call,
// which the bias tracker treats as "stay at the prior bias" rather than a
// fatal startup condition.
func buildOracle(logger *log.Logger) signal.Oracle {
	o := signal.NewHTTPOracle(
		envOr("ORACLE_BASE_URL", "https://api.deepseek.com"),
		os.Getenv("ORACLE_API_KEY"),
		envOr("ORACLE_MODEL", "deepseek-chat"),
		"",
	)
	o.SetLogger(logger)
	return o
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
