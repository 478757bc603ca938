// Package dashboard exposes the engine's control surface (spec.md §6)
// read-only over HTTP: /status, /decisions, /positions, /trades. It never
// accepts a write — config changes, contract add/remove, and order
// placement stay host-library calls against internal/scheduler rather
// than HTTP endpoints — generalizing the teacher's chi-routed,
// bearer-token-gated dashboard.Server from an options-strangle HTML view
// to a JSON status API.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/mkovacs-dev/futurecore/internal/config"
	"github.com/mkovacs-dev/futurecore/internal/marketdata"
	"github.com/mkovacs-dev/futurecore/internal/risk"
	"github.com/mkovacs-dev/futurecore/internal/scheduler"
	"github.com/mkovacs-dev/futurecore/internal/storage"
	"github.com/mkovacs-dev/futurecore/internal/symbol"
)

// Config is the dashboard HTTP surface's own settings, mirroring
// config.DashboardConfig.
type Config struct {
	Port      int
	AuthToken string
}

// Server is the read-only status/dashboard HTTP surface. It holds no
// state of its own; every response is built fresh from the shared engine
// components at request time.
type Server struct {
	router *chi.Mux
	http   *http.Server
	logger *logrus.Logger

	port      int
	authToken string

	store *storage.Store
	md    *marketdata.Service
	sched *scheduler.Scheduler
	trade config.TradeConfig
}

// NewServer wires a Server to the engine's shared components. logger is
// never nil; callers get a default JSON-formatted logrus.Logger if they
// pass nil.
func NewServer(cfg Config, store *storage.Store, md *marketdata.Service, sched *scheduler.Scheduler, trade config.TradeConfig, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		store:     store,
		md:        md,
		sched:     sched,
		trade:     trade,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLoggerMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(15 * time.Second))

	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		if s.authToken != "" {
			r.Use(s.authMiddleware)
		}
		r.Get("/status", s.handleStatus)
		r.Get("/decisions", s.handleDecisions)
		r.Get("/positions", s.handlePositions)
		r.Get("/trades", s.handleTrades)
	})
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.Status(),
			"duration": time.Since(start),
		}).Info("dashboard request")
	})
}

// authMiddleware checks a bearer token per spec.md §6's "bearer-token
// gated" control surface; the health endpoint is reachable unauthenticated
// for process liveness checks.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		h := r.Header.Get("Authorization")
		if len(h) <= len(prefix) || h[:len(prefix)] != prefix || h[len(prefix):] != s.authToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "timestamp": time.Now().Unix()})
}

// PositionStatus is one symbol's managed position as surfaced by
// get_status()'s `managed_positions` field (spec.md §6).
type PositionStatus struct {
	Direction       string  `json:"direction"`
	Entry           float64 `json:"entry"`
	ATR             float64 `json:"atr"`
	StopLoss        float64 `json:"stop_loss"`
	TakeProfit      float64 `json:"take_profit"`
	Lots            int     `json:"lots"`
	CurrentPrice    float64 `json:"current_price"`
	FloatPnL        float64 `json:"float_pnl"`
	FloatPnLPercent float64 `json:"float_pnl_pct"`
}

// Status is the full get_status() response (spec.md §6).
type Status struct {
	Running          bool                      `json:"running"`
	Contracts        []string                  `json:"contracts"`
	Config           config.TradeConfig        `json:"config"`
	EffectiveParams  EffectiveParams           `json:"effective_params"`
	AIBias           map[string]string         `json:"ai_bias"`
	DailyPnL         float64                   `json:"daily_pnl"`
	DailyLossCount   int                       `json:"daily_loss_count"`
	ManagedPositions map[string]PositionStatus `json:"managed_positions"`
	PnLSummary       float64                   `json:"pnl_summary"`
	AccountPnL       float64                   `json:"account_pnl"`
	UnrealizedPnL    float64                   `json:"unrealized_pnl"`
	DecisionsCount   int                       `json:"decisions_count"`
	TradingHours     bool                      `json:"trading_hours"`
}

// EffectiveParams is the risk/position parameter set actually in force,
// after config.Normalize defaults have been applied.
type EffectiveParams struct {
	ATRSLMultiplier       float64 `json:"atr_sl_multiplier"`
	ATRTPMultiplier       float64 `json:"atr_tp_multiplier"`
	TrailStepATR          float64 `json:"trail_step_atr"`
	TrailMoveATR          float64 `json:"trail_move_atr"`
	BreakevenTriggerATR   float64 `json:"breakeven_trigger_atr"`
	MaxLots               int     `json:"max_lots"`
	MaxRiskPerTrade       float64 `json:"max_risk_per_trade"`
	MaxRiskRatio          float64 `json:"max_risk_ratio"`
	MaxDailyLoss          float64 `json:"max_daily_loss"`
	MaxConsecutiveLosses  int     `json:"max_consecutive_losses"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	daily := s.sched.Daily()
	account := s.md.GetAccount()
	contracts := s.sched.Contracts()

	bias := make(map[string]string, len(contracts))
	positions := make(map[string]PositionStatus)
	for _, sym := range contracts {
		bias[sym] = string(s.sched.Bias(sym))

		pos := s.store.Position(sym)
		if pos == nil {
			continue
		}
		currentPrice := pos.EntryPrice
		if brokerSym, err := symbol.ToBroker(sym); err == nil {
			if q, ok := s.md.GetQuote(brokerSym); ok && q.LastPrice > 0 {
				currentPrice = q.LastPrice
			}
		}
		positions[sym] = PositionStatus{
			Direction:       string(pos.Direction),
			Entry:           pos.EntryPrice,
			ATR:             pos.ATRAtEntry,
			StopLoss:        pos.StopLoss,
			TakeProfit:      pos.TakeProfit,
			Lots:            pos.Lots,
			CurrentPrice:    currentPrice,
			FloatPnL:        pos.PnLPoints(currentPrice),
			FloatPnLPercent: pos.PnLPercent(currentPrice),
		}
	}

	status := Status{
		Running:   s.sched.IsRunning(),
		Contracts: contracts,
		Config:    s.trade,
		EffectiveParams: EffectiveParams{
			ATRSLMultiplier:      s.trade.ATRSLMultiplier,
			ATRTPMultiplier:      s.trade.ATRTPMultiplier,
			TrailStepATR:         s.trade.TrailStepATR,
			TrailMoveATR:         s.trade.TrailMoveATR,
			BreakevenTriggerATR:  s.trade.BreakevenTriggerATR,
			MaxLots:              s.trade.MaxLots,
			MaxRiskPerTrade:      s.trade.MaxRiskPerTrade,
			MaxRiskRatio:         s.trade.MaxRiskRatio,
			MaxDailyLoss:         s.trade.MaxDailyLoss,
			MaxConsecutiveLosses: s.trade.MaxConsecutiveLosses,
		},
		AIBias:           bias,
		DailyPnL:         daily.RealizedPnL,
		DailyLossCount:   daily.ConsecutiveLosses,
		ManagedPositions: positions,
		PnLSummary:       account.CloseProfit + account.PositionProfit,
		AccountPnL:       account.FloatProfit,
		UnrealizedPnL:    account.PositionProfit,
		DecisionsCount:   len(s.store.Decisions()),
		TradingHours:     risk.SessionOpen(now),
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 0)
	pageSize := queryInt(r, "page_size", 50)
	writeJSON(w, http.StatusOK, pageDecisions(s.store.Decisions(), page, pageSize))
}

// pageDecisions returns a page of decisions, most recent first, mirroring
// storage.Store.TradeLogPage's windowing over an oldest-first slice.
func pageDecisions(decisions []storage.Decision, page, pageSize int) []storage.Decision {
	if pageSize <= 0 {
		pageSize = len(decisions)
	}
	start := len(decisions) - (page+1)*pageSize
	end := len(decisions) - page*pageSize
	if end > len(decisions) {
		end = len(decisions)
	}
	if end <= 0 || start >= end {
		return nil
	}
	if start < 0 {
		start = 0
	}
	out := make([]storage.Decision, end-start)
	for i := range out {
		out[i] = decisions[end-1-i]
	}
	return out
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Positions())
}

// handleTrades serves get_trade_log(page, page_size) (spec.md §6): the
// append-only open/close fill log, most recent first, as
// storage.Store.TradeLogPage already returns it.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 0)
	pageSize := queryInt(r, "page_size", 50)
	writeJSON(w, http.StatusOK, s.store.TradeLogPage(page, pageSize))
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Infof("dashboard: listening on :%d", s.port)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
