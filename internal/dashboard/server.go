// Package dashboard serves a read-only JSON view of the engine state.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dmarquardt/condorkeeper/internal/broker"
	"github.com/dmarquardt/condorkeeper/internal/config"
	"github.com/dmarquardt/condorkeeper/internal/greeks"
	"github.com/dmarquardt/condorkeeper/internal/models"
	"github.com/dmarquardt/condorkeeper/internal/storage"
)

// Server exposes positions, portfolio greeks, statistics and Prometheus
// metrics over HTTP. All endpoints are read-only.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	greeks    *greeks.Aggregator
	market    broker.Broker
	logger    *logrus.Logger
	addr      string
	authToken string
}

// PositionView is the wire shape of one position.
type PositionView struct {
	ID              string     `json:"id"`
	Symbol          string     `json:"symbol"`
	Strategy        string     `json:"strategy"`
	Status          string     `json:"status"`
	EntryDate       time.Time  `json:"entry_date"`
	Expiration      time.Time  `json:"expiration"`
	DTE             int        `json:"dte"`
	ShortStrike     float64    `json:"short_strike"`
	LongStrike      float64    `json:"long_strike"`
	CallShortStrike *float64   `json:"call_short_strike,omitempty"`
	CallLongStrike  *float64   `json:"call_long_strike,omitempty"`
	EntryCredit     float64    `json:"entry_credit"`
	CurrentPnL      float64    `json:"current_pnl"`
	CurrentPnLPct   float64    `json:"current_pnl_pct"`
	ProfitTarget    float64    `json:"profit_target"`
	StopLoss        float64    `json:"stop_loss"`
	RollCount       int        `json:"roll_count"`
	ExitReason      string     `json:"exit_reason,omitempty"`
	ExitDate        *time.Time `json:"exit_date,omitempty"`
}

// NewServer creates the dashboard server.
func NewServer(cfg config.DashboardConfig, store storage.Interface, agg *greeks.Aggregator, market broker.Broker, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		greeks:    agg,
		market:    market,
		logger:    logger,
		addr:      cfg.ListenAddr,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/api/positions", s.handlePositions)
	s.router.Get("/api/positions/{id}", s.handlePosition)
	s.router.Get("/api/greeks", s.handleGreeks)
	s.router.Get("/api/stats", s.handleStats)
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health and metrics stay open for probes and scrapers.
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until the listener fails or is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.WithField("addr", s.addr).Info("starting dashboard server")
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.storage.GetAllPositions()
	if r.URL.Query().Get("status") == "open" {
		positions = s.storage.GetOpenPositions()
	}

	views := make([]PositionView, 0, len(positions))
	for i := range positions {
		views = append(views, toView(&positions[i]))
	}
	s.writeJSON(w, views)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	pos, ok := s.storage.GetPositionByID(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, toView(pos))
}

func (s *Server) handleGreeks(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.greeks.Snapshot())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	type statsView struct {
		storage.Statistics
		OpenPositions  int     `json:"open_positions"`
		AccountBalance float64 `json:"account_balance,omitempty"`
	}

	view := statsView{
		Statistics:    s.storage.GetStatistics(),
		OpenPositions: s.storage.OpenPositionCount(),
	}
	if balance, err := s.market.GetAccountBalance(r.Context()); err == nil {
		view.AccountBalance = balance
	} else {
		s.logger.WithError(err).Warn("account balance unavailable for stats")
	}
	s.writeJSON(w, view)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("encoding response failed")
	}
}

func toView(pos *models.Position) PositionView {
	return PositionView{
		ID:              pos.ID,
		Symbol:          pos.Symbol,
		Strategy:        string(pos.Strategy),
		Status:          string(pos.Status),
		EntryDate:       pos.EntryDate,
		Expiration:      pos.Expiration,
		DTE:             pos.CalculateDTE(),
		ShortStrike:     pos.ShortStrike,
		LongStrike:      pos.LongStrike,
		CallShortStrike: pos.CallShortStrike,
		CallLongStrike:  pos.CallLongStrike,
		EntryCredit:     pos.EntryCredit,
		CurrentPnL:      pos.CurrentPnL,
		CurrentPnLPct:   pos.CurrentPnLPct,
		ProfitTarget:    pos.ProfitTarget,
		StopLoss:        pos.StopLoss,
		RollCount:       pos.RollCount,
		ExitReason:      string(pos.ExitReason),
		ExitDate:        pos.ExitDate,
	}
}
