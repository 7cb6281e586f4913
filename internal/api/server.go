package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-gate/internal/config"
	"github.com/atlas-desktop/strategy-gate/internal/data"
	"github.com/atlas-desktop/strategy-gate/internal/orchestrator"
	"github.com/atlas-desktop/strategy-gate/internal/scenarios"
	"github.com/atlas-desktop/strategy-gate/pkg/types"
)

// Server is the HTTP orchestration boundary. All evaluation semantics
// live in the core packages; handlers only decode, dispatch, encode.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *data.Store
	orch     *orchestrator.Orchestrator
	registry *scenarios.Registry
	hub      *Hub
	metrics  *Metrics
	http     *http.Server
}

// NewServer wires the HTTP server.
func NewServer(cfg *config.Config, store *data.Store, orch *orchestrator.Orchestrator, registry *scenarios.Registry, logger *zap.Logger) *Server {
	promReg := prometheus.NewRegistry()
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		orch:     orch,
		registry: registry,
		hub:      NewHub(logger),
		metrics:  NewMetrics(promReg),
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc(cfg.Server.WebSocketPath, s.hub.ServeWS)
	if cfg.Server.EnableMetrics {
		router.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/backtest", s.handleBacktest).Methods(http.MethodPost)
	v1.HandleFunc("/validate", s.handleValidate).Methods(http.MethodPost)
	v1.HandleFunc("/gate", s.handleGate).Methods(http.MethodPost)
	v1.HandleFunc("/risk/assess", s.handleRiskAssess).Methods(http.MethodPost)
	v1.HandleFunc("/run", s.handleRun).Methods(http.MethodPost)
	v1.HandleFunc("/scenarios", s.handleScenarios).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Start runs the hub and serves until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// evaluationRequest is the shared request shape for single-strategy
// endpoints.
type evaluationRequest struct {
	Strategy types.StrategySpec `json:"strategy"`
	Start    time.Time          `json:"start,omitempty"`
	End      time.Time          `json:"end,omitempty"`
}

type runRequest struct {
	Strategies []types.StrategySpec `json:"strategies"`
	Portfolio  types.PortfolioState `json:"portfolio"`
	Start      time.Time            `json:"start,omitempty"`
	End        time.Time            `json:"end,omitempty"`
	Validate   bool                 `json:"validate,omitempty"`
	Gate       bool                 `json:"gate,omitempty"`
}

type riskRequest struct {
	Portfolio    types.PortfolioState       `json:"portfolio"`
	Orders       []types.Order              `json:"orders"`
	LatestPrices map[string]decimal.Decimal `json:"latestPrices"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	tags := r.URL.Query()["tag"]
	s.writeJSON(w, http.StatusOK, s.registry.ByTags(tags))
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req evaluationRequest
	if !s.decode(w, r, &req) {
		return
	}
	bars, ok := s.loadBars(w, req.Strategy, req.Start, req.End)
	if !ok {
		return
	}

	started := time.Now()
	s.metrics.RunsTotal.Inc()
	s.hub.Publish(EventRunStarted, map[string]string{"strategy": req.Strategy.ID, "kind": "backtest"})

	result, err := s.orch.Run([]types.StrategySpec{req.Strategy}, bars, types.PortfolioState{Cash: s.cfg.Engine.InitialCash}, orchestrator.RunOptions{})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	candidate := result.Candidates[0]
	if candidate.SkipReason != "" {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("%s", candidate.SkipReason))
		return
	}
	s.metrics.RunDuration.Observe(time.Since(started).Seconds())
	s.metrics.TradesSimulated.Add(float64(len(candidate.Backtest.TradeLog)))
	s.hub.Publish(EventRunCompleted, map[string]string{"strategy": req.Strategy.ID, "kind": "backtest"})

	s.writeJSON(w, http.StatusOK, candidate.Backtest)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req evaluationRequest
	if !s.decode(w, r, &req) {
		return
	}
	bars, ok := s.loadBars(w, req.Strategy, req.Start, req.End)
	if !ok {
		return
	}

	s.metrics.RunsTotal.Inc()
	result, err := s.orch.Run([]types.StrategySpec{req.Strategy}, bars, types.PortfolioState{Cash: s.cfg.Engine.InitialCash}, orchestrator.RunOptions{Validate: true})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	candidate := result.Candidates[0]
	if candidate.SkipReason != "" {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("%s", candidate.SkipReason))
		return
	}
	s.writeJSON(w, http.StatusOK, candidate.Validation)
}

func (s *Server) handleGate(w http.ResponseWriter, r *http.Request) {
	var req evaluationRequest
	if !s.decode(w, r, &req) {
		return
	}
	bars, ok := s.loadBars(w, req.Strategy, req.Start, req.End)
	if !ok {
		return
	}

	s.metrics.RunsTotal.Inc()
	result, err := s.orch.Run([]types.StrategySpec{req.Strategy}, bars, types.PortfolioState{Cash: s.cfg.Engine.InitialCash}, orchestrator.RunOptions{Gate: true})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	candidate := result.Candidates[0]
	if candidate.SkipReason != "" {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("%s", candidate.SkipReason))
		return
	}
	if candidate.Gating != nil && !candidate.Gating.OverallPassed {
		s.metrics.GateFailures.Inc()
	}
	s.writeJSON(w, http.StatusOK, candidate.Gating)
}

func (s *Server) handleRiskAssess(w http.ResponseWriter, r *http.Request) {
	var req riskRequest
	if !s.decode(w, r, &req) {
		return
	}
	assessment := s.orch.AssessRisk(req.Portfolio, req.Orders, req.LatestPrices)
	s.writeJSON(w, http.StatusOK, assessment)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !s.decode(w, r, &req) {
		return
	}
	universe := map[string]struct{}{}
	for _, strategy := range req.Strategies {
		for _, sym := range strategy.Universe {
			universe[sym] = struct{}{}
		}
	}
	symbols := make([]string, 0, len(universe))
	for sym := range universe {
		symbols = append(symbols, sym)
	}
	bars, err := s.store.Load(symbols, defaultStart(req.Start), defaultEnd(req.End))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	started := time.Now()
	s.metrics.RunsTotal.Inc()
	s.hub.Publish(EventRunStarted, map[string]int{"strategies": len(req.Strategies)})

	result, err := s.orch.Run(req.Strategies, bars, req.Portfolio, orchestrator.RunOptions{
		Validate: req.Validate,
		Gate:     req.Gate,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.metrics.RunDuration.Observe(time.Since(started).Seconds())
	for _, c := range result.Candidates {
		if c.Backtest != nil {
			s.metrics.TradesSimulated.Add(float64(len(c.Backtest.TradeLog)))
		}
		if c.Gating != nil && !c.Gating.OverallPassed {
			s.metrics.GateFailures.Inc()
		}
		s.hub.Publish(EventStrategyEvaluated, map[string]string{
			"runId": result.RunID, "strategy": c.Strategy.ID,
		})
	}
	s.hub.Publish(EventRunCompleted, map[string]string{"runId": result.RunID})

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) loadBars(w http.ResponseWriter, strategy types.StrategySpec, start, end time.Time) (map[string][]types.PriceBar, bool) {
	symbols := strategy.Universe
	if len(symbols) == 0 {
		symbols = s.cfg.Data.DefaultUniverse
	}
	bars, err := s.store.Load(symbols, defaultStart(start), defaultEnd(end))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return bars, true
}

func defaultStart(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC().AddDate(-2, 0, 0)
	}
	return t
}

func defaultEnd(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
