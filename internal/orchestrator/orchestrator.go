// Package orchestrator runs batches of candidate strategies through
// the evaluation pipeline: backtest, order generation, risk screening,
// walk-forward validation, and scenario gating.
package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-gate/internal/backtester"
	"github.com/atlas-desktop/strategy-gate/internal/config"
	"github.com/atlas-desktop/strategy-gate/internal/orders"
	"github.com/atlas-desktop/strategy-gate/internal/risk"
	"github.com/atlas-desktop/strategy-gate/internal/scenarios"
	"github.com/atlas-desktop/strategy-gate/internal/workers"
	"github.com/atlas-desktop/strategy-gate/pkg/types"
)

// RunOptions selects which pipeline stages run for a batch.
type RunOptions struct {
	Validate bool
	Gate     bool
	// GateOverride reports gate failures but does not mark candidates
	// as blocked. The gate verdict itself is always the true one.
	GateOverride bool
}

// Orchestrator coordinates the evaluation pipeline for strategy
// batches.
type Orchestrator struct {
	cfg       *config.Config
	engine    *backtester.Engine
	validator *backtester.Validator
	generator *orders.Generator
	riskEng   *risk.Engine
	gate      *scenarios.Gate
	pool      *workers.Pool
	logger    *zap.Logger
}

// New wires an orchestrator from configuration. The configuration is
// validated first; a configuration error fails the whole construction
// before any strategy can run.
func New(cfg *config.Config, pool *workers.Pool, registry *scenarios.Registry, logger *zap.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	engine := backtester.NewEngine(cfg.Engine, logger)
	return &Orchestrator{
		cfg:       cfg,
		engine:    engine,
		validator: backtester.NewValidator(engine, cfg.Validation, logger),
		generator: orders.NewGenerator(logger),
		riskEng:   risk.NewEngine(cfg.Risk, logger),
		gate:      scenarios.NewGate(registry, engine, nil, logger),
		pool:      pool,
		logger:    logger,
	}, nil
}

// Run evaluates every strategy in the batch and returns results in
// input order. One malformed strategy is skipped with a recorded
// reason; the rest of the batch continues.
func (o *Orchestrator) Run(strategies []types.StrategySpec, bars map[string][]types.PriceBar, portfolio types.PortfolioState, opts RunOptions) (*types.RunResult, error) {
	runID := uuid.New().String()
	o.logger.Info("starting batch run",
		zap.String("runId", runID),
		zap.Int("strategies", len(strategies)))

	result := &types.RunResult{
		RunID:      runID,
		Candidates: make([]types.CandidateResult, len(strategies)),
		CreatedAt:  time.Now().UTC(),
	}

	latestPrices := latestCloses(bars)

	var wg sync.WaitGroup
	for i := range strategies {
		i := i
		strategy := strategies[i]
		wg.Add(1)
		task := func() error {
			defer wg.Done()
			result.Candidates[i] = o.evaluate(strategy, bars, portfolio, latestPrices, opts)
			return nil
		}
		if o.pool != nil && o.pool.IsRunning() {
			if err := o.pool.SubmitFunc(task); err != nil {
				// queue full or pool shutting down: run inline
				task()
			}
		} else {
			task()
		}
	}
	wg.Wait()

	o.logger.Info("batch run complete",
		zap.String("runId", runID),
		zap.Int("candidates", len(result.Candidates)))
	return result, nil
}

// AssessRisk screens a batch of proposed orders against the configured
// risk policy.
func (o *Orchestrator) AssessRisk(portfolio types.PortfolioState, proposed []types.Order, latestPrices map[string]decimal.Decimal) types.RiskAssessment {
	return o.riskEng.Assess(portfolio, proposed, latestPrices)
}

// evaluate runs the full pipeline for one strategy. Failures are
// captured on the candidate, never propagated to the batch.
func (o *Orchestrator) evaluate(strategy types.StrategySpec, bars map[string][]types.PriceBar, portfolio types.PortfolioState, latestPrices map[string]decimal.Decimal, opts RunOptions) types.CandidateResult {
	candidate := types.CandidateResult{Strategy: strategy}

	if len(strategy.Rules) == 0 {
		candidate.SkipReason = "strategy has no rules"
		o.logger.Warn("skipping strategy", zap.String("strategy", strategy.ID),
			zap.String("reason", candidate.SkipReason))
		return candidate
	}

	backtest, err := o.engine.Run(strategy, bars)
	if err != nil {
		candidate.SkipReason = fmt.Sprintf("backtest failed: %v", err)
		o.logger.Warn("skipping strategy", zap.String("strategy", strategy.ID),
			zap.String("reason", candidate.SkipReason))
		return candidate
	}
	candidate.Backtest = backtest

	candidate.Orders = o.generator.Generate(strategy, portfolio, latestPrices, backtest.TradeLog)
	assessment := o.riskEng.Assess(portfolio, candidate.Orders, latestPrices)
	candidate.Risk = &assessment

	if opts.Validate {
		validation, err := o.validator.Validate(strategy, bars)
		if err != nil {
			o.logger.Warn("validation failed",
				zap.String("strategy", strategy.ID), zap.Error(err))
		} else {
			candidate.Validation = validation
		}
	}

	if opts.Gate {
		gating, err := o.gate.Evaluate(strategy, bars, o.cfg.Gate.ScenarioTags)
		if err != nil {
			o.logger.Warn("scenario gate failed",
				zap.String("strategy", strategy.ID), zap.Error(err))
		} else {
			candidate.Gating = gating
			if !gating.OverallPassed && (opts.GateOverride || o.cfg.Gate.Override) {
				o.logger.Warn("gate failure overridden",
					zap.String("strategy", strategy.ID),
					zap.Strings("violations", gating.BlockingViolations))
			}
		}
	}

	return candidate
}

// latestCloses maps each symbol to its final bar's close.
func latestCloses(bars map[string][]types.PriceBar) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(bars))
	for sym, symBars := range bars {
		if len(symBars) > 0 {
			out[sym] = symBars[len(symBars)-1].Close
		}
	}
	return out
}
