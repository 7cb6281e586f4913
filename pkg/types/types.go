// Package types provides shared type definitions for the strategy gate service.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of order
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Timeframe represents bar periods
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// RuleCategory declares whether a rule opens or closes a position.
// Anything other than "exit" is treated as an entry rule; legacy specs
// carry semantic names ("crossover", "momentum") here and those are
// resolved by rule normalization instead.
type RuleCategory string

const (
	RuleCategoryEntry RuleCategory = "entry"
	RuleCategoryExit  RuleCategory = "exit"
)

// Rule is one declarative entry/exit condition in a strategy spec.
// Semantics (crossover vs threshold vs momentum vs mean-reversion) are
// resolved once at load time, not re-derived per bar.
type Rule struct {
	Category  RuleCategory   `json:"category"`
	Indicator string         `json:"indicator"`
	Params    map[string]any `json:"params,omitempty"`
}

// SizingPolicy selects how entry quantities are determined.
type SizingPolicy string

const (
	SizingFixedFraction SizingPolicy = "fixed_fraction"
	SizingFixedSize     SizingPolicy = "fixed_size"
)

// EvaluationMode selects how multi-symbol universes are simulated.
type EvaluationMode string

const (
	EvalPerSymbol      EvaluationMode = "per_symbol"
	EvalPortfolioLevel EvaluationMode = "portfolio_level"
)

// StrategyParams holds position sizing and evaluation settings.
type StrategyParams struct {
	PositionSizing SizingPolicy    `json:"positionSizing"`
	Fraction       decimal.Decimal `json:"fraction,omitempty"`
	FixedSize      decimal.Decimal `json:"fixedSize,omitempty"`
	Timeframe      Timeframe       `json:"timeframe,omitempty"`
	EvaluationMode EvaluationMode  `json:"evaluationMode,omitempty"`
}

// StrategySpec is a candidate strategy handed in by the planning
// collaborator. Immutable once given to the engine.
type StrategySpec struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Universe    []string       `json:"universe"`
	Rules       []Rule         `json:"rules"`
	Params      StrategyParams `json:"params"`
}

// PriceBar is a single OHLCV observation for one symbol at one period.
// Bars are ascending by timestamp per symbol with no duplicates.
type PriceBar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Order is a proposed trade sized by the order generator.
type Order struct {
	ID         string          `json:"id,omitempty"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Type       OrderType       `json:"type"`
	LimitPrice decimal.Decimal `json:"limitPrice,omitempty"`
}

// Trade is an executed backtest fill, append-only in a trade log.
type Trade struct {
	Timestamp time.Time       `json:"timestamp"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// EquityPoint is one point on the simulated equity curve.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}

// BacktestMetrics are summary statistics for one engine run.
type BacktestMetrics struct {
	Sharpe      decimal.Decimal `json:"sharpe"`
	MaxDrawdown decimal.Decimal `json:"maxDrawdown"`
	TotalReturn decimal.Decimal `json:"totalReturn"`
}

// BacktestResult is the immutable artifact of one engine invocation.
type BacktestResult struct {
	Strategy    StrategySpec    `json:"strategy"`
	Metrics     BacktestMetrics `json:"metrics"`
	TradeLog    []Trade         `json:"tradeLog"`
	EquityCurve []EquityPoint   `json:"equityCurve"`
}

// Position is one held lot inside a portfolio snapshot.
type Position struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"averagePrice"`
}

// PortfolioState is a read-only snapshot owned by the execution
// collaborator. The core never mutates it.
type PortfolioState struct {
	Cash      decimal.Decimal `json:"cash"`
	Positions []Position      `json:"positions"`
}

// Value returns cash plus marked positions. Symbols without a latest
// price are excluded from the valuation.
func (p PortfolioState) Value(latestPrices map[string]decimal.Decimal) decimal.Decimal {
	value := p.Cash
	for _, pos := range p.Positions {
		if price, ok := latestPrices[pos.Symbol]; ok {
			value = value.Add(pos.Quantity.Mul(price))
		}
	}
	return value
}

// RiskAssessment is the risk engine verdict for a batch of orders.
// ApprovedTrades preserves the input order of the approvals.
type RiskAssessment struct {
	ApprovedTrades []Order  `json:"approvedTrades"`
	Violations     []string `json:"violations"`
}

// WalkForwardResult aggregates backtests over time-sliced windows.
type WalkForwardResult struct {
	Windows           []BacktestResult `json:"windows"`
	AggregateMetrics  BacktestMetrics  `json:"aggregateMetrics"`
	TrainMetrics      BacktestMetrics  `json:"trainMetrics"`
	ValidationMetrics BacktestMetrics  `json:"validationMetrics"`
	HoldoutMetrics    *BacktestMetrics `json:"holdoutMetrics,omitempty"`
}

// Scenario is a registered historical stress window.
type Scenario struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Tags        []string  `json:"tags"`
}

// HasAllTags reports whether the scenario carries every given tag.
func (s Scenario) HasAllTags(tags []string) bool {
	for _, want := range tags {
		found := false
		for _, have := range s.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// HasAnyTag reports whether the scenario shares at least one of the
// given tags. An empty tag set matches every scenario.
func (s Scenario) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range s.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// GatingRule is a threshold predicate over backtest metrics.
type GatingRule struct {
	Metric       string          `json:"metric"`
	Operator     string          `json:"operator"`
	Threshold    decimal.Decimal `json:"threshold"`
	ScenarioTags []string        `json:"scenarioTags,omitempty"`
	Blocking     bool            `json:"blocking"`
}

// ScenarioResult is the outcome of gating one scenario.
type ScenarioResult struct {
	Scenario   Scenario       `json:"scenario"`
	Backtest   BacktestResult `json:"backtest"`
	Passed     bool           `json:"passed"`
	Violations []string       `json:"violations"`
}

// GatingResult is the scenario gate verdict. OverallPassed is false iff
// at least one blocking rule fails on at least one scenario; advisory
// failures are reported but never flip the verdict.
type GatingResult struct {
	OverallPassed      bool             `json:"overallPassed"`
	ScenarioResults    []ScenarioResult `json:"scenarioResults"`
	BlockingViolations []string         `json:"blockingViolations"`
}

// CandidateResult bundles everything produced for one strategy in a
// batch run. A skipped strategy carries only the reason.
type CandidateResult struct {
	Strategy   StrategySpec       `json:"strategy"`
	Backtest   *BacktestResult    `json:"backtest,omitempty"`
	Orders     []Order            `json:"orders,omitempty"`
	Risk       *RiskAssessment    `json:"risk,omitempty"`
	Validation *WalkForwardResult `json:"validation,omitempty"`
	Gating     *GatingResult      `json:"gating,omitempty"`
	SkipReason string             `json:"skipReason,omitempty"`
}

// RunResult is the orchestrator output for a batch of strategies.
type RunResult struct {
	RunID      string            `json:"runId"`
	Candidates []CandidateResult `json:"candidates"`
	CreatedAt  time.Time         `json:"createdAt"`
}
