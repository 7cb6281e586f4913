package scenarios

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-gate/internal/backtester"
	"github.com/atlas-desktop/strategy-gate/pkg/types"
)

// DefaultRules is the built-in gating rule set: drawdown and return
// floors on crisis scenarios plus a sharpe floor everywhere. The
// total-return rule is advisory.
func DefaultRules() []types.GatingRule {
	return []types.GatingRule{
		{
			Metric:       "max_drawdown",
			Operator:     "<",
			Threshold:    decimal.NewFromFloat(0.5),
			ScenarioTags: []string{"crisis"},
			Blocking:     true,
		},
		{
			Metric:    "sharpe",
			Operator:  ">",
			Threshold: decimal.NewFromFloat(0.5),
			Blocking:  true,
		},
		{
			Metric:       "total_return",
			Operator:     ">",
			Threshold:    decimal.NewFromFloat(-0.2),
			ScenarioTags: []string{"crisis"},
			Blocking:     false,
		},
	}
}

// Gate replays a strategy through stress scenarios and checks gating
// rules against each replay's metrics.
type Gate struct {
	registry *Registry
	engine   *backtester.Engine
	rules    []types.GatingRule
	logger   *zap.Logger
}

// NewGate creates a gate. A nil rule set selects DefaultRules.
func NewGate(registry *Registry, engine *backtester.Engine, rules []types.GatingRule, logger *zap.Logger) *Gate {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Gate{
		registry: registry,
		engine:   engine,
		rules:    rules,
		logger:   logger,
	}
}

// Evaluate gates the strategy against every scenario matching the given
// tags. overall_passed flips to false only on blocking rule failures;
// advisory failures are reported in the per-scenario violations.
func (g *Gate) Evaluate(strategy types.StrategySpec, bars map[string][]types.PriceBar, tags []string) (*types.GatingResult, error) {
	result := &types.GatingResult{
		OverallPassed:      true,
		ScenarioResults:    []types.ScenarioResult{},
		BlockingViolations: []string{},
	}

	for _, scenario := range g.registry.ByTags(tags) {
		slice := sliceBars(bars, scenario.Start, scenario.End)
		if len(slice) == 0 {
			g.logger.Debug("no data overlaps scenario, skipping",
				zap.String("strategy", strategy.ID),
				zap.String("scenario", scenario.ID))
			continue
		}
		run, err := g.engine.Run(strategy, slice)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", scenario.ID, err)
		}

		sr := types.ScenarioResult{
			Scenario:   scenario,
			Backtest:   *run,
			Passed:     true,
			Violations: []string{},
		}
		for _, rule := range g.rules {
			// A rule applies when the scenario shares any of its tags;
			// an untagged rule applies everywhere.
			if !scenario.HasAnyTag(rule.ScenarioTags) {
				continue
			}
			if ruleSatisfied(rule, run.Metrics) {
				continue
			}
			violation := fmt.Sprintf("%s: %s %s %s violated (actual %s)",
				scenario.ID, rule.Metric, rule.Operator,
				rule.Threshold.String(), metricValue(rule.Metric, run.Metrics).String())
			sr.Violations = append(sr.Violations, violation)
			if rule.Blocking {
				sr.Passed = false
				result.OverallPassed = false
				result.BlockingViolations = append(result.BlockingViolations, violation)
			}
		}
		result.ScenarioResults = append(result.ScenarioResults, sr)
	}

	g.logger.Info("scenario gate evaluated",
		zap.String("strategy", strategy.ID),
		zap.Int("scenarios", len(result.ScenarioResults)),
		zap.Bool("passed", result.OverallPassed))
	return result, nil
}

func ruleSatisfied(rule types.GatingRule, metrics types.BacktestMetrics) bool {
	actual := metricValue(rule.Metric, metrics)
	switch rule.Operator {
	case "<":
		return actual.LessThan(rule.Threshold)
	case "<=":
		return actual.LessThanOrEqual(rule.Threshold)
	case ">":
		return actual.GreaterThan(rule.Threshold)
	case ">=":
		return actual.GreaterThanOrEqual(rule.Threshold)
	}
	return false
}

func metricValue(name string, metrics types.BacktestMetrics) decimal.Decimal {
	switch name {
	case "sharpe":
		return metrics.Sharpe
	case "max_drawdown":
		return metrics.MaxDrawdown
	case "total_return":
		return metrics.TotalReturn
	}
	return decimal.Zero
}

// sliceBars keeps bars inside [start, end] per symbol.
func sliceBars(bars map[string][]types.PriceBar, start, end time.Time) map[string][]types.PriceBar {
	out := make(map[string][]types.PriceBar, len(bars))
	for sym, symBars := range bars {
		var kept []types.PriceBar
		for _, b := range symBars {
			if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
				kept = append(kept, b)
			}
		}
		if len(kept) > 0 {
			out[sym] = kept
		}
	}
	return out
}
