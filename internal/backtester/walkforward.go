package backtester

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-gate/pkg/types"
)

const (
	minTrainDays = 30
	minTestDays  = 10
	testFraction = 0.15
)

// Validator runs walk-forward validation: splits or windows are sliced
// chronologically and each segment is backtested independently.
type Validator struct {
	engine *Engine
	config types.ValidationConfig
	logger *zap.Logger
}

// NewValidator creates a walk-forward validator around an engine.
func NewValidator(engine *Engine, config types.ValidationConfig, logger *zap.Logger) *Validator {
	return &Validator{
		engine: engine,
		config: config,
		logger: logger,
	}
}

// Validate runs either fraction splits or rolling windows depending on
// configuration. A segment that cannot be simulated contributes a
// zero-trade result rather than aborting.
func (v *Validator) Validate(strategy types.StrategySpec, bars map[string][]types.PriceBar) (*types.WalkForwardResult, error) {
	if err := v.config.Validate(); err != nil {
		return nil, err
	}
	if v.config.WalkForward {
		return v.validateWindows(strategy, bars)
	}
	return v.validateSplits(strategy, bars)
}

// validateSplits slices the data into train/validation/holdout segments
// by bar-count fraction along the shared timeline.
func (v *Validator) validateSplits(strategy types.StrategySpec, bars map[string][]types.PriceBar) (*types.WalkForwardResult, error) {
	timeline := timelineOf(bars)
	result := &types.WalkForwardResult{Windows: []types.BacktestResult{}}
	if len(timeline) < 3 {
		v.logger.Warn("not enough data for split validation",
			zap.String("strategy", strategy.ID),
			zap.Int("bars", len(timeline)))
		result.AggregateMetrics = zeroMetrics()
		return result, nil
	}

	n := len(timeline)
	trainEnd := int(float64(n) * v.config.TrainSplit)
	validationEnd := trainEnd + int(float64(n)*v.config.ValidationSplit)
	if trainEnd < 1 {
		trainEnd = 1
	}
	if validationEnd <= trainEnd {
		validationEnd = trainEnd + 1
	}
	if validationEnd > n {
		validationEnd = n
	}

	segments := []struct {
		name     string
		from, to int
	}{
		{"train", 0, trainEnd},
		{"validation", trainEnd, validationEnd},
	}
	if v.config.HoldoutSplit > 0 && validationEnd < n {
		segments = append(segments, struct {
			name     string
			from, to int
		}{"holdout", validationEnd, n})
	}

	for _, seg := range segments {
		segBars := sliceByRange(bars, timeline[seg.from], timelineEnd(timeline, seg.to))
		run := v.runSegment(strategy, segBars, seg.name)
		result.Windows = append(result.Windows, *run)
		switch seg.name {
		case "train":
			result.TrainMetrics = run.Metrics
		case "validation":
			result.ValidationMetrics = run.Metrics
		case "holdout":
			m := run.Metrics
			result.HoldoutMetrics = &m
		}
	}

	result.AggregateMetrics = meanMetrics(result.Windows)
	return result, nil
}

// validateWindows runs expanding windows (or fixed-size rolling windows
// when WindowSize is set) over the data's date range.
func (v *Validator) validateWindows(strategy types.StrategySpec, bars map[string][]types.PriceBar) (*types.WalkForwardResult, error) {
	timeline := timelineOf(bars)
	result := &types.WalkForwardResult{Windows: []types.BacktestResult{}}
	if len(timeline) < 2 {
		result.AggregateMetrics = zeroMetrics()
		return result, nil
	}

	start := timeline[0]
	end := timeline[len(timeline)-1]
	rangeDays := int(end.Sub(start).Hours() / 24)

	testDays := int(float64(rangeDays) * testFraction)
	if testDays < minTestDays {
		testDays = minTestDays
	}
	if rangeDays < minTrainDays+testDays {
		v.logger.Warn("date range too short for walk-forward windows",
			zap.String("strategy", strategy.ID),
			zap.Int("rangeDays", rangeDays))
		result.AggregateMetrics = zeroMetrics()
		return result, nil
	}

	testStart := start.AddDate(0, 0, minTrainDays)
	windowIdx := 0
	for testStart.Before(end) {
		testEnd := testStart.AddDate(0, 0, testDays)
		if testEnd.After(end) {
			testEnd = end.Add(time.Nanosecond)
		}

		segBars := sliceByRange(bars, testStart, testEnd)
		run := v.runSegment(strategy, segBars, fmt.Sprintf("window_%d", windowIdx))
		result.Windows = append(result.Windows, *run)

		if v.config.WindowSize > 0 {
			testStart = testStart.AddDate(0, 0, v.config.WindowSize)
		} else {
			testStart = testEnd
		}
		windowIdx++
	}

	result.AggregateMetrics = meanMetrics(result.Windows)
	return result, nil
}

// runSegment backtests one slice, degrading to a zero-trade result on
// failure.
func (v *Validator) runSegment(strategy types.StrategySpec, bars map[string][]types.PriceBar, name string) *types.BacktestResult {
	run, err := v.engine.Run(strategy, bars)
	if err != nil {
		v.logger.Warn("segment failed, recording zero-trade result",
			zap.String("strategy", strategy.ID),
			zap.String("segment", name),
			zap.Error(err))
		return &types.BacktestResult{
			Strategy:    strategy,
			Metrics:     zeroMetrics(),
			TradeLog:    []types.Trade{},
			EquityCurve: []types.EquityPoint{},
		}
	}
	return run
}

// meanMetrics is the arithmetic mean of each metric across windows.
func meanMetrics(windows []types.BacktestResult) types.BacktestMetrics {
	if len(windows) == 0 {
		return zeroMetrics()
	}
	n := decimal.NewFromInt(int64(len(windows)))
	sharpe, maxDD, total := decimal.Zero, decimal.Zero, decimal.Zero
	for _, w := range windows {
		sharpe = sharpe.Add(w.Metrics.Sharpe)
		maxDD = maxDD.Add(w.Metrics.MaxDrawdown)
		total = total.Add(w.Metrics.TotalReturn)
	}
	return types.BacktestMetrics{
		Sharpe:      sharpe.Div(n),
		MaxDrawdown: maxDD.Div(n),
		TotalReturn: total.Div(n),
	}
}

func zeroMetrics() types.BacktestMetrics {
	return types.BacktestMetrics{
		Sharpe:      decimal.Zero,
		MaxDrawdown: decimal.Zero,
		TotalReturn: decimal.Zero,
	}
}

// timelineOf merges every symbol's timestamps ascending without
// duplicates.
func timelineOf(bars map[string][]types.PriceBar) []time.Time {
	seen := make(map[time.Time]struct{})
	var out []time.Time
	for _, symBars := range bars {
		for _, b := range symBars {
			if _, ok := seen[b.Timestamp]; !ok {
				seen[b.Timestamp] = struct{}{}
				out = append(out, b.Timestamp)
			}
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Before(out[b]) })
	return out
}

// sliceByRange keeps bars with from <= ts < to, per symbol.
func sliceByRange(bars map[string][]types.PriceBar, from, to time.Time) map[string][]types.PriceBar {
	out := make(map[string][]types.PriceBar, len(bars))
	for sym, symBars := range bars {
		var kept []types.PriceBar
		for _, b := range symBars {
			if !b.Timestamp.Before(from) && b.Timestamp.Before(to) {
				kept = append(kept, b)
			}
		}
		if len(kept) > 0 {
			out[sym] = kept
		}
	}
	return out
}

// timelineEnd returns the exclusive upper bound for a segment ending at
// index to on the timeline.
func timelineEnd(timeline []time.Time, to int) time.Time {
	if to >= len(timeline) {
		return timeline[len(timeline)-1].Add(time.Nanosecond)
	}
	return timeline[to]
}
