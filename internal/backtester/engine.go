// Package backtester simulates strategies over historical bars and
// validates them across time windows.
package backtester

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-gate/internal/rules"
	"github.com/atlas-desktop/strategy-gate/pkg/types"
)

// DefaultFraction is the sizing fraction used when a strategy does not
// declare one.
var DefaultFraction = decimal.NewFromFloat(0.02)

// DefaultFixedNotional is the per-entry notional for fixed_size sizing
// when a strategy does not declare one.
var DefaultFixedNotional = decimal.NewFromInt(1000)

// Engine runs event-driven backtests. Safe for concurrent use; each Run
// owns its own state.
type Engine struct {
	config types.EngineConfig
	logger *zap.Logger
}

// NewEngine creates a backtest engine.
func NewEngine(config types.EngineConfig, logger *zap.Logger) *Engine {
	return &Engine{
		config: config,
		logger: logger,
	}
}

// symbolSeries is the per-symbol view the simulation walks.
type symbolSeries struct {
	symbol  string
	bars    []types.PriceBar
	closes  []float64
	entries []rules.CompiledRule
	exits   []rules.CompiledRule
	// index of each bar timestamp on the union timeline walk
	byTime map[time.Time]int
}

// position tracks one open long lot during simulation.
type position struct {
	quantity decimal.Decimal
	avgPrice decimal.Decimal
}

// Run simulates the strategy over the given per-symbol bars and returns
// an immutable result. Empty or insufficient data yields a zero-trade
// result, never an error; only a malformed strategy fails.
func (e *Engine) Run(strategy types.StrategySpec, bars map[string][]types.PriceBar) (*types.BacktestResult, error) {
	entries, exits, err := rules.NormalizeAll(strategy.Rules)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", strategy.ID, err)
	}

	series := e.buildSeries(strategy, bars, entries, exits)
	timeline := unionTimeline(series)

	result := &types.BacktestResult{
		Strategy:    strategy,
		TradeLog:    []types.Trade{},
		EquityCurve: []types.EquityPoint{},
	}
	if len(timeline) < 2 || len(series) == 0 {
		e.logger.Debug("insufficient data for simulation",
			zap.String("strategy", strategy.ID),
			zap.Int("timeline", len(timeline)))
		return result, nil
	}

	if strategy.Params.EvaluationMode == types.EvalPerSymbol && len(series) > 1 {
		e.runPerSymbol(strategy, series, timeline, result)
	} else {
		e.runShared(strategy, series, timeline, result, e.config.InitialCash)
	}

	result.Metrics = e.computeMetrics(result.EquityCurve, len(result.TradeLog))

	e.logger.Debug("backtest complete",
		zap.String("strategy", strategy.ID),
		zap.Int("trades", len(result.TradeLog)),
		zap.String("totalReturn", result.Metrics.TotalReturn.String()))
	return result, nil
}

// runShared walks the union timeline with one cash pool across all
// symbols.
func (e *Engine) runShared(strategy types.StrategySpec, series []*symbolSeries, timeline []time.Time, result *types.BacktestResult, initialCash decimal.Decimal) {
	cash := initialCash
	positions := make(map[string]*position)

	result.EquityCurve = append(result.EquityCurve, types.EquityPoint{
		Timestamp: timeline[0],
		Value:     initialCash,
	})

	for t := 1; t < len(timeline); t++ {
		now := timeline[t]
		for _, s := range series {
			idx, ok := s.byTime[now]
			if !ok || idx < 1 {
				continue
			}
			closePx := decimal.NewFromFloat(s.closes[idx])
			pos := positions[s.symbol]

			if pos == nil {
				if rules.EvaluateAll(s.entries, s.closes, idx) {
					portfolioValue := e.markValue(cash, positions, series, t, timeline)
					qty := e.sizeEntry(strategy.Params, portfolioValue, closePx)
					if qty.LessThanOrEqual(decimal.Zero) {
						continue
					}
					fill, total := e.buyCost(closePx, qty)
					if total.GreaterThan(cash) {
						e.logger.Debug("entry skipped, insufficient cash",
							zap.String("symbol", s.symbol),
							zap.String("required", total.String()),
							zap.String("cash", cash.String()))
						continue
					}
					cash = cash.Sub(total)
					positions[s.symbol] = &position{quantity: qty, avgPrice: fill}
					result.TradeLog = append(result.TradeLog, types.Trade{
						Timestamp: now,
						Symbol:    s.symbol,
						Side:      types.OrderSideBuy,
						Quantity:  qty,
						Price:     fill,
					})
				}
				continue
			}

			exitSignal := rules.EvaluateAll(s.exits, s.closes, idx)
			if len(s.exits) == 0 {
				// No declared exits: leave when the entry condition no
				// longer holds.
				exitSignal = !rules.HoldsAll(s.entries, s.closes, idx)
			}
			if exitSignal {
				fill, proceeds := e.sellProceeds(closePx, pos.quantity)
				cash = cash.Add(proceeds)
				result.TradeLog = append(result.TradeLog, types.Trade{
					Timestamp: now,
					Symbol:    s.symbol,
					Side:      types.OrderSideSell,
					Quantity:  pos.quantity,
					Price:     fill,
				})
				delete(positions, s.symbol)
			}
		}

		result.EquityCurve = append(result.EquityCurve, types.EquityPoint{
			Timestamp: now,
			Value:     e.markValue(cash, positions, series, t, timeline),
		})
	}

	// Positions still open at the end of the data stay open. The final
	// equity point marks them to the last observed close, without
	// fabricating a fill into the trade log.
}

// runPerSymbol splits initial cash equally and simulates each symbol in
// isolation, then sums the sub-curves onto the shared timeline.
func (e *Engine) runPerSymbol(strategy types.StrategySpec, series []*symbolSeries, timeline []time.Time, result *types.BacktestResult) {
	slice := e.config.InitialCash.Div(decimal.NewFromInt(int64(len(series))))

	subCurves := make([]map[time.Time]decimal.Decimal, len(series))
	for i, s := range series {
		sub := &types.BacktestResult{TradeLog: []types.Trade{}, EquityCurve: []types.EquityPoint{}}
		subTimeline := make([]time.Time, len(s.bars))
		for j, b := range s.bars {
			subTimeline[j] = b.Timestamp
		}
		e.runShared(strategy, []*symbolSeries{s}, subTimeline, sub, slice)
		result.TradeLog = append(result.TradeLog, sub.TradeLog...)
		curve := make(map[time.Time]decimal.Decimal, len(sub.EquityCurve))
		for _, p := range sub.EquityCurve {
			curve[p.Timestamp] = p.Value
		}
		subCurves[i] = curve
	}

	sort.SliceStable(result.TradeLog, func(a, b int) bool {
		return result.TradeLog[a].Timestamp.Before(result.TradeLog[b].Timestamp)
	})

	lastValues := make([]decimal.Decimal, len(series))
	for i := range lastValues {
		lastValues[i] = slice
	}
	for _, now := range timeline {
		total := decimal.Zero
		for i := range series {
			if v, ok := subCurves[i][now]; ok {
				lastValues[i] = v
			}
			total = total.Add(lastValues[i])
		}
		result.EquityCurve = append(result.EquityCurve, types.EquityPoint{
			Timestamp: now,
			Value:     total,
		})
	}
}

// markValue values cash plus open positions at the latest close at or
// before the timeline position.
func (e *Engine) markValue(cash decimal.Decimal, positions map[string]*position, series []*symbolSeries, t int, timeline []time.Time) decimal.Decimal {
	value := cash
	now := timeline[t]
	for _, s := range series {
		pos := positions[s.symbol]
		if pos == nil {
			continue
		}
		if px, ok := latestCloseAt(s, now); ok {
			value = value.Add(pos.quantity.Mul(px))
		}
	}
	return value
}

// latestCloseAt returns the close of the highest-index bar whose
// timestamp is at or before now.
func latestCloseAt(s *symbolSeries, now time.Time) (decimal.Decimal, bool) {
	i := sort.Search(len(s.bars), func(j int) bool {
		return s.bars[j].Timestamp.After(now)
	})
	if i == 0 {
		return decimal.Zero, false
	}
	return s.bars[i-1].Close, true
}

func (e *Engine) sizeEntry(params types.StrategyParams, portfolioValue, price decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	switch params.PositionSizing {
	case types.SizingFixedSize:
		notional := params.FixedSize
		if notional.LessThanOrEqual(decimal.Zero) {
			notional = DefaultFixedNotional
		}
		return notional.Div(price).Round(2)
	default:
		fraction := params.Fraction
		if fraction.LessThanOrEqual(decimal.Zero) {
			fraction = DefaultFraction
		}
		return fraction.Mul(portfolioValue).Div(price).Round(2)
	}
}

// buyCost returns the slipped fill price and the total cash outlay
// including commission.
func (e *Engine) buyCost(price, qty decimal.Decimal) (fill, total decimal.Decimal) {
	one := decimal.NewFromInt(1)
	fill = price.Mul(one.Add(e.config.Costs.SlippagePct))
	notional := fill.Mul(qty)
	commission := notional.Mul(e.config.Costs.Commission).Add(e.config.Costs.CommissionFlat)
	return fill, notional.Add(commission)
}

// sellProceeds returns the slipped fill price and the net cash received
// after commission.
func (e *Engine) sellProceeds(price, qty decimal.Decimal) (fill, proceeds decimal.Decimal) {
	one := decimal.NewFromInt(1)
	fill = price.Mul(one.Sub(e.config.Costs.SlippagePct))
	notional := fill.Mul(qty)
	commission := notional.Mul(e.config.Costs.Commission).Add(e.config.Costs.CommissionFlat)
	return fill, notional.Sub(commission)
}

func (e *Engine) buildSeries(strategy types.StrategySpec, bars map[string][]types.PriceBar, entries, exits []rules.CompiledRule) []*symbolSeries {
	var symbols []string
	if len(strategy.Universe) > 0 {
		// Sort a copy; the caller's spec stays untouched.
		symbols = append(symbols, strategy.Universe...)
	} else {
		symbols = make([]string, 0, len(bars))
		for sym := range bars {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	series := make([]*symbolSeries, 0, len(symbols))
	for _, sym := range symbols {
		symBars := bars[sym]
		if len(symBars) == 0 {
			continue
		}
		closes := make([]float64, len(symBars))
		byTime := make(map[time.Time]int, len(symBars))
		for i, b := range symBars {
			f, _ := b.Close.Float64()
			if math.IsNaN(f) {
				f = 0
			}
			closes[i] = f
			byTime[b.Timestamp] = i
		}
		series = append(series, &symbolSeries{
			symbol:  sym,
			bars:    symBars,
			closes:  closes,
			entries: entries,
			exits:   exits,
			byTime:  byTime,
		})
	}
	return series
}

// unionTimeline merges all symbols' timestamps into one ascending,
// deduplicated timeline.
func unionTimeline(series []*symbolSeries) []time.Time {
	seen := make(map[time.Time]struct{})
	var out []time.Time
	for _, s := range series {
		for _, b := range s.bars {
			if _, ok := seen[b.Timestamp]; !ok {
				seen[b.Timestamp] = struct{}{}
				out = append(out, b.Timestamp)
			}
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Before(out[b]) })
	return out
}
