// Package orders turns backtest outcomes into concrete market orders
// that reconcile the live portfolio toward the strategy's positions.
package orders

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-gate/pkg/types"
)

// DustThreshold suppresses order deltas at or below this quantity.
var DustThreshold = decimal.NewFromFloat(0.01)

// DefaultFraction sizes fresh targets when a strategy declares no
// usable sizing policy.
var DefaultFraction = decimal.NewFromFloat(0.02)

// Generator produces orders from a strategy's simulated trade history.
type Generator struct {
	logger *zap.Logger
}

// NewGenerator creates an order generator.
func NewGenerator(logger *zap.Logger) *Generator {
	return &Generator{logger: logger}
}

// Generate nets the backtest trade log into per-symbol targets, fills
// in fresh targets for universe symbols the simulation never touched,
// and emits the buy/sell deltas against current holdings. An empty
// universe or a non-positive portfolio value yields an empty slice.
func (g *Generator) Generate(strategy types.StrategySpec, portfolio types.PortfolioState, latestPrices map[string]decimal.Decimal, trades []types.Trade) []types.Order {
	if len(strategy.Universe) == 0 {
		g.logger.Debug("empty universe, no orders", zap.String("strategy", strategy.ID))
		return []types.Order{}
	}
	portfolioValue := portfolio.Value(latestPrices)
	if !portfolioValue.IsPositive() {
		g.logger.Debug("non-positive portfolio value, no orders",
			zap.String("strategy", strategy.ID),
			zap.String("value", portfolioValue.String()))
		return []types.Order{}
	}

	targets := g.netTargets(trades)

	// Universe symbols the simulation never traded get a fresh target
	// from the sizing policy.
	for _, sym := range strategy.Universe {
		if _, ok := targets[sym]; ok {
			continue
		}
		px, ok := latestPrices[sym]
		if !ok || !px.IsPositive() {
			continue
		}
		targets[sym] = g.freshTarget(strategy.Params, portfolioValue, px)
	}

	held := make(map[string]decimal.Decimal, len(portfolio.Positions))
	for _, pos := range portfolio.Positions {
		held[pos.Symbol] = held[pos.Symbol].Add(pos.Quantity)
	}

	symbols := make([]string, 0, len(targets))
	for sym := range targets {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	out := []types.Order{}
	for _, sym := range symbols {
		delta := targets[sym].Sub(held[sym])
		if delta.Abs().LessThanOrEqual(DustThreshold) {
			continue
		}
		side := types.OrderSideBuy
		if delta.IsNegative() {
			side = types.OrderSideSell
		}
		out = append(out, types.Order{
			ID:       uuid.New().String(),
			Symbol:   sym,
			Side:     side,
			Quantity: delta.Abs().Round(2),
			Type:     types.OrderTypeMarket,
		})
	}

	g.logger.Debug("orders generated",
		zap.String("strategy", strategy.ID),
		zap.Int("orders", len(out)))
	return out
}

// netTargets folds the trade log into target quantities per symbol.
// Buys add, sells subtract; negative nets clamp to zero since the
// simulation is long-only.
func (g *Generator) netTargets(trades []types.Trade) map[string]decimal.Decimal {
	targets := make(map[string]decimal.Decimal)
	touched := make(map[string]struct{})
	for _, tr := range trades {
		touched[tr.Symbol] = struct{}{}
		if tr.Side == types.OrderSideBuy {
			targets[tr.Symbol] = targets[tr.Symbol].Add(tr.Quantity)
		} else {
			targets[tr.Symbol] = targets[tr.Symbol].Sub(tr.Quantity)
		}
	}
	for sym := range touched {
		if targets[sym].IsNegative() {
			targets[sym] = decimal.Zero
		}
	}
	return targets
}

func (g *Generator) freshTarget(params types.StrategyParams, portfolioValue, price decimal.Decimal) decimal.Decimal {
	switch params.PositionSizing {
	case types.SizingFixedSize:
		notional := params.FixedSize
		if notional.LessThanOrEqual(decimal.Zero) {
			notional = decimal.NewFromInt(1000)
		}
		return notional.Div(price).Round(2)
	case types.SizingFixedFraction:
		fraction := params.Fraction
		if fraction.LessThanOrEqual(decimal.Zero) {
			fraction = DefaultFraction
		}
		return fraction.Mul(portfolioValue).Div(price).Round(2)
	default:
		// unknown policy falls back to the conservative default
		return DefaultFraction.Mul(portfolioValue).Div(price).Round(2)
	}
}
