// Package risk screens proposed orders against a static limits policy.
// Assessment is a pure function of its inputs and performs no I/O.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-gate/pkg/types"
)

// Engine applies a RiskPolicy to batches of proposed orders.
type Engine struct {
	policy types.RiskPolicy
	logger *zap.Logger
}

// NewEngine creates a risk engine for the given policy.
func NewEngine(policy types.RiskPolicy, logger *zap.Logger) *Engine {
	return &Engine{
		policy: policy,
		logger: logger,
	}
}

// Assess screens each proposed order in input order and returns the
// approvals (same relative order) plus one human-readable violation per
// rejection. The same inputs always produce the same assessment.
func (e *Engine) Assess(portfolio types.PortfolioState, proposed []types.Order, latestPrices map[string]decimal.Decimal) types.RiskAssessment {
	assessment := types.RiskAssessment{
		ApprovedTrades: []types.Order{},
		Violations:     []string{},
	}

	blacklisted := make(map[string]struct{}, len(e.policy.BlacklistSymbols))
	for _, sym := range e.policy.BlacklistSymbols {
		blacklisted[sym] = struct{}{}
	}

	portfolioValue := portfolio.Value(latestPrices)

	for _, order := range proposed {
		if _, ok := blacklisted[order.Symbol]; ok {
			assessment.Violations = append(assessment.Violations,
				fmt.Sprintf("%s: symbol is blacklisted", order.Symbol))
			continue
		}

		price := e.orderPrice(order, latestPrices)
		notional := order.Quantity.Abs().Mul(price)

		if e.policy.MaxTradeNotional.IsPositive() && notional.GreaterThan(e.policy.MaxTradeNotional) {
			assessment.Violations = append(assessment.Violations,
				fmt.Sprintf("%s: trade notional %s exceeds limit %s",
					order.Symbol, notional.StringFixed(2), e.policy.MaxTradeNotional.StringFixed(2)))
			continue
		}

		if portfolioValue.IsPositive() && e.policy.MaxPortfolioExposure.IsPositive() {
			exposure := notional.Div(portfolioValue)
			if exposure.GreaterThan(e.policy.MaxPortfolioExposure) {
				assessment.Violations = append(assessment.Violations,
					fmt.Sprintf("%s: trade exposure %s exceeds limit %s",
						order.Symbol, exposure.StringFixed(4), e.policy.MaxPortfolioExposure.StringFixed(4)))
				continue
			}
		}

		assessment.ApprovedTrades = append(assessment.ApprovedTrades, order)
	}

	if len(assessment.Violations) > 0 {
		e.logger.Info("risk assessment rejected orders",
			zap.Int("proposed", len(proposed)),
			zap.Int("approved", len(assessment.ApprovedTrades)),
			zap.Strings("violations", assessment.Violations))
	}
	return assessment
}

// orderPrice resolves the price used for notional checks: limit price
// first, then the latest market price, then the policy fallback.
func (e *Engine) orderPrice(order types.Order, latestPrices map[string]decimal.Decimal) decimal.Decimal {
	if order.LimitPrice.IsPositive() {
		return order.LimitPrice
	}
	if px, ok := latestPrices[order.Symbol]; ok && px.IsPositive() {
		return px
	}
	return e.policy.FallbackPrice
}
