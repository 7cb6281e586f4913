package risk

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-gate/pkg/types"
)

func testPolicy() types.RiskPolicy {
	return types.RiskPolicy{
		MaxTradeNotional:     decimal.NewFromInt(50000),
		MaxPortfolioExposure: decimal.NewFromFloat(0.25),
		BlacklistSymbols:     []string{"MEME"},
		FallbackPrice:        decimal.NewFromInt(100),
	}
}

func testPortfolio() types.PortfolioState {
	return types.PortfolioState{Cash: decimal.NewFromInt(100000)}
}

func order(symbol string, qty float64) types.Order {
	return types.Order{
		Symbol:   symbol,
		Side:     types.OrderSideBuy,
		Quantity: decimal.NewFromFloat(qty),
		Type:     types.OrderTypeMarket,
	}
}

func TestAssessApprovesWithinLimits(t *testing.T) {
	engine := NewEngine(testPolicy(), zap.NewNop())
	prices := map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(150)}

	got := engine.Assess(testPortfolio(), []types.Order{order("AAPL", 10)}, prices)
	if len(got.ApprovedTrades) != 1 {
		t.Fatalf("expected 1 approval, got %d (violations: %v)", len(got.ApprovedTrades), got.Violations)
	}
	if len(got.Violations) != 0 {
		t.Errorf("expected no violations, got %v", got.Violations)
	}
}

func TestAssessRejectsNotionalBreach(t *testing.T) {
	engine := NewEngine(testPolicy(), zap.NewNop())
	prices := map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(150)}

	// 1000 shares at 150 = 150000 notional, double the 50000 limit
	got := engine.Assess(testPortfolio(), []types.Order{order("AAPL", 1000)}, prices)
	if len(got.ApprovedTrades) != 0 {
		t.Errorf("expected no approvals, got %d", len(got.ApprovedTrades))
	}
	if len(got.Violations) != 1 {
		t.Fatalf("expected exactly 1 violation, got %v", got.Violations)
	}
	if !strings.Contains(got.Violations[0], "AAPL") {
		t.Errorf("violation should name the symbol: %q", got.Violations[0])
	}
}

func TestAssessRejectsBlacklisted(t *testing.T) {
	engine := NewEngine(testPolicy(), zap.NewNop())

	got := engine.Assess(testPortfolio(), []types.Order{order("MEME", 1)}, nil)
	if len(got.ApprovedTrades) != 0 {
		t.Errorf("expected no approvals for blacklisted symbol")
	}
	if len(got.Violations) != 1 || !strings.Contains(got.Violations[0], "blacklisted") {
		t.Errorf("expected blacklist violation, got %v", got.Violations)
	}
}

func TestAssessRejectsExposureBreach(t *testing.T) {
	engine := NewEngine(testPolicy(), zap.NewNop())
	prices := map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(150)}

	// 200 shares at 150 = 30000 notional, under the notional cap but
	// 30% of the 100000 portfolio, above the 25% exposure limit
	got := engine.Assess(testPortfolio(), []types.Order{order("AAPL", 200)}, prices)
	if len(got.ApprovedTrades) != 0 {
		t.Errorf("expected no approvals, got %d", len(got.ApprovedTrades))
	}
	if len(got.Violations) != 1 || !strings.Contains(got.Violations[0], "exposure") {
		t.Errorf("expected exposure violation, got %v", got.Violations)
	}
}

func TestAssessSkipsExposureOnNonPositivePortfolio(t *testing.T) {
	engine := NewEngine(testPolicy(), zap.NewNop())
	prices := map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(150)}
	empty := types.PortfolioState{Cash: decimal.Zero}

	got := engine.Assess(empty, []types.Order{order("AAPL", 10)}, prices)
	if len(got.ApprovedTrades) != 1 {
		t.Errorf("expected approval when portfolio value is zero, got violations %v", got.Violations)
	}
}

func TestAssessUsesFallbackPrice(t *testing.T) {
	engine := NewEngine(testPolicy(), zap.NewNop())

	// no limit price, no market price: fallback 100 x 600 shares =
	// 60000 notional, over the 50000 cap
	got := engine.Assess(testPortfolio(), []types.Order{order("UNKNOWN", 600)}, nil)
	if len(got.ApprovedTrades) != 0 {
		t.Errorf("expected rejection via fallback price, got approvals")
	}
}

func TestAssessPreservesInputOrder(t *testing.T) {
	engine := NewEngine(testPolicy(), zap.NewNop())
	prices := map[string]decimal.Decimal{
		"AAPL": decimal.NewFromInt(10),
		"MSFT": decimal.NewFromInt(10),
		"GOOG": decimal.NewFromInt(10),
	}
	orders := []types.Order{order("GOOG", 1), order("MEME", 1), order("AAPL", 2), order("MSFT", 3)}

	got := engine.Assess(testPortfolio(), orders, prices)
	if len(got.ApprovedTrades) != 3 {
		t.Fatalf("expected 3 approvals, got %d", len(got.ApprovedTrades))
	}
	wantOrder := []string{"GOOG", "AAPL", "MSFT"}
	for i, sym := range wantOrder {
		if got.ApprovedTrades[i].Symbol != sym {
			t.Errorf("approval %d = %s, want %s", i, got.ApprovedTrades[i].Symbol, sym)
		}
	}
}

func TestAssessLimitPricePrecedence(t *testing.T) {
	engine := NewEngine(testPolicy(), zap.NewNop())
	prices := map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(1)}

	o := order("AAPL", 100)
	o.Type = types.OrderTypeLimit
	o.LimitPrice = decimal.NewFromInt(1000) // 100 x 1000 = 100000 notional

	got := engine.Assess(testPortfolio(), []types.Order{o}, prices)
	if len(got.ApprovedTrades) != 0 {
		t.Error("expected limit price to drive the notional check")
	}
}
