package backtester

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-gate/pkg/types"
)

func testConfig() types.EngineConfig {
	return types.EngineConfig{
		InitialCash: decimal.NewFromInt(100000),
		Costs: types.CostModel{
			Commission:  decimal.NewFromFloat(0.001),
			SlippagePct: decimal.NewFromFloat(0.0005),
		},
		AnnualizationFactor: 252,
	}
}

func dailyBars(closes []float64, start time.Time) []types.PriceBar {
	bars := make([]types.PriceBar, len(closes))
	for i, c := range closes {
		px := decimal.NewFromFloat(c)
		bars[i] = types.PriceBar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      px,
			High:      px.Mul(decimal.NewFromFloat(1.01)),
			Low:       px.Mul(decimal.NewFromFloat(0.99)),
			Close:     px,
			Volume:    decimal.NewFromInt(1000),
		}
	}
	return bars
}

func crossoverStrategy() types.StrategySpec {
	return types.StrategySpec{
		ID:       "strat-1",
		Name:     "sma crossover",
		Universe: []string{"AAPL"},
		Rules: []types.Rule{
			{Category: "entry", Indicator: "sma_cross",
				Params: map[string]any{"fast_period": 3, "slow_period": 10}},
		},
		Params: types.StrategyParams{
			PositionSizing: types.SizingFixedFraction,
			Fraction:       decimal.NewFromFloat(0.1),
		},
	}
}

func risingSeries(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		if i < 20 {
			closes[i] = 100
		} else {
			closes[i] = 100 + float64(i-19)*2
		}
	}
	return closes
}

func TestRisingCrossoverBuysOnceAndProfits(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := map[string][]types.PriceBar{"AAPL": dailyBars(risingSeries(60), start)}

	engine := NewEngine(testConfig(), zap.NewNop())
	result, err := engine.Run(crossoverStrategy(), bars)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	buys, sells := 0, 0
	for _, tr := range result.TradeLog {
		if tr.Side == types.OrderSideBuy {
			buys++
		} else {
			sells++
		}
	}
	if buys != 1 {
		t.Errorf("expected exactly 1 buy, got %d (trades: %d)", buys, len(result.TradeLog))
	}
	if sells != 0 {
		t.Errorf("expected no sells while the trend holds, got %d", sells)
	}
	if !result.Metrics.TotalReturn.IsPositive() {
		t.Errorf("expected positive total return on rising series, got %s", result.Metrics.TotalReturn)
	}
}

func TestMonotonicRiseEntersOnceStaysLong(t *testing.T) {
	// Prices rise every bar from 100 to 160: the fast MA is above the
	// slow MA from the first bar where both exist, so there is one
	// entry, no exit, and the open position is marked to market in the
	// final equity point rather than closed with a fabricated fill.
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)*60.0/59.0
	}
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := map[string][]types.PriceBar{"AAPL": dailyBars(closes, start)}

	strategy := crossoverStrategy()
	strategy.Rules = []types.Rule{
		{Category: "entry", Indicator: "sma_cross",
			Params: map[string]any{"fast_period": 5, "slow_period": 20}},
	}

	engine := NewEngine(testConfig(), zap.NewNop())
	result, err := engine.Run(strategy, bars)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	buys, sells := 0, 0
	for _, tr := range result.TradeLog {
		if tr.Side == types.OrderSideBuy {
			buys++
		} else {
			sells++
		}
	}
	if buys != 1 || sells != 0 {
		t.Fatalf("got %d buys, %d sells; want 1 buy, 0 sells (trades: %v)", buys, sells, result.TradeLog)
	}
	if !result.Metrics.TotalReturn.IsPositive() {
		t.Errorf("expected positive total return, got %s", result.Metrics.TotalReturn)
	}
}

func TestRunPreservesUniverseOrder(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := map[string][]types.PriceBar{
		"AAPL": dailyBars(risingSeries(60), start),
		"MSFT": dailyBars(risingSeries(60), start),
	}
	strategy := crossoverStrategy()
	strategy.Universe = []string{"MSFT", "AAPL"}

	engine := NewEngine(testConfig(), zap.NewNop())
	if _, err := engine.Run(strategy, bars); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strategy.Universe[0] != "MSFT" || strategy.Universe[1] != "AAPL" {
		t.Errorf("Run reordered the universe: %v", strategy.Universe)
	}
}

func TestEquityCurveShape(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	closes := risingSeries(50)
	bars := map[string][]types.PriceBar{"AAPL": dailyBars(closes, start)}

	engine := NewEngine(testConfig(), zap.NewNop())
	result, err := engine.Run(crossoverStrategy(), bars)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.EquityCurve) != len(closes) {
		t.Fatalf("equity curve has %d points, want %d", len(result.EquityCurve), len(closes))
	}
	if !result.EquityCurve[0].Value.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("first equity point = %s, want initial cash", result.EquityCurve[0].Value)
	}
	for i := 1; i < len(result.EquityCurve); i++ {
		if !result.EquityCurve[i].Timestamp.After(result.EquityCurve[i-1].Timestamp) {
			t.Fatalf("equity timestamps not strictly ascending at %d", i)
		}
	}
}

func TestFlatPricesNoTrades(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 100
	}
	bars := map[string][]types.PriceBar{"AAPL": dailyBars(flat, start)}

	engine := NewEngine(testConfig(), zap.NewNop())
	result, err := engine.Run(crossoverStrategy(), bars)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.TradeLog) != 0 {
		t.Errorf("expected no trades on flat prices, got %d", len(result.TradeLog))
	}
	if !result.Metrics.Sharpe.IsZero() || !result.Metrics.TotalReturn.IsZero() || !result.Metrics.MaxDrawdown.IsZero() {
		t.Errorf("expected zeroed metrics for zero-trade run, got %+v", result.Metrics)
	}
}

func TestEmptyDataDegrades(t *testing.T) {
	engine := NewEngine(testConfig(), zap.NewNop())
	result, err := engine.Run(crossoverStrategy(), map[string][]types.PriceBar{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.TradeLog) != 0 {
		t.Errorf("expected zero trades on empty data, got %d", len(result.TradeLog))
	}
}

func TestMalformedStrategyFails(t *testing.T) {
	strategy := crossoverStrategy()
	strategy.Rules = []types.Rule{{Category: "entry", Indicator: "fibonacci"}}

	engine := NewEngine(testConfig(), zap.NewNop())
	_, err := engine.Run(strategy, map[string][]types.PriceBar{})
	if err == nil {
		t.Fatal("expected error for unsupported indicator rule")
	}
}

func TestSlippageDirection(t *testing.T) {
	// Rise then fall so the default exit fires and the log carries both
	// a buy and a sell.
	closes := make([]float64, 60)
	for i := range closes {
		switch {
		case i < 20:
			closes[i] = 100
		case i < 40:
			closes[i] = 100 + float64(i-19)*2
		default:
			closes[i] = 140 - float64(i-39)*3
		}
	}
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := map[string][]types.PriceBar{"AAPL": dailyBars(closes, start)}

	engine := NewEngine(testConfig(), zap.NewNop())
	result, err := engine.Run(crossoverStrategy(), bars)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	sides := map[types.OrderSide]bool{}
	for _, tr := range result.TradeLog {
		sides[tr.Side] = true
	}
	if !sides[types.OrderSideBuy] || !sides[types.OrderSideSell] {
		t.Fatalf("expected both a buy and a sell, got trades: %v", result.TradeLog)
	}
	for _, tr := range result.TradeLog {
		var barClose decimal.Decimal
		for _, b := range bars["AAPL"] {
			if b.Timestamp.Equal(tr.Timestamp) {
				barClose = b.Close
			}
		}
		if tr.Side == types.OrderSideBuy && !tr.Price.GreaterThan(barClose) {
			t.Errorf("buy fill %s not above close %s", tr.Price, barClose)
		}
		if tr.Side == types.OrderSideSell && !tr.Price.LessThan(barClose) {
			t.Errorf("sell fill %s not below close %s", tr.Price, barClose)
		}
	}
}

func TestDeterministicRepeatRuns(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := map[string][]types.PriceBar{
		"AAPL": dailyBars(risingSeries(60), start),
		"MSFT": dailyBars(risingSeries(60), start),
	}
	strategy := crossoverStrategy()
	strategy.Universe = []string{"AAPL", "MSFT"}
	strategy.Params.EvaluationMode = types.EvalPortfolioLevel

	engine := NewEngine(testConfig(), zap.NewNop())
	first, err := engine.Run(strategy, bars)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := engine.Run(strategy, bars)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if len(first.TradeLog) != len(second.TradeLog) {
		t.Fatalf("trade counts differ: %d vs %d", len(first.TradeLog), len(second.TradeLog))
	}
	for i := range first.TradeLog {
		a, b := first.TradeLog[i], second.TradeLog[i]
		if a.Symbol != b.Symbol || a.Side != b.Side || !a.Quantity.Equal(b.Quantity) || !a.Price.Equal(b.Price) {
			t.Errorf("trade %d differs between runs: %+v vs %+v", i, a, b)
		}
	}
	for i := range first.EquityCurve {
		if !first.EquityCurve[i].Value.Equal(second.EquityCurve[i].Value) {
			t.Errorf("equity point %d differs between runs", i)
		}
	}
}

func TestPerSymbolModeSplitsCash(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := map[string][]types.PriceBar{
		"AAPL": dailyBars(risingSeries(60), start),
		"MSFT": dailyBars(risingSeries(60), start),
	}
	strategy := crossoverStrategy()
	strategy.Universe = []string{"AAPL", "MSFT"}
	strategy.Params.EvaluationMode = types.EvalPerSymbol

	engine := NewEngine(testConfig(), zap.NewNop())
	result, err := engine.Run(strategy, bars)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.EquityCurve[0].Value.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("initial combined equity = %s, want 100000", result.EquityCurve[0].Value)
	}
	symbols := map[string]bool{}
	for _, tr := range result.TradeLog {
		symbols[tr.Symbol] = true
	}
	if !symbols["AAPL"] || !symbols["MSFT"] {
		t.Errorf("expected trades in both symbols, got %v", symbols)
	}
}

func TestFixedSizeSizing(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := map[string][]types.PriceBar{"AAPL": dailyBars(risingSeries(60), start)}
	strategy := crossoverStrategy()
	strategy.Params = types.StrategyParams{
		PositionSizing: types.SizingFixedSize,
		FixedSize:      decimal.NewFromInt(1000),
	}

	engine := NewEngine(testConfig(), zap.NewNop())
	result, err := engine.Run(strategy, bars)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.TradeLog) == 0 {
		t.Fatal("expected trades")
	}
	buy := result.TradeLog[0]
	// close at the crossing bar is 102: 1000/102 rounded to 2 dp
	want := decimal.NewFromInt(1000).Div(decimal.NewFromInt(102)).Round(2)
	if !buy.Quantity.Equal(want) {
		t.Errorf("fixed-size quantity = %s, want %s", buy.Quantity, want)
	}
}
