package orchestrator

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-gate/internal/config"
	"github.com/atlas-desktop/strategy-gate/internal/scenarios"
	"github.com/atlas-desktop/strategy-gate/internal/workers"
	"github.com/atlas-desktop/strategy-gate/pkg/types"
)

func testOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	o, err := New(cfg, nil, scenarios.NewRegistry(), zap.NewNop())
	if err != nil {
		t.Fatalf("orchestrator construction failed: %v", err)
	}
	return o
}

func risingBars(n int) []types.PriceBar {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.PriceBar, n)
	for i := range bars {
		px := 100.0
		if i >= 20 {
			px = 100 + float64(i-19)*2
		}
		d := decimal.NewFromFloat(px)
		bars[i] = types.PriceBar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      d, High: d, Low: d, Close: d,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return bars
}

func validStrategy(id string) types.StrategySpec {
	return types.StrategySpec{
		ID:       id,
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

func TestRunBatchKeepsInputOrder(t *testing.T) {
	o := testOrchestrator(t)
	bars := map[string][]types.PriceBar{"AAPL": risingBars(60)}
	portfolio := types.PortfolioState{Cash: decimal.NewFromInt(100000)}

	strategies := []types.StrategySpec{
		validStrategy("s-0"), validStrategy("s-1"), validStrategy("s-2"),
	}
	result, err := o.Run(strategies, bars, portfolio, RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.RunID == "" {
		t.Error("expected a run id")
	}
	if len(result.Candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(result.Candidates))
	}
	for i, c := range result.Candidates {
		if c.Strategy.ID != strategies[i].ID {
			t.Errorf("candidate %d is %s, want %s", i, c.Strategy.ID, strategies[i].ID)
		}
		if c.Backtest == nil {
			t.Errorf("candidate %d missing backtest", i)
		}
		if c.Risk == nil {
			t.Errorf("candidate %d missing risk assessment", i)
		}
	}
}

func TestRunIsolatesMalformedStrategy(t *testing.T) {
	o := testOrchestrator(t)
	bars := map[string][]types.PriceBar{"AAPL": risingBars(60)}
	portfolio := types.PortfolioState{Cash: decimal.NewFromInt(100000)}

	bad := validStrategy("s-bad")
	bad.Rules = []types.Rule{{Category: "entry", Indicator: "astrology"}}

	result, err := o.Run([]types.StrategySpec{
		validStrategy("s-good"), bad, validStrategy("s-also-good"),
	}, bars, portfolio, RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Candidates[1].SkipReason == "" {
		t.Error("expected malformed strategy to carry a skip reason")
	}
	if !strings.Contains(result.Candidates[1].SkipReason, "astrology") {
		t.Errorf("skip reason should name the failure: %q", result.Candidates[1].SkipReason)
	}
	if result.Candidates[0].Backtest == nil || result.Candidates[2].Backtest == nil {
		t.Error("healthy strategies must still be evaluated")
	}
}

func TestRunSkipsRulelessStrategy(t *testing.T) {
	o := testOrchestrator(t)
	empty := validStrategy("s-empty")
	empty.Rules = nil

	result, err := o.Run([]types.StrategySpec{empty},
		map[string][]types.PriceBar{}, types.PortfolioState{Cash: decimal.NewFromInt(1000)}, RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Candidates[0].SkipReason == "" {
		t.Error("expected skip reason for ruleless strategy")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	cfg.Workers = 0
	if _, err := New(cfg, nil, scenarios.NewRegistry(), zap.NewNop()); err == nil {
		t.Fatal("expected construction to fail on invalid config")
	}
}

func TestRunWithPoolAndStages(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	pool := workers.NewPool(zap.NewNop(), &workers.PoolConfig{
		Name: "test", NumWorkers: 2, QueueSize: 16,
	})
	pool.Start()
	defer pool.Stop()

	o, err := New(cfg, pool, scenarios.NewRegistry(), zap.NewNop())
	if err != nil {
		t.Fatalf("orchestrator construction failed: %v", err)
	}

	bars := map[string][]types.PriceBar{"AAPL": risingBars(200)}
	portfolio := types.PortfolioState{Cash: decimal.NewFromInt(100000)}

	result, err := o.Run([]types.StrategySpec{validStrategy("s-0"), validStrategy("s-1")},
		bars, portfolio, RunOptions{Validate: true, Gate: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for i, c := range result.Candidates {
		if c.Validation == nil {
			t.Errorf("candidate %d missing validation", i)
		}
		if c.Gating == nil {
			t.Errorf("candidate %d missing gating result", i)
		}
	}
}
