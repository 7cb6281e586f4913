package backtester

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/strategy-gate/pkg/types"
)

func TestValidateSplits(t *testing.T) {
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	closes := make([]float64, 200)
	for i := range closes {
		closes[i] = 100 + 10*math.Sin(float64(i)/10) + float64(i)*0.2
	}
	bars := map[string][]types.PriceBar{"AAPL": dailyBars(closes, start)}

	engine := NewEngine(testConfig(), zap.NewNop())
	validator := NewValidator(engine, types.ValidationConfig{
		TrainSplit:      0.6,
		ValidationSplit: 0.2,
		HoldoutSplit:    0.2,
	}, zap.NewNop())

	result, err := validator.Validate(crossoverStrategy(), bars)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(result.Windows) != 3 {
		t.Fatalf("expected 3 split windows, got %d", len(result.Windows))
	}
	if result.HoldoutMetrics == nil {
		t.Fatal("expected holdout metrics")
	}

	// train segment covers 60% of 200 bars
	if n := len(result.Windows[0].EquityCurve); n != 120 {
		t.Errorf("train window has %d equity points, want 120", n)
	}
}

func TestValidateSplitsRejectsBadConfig(t *testing.T) {
	engine := NewEngine(testConfig(), zap.NewNop())
	validator := NewValidator(engine, types.ValidationConfig{
		TrainSplit:      0.9,
		ValidationSplit: 0.3,
		HoldoutSplit:    0.3,
	}, zap.NewNop())

	_, err := validator.Validate(crossoverStrategy(), map[string][]types.PriceBar{})
	if err == nil {
		t.Fatal("expected error for splits summing past 1.0")
	}
}

func TestValidateShortDataDegrades(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := map[string][]types.PriceBar{"AAPL": dailyBars([]float64{100, 101}, start)}

	engine := NewEngine(testConfig(), zap.NewNop())
	validator := NewValidator(engine, types.ValidationConfig{
		TrainSplit: 0.6, ValidationSplit: 0.2, HoldoutSplit: 0.2,
	}, zap.NewNop())

	result, err := validator.Validate(crossoverStrategy(), bars)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(result.Windows) != 0 {
		t.Errorf("expected no windows on short data, got %d", len(result.Windows))
	}
	if !result.AggregateMetrics.Sharpe.IsZero() {
		t.Errorf("expected zero aggregate sharpe, got %s", result.AggregateMetrics.Sharpe)
	}
}

func TestValidateWalkForwardWindows(t *testing.T) {
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.5
	}
	bars := map[string][]types.PriceBar{"AAPL": dailyBars(closes, start)}

	engine := NewEngine(testConfig(), zap.NewNop())
	validator := NewValidator(engine, types.ValidationConfig{WalkForward: true}, zap.NewNop())

	result, err := validator.Validate(crossoverStrategy(), bars)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(result.Windows) == 0 {
		t.Fatal("expected at least one walk-forward window")
	}
}

func TestMeanMetrics(t *testing.T) {
	windows := []types.BacktestResult{
		{Metrics: types.BacktestMetrics{
			Sharpe:      decimal.NewFromFloat(1.0),
			MaxDrawdown: decimal.NewFromFloat(0.1),
			TotalReturn: decimal.NewFromFloat(0.2),
		}},
		{Metrics: types.BacktestMetrics{
			Sharpe:      decimal.NewFromFloat(3.0),
			MaxDrawdown: decimal.NewFromFloat(0.3),
			TotalReturn: decimal.NewFromFloat(0.4),
		}},
	}
	got := meanMetrics(windows)
	if !got.Sharpe.Equal(decimal.NewFromFloat(2.0)) {
		t.Errorf("mean sharpe = %s, want 2", got.Sharpe)
	}
	if !got.MaxDrawdown.Equal(decimal.NewFromFloat(0.2)) {
		t.Errorf("mean maxDrawdown = %s, want 0.2", got.MaxDrawdown)
	}
	if !got.TotalReturn.Equal(decimal.NewFromFloat(0.3)) {
		t.Errorf("mean totalReturn = %s, want 0.3", got.TotalReturn)
	}
}
