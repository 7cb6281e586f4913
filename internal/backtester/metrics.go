package backtester

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/strategy-gate/pkg/types"
)

// MetricsCalculator derives summary statistics from an equity curve.
// Statistics work in float64; the results are carried as decimals like
// everything else money-adjacent.
type MetricsCalculator struct {
	annualizationFactor float64
}

// NewMetricsCalculator creates a calculator. annualizationFactor is the
// number of bars per year (252 for daily bars).
func NewMetricsCalculator(annualizationFactor float64) *MetricsCalculator {
	if annualizationFactor <= 0 {
		annualizationFactor = 252
	}
	return &MetricsCalculator{annualizationFactor: annualizationFactor}
}

// Compute returns the metrics for an equity curve. A run with no trades
// reports zeroed metrics.
func (mc *MetricsCalculator) Compute(curve []types.EquityPoint, tradeCount int) types.BacktestMetrics {
	if tradeCount == 0 || len(curve) < 2 {
		return types.BacktestMetrics{
			Sharpe:      decimal.Zero,
			MaxDrawdown: decimal.Zero,
			TotalReturn: decimal.Zero,
		}
	}

	values := make([]float64, len(curve))
	for i, p := range curve {
		values[i], _ = p.Value.Float64()
	}

	return types.BacktestMetrics{
		Sharpe:      decimal.NewFromFloat(mc.sharpe(values)),
		MaxDrawdown: decimal.NewFromFloat(mc.maxDrawdown(values)),
		TotalReturn: decimal.NewFromFloat(mc.totalReturn(values)),
	}
}

// totalReturn is final/initial - 1.
func (mc *MetricsCalculator) totalReturn(values []float64) float64 {
	if values[0] == 0 {
		return 0
	}
	return values[len(values)-1]/values[0] - 1
}

// maxDrawdown is the largest peak-to-date decline as a fraction in
// [0, 1].
func (mc *MetricsCalculator) maxDrawdown(values []float64) float64 {
	peak := values[0]
	var maxDD float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// sharpe is the annualized mean/stdev ratio of per-bar equity returns.
// Zero variance yields zero.
func (mc *MetricsCalculator) sharpe(values []float64) float64 {
	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		returns = append(returns, values[i]/values[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
	}
	m := mc.mean(returns)
	sd := mc.stdDev(returns, m)
	if sd == 0 {
		return 0
	}
	return m / sd * math.Sqrt(mc.annualizationFactor)
}

func (mc *MetricsCalculator) mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func (mc *MetricsCalculator) stdDev(values []float64, m float64) float64 {
	var sq float64
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

func (e *Engine) computeMetrics(curve []types.EquityPoint, tradeCount int) types.BacktestMetrics {
	return NewMetricsCalculator(e.config.AnnualizationFactor).Compute(curve, tradeCount)
}
