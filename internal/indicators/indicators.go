// Package indicators computes technical indicator series over price
// data. All series are the same length as the input, with math.NaN()
// marking positions where the indicator is not yet defined.
package indicators

import (
	"fmt"
	"math"
)

// ErrUnsupportedIndicator is returned when a requested indicator name
// is not registered.
type ErrUnsupportedIndicator struct {
	Name string
}

func (e *ErrUnsupportedIndicator) Error() string {
	return fmt.Sprintf("unsupported indicator: %s", e.Name)
}

// SMA computes the simple moving average over the given period. The
// first period-1 positions are NaN.
func SMA(prices []float64, period int) []float64 {
	out := nanSeries(len(prices))
	if period <= 0 || len(prices) < period {
		return out
	}
	var sum float64
	for i, p := range prices {
		sum += p
		if i >= period {
			sum -= prices[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes the exponential moving average seeded with the SMA of
// the first period values. The first period-1 positions are NaN.
func EMA(prices []float64, period int) []float64 {
	out := nanSeries(len(prices))
	if period <= 0 || len(prices) < period {
		return out
	}
	var seed float64
	for _, p := range prices[:period] {
		seed += p
	}
	seed /= float64(period)
	out[period-1] = seed

	alpha := 2.0 / float64(period+1)
	prev := seed
	for i := period; i < len(prices); i++ {
		prev = (prices[i]-prev)*alpha + prev
		out[i] = prev
	}
	return out
}

// Returns computes simple period-over-period returns. The first
// position is NaN; a zero previous price also yields NaN.
func Returns(prices []float64) []float64 {
	out := nanSeries(len(prices))
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		out[i] = prices[i]/prices[i-1] - 1
	}
	return out
}

// ZScore computes the rolling z-score of each price against the
// trailing window ending at that price. The standard deviation is the
// population form; a zero-variance window yields a z-score of 0.
func ZScore(prices []float64, period int) []float64 {
	out := nanSeries(len(prices))
	if period <= 0 || len(prices) < period {
		return out
	}
	for i := period - 1; i < len(prices); i++ {
		window := prices[i-period+1 : i+1]
		m := mean(window)
		sd := stdDev(window, m)
		if sd == 0 {
			out[i] = 0
			continue
		}
		out[i] = (prices[i] - m) / sd
	}
	return out
}

// ROC computes the rate of change over the given period as a fraction.
// The first period positions are NaN; a zero base price yields NaN.
func ROC(prices []float64, period int) []float64 {
	out := nanSeries(len(prices))
	if period <= 0 {
		return out
	}
	for i := period; i < len(prices); i++ {
		if prices[i-period] == 0 {
			continue
		}
		out[i] = prices[i]/prices[i-period] - 1
	}
	return out
}

// Evaluate dispatches by indicator name. Period defaults to 20 when
// zero or negative, except returns which takes no period.
func Evaluate(name string, prices []float64, period int) ([]float64, error) {
	if period <= 0 {
		period = 20
	}
	switch name {
	case "sma":
		return SMA(prices, period), nil
	case "ema":
		return EMA(prices, period), nil
	case "returns":
		return Returns(prices), nil
	case "zscore":
		return ZScore(prices, period), nil
	case "roc":
		return ROC(prices, period), nil
	default:
		return nil, &ErrUnsupportedIndicator{Name: name}
	}
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64, m float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sq float64
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}
