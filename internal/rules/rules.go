// Package rules normalizes declarative strategy rules into a closed set
// of executable rule kinds and evaluates them against price series.
package rules

import (
	"fmt"
	"math"
	"strings"

	"github.com/atlas-desktop/strategy-gate/internal/indicators"
	"github.com/atlas-desktop/strategy-gate/pkg/types"
)

// Kind is the resolved semantic category of a rule.
type Kind string

const (
	KindCrossover     Kind = "crossover"
	KindThreshold     Kind = "threshold"
	KindMomentum      Kind = "momentum"
	KindMeanReversion Kind = "mean_reversion"
)

// Direction selects which side of a comparison fires the signal.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// CompiledRule is a rule with its semantics resolved once at load time.
// Evaluation never re-derives the kind.
type CompiledRule struct {
	Kind      Kind
	Category  types.RuleCategory
	Direction Direction

	FastPeriod int
	SlowPeriod int
	Period     int
	Lookback   int
	Threshold  float64
	// Indicator backs threshold rules (sma or ema).
	Indicator string
}

// Normalize resolves a declarative rule into a CompiledRule. Unknown
// indicator/category combinations fail here, never during evaluation.
func Normalize(rule types.Rule) (CompiledRule, error) {
	name := strings.ToLower(strings.TrimSpace(rule.Indicator))
	category := strings.ToLower(strings.TrimSpace(string(rule.Category)))

	compiled := CompiledRule{
		Category:  types.RuleCategoryEntry,
		Direction: DirectionAbove,
	}
	if category == string(types.RuleCategoryExit) {
		compiled.Category = types.RuleCategoryExit
		compiled.Direction = DirectionBelow
	}
	if dir, ok := stringParam(rule.Params, "direction"); ok {
		compiled.Direction = Direction(strings.ToLower(dir))
	}

	switch {
	case strings.Contains(name, "cross"):
		// "sma_cross" and friends are always crossovers, whatever the
		// declared category says.
		compiled.Kind = KindCrossover
	case category == "crossover":
		compiled.Kind = KindCrossover
	case category == "signal":
		compiled.Kind = KindThreshold
	case category == "momentum":
		compiled.Kind = KindMomentum
	case category == "mean_reversion":
		compiled.Kind = KindMeanReversion
	case name == "zscore":
		compiled.Kind = KindMeanReversion
	case name == "roc":
		compiled.Kind = KindMomentum
	case name == "sma" || name == "ema":
		compiled.Kind = KindThreshold
	default:
		return CompiledRule{}, &indicators.ErrUnsupportedIndicator{Name: rule.Indicator}
	}

	switch compiled.Kind {
	case KindCrossover:
		compiled.FastPeriod = intParam(rule.Params, "fast_period", 10)
		compiled.SlowPeriod = intParam(rule.Params, "slow_period", 20)
		if compiled.FastPeriod >= compiled.SlowPeriod {
			return CompiledRule{}, fmt.Errorf("crossover rule: fast_period %d must be < slow_period %d",
				compiled.FastPeriod, compiled.SlowPeriod)
		}
	case KindThreshold:
		compiled.Indicator = name
		if compiled.Indicator != "sma" && compiled.Indicator != "ema" {
			compiled.Indicator = "sma"
		}
		compiled.Period = intParam(rule.Params, "period", 20)
		compiled.Threshold = floatParam(rule.Params, "threshold", 0)
	case KindMomentum:
		compiled.Period = intParam(rule.Params, "period", 20)
		compiled.Lookback = intParam(rule.Params, "lookback", 10)
		compiled.Threshold = floatParam(rule.Params, "return_threshold", 0)
	case KindMeanReversion:
		compiled.Period = intParam(rule.Params, "period", 20)
		compiled.Threshold = floatParam(rule.Params, "threshold", 2.0)
		if compiled.Category == types.RuleCategoryEntry {
			// entering on oversold is the default posture
			if _, ok := stringParam(rule.Params, "direction"); !ok {
				compiled.Direction = DirectionBelow
			}
		}
	}

	return compiled, nil
}

// NormalizeAll compiles a strategy's rules, splitting entries from
// exits. Any single failure fails the whole strategy.
func NormalizeAll(strategyRules []types.Rule) (entries, exits []CompiledRule, err error) {
	for i, r := range strategyRules {
		compiled, err := Normalize(r)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if compiled.Category == types.RuleCategoryExit {
			exits = append(exits, compiled)
		} else {
			entries = append(entries, compiled)
		}
	}
	return entries, exits, nil
}

// Evaluate reports whether the rule fires at index idx of the close
// series. Insufficient history always reads as false.
func (r CompiledRule) Evaluate(prices []float64, idx int) bool {
	if idx < 1 || idx >= len(prices) {
		return false
	}
	switch r.Kind {
	case KindCrossover:
		return r.evalCrossover(prices, idx)
	case KindThreshold:
		return r.evalThreshold(prices, idx)
	case KindMomentum:
		return r.evalMomentum(prices, idx)
	case KindMeanReversion:
		return r.evalMeanReversion(prices, idx)
	}
	return false
}

// Holds reports whether the rule's condition is in effect at idx, as
// opposed to firing there. For crossovers that is the level relation
// (fast above slow), which callers use to decide whether to keep a
// position open; for every other kind it matches Evaluate.
func (r CompiledRule) Holds(prices []float64, idx int) bool {
	if r.Kind != KindCrossover {
		return r.Evaluate(prices, idx)
	}
	if idx < r.SlowPeriod-1 || idx >= len(prices) {
		return false
	}
	fast := indicators.SMA(prices[:idx+1], r.FastPeriod)
	slow := indicators.SMA(prices[:idx+1], r.SlowPeriod)
	if math.IsNaN(fast[idx]) || math.IsNaN(slow[idx]) {
		return false
	}
	if r.Direction == DirectionBelow {
		return fast[idx] < slow[idx]
	}
	return fast[idx] > slow[idx]
}

// HoldsAll reports whether every rule's condition is in effect at idx.
func HoldsAll(set []CompiledRule, prices []float64, idx int) bool {
	if len(set) == 0 {
		return false
	}
	for _, r := range set {
		if !r.Holds(prices, idx) {
			return false
		}
	}
	return true
}

// evalCrossover fires only on the bar where the fast MA crosses the
// slow MA in the rule's direction.
func (r CompiledRule) evalCrossover(prices []float64, idx int) bool {
	if idx < r.SlowPeriod-1 {
		return false
	}
	fast := indicators.SMA(prices[:idx+1], r.FastPeriod)
	slow := indicators.SMA(prices[:idx+1], r.SlowPeriod)
	f1, s1 := fast[idx], slow[idx]
	if math.IsNaN(f1) || math.IsNaN(s1) {
		return false
	}
	f0, s0 := fast[idx-1], slow[idx-1]
	if math.IsNaN(f0) || math.IsNaN(s0) {
		// First bar where both averages exist. A series already on the
		// signal side counts as a cross here, so a trend under way at
		// the start of the data still produces one entry.
		if r.Direction == DirectionBelow {
			return f1 < s1
		}
		return f1 > s1
	}
	if r.Direction == DirectionBelow {
		return f0 >= s0 && f1 < s1
	}
	return f0 <= s0 && f1 > s1
}

func (r CompiledRule) evalThreshold(prices []float64, idx int) bool {
	series, err := indicators.Evaluate(r.Indicator, prices[:idx+1], r.Period)
	if err != nil {
		return false
	}
	value := series[idx]
	if math.IsNaN(value) {
		return false
	}
	// Zero threshold means compare price against the moving average.
	ref := r.Threshold
	if ref == 0 {
		if r.Direction == DirectionBelow {
			return prices[idx] < value
		}
		return prices[idx] > value
	}
	if r.Direction == DirectionBelow {
		return value < ref
	}
	return value > ref
}

func (r CompiledRule) evalMomentum(prices []float64, idx int) bool {
	sma := indicators.SMA(prices[:idx+1], r.Period)
	if math.IsNaN(sma[idx]) {
		return false
	}
	aboveMA := prices[idx] > sma[idx]
	if r.Direction == DirectionBelow {
		aboveMA = prices[idx] < sma[idx]
	}
	if idx < r.Lookback || prices[idx-r.Lookback] == 0 {
		// not enough history for the momentum leg yet
		return aboveMA
	}
	ret := prices[idx]/prices[idx-r.Lookback] - 1
	if r.Direction == DirectionBelow {
		return aboveMA && ret < -r.Threshold
	}
	return aboveMA && ret > r.Threshold
}

func (r CompiledRule) evalMeanReversion(prices []float64, idx int) bool {
	returns := indicators.Returns(prices[:idx+1])
	z := indicators.ZScore(returns[1:], r.Period)
	zi := idx - 1
	if zi < 0 || zi >= len(z) || math.IsNaN(z[zi]) {
		return false
	}
	if r.Direction == DirectionBelow {
		return z[zi] < -r.Threshold
	}
	return z[zi] > r.Threshold
}

// EvaluateAll reports whether every rule in the set fires at idx. An
// empty set reads as false so that a strategy without entry rules never
// trades.
func EvaluateAll(set []CompiledRule, prices []float64, idx int) bool {
	if len(set) == 0 {
		return false
	}
	for _, r := range set {
		if !r.Evaluate(prices, idx) {
			return false
		}
	}
	return true
}

func intParam(params map[string]any, key string, def int) int {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func floatParam(params map[string]any, key string, def float64) float64 {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func stringParam(params map[string]any, key string) (string, bool) {
	if params == nil {
		return "", false
	}
	if v, ok := params[key].(string); ok && v != "" {
		return v, true
	}
	return "", false
}
