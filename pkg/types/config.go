// Package types provides configuration types for the strategy gate service.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RiskPolicy holds the static limits the risk engine enforces.
type RiskPolicy struct {
	MaxTradeNotional     decimal.Decimal `json:"maxTradeNotional"`
	MaxPortfolioExposure decimal.Decimal `json:"maxPortfolioExposure"`
	BlacklistSymbols     []string        `json:"blacklistSymbols"`
	// FallbackPrice is used when an order has no limit price and no
	// latest market price is known. Carried over from the original
	// policy; callers that prefer rejecting unpriced orders can set it
	// to zero and pre-filter.
	FallbackPrice decimal.Decimal `json:"fallbackPrice"`
}

// Validate fails fast on contradictory limits.
func (r RiskPolicy) Validate() error {
	if r.MaxTradeNotional.IsNegative() {
		return fmt.Errorf("risk policy: maxTradeNotional must be >= 0, got %s", r.MaxTradeNotional)
	}
	if r.MaxPortfolioExposure.IsNegative() || r.MaxPortfolioExposure.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("risk policy: maxPortfolioExposure must be in [0,1], got %s", r.MaxPortfolioExposure)
	}
	if r.FallbackPrice.IsNegative() {
		return fmt.Errorf("risk policy: fallbackPrice must be >= 0, got %s", r.FallbackPrice)
	}
	return nil
}

// CostModel holds the simulated trading costs applied symmetrically to
// entries and exits.
type CostModel struct {
	// Commission is a proportional rate on the filled notional.
	Commission decimal.Decimal `json:"commission"`
	// CommissionFlat is an additional flat cost per fill.
	CommissionFlat decimal.Decimal `json:"commissionFlat,omitempty"`
	// SlippagePct shifts the fill price unfavorably: buys fill at
	// price*(1+s), sells at price*(1-s).
	SlippagePct decimal.Decimal `json:"slippagePct"`
}

// Validate fails fast on nonsensical cost values.
func (c CostModel) Validate() error {
	if c.Commission.IsNegative() || c.CommissionFlat.IsNegative() {
		return fmt.Errorf("cost model: commission must be >= 0")
	}
	if c.SlippagePct.IsNegative() || c.SlippagePct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("cost model: slippagePct must be in [0,1), got %s", c.SlippagePct)
	}
	return nil
}

// ValidationConfig selects walk-forward validation behavior. Either the
// three split fractions are used, or WalkForward enables rolling
// windows over the data's own date range.
type ValidationConfig struct {
	TrainSplit      float64 `json:"trainSplit"`
	ValidationSplit float64 `json:"validationSplit"`
	HoldoutSplit    float64 `json:"holdoutSplit"`
	WalkForward     bool    `json:"walkForward"`
	// WindowSize is the fixed training window in days for rolling
	// windows; zero means expanding windows.
	WindowSize int `json:"windowSize,omitempty"`
}

// Validate fails fast on impossible split fractions.
func (v ValidationConfig) Validate() error {
	for name, frac := range map[string]float64{
		"trainSplit":      v.TrainSplit,
		"validationSplit": v.ValidationSplit,
		"holdoutSplit":    v.HoldoutSplit,
	} {
		if frac < 0 || frac > 1 {
			return fmt.Errorf("validation config: %s must be in [0,1], got %v", name, frac)
		}
	}
	if total := v.TrainSplit + v.ValidationSplit + v.HoldoutSplit; total > 1.0+1e-2 {
		return fmt.Errorf("validation config: splits must sum to <= 1.0, got %v", total)
	}
	if v.WindowSize < 0 {
		return fmt.Errorf("validation config: windowSize must be >= 0, got %d", v.WindowSize)
	}
	return nil
}

// GateConfig selects which scenarios to gate on. Override is honored by
// the orchestration caller, never by the gate itself.
type GateConfig struct {
	ScenarioTags []string `json:"scenarioTags,omitempty"`
	Override     bool     `json:"override"`
}

// EngineConfig holds the backtest engine settings shared by a run.
type EngineConfig struct {
	InitialCash decimal.Decimal `json:"initialCash"`
	Costs       CostModel       `json:"costs"`
	// AnnualizationFactor scales the per-bar Sharpe ratio; 252 for
	// daily bars.
	AnnualizationFactor float64 `json:"annualizationFactor"`
}

// Validate fails fast on an unusable engine configuration.
func (e EngineConfig) Validate() error {
	if e.InitialCash.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("engine config: initialCash must be > 0, got %s", e.InitialCash)
	}
	if e.AnnualizationFactor < 0 {
		return fmt.Errorf("engine config: annualizationFactor must be >= 0, got %v", e.AnnualizationFactor)
	}
	return e.Costs.Validate()
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	WebSocketPath string        `json:"websocketPath"`
	ReadTimeout   time.Duration `json:"readTimeout"`
	WriteTimeout  time.Duration `json:"writeTimeout"`
	EnableMetrics bool          `json:"enableMetrics"`
}

// DataConfig holds the bar store settings.
type DataConfig struct {
	DataDir         string    `json:"dataDir"`
	Timeframe       Timeframe `json:"timeframe"`
	SyntheticSeed   int64     `json:"syntheticSeed"`
	DefaultUniverse []string  `json:"defaultUniverse"`
}
