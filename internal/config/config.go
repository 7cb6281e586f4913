// Package config loads and validates service configuration from file,
// environment, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/strategy-gate/pkg/types"
)

// ErrConfiguration marks a configuration problem that must fail the run
// before any strategy is evaluated.
var ErrConfiguration = errors.New("configuration error")

// Config is the full service configuration.
type Config struct {
	Server     types.ServerConfig
	Data       types.DataConfig
	Engine     types.EngineConfig
	Risk       types.RiskPolicy
	Validation types.ValidationConfig
	Gate       types.GateConfig
	Workers    int
	LogLevel   string
}

// Load reads configuration from the given file (optional), environment
// variables prefixed STRATEGY_GATE_, and built-in defaults, then
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STRATEGY_GATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrConfiguration, path, err)
		}
	}

	cfg := &Config{
		Server: types.ServerConfig{
			Host:          v.GetString("server.host"),
			Port:          v.GetInt("server.port"),
			WebSocketPath: v.GetString("server.websocket_path"),
			ReadTimeout:   v.GetDuration("server.read_timeout"),
			WriteTimeout:  v.GetDuration("server.write_timeout"),
			EnableMetrics: v.GetBool("server.enable_metrics"),
		},
		Data: types.DataConfig{
			DataDir:         v.GetString("data.dir"),
			Timeframe:       types.Timeframe(v.GetString("data.timeframe")),
			SyntheticSeed:   v.GetInt64("data.synthetic_seed"),
			DefaultUniverse: v.GetStringSlice("data.default_universe"),
		},
		Engine: types.EngineConfig{
			InitialCash: decimalFrom(v, "engine.initial_cash"),
			Costs: types.CostModel{
				Commission:     decimalFrom(v, "engine.commission"),
				CommissionFlat: decimalFrom(v, "engine.commission_flat"),
				SlippagePct:    decimalFrom(v, "engine.slippage_pct"),
			},
			AnnualizationFactor: v.GetFloat64("engine.annualization_factor"),
		},
		Risk: types.RiskPolicy{
			MaxTradeNotional:     decimalFrom(v, "risk.max_trade_notional"),
			MaxPortfolioExposure: decimalFrom(v, "risk.max_portfolio_exposure"),
			BlacklistSymbols:     v.GetStringSlice("risk.blacklist_symbols"),
			FallbackPrice:        decimalFrom(v, "risk.fallback_price"),
		},
		Validation: types.ValidationConfig{
			TrainSplit:      v.GetFloat64("validation.train_split"),
			ValidationSplit: v.GetFloat64("validation.validation_split"),
			HoldoutSplit:    v.GetFloat64("validation.holdout_split"),
			WalkForward:     v.GetBool("validation.walk_forward"),
			WindowSize:      v.GetInt("validation.window_size"),
		},
		Gate: types.GateConfig{
			ScenarioTags: v.GetStringSlice("gate.scenario_tags"),
			Override:     v.GetBool("gate.override"),
		},
		Workers:  v.GetInt("workers"),
		LogLevel: v.GetString("log_level"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the full configuration, failing fast before any
// strategy work starts.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port must be in (0,65535], got %d", ErrConfiguration, c.Server.Port)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be > 0, got %d", ErrConfiguration, c.Workers)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := c.Validation.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.enable_metrics", true)

	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.timeframe", string(types.Timeframe1d))
	v.SetDefault("data.synthetic_seed", 42)
	v.SetDefault("data.default_universe", []string{"AAPL", "MSFT", "GOOG"})

	v.SetDefault("engine.initial_cash", "100000")
	v.SetDefault("engine.commission", "0.001")
	v.SetDefault("engine.commission_flat", "0")
	v.SetDefault("engine.slippage_pct", "0.0005")
	v.SetDefault("engine.annualization_factor", 252.0)

	v.SetDefault("risk.max_trade_notional", "50000")
	v.SetDefault("risk.max_portfolio_exposure", "0.25")
	v.SetDefault("risk.blacklist_symbols", []string{})
	v.SetDefault("risk.fallback_price", "100")

	v.SetDefault("validation.train_split", 0.6)
	v.SetDefault("validation.validation_split", 0.2)
	v.SetDefault("validation.holdout_split", 0.2)
	v.SetDefault("validation.walk_forward", false)
	v.SetDefault("validation.window_size", 0)

	v.SetDefault("gate.scenario_tags", []string{})
	v.SetDefault("gate.override", false)

	v.SetDefault("workers", 4)
	v.SetDefault("log_level", "info")
}

func decimalFrom(v *viper.Viper, key string) decimal.Decimal {
	raw := v.GetString(key)
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}
