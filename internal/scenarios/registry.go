// Package scenarios replays strategies through historical stress
// windows and gates them on metric thresholds.
package scenarios

import (
	"sync"
	"time"

	"github.com/atlas-desktop/strategy-gate/pkg/types"
)

// Registry holds the known stress scenarios. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	scenarios []types.Scenario
}

// NewRegistry creates a registry seeded with the built-in historical
// scenarios.
func NewRegistry() *Registry {
	return &Registry{scenarios: builtinScenarios()}
}

func builtinScenarios() []types.Scenario {
	return []types.Scenario{
		{
			ID:          "2008_financial_crisis",
			Name:        "2008 Financial Crisis",
			Description: "Peak-to-trough of the global financial crisis",
			Start:       time.Date(2007, 10, 1, 0, 0, 0, 0, time.UTC),
			End:         time.Date(2009, 3, 31, 0, 0, 0, 0, time.UTC),
			Tags:        []string{"crisis", "bear", "high_volatility"},
		},
		{
			ID:          "covid_crash",
			Name:        "COVID-19 Crash",
			Description: "Pandemic crash and initial recovery",
			Start:       time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC),
			End:         time.Date(2020, 6, 30, 0, 0, 0, 0, time.UTC),
			Tags:        []string{"crisis", "crash", "high_volatility"},
		},
		{
			ID:          "2022_bear_market",
			Name:        "2022 Bear Market",
			Description: "Rate-hike driven drawdown across the year",
			Start:       time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
			End:         time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC),
			Tags:        []string{"bear", "rising_rates"},
		},
	}
}

// All returns every registered scenario.
func (r *Registry) All() []types.Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Scenario, len(r.scenarios))
	copy(out, r.scenarios)
	return out
}

// ByTags returns scenarios carrying every given tag. Empty tags match
// everything.
func (r *Registry) ByTags(tags []string) []types.Scenario {
	if len(tags) == 0 {
		return r.All()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Scenario
	for _, s := range r.scenarios {
		if s.HasAllTags(tags) {
			out = append(out, s)
		}
	}
	return out
}

// Register adds a scenario. Existing IDs are replaced.
func (r *Registry) Register(s types.Scenario) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.scenarios {
		if existing.ID == s.ID {
			r.scenarios[i] = s
			return
		}
	}
	r.scenarios = append(r.scenarios, s)
}
