package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments the server records into.
type Metrics struct {
	RunsTotal       prometheus.Counter
	TradesSimulated prometheus.Counter
	GateFailures    prometheus.Counter
	RunDuration     prometheus.Histogram
}

// NewMetrics registers the server metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "strategy_gate",
			Name:      "runs_total",
			Help:      "Number of evaluation runs started.",
		}),
		TradesSimulated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "strategy_gate",
			Name:      "trades_simulated_total",
			Help:      "Number of simulated trades across all backtests.",
		}),
		GateFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "strategy_gate",
			Name:      "gate_failures_total",
			Help:      "Number of scenario gate verdicts with blocking failures.",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "strategy_gate",
			Name:      "run_duration_seconds",
			Help:      "Wall time of evaluation runs.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
