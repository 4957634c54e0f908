// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BarsProcessed counts bars consumed by the simulation loop.
	BarsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtest_bars_processed_total",
		Help: "Number of bars processed across all runs",
	})

	// SignalsGenerated counts strategy signals by type.
	SignalsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_signals_generated_total",
		Help: "Number of strategy signals generated, by signal type",
	}, []string{"type"})

	// OrdersRejected counts orders refused by the risk manager.
	OrdersRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtest_orders_rejected_total",
		Help: "Number of orders rejected by risk checks",
	})

	// OrdersFilled counts simulated fills by action.
	OrdersFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_orders_filled_total",
		Help: "Number of simulated fills, by order action",
	}, []string{"action"})

	// RunsCompleted counts finished backtest runs.
	RunsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtest_runs_completed_total",
		Help: "Number of completed backtest runs",
	})

	// OptimizerEvaluations counts parameter sets evaluated by the optimizer.
	OptimizerEvaluations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optimizer_evaluations_total",
		Help: "Number of parameter combinations evaluated",
	})
)

// Serve exposes /metrics on the given address. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
