// Package metrics exposes Prometheus instrumentation for the trading engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	PositionsDeployed *prometheus.CounterVec
	OrdersPlaced      *prometheus.CounterVec
	ReconcileRuns     prometheus.Counter
	StopLossExits     *prometheus.CounterVec
	AdjustmentCloses  prometheus.Counter
	OrdersRepriced    prometheus.Counter
	OpenPositions     prometheus.Gauge
	JobErrors         *prometheus.CounterVec
}

// New creates the collectors and registers them on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PositionsDeployed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ironfly",
			Name:      "positions_deployed_total",
			Help:      "Iron fly positions deployed, by client.",
		}, []string{"client"}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ironfly",
			Name:      "orders_placed_total",
			Help:      "Orders submitted to the brokerage, by purpose.",
		}, []string{"purpose"}),
		ReconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ironfly",
			Name:      "reconcile_runs_total",
			Help:      "Completed order reconciliation passes.",
		}),
		StopLossExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ironfly",
			Name:      "stop_loss_exits_total",
			Help:      "Stop-loss pair exits, by option side.",
		}, []string{"side"}),
		AdjustmentCloses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ironfly",
			Name:      "adjustment_closes_total",
			Help:      "Positions closed by an adjustment-band breach.",
		}),
		OrdersRepriced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ironfly",
			Name:      "orders_repriced_total",
			Help:      "Unfilled short legs re-priced to the current market.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ironfly",
			Name:      "open_positions",
			Help:      "Positions currently in the OPEN or COMPLETE state.",
		}),
		JobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ironfly",
			Name:      "job_errors_total",
			Help:      "Scheduled job runs that returned an error, by job.",
		}, []string{"job"}),
	}

	reg.MustRegister(
		m.PositionsDeployed,
		m.OrdersPlaced,
		m.ReconcileRuns,
		m.StopLossExits,
		m.AdjustmentCloses,
		m.OrdersRepriced,
		m.OpenPositions,
		m.JobErrors,
	)
	return m
}

// NewUnregistered creates a Metrics with a private registry, for tests.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
