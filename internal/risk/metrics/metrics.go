// Package metrics provides the Prometheus instrumentation shared by every
// risk-plane component, following the registration pattern in
// internal/hft/metrics/baseline_metrics.go but scoped to a caller-supplied
// registry instead of the global default, so multiple component instances
// (as routinely constructed in tests) never collide on duplicate
// registration.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set bundles the counters and gauges exported by the risk plane.
type Set struct {
	Registry        *prometheus.Registry
	OrdersChecked   *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	BreakerTrips    *prometheus.CounterVec
	BreakerState    prometheus.Gauge
	VaRHistorical95 prometheus.Gauge
	VaRHistorical99 prometheus.Gauge
	AlertsRaised    *prometheus.CounterVec
	AlertsThrottled prometheus.Counter
	BackupDuration  prometheus.Histogram
	Drawdown        prometheus.Gauge
}

// New registers a fresh metrics Set against reg. Pass a dedicated
// *prometheus.Registry per test or per process; never share one across
// independently-constructed component instances.
func New(reg *prometheus.Registry) *Set {
	s := &Set{
		Registry: reg,
		OrdersChecked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskcore_orders_checked_total",
			Help: "Total number of pre-trade risk checks performed.",
		}, []string{"symbol"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskcore_orders_rejected_total",
			Help: "Total number of orders rejected by the pre-trade risk check, by reason.",
		}, []string{"reason"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskcore_breaker_trips_total",
			Help: "Total number of circuit breaker trips, by trigger.",
		}, []string{"trigger"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskcore_breaker_state",
			Help: "Current breaker state (0=Closed, 1=Open, 2=HalfOpen).",
		}),
		VaRHistorical95: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskcore_var_historical_95",
			Help: "Latest historical VaR at the 95% confidence level.",
		}),
		VaRHistorical99: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskcore_var_historical_99",
			Help: "Latest historical VaR at the 99% confidence level.",
		}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskcore_alerts_raised_total",
			Help: "Total number of alerts actually persisted, by severity.",
		}, []string{"severity"}),
		AlertsThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskcore_alerts_throttled_total",
			Help: "Total number of alert raises discarded by throttling.",
		}),
		BackupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskcore_backup_duration_seconds",
			Help:    "Time spent creating a labeled backup.",
			Buckets: prometheus.DefBuckets,
		}),
		Drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskcore_drawdown_pct",
			Help: "Current drawdown percentage from peak PnL.",
		}),
	}
	reg.MustRegister(
		s.OrdersChecked, s.OrdersRejected, s.BreakerTrips, s.BreakerState,
		s.VaRHistorical95, s.VaRHistorical99, s.AlertsRaised, s.AlertsThrottled,
		s.BackupDuration, s.Drawdown,
	)
	return s
}
