// FILE: metrics.go
// Package metrics – Prometheus metrics for observability.
//
// Grounded on the teacher's metrics.go: metric vars registered in init(),
// small typed setter/incrementer helper functions, served by promhttp at
// /metrics from main.go. Labels and names are re-scoped to this domain's
// components (order lifecycle, gate state, trades) per SPEC_FULL.md §2.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "core_orders_total", Help: "Orders placed"},
		[]string{"mode", "side", "type"},
	)

	Cancels = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "core_cancels_total", Help: "Pending orders cancelled by the cancel-stale sweep or kill-replace"},
		[]string{"reason"},
	)

	Fills = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "core_fills_total", Help: "Orders filled"},
		[]string{"side"},
	)

	Equity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "core_equity_usd", Help: "Equity in USD"},
		[]string{"symbol"},
	)

	GateState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "core_gate_state", Help: "PnL gate state indicator, one labeled series per state"},
		[]string{"symbol", "state"},
	)

	HardStopActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "core_hard_stop_active", Help: "1 if the hard stop is latched for this symbol"},
		[]string{"symbol"},
	)

	Trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "core_trades_total", Help: "Closed trades by result"},
		[]string{"result"}, // win|loss
	)
)

func init() {
	prometheus.MustRegister(Orders, Cancels, Fills, Equity, GateState, HardStopActive, Trades)
}

// SetGateState flips the labeled gate-state series, mirroring the teacher's
// SetModelModeMetric label-flip idiom in metrics.go.
func SetGateState(symbol, state string) {
	for _, s := range []string{"RUN", "DEGRADED", "PAUSED"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		GateState.WithLabelValues(symbol, s).Set(v)
	}
}

func SetHardStopActive(symbol string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	HardStopActive.WithLabelValues(symbol).Set(v)
}

func IncTrade(result string) { Trades.WithLabelValues(result).Inc() }
func IncCancel(reason string) { Cancels.WithLabelValues(reason).Inc() }
func IncFill(side string)     { Fills.WithLabelValues(side).Inc() }
func IncOrder(mode, side, orderType string) { Orders.WithLabelValues(mode, side, orderType).Inc() }
func SetEquity(symbol string, v float64)    { Equity.WithLabelValues(symbol).Set(v) }
