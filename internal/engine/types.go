// Package engine implements the Hybrid Strategy Engine (grid + DCA market
// making) and the PnL Gate + Stop-Loss Supervisor (spec §4.1, §4.2).
//
// The engine is deterministic given (EngineState, IndicatorBundle, bar,
// equity, Policy): on_bar is a pure function of its inputs plus the
// explicit state mutation it performs on EngineState, grounded on the
// teacher's strategy.go decide() shape (a plain function from indicators to
// a decision value) and on original_source/src/strategies/
// hybrid_strategy_engine.py for exact numeric defaults and control flow.
package engine

import (
	"time"
)

// GateState is the three-level PnL Gate regulator.
type GateState string

const (
	Run      GateState = "RUN"
	Degraded GateState = "DEGRADED"
	Paused   GateState = "PAUSED"
)

// Band is the volatility bucket derived from ATR%.
type Band string

const (
	BandNear Band = "near"
	BandMid  Band = "mid"
	BandFar  Band = "far"
)

// OrderSide is the direction of a planned order.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Order is one planned limit order, a pure value.
type Order struct {
	Side  OrderSide
	Price float64
	Tag   string
	Qty   *float64
}

// StopLossAction communicates whether the supervisor demands an immediate
// close of all open positions this bar.
type StopLossAction struct {
	Stop   bool
	Reason string
}

// Plan is the pure value emitted by on_bar each bar.
type Plan struct {
	GateState   GateState
	SLAction    StopLossAction
	GridOrders  []Order
	DCAOrders   []Order
	TPOrders    []Order
	Band        Band
	SpreadPct   float64
	RefPrice    float64
	KillReplace bool
}

// EngineState is per-symbol, mutable, owned by the Hybrid Engine.
type EngineState struct {
	LastGridRefPrice *float64
	LastGridTimestamp *time.Time
	LastDCATimestamp  *time.Time
	LastDCAFillPrice  *float64

	OpenPriceDay   *float64
	EquityOpenDay  *float64
	LastDate       *time.Time

	HardStopActive    bool
	HardStopTimestamp *time.Time
	HardStopPrice     *float64
	HardStopReason    string
}

// Policy holds every per-symbol-overridable knob named in spec §6.
type Policy struct {
	UseDynamicSpread bool
	FixedSpreadPct   float64

	BandNearThreshold float64
	BandMidThreshold  float64
	SpreadNearPct     float64
	SpreadMidPct      float64
	SpreadFarPct      float64

	RSIAdjustEnabled bool
	RSIAdjustFactor  float64

	GridEnabled                bool
	GridLevelsPerSide          int
	GridKillReplaceThresholdPct float64
	GridMinSecondsBetween      int64

	DCAEnabled                     bool
	DCARSIThreshold                float64
	DCAUseEMAGate                  bool
	DCACooldownBars                int64
	DCAMinDistanceFromLastFillPct  float64
	DCAPriceOffsetPct              float64

	TPEnabled         bool
	TPRSIThreshold    float64
	TPSpreadNearPct   float64
	TPSpreadMidPct    float64
	TPSpreadFarPct    float64

	GateDegradedGapPct     float64
	GatePausedGapPct       float64
	GateDegradedDailyPnLPct float64
	GatePausedDailyPnLPct   float64

	HardStopDailyPnLPct float64
	HardStopGapPct      float64

	BarSeconds int64

	AutoResumeEnabled     bool
	ResumeRSIThreshold    float64
	ResumePriceRecoveryPct float64
	ResumeCooldownBars    int64

	// OrderSizePct resolves Open Question #1 (spec §9): parameterised
	// per-mode, documented here rather than silently chosen. Live default is
	// 0.02 (2%); backtest mode callers should set this to 0.01 explicitly.
	OrderSizePct float64
}

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
