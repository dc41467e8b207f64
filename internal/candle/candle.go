// Package candle holds the Candle type and the pure indicator transforms
// that turn a window of candles into a named-scalar IndicatorBundle.
//
// Every function here is a pure transform: no network, no clock, no shared
// state. They are safe to call from any goroutine and safe to call
// repeatedly with the same input for the same output (load-bearing for the
// engine's determinism guarantee).
package candle

import "time"

// Candle is one OHLCV bar. Timestamp is the bar's open time.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// IndicatorBundle is produced per bar from a candle window and is read-only
// once emitted.
type IndicatorBundle struct {
	Close  float64
	Open   float64
	High   float64
	Low    float64
	Volume float64

	RSI    float64 // ∈ [0,100]
	ATR    float64 // ≥ 0
	ATRPct float64 // 100·ATR/Close

	EMAFast float64
	EMAMid  float64
	EMASlow float64

	BBUpper float64 // ≥ BBMiddle
	BBMid   float64
	BBLower float64 // ≤ BBMiddle

	ADX float64
}

// Periods used for the standard indicator definitions named in spec §6.
const (
	RSIPeriod  = 14
	ATRPeriod  = 14
	BBPeriod   = 20
	BBStdDev   = 2.0
	ADXPeriod  = 14
	EMAFastN   = 9
	EMAMidN    = 21
	EMASlowN   = 50
)

// Build computes an IndicatorBundle from a candle window. window must be
// sorted ascending by time; the bundle describes the last candle in window.
// Callers should supply enough history to warm up the longest period
// (EMASlowN) or accept degraded leading values (partial-window averages, a
// neutral RSI of 50, a zero ADX).
func Build(window []Candle) IndicatorBundle {
	n := len(window)
	if n == 0 {
		return IndicatorBundle{}
	}
	last := window[n-1]

	rsi := RSI(window, RSIPeriod)
	atr := ATR(window, ATRPeriod)
	emaFast := EMA(window, EMAFastN)
	emaMid := EMA(window, EMAMidN)
	emaSlow := EMA(window, EMASlowN)
	bbUpper, bbMid, bbLower := Bollinger(window, BBPeriod, BBStdDev)
	adx := ADX(window, ADXPeriod)

	atrPct := 0.0
	if last.Close != 0 {
		atrPct = 100 * atr[n-1] / last.Close
	}

	return IndicatorBundle{
		Close:   last.Close,
		Open:    last.Open,
		High:    last.High,
		Low:     last.Low,
		Volume:  last.Volume,
		RSI:     rsi[n-1],
		ATR:     atr[n-1],
		ATRPct:  atrPct,
		EMAFast: emaFast[n-1],
		EMAMid:  emaMid[n-1],
		EMASlow: emaSlow[n-1],
		BBUpper: bbUpper[n-1],
		BBMid:   bbMid[n-1],
		BBLower: bbLower[n-1],
		ADX:     adx[n-1],
	}
}
