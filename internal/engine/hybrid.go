package engine

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ntqnhanguyen/hybridgrid/internal/candle"
)

// Engine is the per-symbol Hybrid Strategy Engine: on_bar(bar, equity) ->
// Plan, notify_dca_fill(price) -> (). It owns one EngineState and is not
// safe for concurrent use — per spec §9's per-symbol isolation note, one
// Engine per symbol with no cross-symbol reads is the intended deployment
// shape, which makes per-symbol execution embarrassingly parallel behind a
// single shared exchange client.
type Engine struct {
	Symbol string
	Policy Policy
	State  EngineState
	log    zerolog.Logger
}

// New builds an Engine for one symbol with the given policy.
func New(symbol string, policy Policy, log zerolog.Logger) *Engine {
	return &Engine{
		Symbol: symbol,
		Policy: policy,
		log:    log.With().Str("component", "engine").Str("symbol", symbol).Logger(),
	}
}

// OnBar is the engine's sole entry point: deterministic given
// (EngineState, IndicatorBundle, bar, equity, Policy).
func (e *Engine) OnBar(bar candle.Candle, ind candle.IndicatorBundle, equity float64) Plan {
	p := e.Policy
	st := &e.State

	band, spread := bandAndSpread(ind.ATRPct, ind.RSI, p)

	gate, sl, justResumed := gateAndStop(st, p, bar.Timestamp, bar.Close, equity, ind.RSI, e.log)
	if sl.Stop {
		return Plan{GateState: gate, SLAction: sl, Band: band, SpreadPct: spread, RefPrice: bar.Close}
	}
	if justResumed {
		// Per spec.md's explicit prose: clearing the hard stop does not open
		// new positions until the next bar.
		return Plan{GateState: gate, SLAction: sl, Band: band, SpreadPct: spread, RefPrice: bar.Close}
	}

	ref := bar.Close
	plan := Plan{GateState: gate, SLAction: sl, Band: band, SpreadPct: spread, RefPrice: ref}

	if gate == Run {
		grid, killReplace := e.gridPlan(ref, spread, bar.Timestamp)
		plan.GridOrders = grid
		plan.KillReplace = killReplace
	}

	if gate == Run || gate == Degraded {
		plan.DCAOrders = e.dcaPlan(ref, ind, bar.Timestamp)
		plan.TPOrders = e.tpPlan(ref, ind, band)
	}

	return plan
}

// NotifyDCAFill records the fill price of the most recent DCA buy.
func (e *Engine) NotifyDCAFill(price float64) {
	px := price
	e.State.LastDCAFillPrice = &px
}

func bandAndSpread(atrPct, rsi float64, p Policy) (Band, float64) {
	if !p.UseDynamicSpread {
		return BandMid, p.FixedSpreadPct
	}

	var band Band
	var base float64
	switch {
	case atrPct < p.BandNearThreshold:
		band = BandNear
		base = p.SpreadNearPct
	case atrPct < p.BandMidThreshold:
		band = BandMid
		base = p.SpreadMidPct
	default:
		band = BandFar
		base = p.SpreadFarPct
	}

	spread := base
	if p.RSIAdjustEnabled {
		switch {
		case rsi < 30:
			spread = base * (1 - p.RSIAdjustFactor)
		case rsi > 70:
			spread = base * (1 + p.RSIAdjustFactor)
		}
	}
	spread = clamp(spread, 0.1, 2.0)
	return band, spread
}

func (e *Engine) gridPlan(ref, spread float64, ts time.Time) (orders []Order, killReplace bool) {
	p := e.Policy
	st := &e.State
	if !p.GridEnabled {
		return nil, false
	}

	if st.LastGridRefPrice != nil {
		drift := abs(ref-*st.LastGridRefPrice) / *st.LastGridRefPrice * 100
		if drift > p.GridKillReplaceThresholdPct {
			killReplace = true
		}
	}

	if !killReplace && st.LastGridTimestamp != nil {
		elapsed := ts.Sub(*st.LastGridTimestamp)
		if elapsed.Seconds() < float64(p.GridMinSecondsBetween) {
			return nil, false
		}
	}

	for i := 1; i <= p.GridLevelsPerSide; i++ {
		buyPrice := ref * (1 - spread*float64(i)/100)
		sellPrice := ref * (1 + spread*float64(i)/100)
		orders = append(orders, Order{Side: Buy, Price: buyPrice, Tag: fmt.Sprintf("grid_buy_%d", i)})
		orders = append(orders, Order{Side: Sell, Price: sellPrice, Tag: fmt.Sprintf("grid_sell_%d", i)})
	}

	refCopy := ref
	st.LastGridRefPrice = &refCopy
	tsCopy := ts
	st.LastGridTimestamp = &tsCopy

	return orders, killReplace
}

func (e *Engine) dcaPlan(ref float64, ind candle.IndicatorBundle, ts time.Time) []Order {
	p := e.Policy
	st := &e.State
	if !p.DCAEnabled {
		return nil
	}
	if ind.RSI >= p.DCARSIThreshold {
		return nil
	}
	if p.DCAUseEMAGate && ref >= ind.EMAFast {
		return nil
	}
	if st.LastDCATimestamp != nil && p.BarSeconds > 0 {
		elapsedBars := int64(ts.Sub(*st.LastDCATimestamp).Seconds()) / p.BarSeconds
		if elapsedBars < p.DCACooldownBars {
			return nil
		}
	}
	if st.LastDCAFillPrice != nil {
		dist := abs(ref-*st.LastDCAFillPrice) / *st.LastDCAFillPrice * 100
		if dist < p.DCAMinDistanceFromLastFillPct {
			return nil
		}
	}

	price := ref * (1 - p.DCAPriceOffsetPct/100)
	tag := fmt.Sprintf("dca_rsi%d", roundInt(ind.RSI))
	tsCopy := ts
	st.LastDCATimestamp = &tsCopy
	return []Order{{Side: Buy, Price: price, Tag: tag}}
}

func (e *Engine) tpPlan(ref float64, ind candle.IndicatorBundle, band Band) []Order {
	p := e.Policy
	if !p.TPEnabled {
		return nil
	}
	if ind.RSI < p.TPRSIThreshold || ref < ind.EMAFast {
		return nil
	}
	var spread float64
	switch band {
	case BandNear:
		spread = p.TPSpreadNearPct
	case BandMid:
		spread = p.TPSpreadMidPct
	default:
		spread = p.TPSpreadFarPct
	}
	price := ref * (1 + spread/100)
	tag := fmt.Sprintf("tp_rsi%d_band%s", roundInt(ind.RSI), band)
	return []Order{{Side: Sell, Price: price, Tag: tag}}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func roundInt(v float64) int {
	if v < 0 {
		return int(v - 0.5)
	}
	return int(v + 0.5)
}
