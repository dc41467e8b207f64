package engine

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// gateAndStop implements spec §4.2 in full: day rollover, gap%/daily_pnl%
// metrics, hard-stop latching with auto-resume, and gate classification.
// Grounded on original_source/src/strategies/hybrid_strategy_engine.py's
// _evaluate_gate_and_sl() for control-flow order, with one deliberate
// deviation recorded in DESIGN.md: on auto-resume this implementation does
// NOT fall through to same-bar gate classification with order emission —
// spec.md's prose is explicit ("do not open new positions until the next
// bar"), so resume only clears the latch and returns SLAction{Stop:false}
// with GateState RUN-eligible classification suppressed for this bar via
// the returned justResumed flag, which on_bar uses to force empty plans.
func gateAndStop(st *EngineState, p Policy, bar time.Time, ref, equity, rsi float64, log zerolog.Logger) (GateState, StopLossAction, bool) {
	date := bar.UTC().Truncate(24 * time.Hour)
	if st.LastDate == nil || date.After(*st.LastDate) {
		openPrice := ref
		openEquity := equity
		st.OpenPriceDay = &openPrice
		st.EquityOpenDay = &openEquity
		st.LastDate = &date
	}

	gapPct := 0.0
	if st.OpenPriceDay != nil && *st.OpenPriceDay != 0 {
		gapPct = 100 * (ref - *st.OpenPriceDay) / *st.OpenPriceDay
	}
	dailyPnLPct := 0.0
	if st.EquityOpenDay != nil && *st.EquityOpenDay != 0 {
		dailyPnLPct = 100 * (equity - *st.EquityOpenDay) / *st.EquityOpenDay
	}

	if st.HardStopActive {
		if p.AutoResumeEnabled && canAutoResume(st, p, bar, ref, rsi) {
			st.HardStopActive = false
			st.HardStopTimestamp = nil
			st.HardStopPrice = nil
			st.HardStopReason = ""
			log.Info().Msg("hard stop auto-resumed")
			return classifyGate(dailyPnLPct, gapPct, p), StopLossAction{Stop: false}, true
		}
		return Paused, StopLossAction{Stop: true, Reason: st.HardStopReason}, false
	}

	if dailyPnLPct <= p.HardStopDailyPnLPct || gapPct <= p.HardStopGapPct {
		var reason string
		if dailyPnLPct <= p.HardStopDailyPnLPct {
			reason = fmt.Sprintf("Daily PnL %.2f%% <= %.1f%%", dailyPnLPct, p.HardStopDailyPnLPct)
		} else {
			reason = fmt.Sprintf("Gap %.2f%% <= %.1f%%", gapPct, p.HardStopGapPct)
		}
		st.HardStopActive = true
		ts := bar
		st.HardStopTimestamp = &ts
		pr := ref
		st.HardStopPrice = &pr
		st.HardStopReason = reason
		log.Warn().Str("reason", reason).Msg("hard stop activated")
		return Paused, StopLossAction{Stop: true, Reason: reason}, false
	}

	return classifyGate(dailyPnLPct, gapPct, p), StopLossAction{Stop: false}, false
}

func classifyGate(dailyPnLPct, gapPct float64, p Policy) GateState {
	switch {
	case dailyPnLPct <= p.GatePausedDailyPnLPct || gapPct <= p.GatePausedGapPct:
		return Paused
	case dailyPnLPct <= p.GateDegradedDailyPnLPct || gapPct <= p.GateDegradedGapPct:
		return Degraded
	default:
		return Run
	}
}

func canAutoResume(st *EngineState, p Policy, bar time.Time, ref, rsi float64) bool {
	if st.HardStopTimestamp == nil || st.HardStopPrice == nil {
		return false
	}
	if p.BarSeconds <= 0 {
		return false
	}
	elapsedBars := int64(bar.Sub(*st.HardStopTimestamp).Seconds()) / p.BarSeconds
	if elapsedBars < p.ResumeCooldownBars {
		return false
	}
	if rsi <= p.ResumeRSIThreshold {
		return false
	}
	recoveryPct := 100 * (ref - *st.HardStopPrice) / *st.HardStopPrice
	return recoveryPct >= p.ResumePriceRecoveryPct
}
