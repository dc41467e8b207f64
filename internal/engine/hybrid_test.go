package engine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntqnhanguyen/hybridgrid/internal/candle"
)

func testPolicy() Policy {
	return Policy{
		UseDynamicSpread: true,

		BandNearThreshold: 0.3,
		BandMidThreshold:  0.8,
		SpreadNearPct:     0.3,
		SpreadMidPct:      0.5,
		SpreadFarPct:      1.0,

		RSIAdjustEnabled: true,
		RSIAdjustFactor:  0.2,

		GridEnabled:                 true,
		GridLevelsPerSide:           2,
		GridKillReplaceThresholdPct: 1.0,
		GridMinSecondsBetween:       60,

		DCAEnabled:                    true,
		DCARSIThreshold:               35,
		DCAUseEMAGate:                 true,
		DCACooldownBars:               10,
		DCAMinDistanceFromLastFillPct: 1.0,
		DCAPriceOffsetPct:             0.1,

		TPEnabled:       true,
		TPRSIThreshold:  65,
		TPSpreadNearPct: 0.3,
		TPSpreadMidPct:  0.5,
		TPSpreadFarPct:  1.0,

		GateDegradedGapPct:      -3.0,
		GatePausedGapPct:        -6.0,
		GateDegradedDailyPnLPct: -2.0,
		GatePausedDailyPnLPct:   -4.0,

		HardStopDailyPnLPct: -5.0,
		HardStopGapPct:      -8.0,

		BarSeconds: 60,

		AutoResumeEnabled:      true,
		ResumeRSIThreshold:     40,
		ResumePriceRecoveryPct: 2.0,
		ResumeCooldownBars:     60,

		OrderSizePct: 0.02,
	}
}

func noopLog() zerolog.Logger { return zerolog.Nop() }

// S1 — Grid emission.
func TestScenarioS1_GridEmission(t *testing.T) {
	p := testPolicy()
	e := New("BTCUSDT", p, noopLog())

	bar := candle.Candle{Timestamp: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), Close: 100.0}
	ind := candle.IndicatorBundle{RSI: 50, ATRPct: 0.5}

	plan := e.OnBar(bar, ind, 10000)

	require.Equal(t, Run, plan.GateState)
	require.False(t, plan.KillReplace)
	assert.InDelta(t, 0.5, plan.SpreadPct, 1e-9)
	assert.Equal(t, BandMid, plan.Band)

	want := []Order{
		{Side: Buy, Price: 99.5, Tag: "grid_buy_1"},
		{Side: Sell, Price: 100.5, Tag: "grid_sell_1"},
		{Side: Buy, Price: 99.0, Tag: "grid_buy_2"},
		{Side: Sell, Price: 101.0, Tag: "grid_sell_2"},
	}
	require.Len(t, plan.GridOrders, len(want))
	for _, w := range want {
		var got *Order
		for i := range plan.GridOrders {
			if plan.GridOrders[i].Tag == w.Tag {
				got = &plan.GridOrders[i]
			}
		}
		require.NotNil(t, got, w.Tag)
		assert.Equal(t, w.Side, got.Side, w.Tag)
		assert.InDelta(t, w.Price, got.Price, 1e-9, w.Tag)
	}
}

// S2 — Kill-replace.
func TestScenarioS2_KillReplace(t *testing.T) {
	p := testPolicy()
	e := New("BTCUSDT", p, noopLog())

	bar1 := candle.Candle{Timestamp: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), Close: 100.0}
	ind := candle.IndicatorBundle{RSI: 50, ATRPct: 0.5}
	_ = e.OnBar(bar1, ind, 10000)

	bar2 := candle.Candle{Timestamp: bar1.Timestamp.Add(10 * time.Second), Close: 101.2}
	plan2 := e.OnBar(bar2, ind, 10000)

	assert.True(t, plan2.KillReplace, "drift of 1.2%% over 1.0%% threshold must trigger kill-replace")
	require.NotEmpty(t, plan2.GridOrders)
	for _, o := range plan2.GridOrders {
		if o.Side == Buy && o.Tag == "grid_buy_1" {
			assert.InDelta(t, 101.2*0.995, o.Price, 1e-9)
		}
	}
}

// S3 — DCA fires.
func TestScenarioS3_DCAFires(t *testing.T) {
	p := testPolicy()
	p.GridEnabled = false
	p.TPEnabled = false
	e := New("BTCUSDT", p, noopLog())

	bar := candle.Candle{Timestamp: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), Close: 99.0}
	ind := candle.IndicatorBundle{RSI: 30, EMAFast: 100}

	plan := e.OnBar(bar, ind, 10000)

	require.Len(t, plan.DCAOrders, 1)
	o := plan.DCAOrders[0]
	assert.Equal(t, Buy, o.Side)
	assert.InDelta(t, 99.0*(1-0.1/100), o.Price, 1e-9)
	assert.Equal(t, "dca_rsi30", o.Tag)
}

// Monotonicity: PAUSED suppresses all order lists.
func TestMonotonicity_PausedEmitsNoOrders(t *testing.T) {
	p := testPolicy()
	e := New("BTCUSDT", p, noopLog())

	bar1 := candle.Candle{Timestamp: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), Close: 100.0}
	ind := candle.IndicatorBundle{RSI: 50, ATRPct: 0.5}
	_ = e.OnBar(bar1, ind, 10000) // calibrate equity_open_day

	bar2 := candle.Candle{Timestamp: bar1.Timestamp.Add(time.Minute), Close: 100.0}
	plan := e.OnBar(bar2, ind, 9600) // -4.0% daily pnl -> PAUSED

	require.Equal(t, Paused, plan.GateState)
	assert.Empty(t, plan.GridOrders)
	assert.Empty(t, plan.DCAOrders)
	assert.Empty(t, plan.TPOrders)
}

// Monotonicity: DEGRADED suppresses grid only.
func TestMonotonicity_DegradedSuppressesGridOnly(t *testing.T) {
	p := testPolicy()
	e := New("BTCUSDT", p, noopLog())

	bar1 := candle.Candle{Timestamp: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), Close: 100.0}
	ind := candle.IndicatorBundle{RSI: 30, ATRPct: 0.5, EMAFast: 100}
	_ = e.OnBar(bar1, ind, 10000)

	bar2 := candle.Candle{Timestamp: bar1.Timestamp.Add(time.Minute), Close: 99.0}
	plan := e.OnBar(bar2, ind, 9800) // -2.0% daily pnl -> DEGRADED

	require.Equal(t, Degraded, plan.GateState)
	assert.Empty(t, plan.GridOrders)
	assert.NotEmpty(t, plan.DCAOrders, "DCA should still fire in DEGRADED")
}

// Determinism: replaying the same bar sequence on fresh engines is identical.
func TestDeterminism_ReplayProducesIdenticalPlans(t *testing.T) {
	p := testPolicy()
	bars := []candle.Candle{
		{Timestamp: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), Close: 100.0},
		{Timestamp: time.Date(2026, 1, 5, 0, 1, 0, 0, time.UTC), Close: 101.2},
		{Timestamp: time.Date(2026, 1, 5, 0, 2, 0, 0, time.UTC), Close: 99.5},
	}
	ind := candle.IndicatorBundle{RSI: 50, ATRPct: 0.5, EMAFast: 100}

	run := func() []Plan {
		e := New("BTCUSDT", p, noopLog())
		var plans []Plan
		for _, b := range bars {
			plans = append(plans, e.OnBar(b, ind, 10000))
		}
		return plans
	}

	a := run()
	b := run()
	assert.Equal(t, a, b)
}
