package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ntqnhanguyen/hybridgrid/internal/candle"
	"github.com/ntqnhanguyen/hybridgrid/internal/engine"
	"github.com/ntqnhanguyen/hybridgrid/internal/exchange"
)

// fakeBroker is a minimal exchange.Broker test double: every order is
// accepted with a fresh uuid unless rejectNext is set, in which case it
// returns the unusable id "N/A"; cancel always succeeds.
type fakeBroker struct {
	meta       exchange.SymbolMeta
	rejectNext bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		meta: exchange.SymbolMeta{
			TickSize:    decimal.NewFromFloat(0.01),
			StepSize:    decimal.NewFromFloat(0.0001),
			MinNotional: decimal.NewFromFloat(1),
		},
	}
}

func (f *fakeBroker) Name() string { return "fake" }
func (f *fakeBroker) GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeBroker) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]candle.Candle, error) {
	return nil, nil
}
func (f *fakeBroker) CreateOrder(ctx context.Context, symbol string, side exchange.OrderSide, quantity, price decimal.Decimal) (string, error) {
	if f.rejectNext {
		return "N/A", nil
	}
	return uuid.New().String(), nil
}
func (f *fakeBroker) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (f *fakeBroker) GetAccountBalance(ctx context.Context) (map[string]exchange.Balance, error) {
	return nil, nil
}
func (f *fakeBroker) SymbolMeta(symbol string) exchange.SymbolMeta { return f.meta }

func defaultOrderPolicy() Policy {
	return Policy{
		OrderMaxAgeSeconds:            300,
		OrderPriceDriftThresholdPct:   0.5,
		OrderCancelOnVolatilitySpike:  true,
		OrderVolatilitySpikeThreshold: 1.5,
		OrderCancelOnRSIReversal:      true,
		OrderRSIReversalThreshold:     15,
	}
}

// S6 — Order age cancellation.
func TestScenarioS6_OrderAgeCancellation(t *testing.T) {
	broker := newFakeBroker()
	m := New(broker, defaultOrderPolicy())
	ctx := context.Background()

	t0 := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	_, err := m.Place(ctx, "BTCUSDT", engine.Order{Side: engine.Buy, Price: 100, Tag: "grid_buy_1"}, TypeGrid, 10000, 0.02, t0)
	require.NoError(t, err)

	events := m.CancelStaleSweep(ctx, "BTCUSDT", t0.Add(301*time.Second), 100, 0.5, 50)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonAge, events[0].Reason)
	assert.Equal(t, "Order age 301s > 300s", events[0].Detail)
	assert.Empty(t, m.Pending("BTCUSDT"))
}

func TestCancelStaleSweep_AgeNotYetExpired(t *testing.T) {
	broker := newFakeBroker()
	m := New(broker, defaultOrderPolicy())
	ctx := context.Background()

	t0 := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	_, err := m.Place(ctx, "BTCUSDT", engine.Order{Side: engine.Buy, Price: 100, Tag: "grid_buy_1"}, TypeGrid, 10000, 0.02, t0)
	require.NoError(t, err)

	events := m.CancelStaleSweep(ctx, "BTCUSDT", t0.Add(299*time.Second), 100, 0.5, 50)
	assert.Empty(t, events)
	assert.Len(t, m.Pending("BTCUSDT"), 1)
}

// Precedence: age is evaluated before price drift even when both would hit.
func TestCancelStaleSweep_AgePrecedesPriceDrift(t *testing.T) {
	broker := newFakeBroker()
	m := New(broker, defaultOrderPolicy())
	ctx := context.Background()

	t0 := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	_, err := m.Place(ctx, "BTCUSDT", engine.Order{Side: engine.Buy, Price: 100, Tag: "grid_buy_1"}, TypeGrid, 10000, 0.02, t0)
	require.NoError(t, err)

	// current price 110 is a 10% drift (> 0.5% threshold) AND the order is
	// also past its max age — age must win per spec §4.3's precedence order.
	events := m.CancelStaleSweep(ctx, "BTCUSDT", t0.Add(301*time.Second), 110, 0.5, 50)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonAge, events[0].Reason)
}

func TestCancelStaleSweep_PriceDrift(t *testing.T) {
	broker := newFakeBroker()
	m := New(broker, defaultOrderPolicy())
	ctx := context.Background()

	t0 := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	_, err := m.Place(ctx, "BTCUSDT", engine.Order{Side: engine.Buy, Price: 100, Tag: "grid_buy_1"}, TypeGrid, 10000, 0.02, t0)
	require.NoError(t, err)

	events := m.CancelStaleSweep(ctx, "BTCUSDT", t0.Add(5*time.Second), 101, 0.5, 50)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonPriceDrift, events[0].Reason)
}

func TestCancelGridOnKillReplace(t *testing.T) {
	broker := newFakeBroker()
	m := New(broker, defaultOrderPolicy())
	ctx := context.Background()
	t0 := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	_, err := m.Place(ctx, "BTCUSDT", engine.Order{Side: engine.Buy, Price: 100, Tag: "grid_buy_1"}, TypeGrid, 10000, 0.02, t0)
	require.NoError(t, err)
	_, err = m.Place(ctx, "BTCUSDT", engine.Order{Side: engine.Buy, Price: 99, Tag: "dca_rsi30"}, TypeDCA, 10000, 0.02, t0)
	require.NoError(t, err)

	events := m.CancelGridOnKillReplace(ctx, "BTCUSDT")
	require.Len(t, events, 1)
	assert.Equal(t, ReasonKillReplace, events[0].Reason)

	remaining := m.Pending("BTCUSDT")
	require.Len(t, remaining, 1)
	assert.Equal(t, "dca_rsi30", remaining[0].Tag)
}

func TestPlace_RejectsNAOrderID(t *testing.T) {
	broker := newFakeBroker()
	broker.rejectNext = true
	m := New(broker, defaultOrderPolicy())
	ctx := context.Background()

	_, err := m.Place(ctx, "BTCUSDT", engine.Order{Side: engine.Buy, Price: 100, Tag: "grid_buy_1"}, TypeGrid, 10000, 0.02, time.Now().UTC())
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrOrderRejected)
	assert.Empty(t, m.Pending("BTCUSDT"))
}

func TestPlace_RejectsBelowMinNotional(t *testing.T) {
	broker := newFakeBroker()
	broker.meta.MinNotional = decimal.NewFromFloat(1000)
	m := New(broker, defaultOrderPolicy())
	ctx := context.Background()

	// equity * order_size_pct / price = 10000*0.001/100 = 0.1; notional = 10 < 1000
	_, err := m.Place(ctx, "BTCUSDT", engine.Order{Side: engine.Buy, Price: 100, Tag: "grid_buy_1"}, TypeGrid, 10000, 0.001, time.Now().UTC())
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrOrderRejected)
}

func TestPaperFillChecker(t *testing.T) {
	check := PaperFillChecker(99.0)
	assert.True(t, check(engine.Buy, 99.5), "buy fills when current_price <= order.price")
	assert.False(t, check(engine.Buy, 98.5))
	assert.True(t, check(engine.Sell, 98.5), "sell fills when current_price >= order.price")
	assert.False(t, check(engine.Sell, 99.5))
}

func TestEvaluateCancellation_VolatilitySpike(t *testing.T) {
	p := defaultOrderPolicy()
	t0 := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	o := PendingOrder{Timestamp: t0, Side: engine.Buy, Price: 100, OrderType: TypeGrid}

	// prevATRPct=0.5, threshold=1.5x -> spike above 0.75 triggers.
	reason, _, hit := evaluateCancellation(o, p, t0.Add(5*time.Second), 100, 0.8, 0.5, 50)
	require.True(t, hit)
	assert.Equal(t, ReasonVolatilitySpike, reason)
}

func TestEvaluateCancellation_VolatilitySpike_DCAExempt(t *testing.T) {
	p := defaultOrderPolicy()
	t0 := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	o := PendingOrder{Timestamp: t0, Side: engine.Buy, Price: 100, OrderType: TypeDCA}

	_, _, hit := evaluateCancellation(o, p, t0.Add(5*time.Second), 100, 0.8, 0.5, 50)
	assert.False(t, hit, "volatility-spike criterion only applies to grid orders")
}

func TestEvaluateCancellation_RSIReversal(t *testing.T) {
	p := defaultOrderPolicy()
	t0 := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	initialRSI := 35.0
	o := PendingOrder{Timestamp: t0, Side: engine.Buy, Price: 100, OrderType: TypeGrid, InitialRSI: &initialRSI}

	// RSI reversed from oversold (35) to overbought (65) past threshold.
	reason, _, hit := evaluateCancellation(o, p, t0.Add(5*time.Second), 100, 0.1, 0.1, 65)
	require.True(t, hit)
	assert.Equal(t, ReasonRSIReversal, reason)
}

func TestEvaluateCancellation_RSIReversal_NoInitialRSINoop(t *testing.T) {
	p := defaultOrderPolicy()
	t0 := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	o := PendingOrder{Timestamp: t0, Side: engine.Buy, Price: 100, OrderType: TypeGrid}

	_, _, hit := evaluateCancellation(o, p, t0.Add(5*time.Second), 100, 0.1, 0.1, 65)
	assert.False(t, hit, "rsi-reversal needs a recorded initial rsi to compare against")
}

func TestReconcileFills_RemovesFilledOrders(t *testing.T) {
	broker := newFakeBroker()
	m := New(broker, defaultOrderPolicy())
	ctx := context.Background()
	t0 := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	_, err := m.Place(ctx, "BTCUSDT", engine.Order{Side: engine.Buy, Price: 100, Tag: "grid_buy_1"}, TypeGrid, 10000, 0.02, t0)
	require.NoError(t, err)

	fills := m.ReconcileFills("BTCUSDT", t0.Add(time.Second), PaperFillChecker(99.0))
	require.Len(t, fills, 1)
	assert.Equal(t, 100.0, fills[0].FillPrice)
	assert.Empty(t, m.Pending("BTCUSDT"))
}
