// Package orders implements the Order Lifecycle Manager (spec §4.3):
// placement, the four-criteria cancel-stale sweep, fill reconciliation, and
// grid cancellation on kill-replace.
//
// The four cancellation criteria have no direct equivalent in either the
// teacher (which does maker-first repricing, not stale-order cancellation)
// or original_source/src/risk/risk_manager.py (a position-sizing /
// circuit-breaker module). This component is built directly from spec.md
// §4.3's literal algorithm; its Go shape — a mutex-protected map plus a
// deterministic, ordered sweep — is grounded on the teacher's step.go
// "lock released around I/O, deterministic ordered tick phases" idiom (see
// its header doc-comment block) and on teacher's broker.go PlacedOrder
// shape for the pending-order fields.
package orders

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ntqnhanguyen/hybridgrid/internal/engine"
	"github.com/ntqnhanguyen/hybridgrid/internal/exchange"
)

// OrderType classifies a pending order's strategy role.
type OrderType string

const (
	TypeGrid OrderType = "GRID"
	TypeDCA  OrderType = "DCA"
	TypeTP   OrderType = "TP"
	TypeSL   OrderType = "SL"
)

// PendingOrder is a placed-but-not-yet-filled order tracked by the manager.
type PendingOrder struct {
	Symbol      string
	Side        engine.OrderSide
	Price       float64
	Qty         float64
	Tag         string
	OrderType   OrderType
	OrderID     string
	Timestamp   time.Time
	InitialRSI  *float64
}

// CancelReason names why a pending order was swept, for logging/metrics.
type CancelReason string

const (
	ReasonAge             CancelReason = "age"
	ReasonPriceDrift       CancelReason = "price_drift"
	ReasonVolatilitySpike CancelReason = "volatility_spike"
	ReasonRSIReversal     CancelReason = "rsi_reversal"
	ReasonKillReplace     CancelReason = "kill_replace"
)

// Policy holds the order-lifecycle knobs named in spec §6.
type Policy struct {
	OrderMaxAgeSeconds            int64
	OrderPriceDriftThresholdPct    float64
	OrderCancelOnVolatilitySpike   bool
	OrderVolatilitySpikeThreshold  float64
	OrderCancelOnRSIReversal       bool
	OrderRSIReversalThreshold      float64
}

// FillEvent is emitted by the reconciliation pass for every order that
// filled this tick.
type FillEvent struct {
	Order     PendingOrder
	FillPrice float64
	FillTime  time.Time
}

// CancelEvent is emitted by the cancel-stale sweep for every order cancelled
// this tick.
type CancelEvent struct {
	Order  PendingOrder
	Reason CancelReason
	Detail string
}

// FillChecker answers, for the current tick, whether a pending order would
// fill. Backtest/paper implementations differ only in how they answer this;
// see exchange.BacktestBroker.FillsAgainst and the paper-mode rule in
// PaperFillChecker.
type FillChecker func(side engine.OrderSide, orderPrice float64) bool

// Manager owns pending_orders[symbol] and the previous tick's ATR% snapshot
// needed by the volatility-spike criterion.
type Manager struct {
	mu             sync.Mutex
	pending        map[string][]PendingOrder
	prevATRPct     map[string]float64
	policy         Policy
	broker         exchange.Broker
}

// New builds an Order Lifecycle Manager bound to the given broker.
func New(broker exchange.Broker, policy Policy) *Manager {
	return &Manager{
		pending:    make(map[string][]PendingOrder),
		prevATRPct: make(map[string]float64),
		policy:     policy,
		broker:     broker,
	}
}

// Place submits one plan order to the exchange (or simulates in paper/
// backtest mode via the Broker abstraction) and appends the returned id to
// pending orders, per spec §4.3's Place algorithm.
//
// qty = round_step(equity * order_size_pct / price, step_size(symbol));
// rejected if qty*price < min_notional. Price is rounded to tick size.
func (m *Manager) Place(ctx context.Context, symbol string, order engine.Order, orderType OrderType, equity, orderSizePct float64, now time.Time) (PendingOrder, error) {
	meta := m.broker.SymbolMeta(symbol)

	rawQty := decimal.NewFromFloat(equity * orderSizePct / order.Price)
	qty := exchange.RoundToStep(rawQty, meta.StepSize)
	price := exchange.RoundToTick(decimal.NewFromFloat(order.Price), meta.TickSize)

	notional := qty.Mul(price)
	if notional.LessThan(meta.MinNotional) {
		return PendingOrder{}, fmt.Errorf("%w: notional %s < min_notional %s", engine.ErrOrderRejected, notional.String(), meta.MinNotional.String())
	}

	side := exchange.OrderSide(order.Side)
	orderID, err := m.broker.CreateOrder(ctx, symbol, side, qty, price)
	if err != nil {
		return PendingOrder{}, fmt.Errorf("%w: %v", engine.ErrOrderRejected, err)
	}
	if orderID == "" || orderID == "N/A" {
		// Open Question #2 (spec §9), resolved in SPEC_FULL.md §9: reject
		// rather than create an unreconcilable pending order.
		return PendingOrder{}, fmt.Errorf("%w: exchange returned no usable order id", engine.ErrOrderRejected)
	}

	qtyF, _ := qty.Float64()
	priceF, _ := price.Float64()
	po := PendingOrder{
		Symbol:    symbol,
		Side:      order.Side,
		Price:     priceF,
		Qty:       qtyF,
		Tag:       order.Tag,
		OrderType: orderType,
		OrderID:   orderID,
		Timestamp: now,
	}

	m.mu.Lock()
	m.pending[symbol] = append(m.pending[symbol], po)
	m.mu.Unlock()

	return po, nil
}

// CancelGridOnKillReplace cancels all pending orders whose tag contains
// "grid" for symbol, per spec §4.3's kill-replace rule. Must be called
// before placing the new grid.
func (m *Manager) CancelGridOnKillReplace(ctx context.Context, symbol string) []CancelEvent {
	m.mu.Lock()
	list := m.pending[symbol]
	var kept []PendingOrder
	var events []CancelEvent
	for _, o := range list {
		if strings.Contains(o.Tag, "grid") {
			events = append(events, CancelEvent{Order: o, Reason: ReasonKillReplace})
			continue
		}
		kept = append(kept, o)
	}
	m.pending[symbol] = kept
	m.mu.Unlock()

	for _, ev := range events {
		_ = m.broker.CancelOrder(ctx, symbol, ev.Order.OrderID)
	}
	return events
}

// CancelStaleSweep evaluates every pending order for symbol against the
// four precedence-ordered criteria and cancels at first match, per spec
// §4.3. It must run before ReconcileFills so a stale order cannot "fill"
// after its age has expired (spec §5 ordering guarantee #3).
//
// The previous tick's ATR% is snapshotted internally after the sweep
// regardless of cancellations, per spec §4.3's precedence note.
func (m *Manager) CancelStaleSweep(ctx context.Context, symbol string, now time.Time, currentPrice, currentATRPct, currentRSI float64) []CancelEvent {
	p := m.policy

	m.mu.Lock()
	list := m.pending[symbol]
	prevATR := m.prevATRPct[symbol]
	var kept []PendingOrder
	var events []CancelEvent

	for i := range list {
		o := list[i]
		reason, detail, hit := evaluateCancellation(o, p, now, currentPrice, currentATRPct, prevATR, currentRSI)
		if hit {
			events = append(events, CancelEvent{Order: o, Reason: reason, Detail: detail})
			continue
		}
		// RSI-reversal bookkeeping: record initial_rsi on first evaluation.
		if o.InitialRSI == nil {
			rsi := currentRSI
			o.InitialRSI = &rsi
		}
		kept = append(kept, o)
	}
	m.pending[symbol] = kept
	m.prevATRPct[symbol] = currentATRPct
	m.mu.Unlock()

	for _, ev := range events {
		_ = m.broker.CancelOrder(ctx, symbol, ev.Order.OrderID)
	}
	return events
}

func evaluateCancellation(o PendingOrder, p Policy, now time.Time, currentPrice, currentATRPct, prevATRPct, currentRSI float64) (CancelReason, string, bool) {
	ageSeconds := int64(now.Sub(o.Timestamp).Seconds())
	if ageSeconds > p.OrderMaxAgeSeconds {
		return ReasonAge, fmt.Sprintf("Order age %ds > %ds", ageSeconds, p.OrderMaxAgeSeconds), true
	}

	driftPct := absF(currentPrice-o.Price) / o.Price * 100
	if driftPct > p.OrderPriceDriftThresholdPct {
		return ReasonPriceDrift, fmt.Sprintf("Price drift %.2f%% > %.2f%%", driftPct, p.OrderPriceDriftThresholdPct), true
	}

	if o.OrderType == TypeGrid && p.OrderCancelOnVolatilitySpike && prevATRPct > 0 {
		if currentATRPct > prevATRPct*p.OrderVolatilitySpikeThreshold {
			return ReasonVolatilitySpike, fmt.Sprintf("ATR%% %.4f > prev %.4f * %.2f", currentATRPct, prevATRPct, p.OrderVolatilitySpikeThreshold), true
		}
	}

	if p.OrderCancelOnRSIReversal && o.InitialRSI != nil {
		initial := *o.InitialRSI
		deltaRSI := absF(currentRSI - initial)
		if o.Side == engine.Buy && initial < 40 && currentRSI > 60 && deltaRSI > p.OrderRSIReversalThreshold {
			return ReasonRSIReversal, fmt.Sprintf("RSI reversed from %.1f to %.1f", initial, currentRSI), true
		}
		if o.Side == engine.Sell && initial > 60 && currentRSI < 40 && deltaRSI > p.OrderRSIReversalThreshold {
			return ReasonRSIReversal, fmt.Sprintf("RSI reversed from %.1f to %.1f", initial, currentRSI), true
		}
	}

	return "", "", false
}

// ReconcileFills checks each pending order for symbol against fills and
// returns the ones that filled this tick, removing them from the pending
// set. The check parameter is mode-specific: backtest uses OHLC-crossing,
// paper uses "current_price crossed order.price", live reads fills from the
// exchange (not modeled here — see DESIGN.md).
func (m *Manager) ReconcileFills(symbol string, fillTime time.Time, check FillChecker) []FillEvent {
	m.mu.Lock()
	list := m.pending[symbol]
	var kept []PendingOrder
	var fills []FillEvent
	for _, o := range list {
		if check(o.Side, o.Price) {
			fills = append(fills, FillEvent{Order: o, FillPrice: o.Price, FillTime: fillTime})
			continue
		}
		kept = append(kept, o)
	}
	m.pending[symbol] = kept
	m.mu.Unlock()
	return fills
}

// PaperFillChecker implements spec §6's paper-mode fill rule: a buy fills
// when current_price <= order.price, a sell when current_price >=
// order.price, both at the order's price.
func PaperFillChecker(currentPrice float64) FillChecker {
	return func(side engine.OrderSide, orderPrice float64) bool {
		if side == engine.Buy {
			return currentPrice <= orderPrice
		}
		return currentPrice >= orderPrice
	}
}

// Pending returns a copy of the pending orders for symbol.
func (m *Manager) Pending(symbol string) []PendingOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingOrder, len(m.pending[symbol]))
	copy(out, m.pending[symbol])
	return out
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
