// Package exchange defines the abstract exchange-adapter contract (spec
// §6) and the two adapters this core ships: PaperBroker and BacktestBroker.
// Concrete exchange-specific adapters (Binance/Coinbase/HitBTC REST+WS
// clients) are explicitly out of scope per spec §1 — "only their abstract
// contract is specified in §6" — and are not ported; see DESIGN.md for the
// disposition of the teacher's broker_*.go files that covered them.
//
// Adapted from the teacher's broker.go Broker interface, trimmed and
// renamed to the exact method surface spec §6 names.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ntqnhanguyen/hybridgrid/internal/candle"
)

// Balance mirrors get_account_balance()'s {free, locked, total} shape.
type Balance struct {
	Free   decimal.Decimal
	Locked decimal.Decimal
	Total  decimal.Decimal
}

// SymbolMeta holds the exchange-imposed price/quantity/notional quanta.
type SymbolMeta struct {
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
}

// Broker is the abstract exchange adapter contract from spec §6.
type Broker interface {
	Name() string
	GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]candle.Candle, error)
	CreateOrder(ctx context.Context, symbol string, side OrderSide, quantity, price decimal.Decimal) (orderID string, err error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetAccountBalance(ctx context.Context) (map[string]Balance, error)
	SymbolMeta(symbol string) SymbolMeta
}

// OrderSide mirrors engine.OrderSide without importing the engine package,
// keeping the exchange adapter boundary free of planner-level types.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// RoundToStep rounds qty down to the nearest multiple of step (quantity
// quantisation at the exchange boundary, per spec §9's monetary-arithmetic
// note). step == 0 is treated as "no constraint".
func RoundToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// RoundToTick rounds price to the nearest multiple of tick.
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	return price.DivRound(tick, 0).Mul(tick)
}

// Mode selects a trading mode per spec §6.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModePaper    Mode = "paper"
	ModeTestnet  Mode = "testnet"
	ModeMainnet  Mode = "mainnet"
)

// warmupDeadline bounds how long an exchange call may suspend before being
// treated as a timed-out rejection, per spec §5's cancellation/timeouts
// rule: timed-out placements are rejections, not possibly-open orders.
const warmupDeadline = 10 * time.Second

// WithTimeout is a small helper every Broker implementation's network-
// touching methods should wrap their context in, grounded on the teacher's
// context.Context-first method signatures throughout broker.go/live.go.
func WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, warmupDeadline)
}
