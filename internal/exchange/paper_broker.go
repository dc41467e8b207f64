package exchange

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ntqnhanguyen/hybridgrid/internal/candle"
)

// PaperBroker is an in-memory broker that simulates execution at the latest
// known ticker price, per spec §6's `paper` mode rule ("live ticker,
// simulated fills as above at latest price"). Adapted from the teacher's
// broker_paper.go; the maker-first post-only stubs are dropped since this
// core's Order Lifecycle Manager only ever submits plain LIMIT orders (spec
// §6 create_order), not post-only orders.
type PaperBroker struct {
	mu    sync.Mutex
	price decimal.Decimal

	baseAsset, quoteAsset   string
	baseBalance, quoteBalance decimal.Decimal
}

// NewPaperBroker builds a PaperBroker seeded with the given balances.
func NewPaperBroker(baseAsset, quoteAsset string, baseBalance, quoteBalance decimal.Decimal) *PaperBroker {
	return &PaperBroker{
		baseAsset:    baseAsset,
		quoteAsset:   quoteAsset,
		baseBalance:  baseBalance,
		quoteBalance: quoteBalance,
	}
}

func (p *PaperBroker) Name() string { return "paper" }

// SetPrice updates the price PaperBroker uses to answer GetTicker, which the
// trading loop also uses to simulate paper fills. The trading loop does not
// call SetPrice itself.
func (p *PaperBroker) SetPrice(price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.price = price
}

func (p *PaperBroker) GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.price.IsZero() {
		return decimal.Zero, errors.New("paper broker has no price yet")
	}
	return p.price, nil
}

// GetKlines is not supported in paper mode; the trading loop must source
// candles from a separate feed (live ticker data or a CSV, via
// BacktestBroker) when running on PaperBroker.
func (p *PaperBroker) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]candle.Candle, error) {
	return nil, errors.New("paper broker has no candles; pair with a live candle feed")
}

// CreateOrder simulates an immediate order acceptance; it does not itself
// decide fills — fill reconciliation (spec §4.3) is the Order Lifecycle
// Manager's job, consulting GetTicker against the pending order's price.
func (p *PaperBroker) CreateOrder(ctx context.Context, symbol string, side OrderSide, quantity, price decimal.Decimal) (string, error) {
	if quantity.IsZero() || quantity.IsNegative() {
		return "", errors.New("quantity must be > 0")
	}
	return uuid.New().String(), nil
}

func (p *PaperBroker) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil
}

func (p *PaperBroker) GetAccountBalance(ctx context.Context) (map[string]Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]Balance{
		p.baseAsset:  {Free: p.baseBalance, Locked: decimal.Zero, Total: p.baseBalance},
		p.quoteAsset: {Free: p.quoteBalance, Locked: decimal.Zero, Total: p.quoteBalance},
	}, nil
}

func (p *PaperBroker) SymbolMeta(symbol string) SymbolMeta {
	return LookupSymbolMeta(symbol)
}
