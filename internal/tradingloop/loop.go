// Package tradingloop implements the clock-driven driver (spec §4.5):
// fetch the ticker, append the current bar to the symbol's candle history,
// build the indicator bundle, invoke the engine, act on the plan, reconcile
// fills, and update the Prometheus gauges. Candles are not requested from
// the broker (GetKlines is never called): the history is the runtime's own
// rolling window, fed by the backtest broker's current candle or, in other
// modes, by a flat bar built from the ticker price.
//
// Grounded on the teacher's live.go runLive() warmup-then-loop shape and
// main.go's graceful-shutdown wiring (signal.NotifyContext, bounded
// srv.Shutdown). Per spec §5, a single loop iterating symbols sequentially
// is an equivalent, recommended model to one cooperative loop per symbol;
// this package implements the sequential model.
package tradingloop

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ntqnhanguyen/hybridgrid/internal/candle"
	"github.com/ntqnhanguyen/hybridgrid/internal/engine"
	"github.com/ntqnhanguyen/hybridgrid/internal/exchange"
	"github.com/ntqnhanguyen/hybridgrid/internal/metrics"
	"github.com/ntqnhanguyen/hybridgrid/internal/orders"
	"github.com/ntqnhanguyen/hybridgrid/internal/portfolio"
	"github.com/ntqnhanguyen/hybridgrid/internal/session"
)

// SymbolRuntime bundles the per-symbol components the loop drives. One per
// managed symbol, per spec §9's per-symbol isolation note.
type SymbolRuntime struct {
	Symbol  string
	Engine  *engine.Engine
	Manager *orders.Manager
	History []candle.Candle // rolling window, newest last
	MaxHist int
}

// Loop is the sequential multi-symbol trading-loop driver.
type Loop struct {
	Mode      string // "backtest" | "paper" | "testnet" | "mainnet"
	Broker    exchange.Broker
	Portfolio *portfolio.Portfolio
	Symbols   []*SymbolRuntime
	Logger    *session.Logger
	Log       zerolog.Logger

	running bool
}

// Tick runs one full tick of spec §4.5 for every managed symbol, then the
// cross-symbol cancel-stale sweep and fill reconciliation, per the ordering
// guarantees in spec §5: gate evaluation precedes order emission,
// kill-replace precedes new grid placement, cancel-stale sweep precedes
// fill reconciliation.
func (l *Loop) Tick(ctx context.Context, now time.Time) {
	l.Portfolio.ResetDailyStats(now)
	l.Portfolio.ResetWeeklyStats(now)

	prices := make(map[string]float64, len(l.Symbols))
	for _, sym := range l.Symbols {
		price, err := l.Broker.GetTicker(ctx, sym.Symbol)
		if err != nil {
			l.Log.Warn().Str("symbol", sym.Symbol).Err(err).Msg("ticker fetch failed, skipping symbol this tick")
			continue
		}
		pf, _ := price.Float64()
		prices[sym.Symbol] = pf
	}

	equity := l.Portfolio.Equity(prices)

	if err := l.Portfolio.CheckInvariants(prices); err != nil {
		l.Log.Fatal().Err(fmt.Errorf("%w: %v", engine.ErrInvariantViolation, err)).Msg("invariant violation, stopping loop")
	}

	for _, sym := range l.Symbols {
		price, ok := prices[sym.Symbol]
		if !ok {
			continue
		}
		l.tickSymbol(ctx, sym, price, equity, now)
	}

	for _, sym := range l.Symbols {
		price, ok := prices[sym.Symbol]
		if !ok {
			continue
		}
		ind := l.indicatorBundle(sym)
		events := sym.Manager.CancelStaleSweep(ctx, sym.Symbol, now, price, ind.ATRPct, ind.RSI)
		l.logCancelEvents(sym, events, now)

		l.reconcileFills(ctx, sym, price, now)
	}
}

func (l *Loop) tickSymbol(ctx context.Context, sym *SymbolRuntime, price, equity float64, now time.Time) {
	bar := candle.Candle{Timestamp: now, Close: price, Open: price, High: price, Low: price}
	if bb, ok := l.Broker.(*exchange.BacktestBroker); ok {
		// Backtest candles carry real OHLC; using the synthetic flat bar
		// above here would zero out ATR/true-range, per spec §6's note that
		// backtest fills use the full OHLC bar, not just its close.
		bar = bb.Current()
	}
	window := append(sym.History, bar)
	if len(window) > sym.MaxHist {
		window = window[len(window)-sym.MaxHist:]
	}
	sym.History = window

	ind := candle.Build(window)
	bar = window[len(window)-1]

	plan := sym.Engine.OnBar(bar, ind, equity)

	metrics.SetGateState(sym.Symbol, string(plan.GateState))
	metrics.SetHardStopActive(sym.Symbol, sym.Engine.State.HardStopActive)
	metrics.SetEquity(sym.Symbol, equity)

	if plan.SLAction.Stop {
		if pos := l.Portfolio.GetPosition(sym.Symbol, "Hybrid"); pos != nil {
			l.Portfolio.ClosePosition(sym.Symbol, "Hybrid", price, nil, "hard_stop", now)
			metrics.IncFill("sell")
		}
		return
	}

	switch plan.GateState {
	case engine.Run:
		if plan.KillReplace {
			events := sym.Manager.CancelGridOnKillReplace(ctx, sym.Symbol)
			l.logCancelEvents(sym, events, now)
		}
		l.placeAll(ctx, sym, plan.GridOrders, orders.TypeGrid, equity, now)
		l.placeAll(ctx, sym, plan.DCAOrders, orders.TypeDCA, equity, now)
		l.placeAll(ctx, sym, plan.TPOrders, orders.TypeTP, equity, now)
	case engine.Degraded:
		l.placeAll(ctx, sym, plan.DCAOrders, orders.TypeDCA, equity, now)
		l.placeAll(ctx, sym, plan.TPOrders, orders.TypeTP, equity, now)
	case engine.Paused:
		// no placements
	}
}

// logCancelEvents persists one OrderRecord per cancel event, per spec §6's
// orders schema (action="cancel", reason=the sweep's detail string).
func (l *Loop) logCancelEvents(sym *SymbolRuntime, events []orders.CancelEvent, now time.Time) {
	for _, ev := range events {
		metrics.IncCancel(string(ev.Reason))
		l.Log.Info().Str("symbol", sym.Symbol).Str("reason", string(ev.Reason)).Str("detail", ev.Detail).Msg("order cancelled")
		if l.Logger == nil {
			continue
		}
		_ = l.Logger.LogOrder(session.OrderRecord{
			Timestamp: now,
			Symbol:    sym.Symbol,
			OrderID:   ev.Order.OrderID,
			Type:      "LIMIT",
			Side:      string(ev.Order.Side),
			Action:    "cancel",
			Price:     ev.Order.Price,
			Quantity:  ev.Order.Qty,
			Value:     ev.Order.Price * ev.Order.Qty,
			Status:    "CANCELLED",
			Strategy:  "Hybrid",
			Tag:       ev.Order.Tag,
			Reason:    ev.Detail,
			Mode:      l.Mode,
		})
	}
}

func (l *Loop) placeAll(ctx context.Context, sym *SymbolRuntime, planOrders []engine.Order, orderType orders.OrderType, equity float64, now time.Time) {
	for _, o := range planOrders {
		po, err := sym.Manager.Place(ctx, sym.Symbol, o, orderType, equity, sym.Engine.Policy.OrderSizePct, now)
		if err != nil {
			l.Log.Warn().Str("symbol", sym.Symbol).Str("tag", o.Tag).Err(err).Msg("order rejected")
			if l.Logger != nil {
				_ = l.Logger.LogOrder(session.OrderRecord{
					Timestamp: now,
					Symbol:    sym.Symbol,
					Type:      "LIMIT",
					Side:      string(o.Side),
					Action:    "place",
					Price:     o.Price,
					Status:    "REJECTED",
					Strategy:  "Hybrid",
					Tag:       o.Tag,
					Reason:    err.Error(),
					Mode:      l.Mode,
				})
			}
			continue
		}
		metrics.IncOrder(l.Mode, string(o.Side), string(orderType))
		if l.Logger != nil {
			_ = l.Logger.LogOrder(session.OrderRecord{
				Timestamp: po.Timestamp,
				Symbol:    sym.Symbol,
				OrderID:   po.OrderID,
				Type:      "LIMIT",
				Side:      string(po.Side),
				Action:    "place",
				Price:     po.Price,
				Quantity:  po.Qty,
				Value:     po.Price * po.Qty,
				Status:    "PLACED",
				Strategy:  "Hybrid",
				Tag:       po.Tag,
				Mode:      l.Mode,
			})
		}
	}
}

func (l *Loop) reconcileFills(ctx context.Context, sym *SymbolRuntime, price float64, now time.Time) {
	var check orders.FillChecker
	if bb, ok := l.Broker.(*exchange.BacktestBroker); ok {
		check = func(side engine.OrderSide, orderPrice float64) bool {
			return bb.FillsAgainst(exchange.OrderSide(side), orderPrice)
		}
	} else {
		check = orders.PaperFillChecker(price)
	}

	fills := sym.Manager.ReconcileFills(sym.Symbol, now, check)
	for _, f := range fills {
		l.applyFill(sym, f, now)
	}
}

// applyFill implements spec §4.3's fill-reconciliation rule: on a BUY fill,
// open or average-up a LONG position on (symbol, "Hybrid"); if the tag
// begins with "dca_", notify the engine. On a SELL fill with an open LONG,
// close (fully or partially) and emit a TradeRecord.
func (l *Loop) applyFill(sym *SymbolRuntime, f orders.FillEvent, now time.Time) {
	strategy := "Hybrid"
	if f.Order.Side == engine.Buy {
		if existing := l.Portfolio.GetPosition(sym.Symbol, strategy); existing != nil {
			l.Portfolio.AverageUp(sym.Symbol, strategy, f.Order.Qty, f.FillPrice)
		} else {
			l.Portfolio.OpenPosition(sym.Symbol, portfolio.Long, f.Order.Qty, f.FillPrice, strategy, now)
		}
		if len(f.Order.Tag) >= 4 && f.Order.Tag[:4] == "dca_" {
			sym.Engine.NotifyDCAFill(f.FillPrice)
		}
		// Opening a position charges no fee in this model (fee is assessed
		// on notional at close, per portfolio.ClosePosition).
		l.logFill(sym, f, now, 0, 0, 0)
		return
	}

	if pos := l.Portfolio.GetPosition(sym.Symbol, strategy); pos != nil && pos.Side == portfolio.Long {
		qty := f.Order.Qty
		pnlNet, ok := l.Portfolio.ClosePosition(sym.Symbol, strategy, f.FillPrice, &qty, f.Order.Tag, now)
		if ok {
			metrics.IncTrade(tradeResult(pos.EntryPrice, f.FillPrice))
			fee := f.FillPrice * qty * l.Portfolio.FeeRate()
			pnlGross := pnlNet + fee
			pnlPct := 0.0
			if cost := pos.EntryPrice * qty; cost != 0 {
				pnlPct = pnlGross / cost * 100
			}
			l.logFill(sym, f, now, fee, pnlGross, pnlPct)
		}
	}
}

// logFill persists one FillRecord per spec §6's fills schema (orders
// columns plus fill_id, fee, fee_asset, pnl, pnl_pct).
func (l *Loop) logFill(sym *SymbolRuntime, f orders.FillEvent, now time.Time, fee, pnl, pnlPct float64) {
	metrics.IncFill(string(f.Order.Side))
	if l.Logger == nil {
		return
	}
	_ = l.Logger.LogFill(session.FillRecord{
		OrderRecord: session.OrderRecord{
			Timestamp: now,
			Symbol:    sym.Symbol,
			OrderID:   f.Order.OrderID,
			Type:      "LIMIT",
			Side:      string(f.Order.Side),
			Action:    "fill",
			Price:     f.FillPrice,
			Quantity:  f.Order.Qty,
			Value:     f.FillPrice * f.Order.Qty,
			Status:    "FILLED",
			Strategy:  "Hybrid",
			Tag:       f.Order.Tag,
			Mode:      l.Mode,
		},
		FillID:   uuid.New().String(),
		Fee:      fee,
		FeeAsset: "USDT",
		PnL:      pnl,
		PnLPct:   pnlPct,
	})
}

func tradeResult(entry, exit float64) string {
	if exit >= entry {
		return "win"
	}
	return "loss"
}

func (l *Loop) indicatorBundle(sym *SymbolRuntime) candle.IndicatorBundle {
	if len(sym.History) == 0 {
		return candle.IndicatorBundle{}
	}
	return candle.Build(sym.History)
}

// Run drives Tick on an interval until ctx is cancelled, per spec §5's
// cooperative-shutdown rule: the loop finishes the current tick, then
// returns. Grounded on the teacher's main.go signal.NotifyContext +
// graceful-shutdown wiring.
func (l *Loop) Run(ctx context.Context, interval time.Duration) {
	l.running = true
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for l.running {
		select {
		case <-ctx.Done():
			l.Log.Info().Msg("trading loop shutting down")
			return
		case now := <-ticker.C:
			l.Tick(ctx, now.UTC())
		}
	}
}

// Stop requests the loop finish its current tick and return.
func (l *Loop) Stop() { l.running = false }
