// Package portfolio tracks cash, strategy-scoped positions, the realised
// trade log, and daily/weekly PnL counters with calendar rollover.
//
// Grounded on original_source/src/core/portfolio.py for the invariants and
// control flow (open/close/equity), and on the teacher's trader.go
// closeLot() for fee-aware PnL (pnl_gross, fee, pnl_net), which the Python
// original's bare trade-record dict does not compute.
package portfolio

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Side is the direction of an open position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Key identifies a Position within a Portfolio.
type Key struct {
	Symbol   string
	Strategy string
}

func (k Key) String() string { return k.Symbol + "_" + k.Strategy }

// Position is owned by Portfolio, keyed by (symbol, strategy).
type Position struct {
	Side       Side
	Quantity   float64
	EntryPrice float64
	EntryTime  time.Time
	StopLoss   *float64
	TakeProfit *float64
}

// TradeRecord is an append-only record produced on each close.
type TradeRecord struct {
	Timestamp  time.Time
	Symbol     string
	Strategy   string
	Side       Side
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	PnLGross   float64
	Fee        float64
	PnLNet     float64
	Tag        string
}

// Portfolio holds cash, positions, and PnL counters for one trading session.
// It is not safe for concurrent use without external locking unless callers
// go through the exported methods, which take an internal mutex themselves.
type Portfolio struct {
	mu sync.Mutex

	cash           float64
	initialCapital float64
	positions      map[Key]*Position
	tradeHistory   []TradeRecord

	dailyPnL             float64
	weeklyPnL            float64
	totalTrades          int
	winningTrades        int
	losingTrades         int
	lastDailyResetDate   time.Time // zero value means "never set"
	lastWeeklyResetYear  int
	lastWeeklyResetWeek  int

	feeRate float64 // e.g. 0.001 for 0.1%

	log zerolog.Logger
}

// New creates a Portfolio with the given starting cash and fee rate
// (fraction, e.g. 0.001 for 0.1%), per spec §9: fee is a constant of the
// exchange adapter, not a strategy input.
func New(initialCapital, feeRate float64, log zerolog.Logger) *Portfolio {
	return &Portfolio{
		cash:           initialCapital,
		initialCapital: initialCapital,
		positions:      make(map[Key]*Position),
		feeRate:        feeRate,
		log:            log.With().Str("component", "portfolio").Logger(),
	}
}

// Equity computes cash + Σ_LONG q·price + Σ_SHORT q·(2·entry − price), per
// spec §3. prices must contain an entry for every symbol with an open
// position; a missing price is treated as the position's own entry price
// (no mark, contributes zero unrealised PnL) rather than erroring, since
// equity must always be computable for logging/gating even with a partial
// price feed.
func (p *Portfolio) Equity(prices map[string]float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.equityLocked(prices)
}

func (p *Portfolio) equityLocked(prices map[string]float64) float64 {
	total := p.cash
	for k, pos := range p.positions {
		price, ok := prices[k.Symbol]
		if !ok {
			price = pos.EntryPrice
		}
		if pos.Side == Long {
			total += pos.Quantity * price
		} else {
			total += pos.Quantity * (2*pos.EntryPrice - price)
		}
	}
	return total
}

// OpenPosition opens a new position, debiting cash by entry_price*qty. It
// fails (returns false) if the cost exceeds cash or a position already
// exists for the key — per spec §4.4, this never retries within the same
// bar.
func (p *Portfolio) OpenPosition(symbol string, side Side, qty, entryPrice float64, strategy string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	cost := entryPrice * qty
	if cost > p.cash {
		p.log.Warn().Str("symbol", symbol).Float64("cost", cost).Float64("cash", p.cash).Msg("insufficient cash to open position")
		return false
	}
	key := Key{Symbol: symbol, Strategy: strategy}
	if _, ok := p.positions[key]; ok {
		// Averaging up on an existing LONG via a BUY fill goes through
		// AverageUp, not OpenPosition; a second OpenPosition call for an
		// already-open key is always a reject, per the at-most-one invariant.
		p.log.Warn().Str("key", key.String()).Msg("position already exists")
		return false
	}
	p.positions[key] = &Position{
		Side:       side,
		Quantity:   qty,
		EntryPrice: entryPrice,
		EntryTime:  now,
	}
	p.cash -= cost
	p.log.Info().Str("key", key.String()).Str("side", string(side)).Float64("qty", qty).Float64("price", entryPrice).Msg("opened position")
	return true
}

// AverageUp applies a BUY fill to an existing LONG position, recomputing the
// weighted-average entry price per spec §3:
// new_avg = (q1·p1 + q2·p2)/(q1+q2). Returns false if no LONG position
// exists for the key or cash is insufficient.
func (p *Portfolio) AverageUp(symbol, strategy string, qty, fillPrice float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := Key{Symbol: symbol, Strategy: strategy}
	pos, ok := p.positions[key]
	if !ok || pos.Side != Long {
		return false
	}
	cost := fillPrice * qty
	if cost > p.cash {
		p.log.Warn().Str("key", key.String()).Msg("insufficient cash to average up")
		return false
	}
	newQty := pos.Quantity + qty
	pos.EntryPrice = (pos.Quantity*pos.EntryPrice + qty*fillPrice) / newQty
	pos.Quantity = newQty
	p.cash -= cost
	p.log.Info().Str("key", key.String()).Float64("new_avg", pos.EntryPrice).Float64("qty", newQty).Msg("averaged up position")
	return true
}

// ClosePosition closes a position fully or partially at exit_price. If qty
// is nil or exceeds the position's quantity, the full position is closed.
// Returns (pnlNet, true) on success, (0, false) if no position exists for
// the key.
func (p *Portfolio) ClosePosition(symbol, strategy string, exitPrice float64, qty *float64, tag string, now time.Time) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := Key{Symbol: symbol, Strategy: strategy}
	pos, ok := p.positions[key]
	if !ok {
		p.log.Warn().Str("key", key.String()).Msg("position not found for close")
		return 0, false
	}

	closeQty := pos.Quantity
	if qty != nil && *qty > 0 && *qty < pos.Quantity {
		closeQty = *qty
	}

	var pnlGross float64
	if pos.Side == Long {
		pnlGross = (exitPrice - pos.EntryPrice) * closeQty
	} else {
		pnlGross = (pos.EntryPrice - exitPrice) * closeQty
	}
	notional := exitPrice * closeQty
	fee := notional * p.feeRate
	pnlNet := pnlGross - fee

	p.cash += notional - fee

	fullyClosed := closeQty >= pos.Quantity
	if fullyClosed {
		delete(p.positions, key)
	} else {
		pos.Quantity -= closeQty
	}

	p.totalTrades++
	p.dailyPnL += pnlNet
	p.weeklyPnL += pnlNet
	if pnlNet > 0 {
		p.winningTrades++
	} else {
		p.losingTrades++
	}

	rec := TradeRecord{
		Timestamp:  now,
		Symbol:     symbol,
		Strategy:   strategy,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   closeQty,
		PnLGross:   pnlGross,
		Fee:        fee,
		PnLNet:     pnlNet,
		Tag:        tag,
	}
	p.tradeHistory = append(p.tradeHistory, rec)

	p.log.Info().Str("key", key.String()).Float64("pnl_net", pnlNet).Bool("full", fullyClosed).Msg("closed position")
	return pnlNet, true
}

// GetPosition returns the position for (symbol, strategy), or nil.
func (p *Portfolio) GetPosition(symbol, strategy string) *Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[Key{Symbol: symbol, Strategy: strategy}]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// TradeHistory returns a copy of the append-only trade log.
func (p *Portfolio) TradeHistory() []TradeRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TradeRecord, len(p.tradeHistory))
	copy(out, p.tradeHistory)
	return out
}

// DailyPnL returns the running daily PnL counter.
func (p *Portfolio) DailyPnL() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dailyPnL
}

// WeeklyPnL returns the running weekly PnL counter.
func (p *Portfolio) WeeklyPnL() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.weeklyPnL
}

// FeeRate returns the configured fee rate (fraction of notional).
func (p *Portfolio) FeeRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.feeRate
}

// CheckInvariants evaluates the bug-indicating conditions spec §7 names for
// the invariant-violation error tier: negative equity, and a position whose
// stop_loss coincides with its entry_price (a stop that can never trigger).
// Callers route a non-nil return through engine.ErrInvariantViolation at
// .Fatal() — these indicate a bug, not a market condition.
func (p *Portfolio) CheckInvariants(prices map[string]float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	equity := p.equityLocked(prices)
	if equity < 0 {
		return fmt.Errorf("negative equity %.2f", equity)
	}
	for key, pos := range p.positions {
		if pos.StopLoss != nil && *pos.StopLoss == pos.EntryPrice {
			return fmt.Errorf("position %s: stop_loss == entry_price (%.8f)", key.String(), pos.EntryPrice)
		}
	}
	return nil
}

// Stats summarises counters useful for operator dashboards. Supplemented
// from original_source/src/core/portfolio.py's get_statistics(), not
// excluded by any spec.md Non-goal.
type Stats struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
}

func (p *Portfolio) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	winRate := 0.0
	if p.totalTrades > 0 {
		winRate = float64(p.winningTrades) / float64(p.totalTrades) * 100
	}
	return Stats{
		TotalTrades:   p.totalTrades,
		WinningTrades: p.winningTrades,
		LosingTrades:  p.losingTrades,
		WinRate:       winRate,
	}
}

// ResetDailyStats resets daily_pnl when the wall-clock date advances, per
// spec §3/§4.4. Must be invoked at the start of each tick.
func (p *Portfolio) ResetDailyStats(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	today := now.UTC().Truncate(24 * time.Hour)
	if p.lastDailyResetDate.IsZero() {
		p.lastDailyResetDate = today
		return
	}
	if today.After(p.lastDailyResetDate) {
		p.dailyPnL = 0
		p.lastDailyResetDate = today
		p.log.Info().Time("date", today).Msg("daily pnl reset")
	}
}

// ResetWeeklyStats resets weekly_pnl when the ISO week number changes. ISO
// year is tracked alongside the week number — the Python original
// (reset_weekly_stats in portfolio.py) compares bare week numbers only,
// which misses a reset when the same week number recurs in a later year
// (week 1 of 2026 vs week 1 of 2027); tracking (year, week) together is a
// deliberate, minor correctness fix over the source.
func (p *Portfolio) ResetWeeklyStats(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	year, week := now.UTC().ISOWeek()
	if p.lastWeeklyResetYear == 0 {
		p.lastWeeklyResetYear, p.lastWeeklyResetWeek = year, week
		return
	}
	if year != p.lastWeeklyResetYear || week != p.lastWeeklyResetWeek {
		p.weeklyPnL = 0
		p.lastWeeklyResetYear, p.lastWeeklyResetWeek = year, week
		p.log.Info().Int("iso_year", year).Int("iso_week", week).Msg("weekly pnl reset")
	}
}

// Guardrails are an optional, off-by-default supplement grounded on
// original_source/src/risk/risk_manager.py's check_trade_allowed() (the
// max_positions / min_cash_reserve checks only — spec.md's Portfolio
// contract already enforces the at-most-one-position and cash invariants).
// Zero values disable the corresponding check.
type Guardrails struct {
	MaxPositions    int
	MinCashReserve  float64 // fraction, e.g. 0.1 for 10%
}

// CheckGuardrails reports whether opening a position of the given notional
// value would violate the optional guardrails. It never overrides the
// mandatory spec.md checks inside OpenPosition; it is meant to be consulted
// by a caller before attempting the open.
func (p *Portfolio) CheckGuardrails(g Guardrails, positionValue float64) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if g.MaxPositions > 0 && len(p.positions) >= g.MaxPositions {
		return false, fmt.Sprintf("maximum positions reached: %d", g.MaxPositions)
	}
	if g.MinCashReserve > 0 {
		total := p.cash
		for k, pos := range p.positions {
			_ = k
			total += pos.EntryPrice * pos.Quantity
		}
		remaining := p.cash - positionValue
		if total > 0 {
			cashPct := remaining / total
			if cashPct < g.MinCashReserve {
				return false, fmt.Sprintf("insufficient cash reserve: %.4f < %.4f", cashPct, g.MinCashReserve)
			}
		}
	}
	return true, ""
}
