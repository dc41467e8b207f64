package exchange

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ntqnhanguyen/hybridgrid/internal/candle"
)

// BacktestBroker replays a CSV candle file with no network I/O, per spec
// §6's `backtest` mode rule: fills use OHLC-crossing rules (BUY fills if
// bar.low <= order.price, SELL if bar.high >= order.price, at order price).
// Grounded on the teacher's backtest.go loadCSV() loader, generalised to a
// flexible header set and RFC3339-or-unix timestamps exactly as there, but
// without the teacher's string-parsed win/loss counting — callers use the
// typed portfolio.TradeRecord log instead.
type BacktestBroker struct {
	candles []candle.Candle
	cursor  int
}

// LoadCSV reads a candle CSV with headers time|timestamp, open, high, low,
// close, volume (case-insensitive, any order, extra columns ignored).
func LoadCSV(path string) ([]candle.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []candle.Candle
	var headers []string
	rowIdx := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if rowIdx == 0 {
			headers = rec
			rowIdx++
			continue
		}
		row := map[string]string{}
		for j, h := range headers {
			k := strings.ToLower(strings.TrimSpace(h))
			if j < len(rec) {
				row[k] = strings.TrimSpace(rec[j])
			}
		}
		ts := firstNonEmpty(row, "time", "timestamp")
		op := firstNonEmpty(row, "open")
		hp := firstNonEmpty(row, "high")
		lp := firstNonEmpty(row, "low")
		cp := firstNonEmpty(row, "close")
		vp := firstNonEmpty(row, "volume", "vol")
		if ts == "" || op == "" || cp == "" {
			continue
		}
		tt, err := parseTimeFlexible(ts)
		if err != nil {
			continue
		}
		o, _ := strconv.ParseFloat(op, 64)
		h, _ := strconv.ParseFloat(hp, 64)
		l, _ := strconv.ParseFloat(lp, 64)
		c, _ := strconv.ParseFloat(cp, 64)
		v, _ := strconv.ParseFloat(vp, 64)
		out = append(out, candle.Candle{Timestamp: tt, Open: o, High: h, Low: l, Close: c, Volume: v})
		rowIdx++
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func firstNonEmpty(row map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

func parseTimeFlexible(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, errors.New("unrecognized time format: " + s)
}

// NewBacktestBroker builds a broker that replays the given candles in
// order, one per Advance call.
func NewBacktestBroker(candles []candle.Candle) *BacktestBroker {
	return &BacktestBroker{candles: candles}
}

// Advance returns the next candle and advances the internal cursor, or
// (Candle{}, false) when the feed is exhausted.
func (b *BacktestBroker) Advance() (candle.Candle, bool) {
	if b.cursor >= len(b.candles) {
		return candle.Candle{}, false
	}
	c := b.candles[b.cursor]
	b.cursor++
	return c, true
}

// Current returns the most recently advanced-to candle, or the zero value
// before the first Advance call.
func (b *BacktestBroker) Current() candle.Candle {
	if b.cursor == 0 {
		return candle.Candle{}
	}
	return b.candles[b.cursor-1]
}

// Window returns up to n candles ending at the current cursor, ascending.
func (b *BacktestBroker) Window(n int) []candle.Candle {
	end := b.cursor
	start := end - n
	if start < 0 {
		start = 0
	}
	return b.candles[start:end]
}

func (b *BacktestBroker) Name() string { return "backtest" }

func (b *BacktestBroker) GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c := b.Current()
	if c.Timestamp.IsZero() {
		return decimal.Zero, errors.New("backtest broker has not advanced yet")
	}
	return decimal.NewFromFloat(c.Close), nil
}

func (b *BacktestBroker) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]candle.Candle, error) {
	return b.Window(limit), nil
}

// CreateOrder always "succeeds" with a synthetic order ID; fill decisions
// are made by FillsAgainst, not here — CreateOrder only validates shape.
func (b *BacktestBroker) CreateOrder(ctx context.Context, symbol string, side OrderSide, quantity, price decimal.Decimal) (string, error) {
	if quantity.IsZero() || quantity.IsNegative() || price.IsNegative() {
		return "", errors.New("invalid order")
	}
	return uuid.New().String(), nil
}

func (b *BacktestBroker) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }

func (b *BacktestBroker) GetAccountBalance(ctx context.Context) (map[string]Balance, error) {
	return map[string]Balance{}, nil
}

func (b *BacktestBroker) SymbolMeta(symbol string) SymbolMeta { return LookupSymbolMeta(symbol) }

// FillsAgainst reports whether a pending order at orderPrice would fill
// against the current bar, per spec §6's OHLC-crossing rule: BUY fills if
// bar.low <= order.price, SELL if bar.high >= order.price.
func (b *BacktestBroker) FillsAgainst(side OrderSide, orderPrice float64) bool {
	c := b.Current()
	if side == Buy {
		return c.Low <= orderPrice
	}
	return c.High >= orderPrice
}
