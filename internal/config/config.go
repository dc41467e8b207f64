// FILE: config.go
// Package config – runtime configuration model and loader.
//
// Config holds the ops-level knobs (mode, symbol, port, fee rate...);
// Policy (internal/engine.Policy plus internal/orders.Policy) holds the
// exhaustive set of semantic knobs spec §6 names, organised under a
// default_policy read from env with optional per-symbol overrides, per
// spec §6: "Organised under a default_policy block with optional
// per-symbol overrides."
//
// Grounded on the teacher's config.go loadConfigFromEnv() shape (a struct
// populated once from env.GetEnv*, defaults inline at the call site).
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ntqnhanguyen/hybridgrid/internal/engine"
	"github.com/ntqnhanguyen/hybridgrid/internal/orders"
)

// Mode selects the trading mode per spec §6.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModePaper    Mode = "paper"
	ModeTestnet  Mode = "testnet"
	ModeMainnet  Mode = "mainnet"
)

// Config holds the ops-level knobs for one run.
type Config struct {
	Mode         Mode
	Symbols      []string
	Port         int
	FeeRatePct   float64 // fee_rate as a percentage, e.g. 0.1 for 0.1%
	USDEquity    float64
	BacktestCSV  string
	TickInterval int // trading_interval_seconds
}

// LoadConfig reads the process env (already hydrated by LoadDotEnv) and
// returns a Config with the same sane-defaults idiom as the teacher's
// loadConfigFromEnv().
func LoadConfig() Config {
	symbolsRaw := GetEnv("SYMBOLS", "BTCUSDT")
	var symbols []string
	for _, s := range strings.Split(symbolsRaw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			symbols = append(symbols, s)
		}
	}
	return Config{
		Mode:         Mode(GetEnv("TRADING_MODE", "backtest")),
		Symbols:      symbols,
		Port:         GetEnvInt("PORT", 8080),
		FeeRatePct:   GetEnvFloat("FEE_RATE_PCT", 0.1),
		USDEquity:    GetEnvFloat("USD_EQUITY", 10000.0),
		BacktestCSV:  GetEnv("BACKTEST_CSV", "candles.csv"),
		TickInterval: GetEnvInt("TRADING_INTERVAL_SECONDS", 60),
	}
}

// symbolOverrides resolves default_policy + per-symbol override reads for
// one symbol, per spec §6's "default_policy block with optional per-symbol
// overrides": SYMBOL_<SYMBOL>_<KEY> wins over the bare <KEY>, which wins
// over the literal default passed at the call site.
type symbolOverrides struct{ symbol string }

func (s symbolOverrides) raw(key string) (string, bool) {
	symKey := fmt.Sprintf("SYMBOL_%s_%s", strings.ToUpper(s.symbol), key)
	if v := strings.TrimSpace(GetEnv(symKey, "")); v != "" {
		return v, true
	}
	if v := strings.TrimSpace(GetEnv(key, "")); v != "" {
		return v, true
	}
	return "", false
}

func (s symbolOverrides) float(key string, def float64) float64 {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func (s symbolOverrides) int64(key string, def int64) int64 {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return i
}

func (s symbolOverrides) int(key string, def int) int { return int(s.int64(key, int64(def))) }

func (s symbolOverrides) bool(key string, def bool) bool {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}

// LoadPolicy builds an engine.Policy for symbol from the default_policy
// block with optional per-symbol overrides. orderSizePct resolves spec §9's
// Open Question #1: callers pass the per-mode value explicitly (0.02
// live/paper, 0.01 backtest, by convention — see SPEC_FULL.md §9) rather
// than this loader silently picking one.
func LoadPolicy(symbol string, orderSizePct float64) engine.Policy {
	s := symbolOverrides{symbol: symbol}
	return engine.Policy{
		UseDynamicSpread: s.bool("USE_DYNAMIC_SPREAD", true),
		FixedSpreadPct:   s.float("FIXED_SPREAD_PCT", 0.5),

		BandNearThreshold: s.float("BAND_NEAR_THRESHOLD", 0.3),
		BandMidThreshold:  s.float("BAND_MID_THRESHOLD", 0.8),
		SpreadNearPct:     s.float("SPREAD_NEAR_PCT", 0.3),
		SpreadMidPct:      s.float("SPREAD_MID_PCT", 0.5),
		SpreadFarPct:      s.float("SPREAD_FAR_PCT", 1.0),

		RSIAdjustEnabled: s.bool("RSI_ADJUST_ENABLED", true),
		RSIAdjustFactor:  s.float("RSI_ADJUST_FACTOR", 0.2),

		GridEnabled:                 s.bool("GRID_ENABLED", true),
		GridLevelsPerSide:           s.int("GRID_LEVELS_PER_SIDE", 2),
		GridKillReplaceThresholdPct: s.float("GRID_KILL_REPLACE_THRESHOLD_PCT", 1.0),
		GridMinSecondsBetween:       s.int64("GRID_MIN_SECONDS_BETWEEN", 60),

		DCAEnabled:                    s.bool("DCA_ENABLED", true),
		DCARSIThreshold:               s.float("DCA_RSI_THRESHOLD", 35),
		DCAUseEMAGate:                 s.bool("DCA_USE_EMA_GATE", true),
		DCACooldownBars:               s.int64("DCA_COOLDOWN_BARS", 10),
		DCAMinDistanceFromLastFillPct: s.float("DCA_MIN_DISTANCE_FROM_LAST_FILL_PCT", 1.0),
		DCAPriceOffsetPct:             s.float("DCA_PRICE_OFFSET_PCT", 0.1),

		TPEnabled:       s.bool("TP_ENABLED", true),
		TPRSIThreshold:  s.float("TP_RSI_THRESHOLD", 65),
		TPSpreadNearPct: s.float("TP_SPREAD_NEAR_PCT", 0.3),
		TPSpreadMidPct:  s.float("TP_SPREAD_MID_PCT", 0.5),
		TPSpreadFarPct:  s.float("TP_SPREAD_FAR_PCT", 1.0),

		GateDegradedGapPct:      s.float("GATE_DEGRADED_GAP_PCT", -3.0),
		GatePausedGapPct:        s.float("GATE_PAUSED_GAP_PCT", -6.0),
		GateDegradedDailyPnLPct: s.float("GATE_DEGRADED_DAILY_PNL_PCT", -2.0),
		GatePausedDailyPnLPct:   s.float("GATE_PAUSED_DAILY_PNL_PCT", -4.0),

		HardStopDailyPnLPct: s.float("HARD_STOP_DAILY_PNL_PCT", -5.0),
		HardStopGapPct:      s.float("HARD_STOP_GAP_PCT", -8.0),

		BarSeconds: s.int64("BAR_TIMEFRAME_SECONDS", 60),

		AutoResumeEnabled:      s.bool("AUTO_RESUME_ENABLED", true),
		ResumeRSIThreshold:     s.float("RESUME_RSI_THRESHOLD", 40),
		ResumePriceRecoveryPct: s.float("RESUME_PRICE_RECOVERY_PCT", 2.0),
		ResumeCooldownBars:     s.int64("RESUME_COOLDOWN_BARS", 60),

		OrderSizePct: orderSizePct,
	}
}

// LoadOrderPolicy builds an orders.Policy for symbol from the
// default_policy block, with the same per-symbol override convention as
// LoadPolicy.
func LoadOrderPolicy(symbol string) orders.Policy {
	s := symbolOverrides{symbol: symbol}
	return orders.Policy{
		OrderMaxAgeSeconds:            s.int64("ORDER_MAX_AGE_SECONDS", 300),
		OrderPriceDriftThresholdPct:   s.float("ORDER_PRICE_DRIFT_THRESHOLD_PCT", 0.5),
		OrderCancelOnVolatilitySpike:  s.bool("ORDER_CANCEL_ON_VOLATILITY_SPIKE", true),
		OrderVolatilitySpikeThreshold: s.float("ORDER_VOLATILITY_SPIKE_THRESHOLD", 1.5),
		OrderCancelOnRSIReversal:      s.bool("ORDER_CANCEL_ON_RSI_REVERSAL", true),
		OrderRSIReversalThreshold:     s.float("ORDER_RSI_REVERSAL_THRESHOLD", 15),
	}
}
