package exchange

import "github.com/shopspring/decimal"

// symbolTable is a static per-symbol metadata table, grounded on the
// teacher's ExFilters struct in broker.go. Implementations may derive these
// from live exchange info instead; this table is the until-then fallback
// spec §6 allows ("Implementations may derive these from a per-symbol table
// until exchange info is fetched").
var symbolTable = map[string]SymbolMeta{
	"BTCUSDT": {
		TickSize:    decimal.NewFromFloat(0.01),
		StepSize:    decimal.NewFromFloat(0.00001),
		MinNotional: decimal.NewFromInt(11),
	},
	"ETHUSDT": {
		TickSize:    decimal.NewFromFloat(0.01),
		StepSize:    decimal.NewFromFloat(0.0001),
		MinNotional: decimal.NewFromInt(11),
	},
}

// defaultMeta is used for any symbol absent from symbolTable; min_notional
// of 11 USDT matches spec §6's reference-exchange figure.
var defaultMeta = SymbolMeta{
	TickSize:    decimal.NewFromFloat(0.01),
	StepSize:    decimal.NewFromFloat(0.0001),
	MinNotional: decimal.NewFromInt(11),
}

// LookupSymbolMeta returns the static metadata for symbol, or defaultMeta
// if the symbol is not in the table.
func LookupSymbolMeta(symbol string) SymbolMeta {
	if m, ok := symbolTable[symbol]; ok {
		return m
	}
	return defaultMeta
}
