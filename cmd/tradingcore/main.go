// Boot sequence (grounded on the teacher's main.go):
//   1) config.LoadDotEnv()       – read .env (no shell exports required)
//   2) cfg := config.LoadConfig() – build runtime Config
//   3) wire broker/portfolio/engine/order-manager per symbol
//   4) start Prometheus /healthz + /metrics server on cfg.Port
//   5) run the trading loop (backtest or paper) until interrupted
//   6) graceful shutdown of the HTTP server
//
// Flags:
//   -backtest <csv>   Replay this CSV candle file in backtest mode
//                     (overrides TRADING_MODE and BACKTEST_CSV)
//
// Example:
//   go run ./cmd/tradingcore -backtest candles.csv
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ntqnhanguyen/hybridgrid/internal/candle"
	"github.com/ntqnhanguyen/hybridgrid/internal/config"
	"github.com/ntqnhanguyen/hybridgrid/internal/engine"
	"github.com/ntqnhanguyen/hybridgrid/internal/exchange"
	"github.com/ntqnhanguyen/hybridgrid/internal/orders"
	"github.com/ntqnhanguyen/hybridgrid/internal/portfolio"
	"github.com/ntqnhanguyen/hybridgrid/internal/session"
	"github.com/ntqnhanguyen/hybridgrid/internal/tradingloop"
)

// orderSizePctForMode resolves spec §9's Open Question #1: live/paper use
// 2%, backtest uses 1%, by the convention documented in SPEC_FULL.md §9.
func orderSizePctForMode(mode config.Mode) float64 {
	if mode == config.ModeBacktest {
		return 0.01
	}
	return 0.02
}

func main() {
	var csvBacktest string
	flag.StringVar(&csvBacktest, "backtest", "", "Path to CSV (time,open,high,low,close,volume); overrides TRADING_MODE")
	flag.Parse()

	config.LoadDotEnv(".env")
	cfg := config.LoadConfig()
	if csvBacktest != "" {
		cfg.Mode = config.ModeBacktest
		cfg.BacktestCSV = csvBacktest
	}

	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Str("service", "tradingcore").Logger()

	sess, err := session.New("data/sessions")
	if err != nil {
		log.Fatal().Err(err).Msg("session logger init")
	}
	defer sess.Close()

	broker, err := wireBroker(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("broker init")
	}

	feeRate := cfg.FeeRatePct / 100
	port := portfolio.New(cfg.USDEquity, feeRate, log)

	loop := &tradingloop.Loop{
		Mode:      string(cfg.Mode),
		Broker:    broker,
		Portfolio: port,
		Logger:    sess,
		Log:       log,
	}

	orderSizePct := orderSizePctForMode(cfg.Mode)
	for _, symbol := range cfg.Symbols {
		policy := config.LoadPolicy(symbol, orderSizePct)
		orderPolicy := config.LoadOrderPolicy(symbol)
		mgr := orders.New(broker, orderPolicy)
		eng := engine.New(symbol, policy, log)

		maxHist := 200
		var history []candle.Candle
		if cfg.Mode == config.ModeBacktest {
			if bb, ok := broker.(*exchange.BacktestBroker); ok {
				history = bb.Window(maxHist)
			}
		}

		loop.Symbols = append(loop.Symbols, &tradingloop.SymbolRuntime{
			Symbol:  symbol,
			Engine:  eng,
			Manager: mgr,
			History: history,
			MaxHist: maxHist,
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		log.Info().Int("port", cfg.Port).Msg("serving healthz/metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Mode == config.ModeBacktest {
		runBacktest(ctx, loop, broker.(*exchange.BacktestBroker), log)
	} else {
		loop.Run(ctx, time.Duration(cfg.TickInterval)*time.Second)
	}

	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}

func wireBroker(cfg config.Config, log zerolog.Logger) (exchange.Broker, error) {
	switch cfg.Mode {
	case config.ModeBacktest:
		candles, err := exchange.LoadCSV(cfg.BacktestCSV)
		if err != nil {
			return nil, fmt.Errorf("load backtest csv: %w", err)
		}
		return exchange.NewBacktestBroker(candles), nil
	case config.ModePaper:
		// PaperBroker simulates fills at the latest ticker price (spec §6:
		// "paper — live ticker, simulated fills as above at latest price").
		// Feeding it that live ticker requires a concrete exchange adapter,
		// which is out of scope per spec §1 — see DESIGN.md. Until one is
		// wired, callers must drive PaperBroker.SetPrice themselves (e.g.
		// from a backtest CSV replay used as a stand-in price source).
		return exchange.NewPaperBroker("BASE", "USDT", decimal.Zero, decimal.NewFromFloat(cfg.USDEquity)), nil
	default:
		// Testnet/mainnet adapters are out of scope per spec §1 — see
		// DESIGN.md for the disposition of the teacher's concrete
		// broker_*.go files.
		return nil, fmt.Errorf("unsupported trading mode %q: only backtest and paper are implemented", cfg.Mode)
	}
}

// runBacktest drives the loop one bar at a time over the whole CSV feed,
// grounded on the teacher's runBacktest() replay-then-report shape.
func runBacktest(ctx context.Context, loop *tradingloop.Loop, bb *exchange.BacktestBroker, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c, ok := bb.Advance()
		if !ok {
			break
		}
		loop.Tick(ctx, c.Timestamp)
	}
	stats := loop.Portfolio.Stats()
	log.Info().
		Int("total_trades", stats.TotalTrades).
		Int("winning_trades", stats.WinningTrades).
		Int("losing_trades", stats.LosingTrades).
		Float64("win_rate_pct", stats.WinRate).
		Float64("final_cash", loop.Portfolio.Cash()).
		Msg("backtest complete")
}
