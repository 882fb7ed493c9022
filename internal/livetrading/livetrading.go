// Package livetrading
package livetrading

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/trend-trader/internal/candle"
	"github.com/amirphl/trend-trader/internal/config"
	"github.com/amirphl/trend-trader/internal/db"
	"github.com/amirphl/trend-trader/internal/exchange"
	"github.com/amirphl/trend-trader/internal/indicator"
	"github.com/amirphl/trend-trader/internal/journal"
	"github.com/amirphl/trend-trader/internal/metrics"
	"github.com/amirphl/trend-trader/internal/notifier"
	"github.com/amirphl/trend-trader/internal/position"
	"github.com/amirphl/trend-trader/internal/strategy"
)

// dbRecorder persists ledger rows and pushes a notification per row.
type dbRecorder struct {
	storage db.Storage
	notif   notifier.Notifier
}

func (r *dbRecorder) RecordTrade(ctx context.Context, rec position.TradeRecord) error {
	metrics.ExitReasons.WithLabelValues(rec.Symbol, rec.ExitReason).Inc()
	if err := r.storage.SaveTrade(ctx, rec); err != nil {
		return err
	}
	msg := fmt.Sprintf("%s %s %s entry=%.4f exit=%.4f pnl=%+.4f", rec.Symbol, rec.Side, rec.ExitReason, rec.EntryPrice, rec.ExitPrice, rec.PnL)
	if err := r.notif.SendWithRetry(msg); err != nil {
		log.Printf("LiveTrading | Trade notification failed: %v", err)
	}
	return nil
}

// symbolLoop bundles one symbol's controller with its per-cycle bookkeeping.
type symbolLoop struct {
	symbol     string
	strat      *strategy.TrendFollow
	ctrl       *position.Controller
	lastBarTS  time.Time
	windowSize int
}

// Run drives all configured symbols sequentially on a fixed polling
// interval. Each symbol's cycle is isolated: an error aborts that symbol's
// cycle, is journaled, and the loop moves on.
func Run(ctx context.Context, cfg config.Config, storage db.Storage, gw exchange.Gateway, notif notifier.Notifier) error {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("LiveTrading | Recovered from panic: %v", r)
			notif.Send(fmt.Sprintf("PANIC in trading loop: %v", r))
		}
	}()

	rec := &dbRecorder{storage: storage, notif: notif}

	loops := make([]*symbolLoop, 0, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		if err := prepareSymbol(ctx, gw, symbol, cfg.Strategy.Leverage); err != nil {
			return fmt.Errorf("prepare %s: %w", symbol, err)
		}
		loops = append(loops, &symbolLoop{
			symbol:     symbol,
			strat:      strategy.NewTrendFollow(symbol, cfg.Timeframe, cfg.Strategy),
			ctrl:       position.NewController(symbol, cfg.Timeframe, cfg.Strategy, gw, rec),
			windowSize: cfg.Strategy.MinBars() + 50,
		})
	}

	notif.Send(fmt.Sprintf("Trading started on %s: %v (%s)", gw.Name(), cfg.Symbols, cfg.Timeframe))

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		for _, sl := range loops {
			if err := cycle(ctx, cfg, storage, gw, sl); err != nil {
				metrics.Cycles.WithLabelValues(sl.symbol, "error").Inc()
				log.Printf("LiveTrading | [%s %s] Cycle error: %v", sl.symbol, cfg.Timeframe, err)
				storage.LogEvent(ctx, journal.Event{
					Time:        time.Now().UTC(),
					Type:        "error",
					Description: "cycle_failed",
					Data:        map[string]any{"symbol": sl.symbol, "error": err.Error()},
				})
				continue
			}
			metrics.Cycles.WithLabelValues(sl.symbol, "ok").Inc()
		}

		select {
		case <-ctx.Done():
			log.Println("LiveTrading | Shutting down")
			notif.Send("Trading stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// prepareSymbol is the startup hygiene for one instrument: clear stale
// orders, pin leverage, and pin isolated margin.
func prepareSymbol(ctx context.Context, gw exchange.Gateway, symbol string, leverage int) error {
	if err := gw.CancelAllOrders(ctx, symbol); err != nil {
		return fmt.Errorf("cancel open orders: %w", err)
	}
	if err := gw.SetMarginMode(ctx, symbol, "ISOLATED"); err != nil {
		return fmt.Errorf("set margin mode: %w", err)
	}
	if err := gw.SetLeverage(ctx, symbol, leverage); err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	log.Printf("LiveTrading | [%s] Prepared: orders cleared, isolated margin, leverage %dx", symbol, leverage)
	return nil
}

// cycle runs one fetch-decide-act pass for one symbol. Any error aborts the
// pass with no state mutated beyond what the exchange already confirmed.
func cycle(ctx context.Context, cfg config.Config, storage db.Storage, gw exchange.Gateway, sl *symbolLoop) error {
	candles, err := gw.FetchOHLCV(ctx, sl.symbol, cfg.Timeframe, sl.windowSize)
	if err != nil {
		return fmt.Errorf("fetch candles: %w", err)
	}
	// the newest bar is still forming; decisions use closed bars only
	closed := candle.ClosedOnly(candles)
	if len(closed) == 0 {
		return fmt.Errorf("no closed candles returned")
	}

	if err := sl.ctrl.Reconcile(ctx, closed); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	if bal, err := gw.FetchBalance(ctx); err == nil {
		metrics.Equity.WithLabelValues(sl.symbol).Set(bal.Total)
	}

	bar := closed[len(closed)-1]
	if !bar.Timestamp.After(sl.lastBarTS) {
		return nil // no new closed bar since the previous cycle
	}

	if sl.ctrl.HasPosition() {
		atr := indicator.LatestATR(closed, cfg.Strategy.ATRPeriod)
		closedNow, err := sl.ctrl.ManageBar(ctx, bar, atr)
		if err != nil {
			return fmt.Errorf("manage bar: %w", err)
		}
		if closedNow {
			metrics.OpenPosition.WithLabelValues(sl.symbol).Set(0)
		} else if err := sl.ctrl.EnsureStopOrder(ctx); err != nil {
			log.Printf("LiveTrading | [%s %s] Ensure stop order: %v", sl.symbol, cfg.Timeframe, err)
		}
		sl.lastBarTS = bar.Timestamp
		return nil
	}

	d := sl.strat.Evaluate(closed)

	signal := "flat"
	if d.Enter {
		signal = string(d.Side)
	}
	metrics.Decisions.WithLabelValues(sl.symbol, signal).Inc()

	if d.Enter {
		if err := sl.ctrl.OpenEntry(ctx, d, bar.Timestamp); err != nil {
			return fmt.Errorf("open entry: %w", err)
		}
		if sl.ctrl.HasPosition() {
			metrics.OpenPosition.WithLabelValues(sl.symbol).Set(1)
			metrics.Orders.WithLabelValues(sl.symbol, d.Side.OpenOrderSide(), exchange.OrderTypeMarket).Inc()
			storage.LogEvent(ctx, journal.Event{
				Time:        time.Now().UTC(),
				Type:        "signal",
				Description: "entry",
				Data: map[string]any{
					"symbol": sl.symbol,
					"side":   string(d.Side),
					"trend":  string(d.Trend),
					"rsi":    d.RSI,
					"atr":    d.ATR,
					"close":  d.Close,
				},
			})
		}
	}
	sl.lastBarTS = bar.Timestamp
	return nil
}
