// Package backtest
package backtest

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/amirphl/trend-trader/internal/candle"
	"github.com/amirphl/trend-trader/internal/exchange"
	"github.com/amirphl/trend-trader/internal/indicator"
	"github.com/amirphl/trend-trader/internal/position"
	"github.com/amirphl/trend-trader/internal/strategy"
)

// Result holds the outcome of one backtest run.
type Result struct {
	Symbol         string
	Trades         []position.TradeRecord
	Equity         []float64
	InitialBalance float64
	FinalBalance   float64

	TotalTrades  int
	Wins         int
	Losses       int
	WinRate      float64
	ProfitFactor float64
	MaxDrawdown  float64 // percent, negative
	ExitsByCause map[string]int
}

// Engine replays a historical bar sequence through the same risk controller
// the live loop uses, against a simulated gateway.
type Engine struct {
	Symbol         string
	Timeframe      string
	Params         strategy.Params
	InitialBalance float64
}

func NewEngine(symbol, timeframe string, params strategy.Params, initialBalance float64) *Engine {
	return &Engine{Symbol: symbol, Timeframe: timeframe, Params: params, InitialBalance: initialBalance}
}

type ledger struct {
	trades []position.TradeRecord
}

func (l *ledger) RecordTrade(_ context.Context, rec position.TradeRecord) error {
	l.trades = append(l.trades, rec)
	return nil
}

// Run replays the candles bar by bar. Indicator series are computed once up
// front, exactly as the per-window live evaluation would see them, so the two
// paths make identical decisions.
func (e *Engine) Run(ctx context.Context, candles []candle.Candle) (*Result, error) {
	p := e.Params
	minBars := p.MinBars()
	if len(candles) <= minBars {
		return nil, fmt.Errorf("need more than %d candles, got %d", minBars, len(candles))
	}

	gw := exchange.NewSimulated(e.Symbol, e.InitialBalance)
	rec := &ledger{}
	ctrl := position.NewController(e.Symbol, e.Timeframe, p, gw, rec)

	closes := candle.Closes(candles)
	emaFast := indicator.CalculateEMA(closes, p.EMAFast)
	emaSlow := indicator.CalculateEMA(closes, p.EMASlow)
	rsiSeries := indicator.CalculateRSI(closes, p.RSIPeriod)
	atrSeries := indicator.CalculateATR(candles, p.ATRPeriod)

	equity := []float64{e.InitialBalance}

	for i := minBars; i < len(candles); i++ {
		bar := candles[i]

		rsi := rsiSeries[i]
		if math.IsNaN(rsi) {
			rsi = 50
		}
		atr := atrSeries[i]
		if math.IsNaN(atr) || atr <= 0 {
			atr = bar.Close * 0.01
		}

		if ctrl.HasPosition() {
			if _, err := ctrl.ManageBar(ctx, bar, atr); err != nil {
				return nil, fmt.Errorf("bar %d: %w", i, err)
			}
			equity = append(equity, gw.CurrentBalance())
			continue
		}

		trend := strategy.DetectTrend(bar.Close, emaFast, emaSlow, i, p.SlopePeriod)
		d := p.Decide(trend, rsi, atr, bar.Close)
		if d.Enter {
			if err := ctrl.OpenEntry(ctx, d, bar.Timestamp); err != nil {
				return nil, fmt.Errorf("bar %d: %w", i, err)
			}
		}
		equity = append(equity, gw.CurrentBalance())
	}

	// mark-to-close whatever is still open at the end of data
	if ctrl.HasPosition() {
		last := candles[len(candles)-1]
		if err := ctrl.ForceClose(ctx, last.Close, position.ReasonEndOfData, last.Timestamp); err != nil {
			return nil, fmt.Errorf("end-of-data close: %w", err)
		}
		equity = append(equity, gw.CurrentBalance())
	}

	res := &Result{
		Symbol:         e.Symbol,
		Trades:         rec.trades,
		Equity:         equity,
		InitialBalance: e.InitialBalance,
		FinalBalance:   gw.CurrentBalance(),
	}
	computeStats(res)
	return res, nil
}

func computeStats(res *Result) {
	res.TotalTrades = len(res.Trades)
	res.ExitsByCause = make(map[string]int)

	var grossWin, grossLoss float64
	for _, t := range res.Trades {
		res.ExitsByCause[t.ExitReason]++
		if t.PnL > 0 {
			res.Wins++
			grossWin += t.PnL
		} else {
			res.Losses++
			grossLoss += -t.PnL
		}
	}
	if res.TotalTrades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.TotalTrades) * 100
	}
	if grossLoss > 0 {
		res.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		res.ProfitFactor = math.Inf(1)
	}

	peak := math.Inf(-1)
	for _, eq := range res.Equity {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			dd := (eq - peak) / peak * 100
			if dd < res.MaxDrawdown {
				res.MaxDrawdown = dd
			}
		}
	}
}

// PrintSummary writes a human-readable result summary to the log.
func (r *Result) PrintSummary() {
	ret := (r.FinalBalance - r.InitialBalance) / r.InitialBalance * 100
	log.Printf("Backtest | [%s] bars=%d initial=%.2f final=%.2f return=%+.2f%%",
		r.Symbol, len(r.Equity), r.InitialBalance, r.FinalBalance, ret)
	log.Printf("Backtest | [%s] trades=%d wins=%d losses=%d winRate=%.1f%% profitFactor=%.2f maxDrawdown=%.2f%%",
		r.Symbol, r.TotalTrades, r.Wins, r.Losses, r.WinRate, r.ProfitFactor, r.MaxDrawdown)
	log.Printf("Backtest | [%s] exits=%v", r.Symbol, r.ExitsByCause)
}

// SaveTradesCSV writes the trade ledger to a CSV file.
func (r *Result) SaveTradesCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"timestamp", "symbol", "side", "exit_reason", "entry_price", "exit_price", "pnl", "balance_after"}); err != nil {
		return err
	}
	for _, t := range r.Trades {
		row := []string{
			t.Timestamp.UTC().Format(time.RFC3339),
			t.Symbol,
			string(t.Side),
			t.ExitReason,
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
			strconv.FormatFloat(t.PnL, 'f', -1, 64),
			strconv.FormatFloat(t.BalanceAfter, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// LoadCandlesCSV reads candles from a CSV with the columns
// timestamp,open,high,low,close,volume. The timestamp is RFC3339 or unix
// milliseconds.
func LoadCandlesCSV(path, symbol, timeframe string) ([]candle.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var out []candle.Candle
	for i, row := range rows {
		if len(row) < 6 {
			continue
		}
		if i == 0 {
			if _, err := strconv.ParseFloat(row[1], 64); err != nil {
				continue // header
			}
		}
		ts, err := parseTimestamp(row[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		o, _ := strconv.ParseFloat(row[1], 64)
		h, _ := strconv.ParseFloat(row[2], 64)
		l, _ := strconv.ParseFloat(row[3], 64)
		c, _ := strconv.ParseFloat(row[4], 64)
		v, _ := strconv.ParseFloat(row[5], 64)
		out = append(out, candle.Candle{
			Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: v,
			Symbol: symbol, Timeframe: timeframe, Source: "csv",
		})
	}
	candle.SortByTimestamp(out)
	return candle.Dedupe(out), nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
	}
	return ts.UTC(), nil
}
