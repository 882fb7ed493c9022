package position

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/trend-trader/internal/candle"
	"github.com/amirphl/trend-trader/internal/exchange"
	"github.com/amirphl/trend-trader/internal/indicator"
	"github.com/amirphl/trend-trader/internal/strategy"
)

// Controller owns the lifecycle of at most one open position for a symbol.
// It is driven once per closed bar and makes identical decisions whether the
// bars arrive from a live poll loop or from a historical replay.
//
// Not safe for concurrent use; each symbol gets its own controller and the
// scheduler drives them sequentially.
type Controller struct {
	symbol    string
	timeframe string
	params    strategy.Params
	gw        exchange.Gateway
	rec       Recorder

	pos            *Position
	stopOrderID    string
	stopOrderPrice float64
	stopOrderQty   float64

	// stopOrderSupported flips to false after a -4120 style rejection; the
	// bar-level stop check still enforces the stop without an exchange-side
	// order.
	stopOrderSupported bool
}

// NewController creates a controller for one symbol. rec may be nil when no
// ledger is wanted.
func NewController(symbol, timeframe string, params strategy.Params, gw exchange.Gateway, rec Recorder) *Controller {
	return &Controller{
		symbol:             symbol,
		timeframe:          timeframe,
		params:             params,
		gw:                 gw,
		rec:                rec,
		stopOrderSupported: true,
	}
}

// HasPosition reports whether the controller currently tracks an open trade.
func (c *Controller) HasPosition() bool { return c.pos != nil }

// Snapshot returns a copy of the current position, or nil when flat.
func (c *Controller) Snapshot() *Position {
	if c.pos == nil {
		return nil
	}
	p := *c.pos
	return &p
}

// StopOrderSupported reports whether exchange-side stop orders are still in
// use for this symbol.
func (c *Controller) StopOrderSupported() bool { return c.stopOrderSupported }

// OpenEntry opens a new position per the entry decision. It is a no-op when a
// position already exists or free balance cannot cover one unit. A failed
// entry order leaves no partial state; a failed protective stop placement
// after a confirmed entry does not roll the position back.
func (c *Controller) OpenEntry(ctx context.Context, d strategy.Decision, ts time.Time) error {
	if c.pos != nil || !d.Enter {
		return nil
	}

	bal, err := c.gw.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	unit := c.params.BuyUnit(bal.Total)
	if bal.Free < unit {
		log.Printf("Position | [%s %s] Skipping entry, free balance %.2f below unit %.2f", c.symbol, c.timeframe, bal.Free, unit)
		return nil
	}

	size := unit * float64(c.params.Leverage) / d.Close
	res, err := c.gw.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:   c.symbol,
		Side:     d.Side.OpenOrderSide(),
		Type:     exchange.OrderTypeMarket,
		Quantity: size,
		Price:    d.Close,
	})
	if err != nil {
		return fmt.Errorf("entry order: %w", err)
	}

	entry := res.AvgPrice
	if entry <= 0 {
		entry = d.Close
	}

	var stop float64
	if d.Side == exchange.Long {
		stop = entry - d.ATR*c.params.InitialSLATRMult
	} else {
		stop = entry + d.ATR*c.params.InitialSLATRMult
	}

	c.pos = &Position{
		Symbol:          c.symbol,
		Side:            d.Side,
		EntryPrice:      entry,
		FirstEntryPrice: entry,
		Size:            size,
		StopLossPrice:   stop,
		BestPrice:       entry,
		OpenedAt:        ts,
	}
	log.Printf("Position | [%s %s] Opened %s size=%.6f entry=%.4f stop=%.4f (trend=%s rsi=%.1f atr=%.4f)",
		c.symbol, c.timeframe, d.Side, size, entry, stop, d.Trend, d.RSI, d.ATR)

	if err := c.EnsureStopOrder(ctx); err != nil {
		log.Printf("Position | [%s %s] Stop order placement failed after entry: %v", c.symbol, c.timeframe, err)
	}
	return nil
}

// ManageBar runs the per-bar risk protocol in its fixed order: trailing
// extremum update, averaging-down check, stop-loss check, partial
// take-profit check, trailing-stop check. It returns true when the position
// was fully closed this bar.
func (c *Controller) ManageBar(ctx context.Context, bar candle.Candle, atr float64) (bool, error) {
	if c.pos == nil {
		return false, nil
	}
	p := c.pos

	// 1. trailing extremum never retreats
	if p.TrailingActive {
		if p.Side == exchange.Long {
			if bar.High > p.BestPrice {
				p.BestPrice = bar.High
			}
		} else {
			if bar.Low < p.BestPrice {
				p.BestPrice = bar.Low
			}
		}
	}

	// 2. averaging down, at most once and never after a partial take-profit
	if p.AvgDownCount == 0 && !p.PartialTaken {
		done, closed, err := c.checkAvgDown(ctx, bar)
		if err != nil || done {
			return closed, err
		}
	}

	// 3. hard stop
	if stopHit(p, bar) {
		reason := ReasonStopLoss
		if p.AvgDownCount > 0 {
			reason = ReasonStopLossAfterAvg
		}
		if err := c.closeAll(ctx, p.StopLossPrice, reason, bar.Timestamp); err != nil {
			return false, err
		}
		return true, nil
	}

	// 4. partial take-profit: half off, stop to breakeven, trailing on
	if !p.PartialTaken {
		if err := c.checkPartialTP(ctx, bar); err != nil {
			return false, err
		}
		if c.pos == nil {
			return true, nil
		}
	}

	// 5. trailing stop off the best price
	if p.TrailingActive {
		trail := trailStop(p, atr, c.params.TrailingStopATRMult)
		hit := (p.Side == exchange.Long && bar.Low <= trail) ||
			(p.Side == exchange.Short && bar.High >= trail)
		if hit {
			if err := c.closeAll(ctx, trail, ReasonTrailingStop, bar.Timestamp); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// checkAvgDown returns done=true when this bar's evaluation must stop here,
// either because a second entry was made (re-evaluated next bar) or because
// the position was force-closed for lack of margin.
func (c *Controller) checkAvgDown(ctx context.Context, bar candle.Candle) (done, closed bool, err error) {
	p := c.pos

	var triggerHit bool
	var fillPrice float64
	if p.Side == exchange.Long {
		fillPrice = bar.Low
		triggerHit = (bar.Low-p.FirstEntryPrice)/p.FirstEntryPrice <= -c.params.AvgDownTriggerPct
	} else {
		fillPrice = bar.High
		triggerHit = (bar.High-p.FirstEntryPrice)/p.FirstEntryPrice >= c.params.AvgDownTriggerPct
	}
	if !triggerHit {
		return false, false, nil
	}

	bal, err := c.gw.FetchBalance(ctx)
	if err != nil {
		return false, false, fmt.Errorf("fetch balance: %w", err)
	}
	unit := c.params.BuyUnit(bal.Total)
	margin := unit * c.params.AvgDownMultiplier
	if bal.Free < margin {
		log.Printf("Position | [%s %s] Averaging-down margin %.2f unavailable (free %.2f), force closing",
			c.symbol, c.timeframe, margin, bal.Free)
		if err := c.closeAll(ctx, fillPrice, ReasonNoMarginAvgDown, bar.Timestamp); err != nil {
			return false, false, err
		}
		return true, true, nil
	}

	addSize := margin * float64(c.params.Leverage) / fillPrice
	_, err = c.gw.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:   c.symbol,
		Side:     p.Side.OpenOrderSide(),
		Type:     exchange.OrderTypeMarket,
		Quantity: addSize,
		Price:    fillPrice,
	})
	if err != nil {
		if errors.Is(err, exchange.ErrInsufficientBalance) {
			log.Printf("Position | [%s %s] Averaging-down order rejected for balance, force closing", c.symbol, c.timeframe)
			if cerr := c.closeAll(ctx, fillPrice, ReasonNoMarginAvgDown, bar.Timestamp); cerr != nil {
				return false, false, cerr
			}
			return true, true, nil
		}
		return false, false, fmt.Errorf("averaging-down order: %w", err)
	}

	// the blended entry is authoritative at the exchange; reread it
	snap, err := c.gw.FetchPosition(ctx, c.symbol)
	if err != nil || snap == nil {
		oldCost := p.Size * p.EntryPrice
		newCost := addSize * fillPrice
		p.Size += addSize
		p.EntryPrice = (oldCost + newCost) / p.Size
		log.Printf("Position | [%s %s] Could not reread position after averaging down, using local blend %.4f",
			c.symbol, c.timeframe, p.EntryPrice)
	} else {
		p.EntryPrice = snap.EntryPrice
		p.Size = snap.Size
	}
	p.AvgDownCount = 1
	if p.Side == exchange.Long {
		p.StopLossPrice = p.EntryPrice * (1 + c.params.StopLossAfterAvgPct)
	} else {
		p.StopLossPrice = p.EntryPrice * (1 - c.params.StopLossAfterAvgPct)
	}
	log.Printf("Position | [%s %s] Averaged down at %.4f, blended entry=%.4f size=%.6f stop=%.4f",
		c.symbol, c.timeframe, fillPrice, p.EntryPrice, p.Size, p.StopLossPrice)

	if err := c.EnsureStopOrder(ctx); err != nil {
		log.Printf("Position | [%s %s] Stop order re-placement failed after averaging down: %v", c.symbol, c.timeframe, err)
	}
	return true, false, nil
}

func (c *Controller) checkPartialTP(ctx context.Context, bar candle.Candle) error {
	p := c.pos

	var target, best float64
	var hit bool
	if p.Side == exchange.Long {
		target = p.EntryPrice * (1 + c.params.PartialTPPct)
		hit = bar.High >= target
		best = bar.High
	} else {
		target = p.EntryPrice * (1 - c.params.PartialTPPct)
		hit = bar.Low <= target
		best = bar.Low
	}
	if !hit {
		return nil
	}

	half := p.Size * 0.5
	_, err := c.gw.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:     c.symbol,
		Side:       p.Side.CloseOrderSide(),
		Type:       exchange.OrderTypeMarket,
		Quantity:   half,
		Price:      target,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("partial take-profit order: %w", err)
	}

	pnl := half * (target - p.EntryPrice)
	if p.Side == exchange.Short {
		pnl = half * (p.EntryPrice - target)
	}
	var balanceAfter float64
	if bal, berr := c.gw.FetchBalance(ctx); berr == nil {
		balanceAfter = bal.Total
	}
	c.record(ctx, TradeRecord{
		Timestamp:    bar.Timestamp,
		Symbol:       c.symbol,
		Side:         p.Side,
		ExitReason:   ReasonPartialTP,
		EntryPrice:   p.EntryPrice,
		ExitPrice:    target,
		PnL:          pnl,
		BalanceAfter: balanceAfter,
	})

	p.Size -= half
	p.PartialTaken = true
	p.TrailingActive = true
	p.BestPrice = best
	// breakeven: the only place the stop is set to exactly the entry
	p.StopLossPrice = p.EntryPrice
	log.Printf("Position | [%s %s] Partial take-profit at %.4f, remaining size=%.6f, stop moved to breakeven %.4f",
		c.symbol, c.timeframe, target, p.Size, p.StopLossPrice)

	if err := c.EnsureStopOrder(ctx); err != nil {
		log.Printf("Position | [%s %s] Breakeven stop placement failed: %v", c.symbol, c.timeframe, err)
	}
	return nil
}

// ForceClose closes the full remaining size at the given price. Used for the
// end-of-data mark-to-close in simulations and for operator shutdown.
func (c *Controller) ForceClose(ctx context.Context, price float64, reason string, ts time.Time) error {
	if c.pos == nil {
		return nil
	}
	return c.closeAll(ctx, price, reason, ts)
}

// closeAll closes the full remaining size with a reduce-only market order,
// cancels any resting stop order, records the ledger row, and resets the
// in-memory position.
func (c *Controller) closeAll(ctx context.Context, exitPrice float64, reason string, ts time.Time) error {
	p := c.pos
	_, err := c.gw.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:     c.symbol,
		Side:       p.Side.CloseOrderSide(),
		Type:       exchange.OrderTypeMarket,
		Quantity:   p.Size,
		Price:      exitPrice,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("close order (%s): %w", reason, err)
	}

	if err := c.gw.CancelAllOrders(ctx, c.symbol); err != nil {
		log.Printf("Position | [%s %s] Cancel open orders after close failed: %v", c.symbol, c.timeframe, err)
	}

	pnl := p.Size * (exitPrice - p.EntryPrice)
	if p.Side == exchange.Short {
		pnl = p.Size * (p.EntryPrice - exitPrice)
	}

	var balanceAfter float64
	if bal, berr := c.gw.FetchBalance(ctx); berr == nil {
		balanceAfter = bal.Total
	}

	c.record(ctx, TradeRecord{
		Timestamp:    ts,
		Symbol:       c.symbol,
		Side:         p.Side,
		ExitReason:   reason,
		EntryPrice:   p.EntryPrice,
		ExitPrice:    exitPrice,
		PnL:          pnl,
		BalanceAfter: balanceAfter,
	})
	log.Printf("Position | [%s %s] Closed %s at %.4f reason=%s pnl=%.4f", c.symbol, c.timeframe, p.Side, exitPrice, reason, pnl)

	c.pos = nil
	c.stopOrderID = ""
	c.stopOrderPrice = 0
	c.stopOrderQty = 0
	return nil
}

func (c *Controller) record(ctx context.Context, rec TradeRecord) {
	if c.rec == nil {
		return
	}
	if err := c.rec.RecordTrade(ctx, rec); err != nil {
		log.Printf("Position | [%s %s] Recording trade failed: %v", c.symbol, c.timeframe, err)
	}
}

func stopHit(p *Position, bar candle.Candle) bool {
	if p.Side == exchange.Long {
		return bar.Low <= p.StopLossPrice
	}
	return bar.High >= p.StopLossPrice
}

func trailStop(p *Position, atr, mult float64) float64 {
	if p.Side == exchange.Long {
		return p.BestPrice - atr*mult
	}
	return p.BestPrice + atr*mult
}

// EnsureStopOrder makes sure a protective STOP_MARKET order matching the
// current stop price and size rests on the exchange. When the instrument
// rejects trigger orders, the controller downgrades to bar-level stop
// enforcement and stops trying.
func (c *Controller) EnsureStopOrder(ctx context.Context) error {
	if c.pos == nil || !c.stopOrderSupported {
		return nil
	}

	if c.stopOrderID != "" {
		res, err := c.gw.GetOrderStatus(ctx, c.symbol, c.stopOrderID)
		if err != nil {
			// leave the resting order untouched; retried next cycle
			return fmt.Errorf("query stop order: %w", err)
		}
		if res.Status == "NEW" {
			if c.stopOrderPrice == c.pos.StopLossPrice && c.stopOrderQty == c.pos.Size {
				return nil
			}
			// stale price or size, replace
			if err := c.gw.CancelAllOrders(ctx, c.symbol); err != nil {
				return fmt.Errorf("cancel stale stop order: %w", err)
			}
		}
		c.stopOrderID = ""
	}

	res, err := c.gw.SubmitOrder(ctx, exchange.OrderRequest{
		Symbol:     c.symbol,
		Side:       c.pos.Side.CloseOrderSide(),
		Type:       exchange.OrderTypeStopMarket,
		Quantity:   c.pos.Size,
		StopPrice:  c.pos.StopLossPrice,
		ReduceOnly: true,
	})
	if err != nil {
		if errors.Is(err, exchange.ErrUnsupportedOrderType) {
			c.stopOrderSupported = false
			log.Printf("Position | [%s %s] Exchange rejects stop orders, downgrading to bar-level stop enforcement", c.symbol, c.timeframe)
			return nil
		}
		return fmt.Errorf("place stop order: %w", err)
	}
	c.stopOrderID = res.OrderID
	c.stopOrderPrice = c.pos.StopLossPrice
	c.stopOrderQty = c.pos.Size
	return nil
}

// Reconcile rebuilds the in-memory position from the exchange's
// authoritative record after a restart. It never blocks trading: inference
// is best-effort and idempotent for an unchanged exchange state.
func (c *Controller) Reconcile(ctx context.Context, candles []candle.Candle) error {
	if c.pos != nil {
		return nil
	}
	snap, err := c.gw.FetchPosition(ctx, c.symbol)
	if err != nil {
		return fmt.Errorf("fetch position: %w", err)
	}
	if snap == nil {
		return nil
	}

	bal, err := c.gw.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	unit := c.params.BuyUnit(bal.Total)
	expectedSize := unit * float64(c.params.Leverage) / snap.EntryPrice

	p := &Position{
		Symbol:          c.symbol,
		Side:            snap.Side,
		EntryPrice:      snap.EntryPrice,
		FirstEntryPrice: snap.EntryPrice,
		Size:            snap.Size,
		BestPrice:       snap.EntryPrice,
		OpenedAt:        time.Now().UTC(),
	}

	switch {
	case snap.Size > expectedSize*1.5:
		p.AvgDownCount = 1
		if p.Side == exchange.Long {
			p.StopLossPrice = p.EntryPrice * (1 + c.params.StopLossAfterAvgPct)
		} else {
			p.StopLossPrice = p.EntryPrice * (1 - c.params.StopLossAfterAvgPct)
		}
	case snap.Size <= expectedSize*0.6:
		p.PartialTaken = true
		p.TrailingActive = true
		p.StopLossPrice = p.EntryPrice
	default:
		atr := indicator.LatestATR(candles, c.params.ATRPeriod)
		if p.Side == exchange.Long {
			p.StopLossPrice = p.EntryPrice - atr*c.params.InitialSLATRMult
		} else {
			p.StopLossPrice = p.EntryPrice + atr*c.params.InitialSLATRMult
		}
	}

	c.pos = p
	log.Printf("Position | [%s %s] Reconciled %s position from exchange: entry=%.4f size=%.6f avgDown=%d partialTaken=%v stop=%.4f",
		c.symbol, c.timeframe, p.Side, p.EntryPrice, p.Size, p.AvgDownCount, p.PartialTaken, p.StopLossPrice)

	if err := c.EnsureStopOrder(ctx); err != nil {
		log.Printf("Position | [%s %s] Stop order placement failed after reconciliation: %v", c.symbol, c.timeframe, err)
	}
	return nil
}
