package exchange

import (
	"context"
	"fmt"
	"strconv"

	"github.com/amirphl/trend-trader/internal/candle"
)

// Simulated is the in-memory Gateway used by backtests and tests. Market
// orders fill immediately at the advisory price carried on the request;
// trigger orders rest untouched because the bar-level checks in the risk
// controller decide every exit.
type Simulated struct {
	symbol  string
	balance float64
	pos     *PositionSnapshot
	candles []candle.Candle

	openOrders   map[string]OrderRequest
	orderCounter int64

	// RejectTriggerOrders makes STOP_MARKET/TAKE_PROFIT_MARKET submissions
	// fail with ErrUnsupportedOrderType, mirroring instruments that reject
	// exchange-side stops.
	RejectTriggerOrders bool
}

// NewSimulated creates a simulated gateway with the given starting balance.
func NewSimulated(symbol string, initialBalance float64) *Simulated {
	return &Simulated{
		symbol:       symbol,
		balance:      initialBalance,
		openOrders:   make(map[string]OrderRequest),
		orderCounter: 1000,
	}
}

func (s *Simulated) Name() string { return "simulated" }

// SetCandles preloads the bar series served by FetchOHLCV.
func (s *Simulated) SetCandles(candles []candle.Candle) { s.candles = candles }

// Balance returns the current simulated balance.
func (s *Simulated) CurrentBalance() float64 { return s.balance }

func (s *Simulated) FetchBalance(ctx context.Context) (Balance, error) {
	return Balance{Free: s.balance, Total: s.balance}, nil
}

func (s *Simulated) FetchPosition(ctx context.Context, symbol string) (*PositionSnapshot, error) {
	if s.pos == nil {
		return nil, nil
	}
	snap := *s.pos
	return &snap, nil
}

func (s *Simulated) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]candle.Candle, error) {
	if len(s.candles) <= limit {
		return s.candles, nil
	}
	return s.candles[len(s.candles)-limit:], nil
}

func (s *Simulated) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	s.orderCounter++
	id := strconv.FormatInt(s.orderCounter, 10)

	switch req.Type {
	case OrderTypeMarket:
		if err := s.fillMarket(req); err != nil {
			return OrderResult{}, err
		}
		return OrderResult{OrderID: id, Status: "FILLED", AvgPrice: req.Price, FilledQty: req.Quantity}, nil
	case OrderTypeStopMarket, OrderTypeTakeProfitMarket:
		if s.RejectTriggerOrders {
			return OrderResult{}, fmt.Errorf("%w: %s", ErrUnsupportedOrderType, req.Type)
		}
		s.openOrders[id] = req
		return OrderResult{OrderID: id, Status: "NEW"}, nil
	default:
		return OrderResult{}, fmt.Errorf("simulated gateway: unsupported order type %q", req.Type)
	}
}

func (s *Simulated) fillMarket(req OrderRequest) error {
	if req.Price <= 0 {
		return fmt.Errorf("simulated gateway: market order needs an advisory price")
	}

	if s.pos == nil {
		side := Long
		if req.Side == "sell" {
			side = Short
		}
		s.pos = &PositionSnapshot{Symbol: req.Symbol, Side: side, EntryPrice: req.Price, Size: req.Quantity}
		return nil
	}

	if req.Side == s.pos.Side.OpenOrderSide() {
		// extend: volume-weighted average entry
		oldCost := s.pos.EntryPrice * s.pos.Size
		newCost := req.Price * req.Quantity
		s.pos.Size += req.Quantity
		s.pos.EntryPrice = (oldCost + newCost) / s.pos.Size
		return nil
	}

	// reduce or close
	qty := req.Quantity
	if qty > s.pos.Size {
		qty = s.pos.Size
	}
	var pnl float64
	if s.pos.Side == Long {
		pnl = qty * (req.Price - s.pos.EntryPrice)
	} else {
		pnl = qty * (s.pos.EntryPrice - req.Price)
	}
	s.balance += pnl
	s.pos.Size -= qty
	if s.pos.Size <= 1e-12 {
		s.pos = nil
	}
	return nil
}

func (s *Simulated) CancelAllOrders(ctx context.Context, symbol string) error {
	s.openOrders = make(map[string]OrderRequest)
	return nil
}

func (s *Simulated) GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderResult, error) {
	if _, ok := s.openOrders[orderID]; ok {
		return OrderResult{OrderID: orderID, Status: "NEW"}, nil
	}
	return OrderResult{OrderID: orderID, Status: "FILLED"}, nil
}

func (s *Simulated) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }

func (s *Simulated) SetMarginMode(ctx context.Context, symbol, mode string) error { return nil }
