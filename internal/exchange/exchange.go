// Package exchange
package exchange

import (
	"context"
	"errors"

	"github.com/amirphl/trend-trader/internal/candle"
)

// Side is the direction of an open position.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// CloseOrderSide returns the order side that reduces a position of this side.
func (s Side) CloseOrderSide() string {
	if s == Long {
		return "sell"
	}
	return "buy"
}

// OpenOrderSide returns the order side that opens or extends a position of
// this side.
func (s Side) OpenOrderSide() string {
	if s == Long {
		return "buy"
	}
	return "sell"
}

// Order types used by the core. STOP_MARKET and TAKE_PROFIT_MARKET are
// trigger orders resting on the exchange.
const (
	OrderTypeMarket           = "MARKET"
	OrderTypeStopMarket       = "STOP_MARKET"
	OrderTypeTakeProfitMarket = "TAKE_PROFIT_MARKET"
)

// ErrUnsupportedOrderType signals the instrument rejects exchange-side
// trigger orders; the caller downgrades to controller-computed stops.
var ErrUnsupportedOrderType = errors.New("exchange: order type not supported for symbol")

// ErrInsufficientBalance signals the account cannot cover the order margin.
var ErrInsufficientBalance = errors.New("exchange: insufficient balance")

// Balance is the quote-asset balance snapshot.
type Balance struct {
	Free  float64
	Total float64
}

// PositionSnapshot is the exchange's authoritative view of an open position.
type PositionSnapshot struct {
	Symbol     string
	Side       Side
	EntryPrice float64
	Size       float64
}

// OrderRequest describes a new order to submit.
type OrderRequest struct {
	Symbol     string
	Side       string // "buy" or "sell"
	Type       string // OrderTypeMarket, OrderTypeStopMarket, OrderTypeTakeProfitMarket
	Quantity   float64
	Price      float64 // advisory fill price; market fills use it only in simulation
	StopPrice  float64 // trigger price for stop/take-profit orders
	ReduceOnly bool
}

// OrderResult is the typed response from the exchange for a submitted or
// queried order.
type OrderResult struct {
	OrderID   string
	Status    string // "NEW", "FILLED", "CANCELED", ...
	AvgPrice  float64
	FilledQty float64
}

// Gateway is the single boundary between the trading core and an exchange.
// All calls are fallible; the core treats any error as "this cycle's action
// did not happen".
type Gateway interface {
	Name() string
	FetchBalance(ctx context.Context) (Balance, error)
	// FetchPosition returns nil when the symbol is flat.
	FetchPosition(ctx context.Context, symbol string) (*PositionSnapshot, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]candle.Candle, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelAllOrders(ctx context.Context, symbol string) error
	GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderResult, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol, mode string) error
}
