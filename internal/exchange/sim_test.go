package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulated_OpenExtendClose(t *testing.T) {
	gw := NewSimulated("BTCUSDT", 1000)
	ctx := context.Background()

	_, err := gw.SubmitOrder(ctx, OrderRequest{
		Symbol: "BTCUSDT", Side: "buy", Type: OrderTypeMarket, Quantity: 2, Price: 100,
	})
	require.NoError(t, err)

	pos, err := gw.FetchPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, Long, pos.Side)
	assert.InDelta(t, 100.0, pos.EntryPrice, 1e-9)

	// extend at a lower price blends the entry
	_, err = gw.SubmitOrder(ctx, OrderRequest{
		Symbol: "BTCUSDT", Side: "buy", Type: OrderTypeMarket, Quantity: 2, Price: 90,
	})
	require.NoError(t, err)
	pos, err = gw.FetchPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 95.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 4.0, pos.Size, 1e-9)

	// close at the blended entry realizes zero PnL
	_, err = gw.SubmitOrder(ctx, OrderRequest{
		Symbol: "BTCUSDT", Side: "sell", Type: OrderTypeMarket, Quantity: 4, Price: 95, ReduceOnly: true,
	})
	require.NoError(t, err)
	pos, err = gw.FetchPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.InDelta(t, 1000.0, gw.CurrentBalance(), 1e-9)
}

func TestSimulated_ShortPnL(t *testing.T) {
	gw := NewSimulated("BTCUSDT", 1000)
	ctx := context.Background()

	_, err := gw.SubmitOrder(ctx, OrderRequest{
		Symbol: "BTCUSDT", Side: "sell", Type: OrderTypeMarket, Quantity: 3, Price: 100,
	})
	require.NoError(t, err)

	_, err = gw.SubmitOrder(ctx, OrderRequest{
		Symbol: "BTCUSDT", Side: "buy", Type: OrderTypeMarket, Quantity: 3, Price: 90, ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1030.0, gw.CurrentBalance(), 1e-9)
}

func TestSimulated_TriggerOrders(t *testing.T) {
	gw := NewSimulated("BTCUSDT", 1000)
	ctx := context.Background()

	res, err := gw.SubmitOrder(ctx, OrderRequest{
		Symbol: "BTCUSDT", Side: "sell", Type: OrderTypeStopMarket, Quantity: 1, StopPrice: 95, ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "NEW", res.Status)

	status, err := gw.GetOrderStatus(ctx, "BTCUSDT", res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "NEW", status.Status)

	require.NoError(t, gw.CancelAllOrders(ctx, "BTCUSDT"))
	status, err = gw.GetOrderStatus(ctx, "BTCUSDT", res.OrderID)
	require.NoError(t, err)
	assert.NotEqual(t, "NEW", status.Status)
}

func TestSimulated_RejectTriggerOrders(t *testing.T) {
	gw := NewSimulated("BTCUSDT", 1000)
	gw.RejectTriggerOrders = true

	_, err := gw.SubmitOrder(context.Background(), OrderRequest{
		Symbol: "BTCUSDT", Side: "sell", Type: OrderTypeStopMarket, Quantity: 1, StopPrice: 95,
	})
	assert.ErrorIs(t, err, ErrUnsupportedOrderType)
}

func TestSide_OrderSides(t *testing.T) {
	assert.Equal(t, "sell", Long.CloseOrderSide())
	assert.Equal(t, "buy", Long.OpenOrderSide())
	assert.Equal(t, "buy", Short.CloseOrderSide())
	assert.Equal(t, "sell", Short.OpenOrderSide())
}
