package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/trend-trader/internal/exchange"
	"github.com/amirphl/trend-trader/internal/journal"
	"github.com/amirphl/trend-trader/internal/position"
)

func TestMemory_Events(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.LogEvent(ctx, journal.Event{Time: now, Type: "signal", Description: "entry"}))
	require.NoError(t, m.LogEvent(ctx, journal.Event{Time: now.Add(time.Hour), Type: "error", Description: "cycle_failed"}))

	events, err := m.GetEvents(ctx, "signal", now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "entry", events[0].Description)

	events, err = m.GetEvents(ctx, "signal", now.Add(time.Minute), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemory_Trades(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	trade := position.TradeRecord{
		Timestamp:  now,
		Symbol:     "BTCUSDT",
		Side:       exchange.Long,
		ExitReason: position.ReasonStopLoss,
		EntryPrice: 100, ExitPrice: 96, PnL: -24, BalanceAfter: 976,
	}
	require.NoError(t, m.SaveTrade(ctx, trade))

	trades, err := m.GetTrades(ctx, "BTCUSDT", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, trade, trades[0])

	trades, err = m.GetTrades(ctx, "ETHUSDT", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, trades)
}
