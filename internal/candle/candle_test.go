package candle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCandle() Candle {
	return Candle{
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:      100, High: 101, Low: 99, Close: 100.5,
		Volume: 10, Symbol: "BTCUSDT", Timeframe: "15m", Source: "binance",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Candle)
		valid  bool
	}{
		{"Valid", func(c *Candle) {}, true},
		{"Zero timestamp", func(c *Candle) { c.Timestamp = time.Time{} }, false},
		{"Negative price", func(c *Candle) { c.Low = -1 }, false},
		{"High below low", func(c *Candle) { c.High = 98 }, false},
		{"Open above high", func(c *Candle) { c.Open = 102 }, false},
		{"Close below low", func(c *Candle) { c.Close = 98 }, false},
		{"Negative volume", func(c *Candle) { c.Volume = -1 }, false},
		{"Empty symbol", func(c *Candle) { c.Symbol = "" }, false},
		{"Empty timeframe", func(c *Candle) { c.Timeframe = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCandle()
			tt.mutate(&c)
			err := c.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestIsComplete(t *testing.T) {
	old := validCandle()
	old.Timestamp = time.Now().UTC().Add(-time.Hour)
	assert.True(t, old.IsComplete())

	forming := validCandle()
	forming.Timestamp = time.Now().UTC().Add(-5 * time.Minute)
	assert.False(t, forming.IsComplete())
}

func TestClosedOnly(t *testing.T) {
	closedBar := validCandle()
	closedBar.Timestamp = time.Now().UTC().Add(-time.Hour)
	forming := validCandle()
	forming.Timestamp = time.Now().UTC().Add(-time.Minute)

	out := ClosedOnly([]Candle{closedBar, forming})
	require.Len(t, out, 1)
	assert.Equal(t, closedBar.Timestamp, out[0].Timestamp)

	assert.Empty(t, ClosedOnly([]Candle{forming}))
	assert.Empty(t, ClosedOnly(nil))
}

func TestCloses(t *testing.T) {
	a, b := validCandle(), validCandle()
	b.Close = 105
	assert.Equal(t, []float64{100.5, 105}, Closes([]Candle{a, b}))
}

func TestSortAndDedupe(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c1, c2, c3 := validCandle(), validCandle(), validCandle()
	c1.Timestamp = base.Add(30 * time.Minute)
	c2.Timestamp = base
	c3.Timestamp = base // duplicate of c2

	candles := []Candle{c1, c2, c3}
	SortByTimestamp(candles)
	assert.Equal(t, base, candles[0].Timestamp)

	deduped := Dedupe(candles)
	require.Len(t, deduped, 2)
	assert.Equal(t, base, deduped[0].Timestamp)
	assert.Equal(t, base.Add(30*time.Minute), deduped[1].Timestamp)
}
