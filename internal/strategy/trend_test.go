package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/trend-trader/internal/candle"
	"github.com/amirphl/trend-trader/internal/exchange"
)

func TestDetectTrend(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		emaFast  []float64
		emaSlow  []float64
		idx      int
		expected Trend
	}{
		{
			name:     "Uptrend: price above both EMAs, both rising",
			price:    110,
			emaFast:  []float64{100, 101, 102, 103},
			emaSlow:  []float64{95, 95.5, 96, 96.5},
			idx:      3,
			expected: Uptrend,
		},
		{
			name:     "Downtrend: price below both EMAs, both falling",
			price:    90,
			emaFast:  []float64{103, 102, 101, 100},
			emaSlow:  []float64{96.5, 96, 95.5, 95},
			idx:      3,
			expected: Downtrend,
		},
		{
			name:     "Price above EMAs but slow EMA falling",
			price:    110,
			emaFast:  []float64{100, 101, 102, 103},
			emaSlow:  []float64{97, 96.5, 96, 95.5},
			idx:      3,
			expected: NoTrend,
		},
		{
			name:     "Price between the EMAs",
			price:    99,
			emaFast:  []float64{100, 101, 102, 103},
			emaSlow:  []float64{95, 95.5, 96, 96.5},
			idx:      3,
			expected: NoTrend,
		},
		{
			name:     "Not enough history for a slope",
			price:    110,
			emaFast:  []float64{100, 101},
			emaSlow:  []float64{95, 95.5},
			idx:      1,
			expected: NoTrend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectTrend(tt.price, tt.emaFast, tt.emaSlow, tt.idx, 3)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParams_BuyUnit(t *testing.T) {
	p := DefaultParams()
	// floor(1000 * 0.20) = 200
	assert.Equal(t, 200.0, p.BuyUnit(1000))
	// floored below the minimum is clamped up
	assert.Equal(t, 5.0, p.BuyUnit(10))
	assert.Equal(t, 5.0, p.BuyUnit(0))
}

func TestParams_Decide(t *testing.T) {
	p := DefaultParams()
	tests := []struct {
		name  string
		trend Trend
		rsi   float64
		enter bool
		side  exchange.Side
	}{
		{"Uptrend below long threshold", Uptrend, 45, true, exchange.Long},
		{"Uptrend at long threshold", Uptrend, 60, false, ""},
		{"Uptrend overbought", Uptrend, 75, false, ""},
		{"Downtrend above short threshold", Downtrend, 55, true, exchange.Short},
		{"Downtrend at short threshold", Downtrend, 40, false, ""},
		{"Downtrend oversold", Downtrend, 25, false, ""},
		{"No trend", NoTrend, 45, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(tt.trend, tt.rsi, 2, 100)
			assert.Equal(t, tt.enter, d.Enter)
			assert.Equal(t, tt.side, d.Side)
			assert.Equal(t, tt.trend, d.Trend)
			assert.Equal(t, tt.rsi, d.RSI)
			assert.Equal(t, 2.0, d.ATR)
			assert.Equal(t, 100.0, d.Close)
		})
	}
}

func TestParams_MinBars(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, p.EMASlow+p.SlopePeriod, p.MinBars())

	p.RSIPeriod = 500
	assert.Equal(t, 500, p.MinBars())
}

// risingZigzag keeps both EMAs sloping up while the pullbacks hold RSI under
// the long threshold.
func risingZigzag(n int) []candle.Candle {
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	out := make([]candle.Candle, n)
	price := 100.0
	for i := range out {
		if i >= 130 {
			if i%2 == 0 {
				price += 1.0
			} else {
				price -= 0.8
			}
		}
		out[i] = candle.Candle{
			Timestamp: base.Add(time.Duration(i) * 15 * time.Minute),
			Open:      price,
			High:      price + 0.6,
			Low:       price - 0.6,
			Close:     price,
			Volume:    1,
			Symbol:    "TEST",
			Timeframe: "15m",
		}
	}
	return out
}

func TestTrendFollow_Evaluate_Warmup(t *testing.T) {
	s := NewTrendFollow("TEST", "15m", DefaultParams())
	d := s.Evaluate(risingZigzag(50))
	assert.False(t, d.Enter)
	assert.Equal(t, NoTrend, d.Trend)
}

func TestTrendFollow_Evaluate_LongEntry(t *testing.T) {
	s := NewTrendFollow("TEST", "15m", DefaultParams())

	// the window ends on an up bar (even index)
	candles := risingZigzag(220)[:219]
	require.Equal(t, 0, (len(candles)-1)%2)
	d := s.Evaluate(candles)

	assert.Equal(t, Uptrend, d.Trend)
	assert.Less(t, d.RSI, s.Params.RSILongThreshold)
	assert.True(t, d.Enter)
	assert.Equal(t, exchange.Long, d.Side)
	assert.Greater(t, d.ATR, 0.0)
}

func TestTrendFollow_Evaluate_FlatMarket(t *testing.T) {
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]candle.Candle, 200)
	for i := range candles {
		candles[i] = candle.Candle{
			Timestamp: base.Add(time.Duration(i) * 15 * time.Minute),
			Open:      100, High: 100.5, Low: 99.5, Close: 100,
			Volume: 1, Symbol: "TEST", Timeframe: "15m",
		}
	}
	s := NewTrendFollow("TEST", "15m", DefaultParams())
	d := s.Evaluate(candles)
	assert.False(t, d.Enter)
	assert.Equal(t, NoTrend, d.Trend)
}

func TestTrendFollow_Evaluate_Deterministic(t *testing.T) {
	s := NewTrendFollow("TEST", "15m", DefaultParams())
	candles := risingZigzag(220)
	first := s.Evaluate(candles)
	second := s.Evaluate(candles)
	assert.Equal(t, first, second)
}
