package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/trend-trader/internal/candle"
)

func TestCalculateRSI(t *testing.T) {
	tests := []struct {
		name     string
		prices   []float64
		period   int
		expected float64 // last value
	}{
		{
			name:     "All increasing prices",
			prices:   []float64{10, 11, 12, 13, 14, 15, 16},
			period:   5,
			expected: 100,
		},
		{
			name:     "All decreasing prices",
			prices:   []float64{16, 15, 14, 13, 12, 11, 10},
			period:   5,
			expected: 0,
		},
		{
			name:     "Flat prices",
			prices:   []float64{10, 10, 10, 10, 10, 10},
			period:   5,
			expected: 100, // no losses means RS is infinite
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rsi := CalculateRSI(tt.prices, tt.period)
			require.Len(t, rsi, len(tt.prices))
			for i := 0; i < tt.period-1; i++ {
				assert.True(t, math.IsNaN(rsi[i]), "index %d should be warmup NaN", i)
			}
			assert.InDelta(t, tt.expected, rsi[len(rsi)-1], 1e-9)
		})
	}
}

func TestCalculateRSI_TooShort(t *testing.T) {
	assert.Nil(t, CalculateRSI([]float64{10, 11}, 5))
	assert.Nil(t, CalculateRSI(nil, 5))
}

func TestCalculateRSI_Bounded(t *testing.T) {
	prices := []float64{10, 12, 11, 13, 12, 14, 13, 15, 14, 16, 15, 17, 16, 18, 17}
	rsi := CalculateRSI(prices, 5)
	for i, v := range rsi {
		if math.IsNaN(v) {
			continue
		}
		assert.GreaterOrEqual(t, v, 0.0, "index %d", i)
		assert.LessOrEqual(t, v, 100.0, "index %d", i)
	}
}

func TestLatestRSI_NeutralFallback(t *testing.T) {
	assert.Equal(t, 50.0, LatestRSI([]float64{10, 11}, 14))
	assert.Equal(t, 50.0, LatestRSI(nil, 14))
}

func TestCalculateEMA(t *testing.T) {
	// k = 0.5 for span 3
	ema := CalculateEMA([]float64{1, 2, 3}, 3)
	require.Len(t, ema, 3)
	assert.InDelta(t, 1.0, ema[0], 1e-9)
	assert.InDelta(t, 1.5, ema[1], 1e-9)
	assert.InDelta(t, 2.25, ema[2], 1e-9)
}

func TestCalculateEMA_ConstantSeries(t *testing.T) {
	ema := CalculateEMA([]float64{5, 5, 5, 5}, 10)
	for _, v := range ema {
		assert.InDelta(t, 5.0, v, 1e-9)
	}
}

func TestCalculateEMA_Empty(t *testing.T) {
	assert.Nil(t, CalculateEMA(nil, 3))
	assert.Nil(t, CalculateEMA([]float64{1, 2}, 0))
}

func barSeries(n int, close, spread float64) []candle.Candle {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]candle.Candle, n)
	for i := range out {
		out[i] = candle.Candle{
			Timestamp: base.Add(time.Duration(i) * 15 * time.Minute),
			Open:      close,
			High:      close + spread/2,
			Low:       close - spread/2,
			Close:     close,
			Volume:    1,
			Symbol:    "TEST",
			Timeframe: "15m",
		}
	}
	return out
}

func TestCalculateATR_ConstantRange(t *testing.T) {
	candles := barSeries(30, 100, 2)
	atr := CalculateATR(candles, 14)
	require.Len(t, atr, 30)
	// constant true range means the EMA settles at exactly that range
	assert.InDelta(t, 2.0, atr[len(atr)-1], 1e-9)
}

func TestLatestATR_FallbackOnDegenerateBars(t *testing.T) {
	// zero-range bars yield a zero ATR, which falls back to 1% of close
	candles := barSeries(30, 100, 0)
	assert.InDelta(t, 1.0, LatestATR(candles, 14), 1e-9)
}

func TestLatestATR_Empty(t *testing.T) {
	assert.Equal(t, 0.0, LatestATR(nil, 14))
}

func TestCalculateStochRSI(t *testing.T) {
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100 + 5*math.Sin(float64(i)/3)
	}
	res := CalculateStochRSI(prices, 14, 3, 3)
	require.NotNil(t, res)
	require.Len(t, res.StochRSI, len(prices))
	require.Len(t, res.K, len(prices))
	require.Len(t, res.D, len(prices))

	for i, v := range res.K {
		if math.IsNaN(v) {
			continue
		}
		assert.GreaterOrEqual(t, v, 0.0, "K index %d", i)
		assert.LessOrEqual(t, v, 100.0, "K index %d", i)
	}
}

func TestCalculateStochRSI_TooShort(t *testing.T) {
	assert.Nil(t, CalculateStochRSI([]float64{1, 2, 3}, 14, 3, 3))
}
