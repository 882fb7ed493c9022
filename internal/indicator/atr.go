package indicator

import (
	"math"

	"github.com/amirphl/trend-trader/internal/candle"
)

// CalculateATR computes the Average True Range series: an EMA (span=period)
// of the true range. The first bar's true range is high-low since there is
// no previous close.
func CalculateATR(candles []candle.Candle, period int) []float64 {
	if len(candles) == 0 || period <= 0 {
		return nil
	}
	tr := make([]float64, len(candles))
	tr[0] = candles[0].High - candles[0].Low
	for i := 1; i < len(candles); i++ {
		h := candles[i].High
		l := candles[i].Low
		prevClose := candles[i-1].Close
		tr[i] = math.Max(h-l, math.Max(math.Abs(h-prevClose), math.Abs(l-prevClose)))
	}
	return CalculateEMA(tr, period)
}

// LatestATR returns the most recent ATR value. When the series cannot be
// computed or yields a non-positive value, it falls back to 1% of the last
// close so stop distances stay sane.
func LatestATR(candles []candle.Candle, period int) float64 {
	atr := CalculateATR(candles, period)
	if len(atr) == 0 {
		if len(candles) == 0 {
			return 0
		}
		return candles[len(candles)-1].Close * 0.01
	}
	last := atr[len(atr)-1]
	if math.IsNaN(last) || last <= 0 {
		return candles[len(candles)-1].Close * 0.01
	}
	return last
}
