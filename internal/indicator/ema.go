package indicator

// CalculateEMA computes an exponentially weighted moving average with
// smoothing factor 2/(span+1), seeded from the first value.
func CalculateEMA(prices []float64, span int) []float64 {
	if len(prices) == 0 || span <= 0 {
		return nil
	}
	k := 2.0 / float64(span+1)
	ema := make([]float64, len(prices))
	ema[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		ema[i] = prices[i]*k + ema[i-1]*(1-k)
	}
	return ema
}
