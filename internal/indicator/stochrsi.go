package indicator

import "math"

// StochRSIResult holds the smoothed K and D lines of the Stochastic RSI.
type StochRSIResult struct {
	StochRSI []float64
	K        []float64
	D        []float64
}

// CalculateStochRSI normalizes RSI to its own recent range and smooths it
// into K/D lines. Used by variant strategies; the risk controller does not
// depend on it.
func CalculateStochRSI(prices []float64, period, kPeriod, dPeriod int) *StochRSIResult {
	if len(prices) < period || period <= 0 || kPeriod <= 0 || dPeriod <= 0 {
		return nil
	}

	rsi := rollingRSI(prices, period)

	stoch := make([]float64, len(prices))
	for i := range stoch {
		stoch[i] = math.NaN()
		if i < period-1 {
			continue
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		valid := true
		for j := i - period + 1; j <= i; j++ {
			if math.IsNaN(rsi[j]) {
				valid = false
				break
			}
			lo = math.Min(lo, rsi[j])
			hi = math.Max(hi, rsi[j])
		}
		if !valid || hi == lo {
			continue
		}
		stoch[i] = (rsi[i] - lo) / (hi - lo) * 100
	}

	k := rollingMean(stoch, kPeriod)
	d := rollingMean(k, dPeriod)
	return &StochRSIResult{StochRSI: stoch, K: k, D: d}
}

// rollingRSI computes RSI with simple moving averages of gains and losses,
// which is how the stochastic variant normalizes it.
func rollingRSI(prices []float64, period int) []float64 {
	rsi := make([]float64, len(prices))
	gains := make([]float64, len(prices))
	losses := make([]float64, len(prices))
	rsi[0] = math.NaN()
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}
	for i := 1; i < len(prices); i++ {
		if i < period {
			rsi[i] = math.NaN()
			continue
		}
		var avgGain, avgLoss float64
		for j := i - period + 1; j <= i; j++ {
			avgGain += gains[j]
			avgLoss += losses[j]
		}
		avgGain /= float64(period)
		avgLoss /= float64(period)
		if avgLoss == 0 {
			rsi[i] = 100
			continue
		}
		rs := avgGain / avgLoss
		rsi[i] = 100 - (100 / (1 + rs))
	}
	return rsi
}

func rollingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
		if i < window-1 {
			continue
		}
		var sum float64
		valid := true
		for j := i - window + 1; j <= i; j++ {
			if math.IsNaN(values[j]) {
				valid = false
				break
			}
			sum += values[j]
		}
		if valid {
			out[i] = sum / float64(window)
		}
	}
	return out
}
