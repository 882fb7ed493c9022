// Package strategy
package strategy

import (
	"math"

	"github.com/amirphl/trend-trader/internal/candle"
	"github.com/amirphl/trend-trader/internal/exchange"
	"github.com/amirphl/trend-trader/internal/indicator"
)

// Trend is the regime classification for the latest bar.
type Trend string

const (
	Uptrend   Trend = "UPTREND"
	Downtrend Trend = "DOWNTREND"
	NoTrend   Trend = "NONE"
)

// Params holds every tunable of the trend-following strategy. The zero value
// is not usable; start from DefaultParams.
type Params struct {
	EMAFast     int `yaml:"ema_fast"`
	EMASlow     int `yaml:"ema_slow"`
	SlopePeriod int `yaml:"slope_period"`
	RSIPeriod   int `yaml:"rsi_period"`
	ATRPeriod   int `yaml:"atr_period"`

	RSILongThreshold  float64 `yaml:"rsi_long_threshold"`
	RSIShortThreshold float64 `yaml:"rsi_short_threshold"`

	PartialTPPct        float64 `yaml:"partial_tp_pct"`
	TrailingStopATRMult float64 `yaml:"trailing_stop_atr_mult"`
	InitialSLATRMult    float64 `yaml:"initial_sl_atr_mult"`

	AvgDownTriggerPct   float64 `yaml:"avg_down_trigger_pct"`
	AvgDownMultiplier   float64 `yaml:"avg_down_multiplier"`
	StopLossAfterAvgPct float64 `yaml:"stop_loss_after_avg_pct"`

	PositionSizePct float64 `yaml:"position_size_pct"`
	MinBuyUnit      float64 `yaml:"min_buy_unit"`
	Leverage        int     `yaml:"leverage"`
}

// DefaultParams returns the production defaults for the 15m timeframe.
func DefaultParams() Params {
	return Params{
		EMAFast:             20,
		EMASlow:             120,
		SlopePeriod:         3,
		RSIPeriod:           14,
		ATRPeriod:           14,
		RSILongThreshold:    60,
		RSIShortThreshold:   40,
		PartialTPPct:        0.03,
		TrailingStopATRMult: 2.0,
		InitialSLATRMult:    2.5,
		AvgDownTriggerPct:   0.05,
		AvgDownMultiplier:   2,
		StopLossAfterAvgPct: -0.07,
		PositionSizePct:     0.20,
		MinBuyUnit:          5,
		Leverage:            3,
	}
}

// MinBars returns the warm-up length: no entries are evaluated before this
// many bars exist.
func (p Params) MinBars() int {
	n := p.EMASlow + p.SlopePeriod
	if p.RSIPeriod > n {
		n = p.RSIPeriod
	}
	if p.ATRPeriod > n {
		n = p.ATRPeriod
	}
	return n
}

// BuyUnit computes the margin committed per entry: a fixed fraction of total
// equity, floored to a whole unit, never below the minimum.
func (p Params) BuyUnit(totalEquity float64) float64 {
	unit := math.Floor(totalEquity * p.PositionSizePct)
	if unit < p.MinBuyUnit {
		return p.MinBuyUnit
	}
	return unit
}

// DetectTrend classifies the bar at idx. UPTREND requires price above both
// EMAs and both slopes positive over the slope period; DOWNTREND is the
// mirror. Everything else is NONE.
func DetectTrend(price float64, emaFast, emaSlow []float64, idx, slopePeriod int) Trend {
	if idx < slopePeriod || idx >= len(emaFast) || idx >= len(emaSlow) {
		return NoTrend
	}
	fastNow, fastPrev := emaFast[idx], emaFast[idx-slopePeriod]
	slowNow, slowPrev := emaSlow[idx], emaSlow[idx-slopePeriod]

	var slopeFast, slopeSlow float64
	if fastPrev != 0 {
		slopeFast = (fastNow - fastPrev) / fastPrev * 100
	}
	if slowPrev != 0 {
		slopeSlow = (slowNow - slowPrev) / slowPrev * 100
	}

	if price > fastNow && price > slowNow && slopeFast > 0 && slopeSlow > 0 {
		return Uptrend
	}
	if price < fastNow && price < slowNow && slopeFast < 0 && slopeSlow < 0 {
		return Downtrend
	}
	return NoTrend
}

// Decision is the strategy's verdict for the latest closed bar.
type Decision struct {
	Enter bool
	Side  exchange.Side
	Trend Trend
	RSI   float64
	ATR   float64
	Close float64
}

// Decide applies the entry thresholds to a classified bar. The live window
// evaluation and the historical replay both go through here, so the two entry
// gates cannot drift apart.
func (p Params) Decide(trend Trend, rsi, atr, close float64) Decision {
	d := Decision{Trend: trend, RSI: rsi, ATR: atr, Close: close}
	if trend == Uptrend && rsi < p.RSILongThreshold {
		d.Enter = true
		d.Side = exchange.Long
	} else if trend == Downtrend && rsi > p.RSIShortThreshold {
		d.Enter = true
		d.Side = exchange.Short
	}
	return d
}

// TrendFollow evaluates the EMA-regime entry gate over a candle window. It is
// stateless: every call recomputes from the candles it is given, so live
// trading and backtests produce identical decisions for identical bars.
type TrendFollow struct {
	Symbol    string
	Timeframe string
	Params    Params
}

func NewTrendFollow(symbol, timeframe string, params Params) *TrendFollow {
	return &TrendFollow{Symbol: symbol, Timeframe: timeframe, Params: params}
}

func (s *TrendFollow) Name() string { return "TrendFollow" }

// Evaluate computes the entry decision for the last candle in the window.
// The window must already be sorted by timestamp.
func (s *TrendFollow) Evaluate(candles []candle.Candle) Decision {
	p := s.Params
	d := Decision{Trend: NoTrend, RSI: 50}
	if len(candles) < p.MinBars() {
		return d
	}

	closes := candle.Closes(candles)
	idx := len(closes) - 1
	d.Close = closes[idx]

	emaFast := indicator.CalculateEMA(closes, p.EMAFast)
	emaSlow := indicator.CalculateEMA(closes, p.EMASlow)
	trend := DetectTrend(d.Close, emaFast, emaSlow, idx, p.SlopePeriod)
	rsi := indicator.LatestRSI(closes, p.RSIPeriod)
	atr := indicator.LatestATR(candles, p.ATRPeriod)
	return p.Decide(trend, rsi, atr, d.Close)
}
