// Package metrics exposes Prometheus metrics for the trading loop:
//   - bot_cycles_total{symbol,result}        – Poll cycles (ok|error)
//   - bot_decisions_total{symbol,signal}     – Entry decisions (long|short|flat)
//   - bot_orders_total{symbol,side,type}     – Orders submitted to the exchange
//   - bot_exit_reasons_total{symbol,reason}  – Exits split by reason
//   - bot_equity_usd{symbol}                 – Last observed equity snapshot
//   - bot_open_position{symbol}              – 1 while a position is open
//
// Registered in init() and served at /metrics by the HTTP listener started in
// cmd/main.go.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_cycles_total",
			Help: "Poll cycles by outcome",
		},
		[]string{"symbol", "result"},
	)

	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_decisions_total",
			Help: "Entry decisions taken",
		},
		[]string{"symbol", "signal"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders submitted",
		},
		[]string{"symbol", "side", "type"},
	)

	ExitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exit_reasons_total",
			Help: "Position exits split by reason",
		},
		[]string{"symbol", "reason"},
	)

	Equity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_equity_usd",
			Help: "Equity in USD",
		},
		[]string{"symbol"},
	)

	OpenPosition = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_open_position",
			Help: "1 while a position is open for the symbol",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(Cycles, Decisions, Orders, ExitReasons, Equity, OpenPosition)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
