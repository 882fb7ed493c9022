// Package position
package position

import (
	"context"
	"time"

	"github.com/amirphl/trend-trader/internal/exchange"
)

// Exit reasons recorded in the trade ledger. PARTIAL_TP is the only
// non-terminal one.
const (
	ReasonStopLoss         = "STOP_LOSS"
	ReasonStopLossAfterAvg = "STOP_LOSS_AFTER_AVG"
	ReasonPartialTP        = "PARTIAL_TP"
	ReasonTrailingStop     = "TRAILING_STOP"
	ReasonNoMarginAvgDown  = "NO_MARGIN_FOR_AVG_DOWN"
	ReasonEndOfData        = "END_OF_DATA"
)

// Position is the mutable lifecycle state of one open trade.
//
// FirstEntryPrice is fixed at open and only drives the averaging-down
// trigger. EntryPrice is the blended average and is reread from the exchange
// after averaging down. AvgDownCount is 0 or 1 and may only rise while
// PartialTaken is false; TrailingActive implies PartialTaken.
type Position struct {
	Symbol          string
	Side            exchange.Side
	EntryPrice      float64
	FirstEntryPrice float64
	Size            float64
	StopLossPrice   float64
	PartialTaken    bool
	TrailingActive  bool
	BestPrice       float64
	AvgDownCount    int
	OpenedAt        time.Time
}

// TradeRecord is one ledger row. Every terminal close produces exactly one
// row; a partial take-profit produces a PARTIAL_TP row while the position
// stays open.
type TradeRecord struct {
	Timestamp    time.Time
	Symbol       string
	Side         exchange.Side
	ExitReason   string
	EntryPrice   float64
	ExitPrice    float64
	PnL          float64
	BalanceAfter float64
}

// Recorder receives ledger rows. The backtest collects them in memory; live
// trading persists them.
type Recorder interface {
	RecordTrade(ctx context.Context, rec TradeRecord) error
}
