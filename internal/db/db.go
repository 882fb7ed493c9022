// Package db
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/amirphl/trend-trader/internal/journal"
	"github.com/amirphl/trend-trader/internal/position"
)

// Storage is the interface for all persistent storage.
type Storage interface {
	GetDB() *sql.DB
	journal.Journaler
	SaveTrade(ctx context.Context, trade position.TradeRecord) error
	GetTrades(ctx context.Context, symbol string, start, end time.Time) ([]position.TradeRecord, error)
}
