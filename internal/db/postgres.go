package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/amirphl/trend-trader/internal/exchange"
	"github.com/amirphl/trend-trader/internal/journal"
	"github.com/amirphl/trend-trader/internal/position"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// Default is the Postgres-backed Storage.
type Default struct {
	db *sql.DB
}

func New(db *sql.DB) (*Default, error) {
	if db == nil {
		return nil, fmt.Errorf("nil database handle")
	}
	return &Default{db: db}, nil
}

// Connect opens a Postgres connection pool with the given limits.
func Connect(connStr string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (p *Default) GetDB() *sql.DB {
	return p.db
}

// executeWithTransaction executes a function with proper transaction management.
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func (p *Default) executeWithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func (p *Default) queryWithTransaction(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return p.db.QueryContext(ctx, query, args...)
}

func (p *Default) LogEvent(ctx context.Context, event journal.Event) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		data, _ := json.Marshal(event.Data)
		_, err := tx.ExecContext(ctx, `INSERT INTO events (time, type, description, data) VALUES ($1,$2,$3,$4)`,
			event.Time, event.Type, event.Description, data)
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (p *Default) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT time, type, description, data FROM events WHERE type=$1 AND time >= $2 AND time <= $3 ORDER BY time ASC`, eventType, start, end)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()
	var events []journal.Event
	for rows.Next() {
		var e journal.Event
		var data []byte
		if err := rows.Scan(&e.Time, &e.Type, &e.Description, &data); err != nil {
			return nil, err
		}
		json.Unmarshal(data, &e.Data)
		e.Time = e.Time.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

func (p *Default) SaveTrade(ctx context.Context, trade position.TradeRecord) error {
	return p.executeWithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO trades (timestamp, symbol, side, exit_reason, entry_price, exit_price, pnl, balance_after)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			trade.Timestamp, trade.Symbol, string(trade.Side), trade.ExitReason,
			trade.EntryPrice, trade.ExitPrice, trade.PnL, trade.BalanceAfter)
		if err != nil {
			return fmt.Errorf("failed to save trade: %w", err)
		}
		return nil
	})
}

func (p *Default) GetTrades(ctx context.Context, symbol string, start, end time.Time) ([]position.TradeRecord, error) {
	rows, err := p.queryWithTransaction(ctx, `SELECT timestamp, symbol, side, exit_reason, entry_price, exit_price, pnl, balance_after
		FROM trades WHERE symbol=$1 AND timestamp >= $2 AND timestamp <= $3 ORDER BY timestamp ASC`, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, nil
	}
	defer rows.Close()
	var trades []position.TradeRecord
	for rows.Next() {
		var t position.TradeRecord
		var side string
		if err := rows.Scan(&t.Timestamp, &t.Symbol, &side, &t.ExitReason, &t.EntryPrice, &t.ExitPrice, &t.PnL, &t.BalanceAfter); err != nil {
			return nil, err
		}
		t.Side = exchange.Side(side)
		t.Timestamp = t.Timestamp.UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
