package db

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/amirphl/trend-trader/internal/journal"
	"github.com/amirphl/trend-trader/internal/position"
)

// Memory is an in-memory Storage for tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	events []journal.Event
	trades []position.TradeRecord
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) GetDB() *sql.DB { return nil }

func (m *Memory) LogEvent(_ context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *Memory) GetEvents(_ context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []journal.Event
	for _, e := range m.events {
		if e.Type == eventType && !e.Time.Before(start) && !e.Time.After(end) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) SaveTrade(_ context.Context, trade position.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	return nil
}

func (m *Memory) GetTrades(_ context.Context, symbol string, start, end time.Time) ([]position.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []position.TradeRecord
	for _, t := range m.trades {
		if t.Symbol == symbol && !t.Timestamp.Before(start) && !t.Timestamp.After(end) {
			out = append(out, t)
		}
	}
	return out, nil
}
