package store

import (
    "context"
    "sync"
    "time"
)

// Snapshot is one persisted market quote row. symbol is the uniqueness key;
// every upsert fully replaces the quote fields, there is no partial merge.
type Snapshot struct {
    Symbol         string    `json:"symbol"`
    Open           float64   `json:"open"`
    High           float64   `json:"high"`
    Low            float64   `json:"low"`
    Close          float64   `json:"close"`
    Volume         float64   `json:"volume"`
    Amount         float64   `json:"amount"`
    PrevClose      float64   `json:"prev_close"`
    PctChange      float64   `json:"pct_change"`
    TradeDate      string    `json:"trade_date"`
    SourceProvider string    `json:"source_provider"`
    UpdatedAt      time.Time `json:"updated_at"`
}

// Store is the persistence boundary for market snapshots. Writes are
// idempotent upserts keyed by symbol, so concurrent writers converge.
type Store interface {
    UpsertMany(ctx context.Context, rows []Snapshot) error
    // FindLatest returns nil when the symbol has never been persisted.
    FindLatest(ctx context.Context, symbol string) (*Snapshot, error)
    CountAll(ctx context.Context) (int64, error)
    // FindMostRecentTradeDate returns "" when the store is empty.
    FindMostRecentTradeDate(ctx context.Context) (string, error)
}

// Memory is the in-process store used by tests and the default wiring.
type Memory struct {
    mu   sync.RWMutex
    rows map[string]Snapshot
}

func NewMemory() *Memory {
    return &Memory{rows: make(map[string]Snapshot)}
}

func (m *Memory) UpsertMany(_ context.Context, rows []Snapshot) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    for _, r := range rows {
        if r.Symbol == "" {
            continue
        }
        m.rows[r.Symbol] = r
    }
    return nil
}

func (m *Memory) FindLatest(_ context.Context, symbol string) (*Snapshot, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    r, ok := m.rows[symbol]
    if !ok {
        return nil, nil
    }
    return &r, nil
}

func (m *Memory) CountAll(_ context.Context) (int64, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    return int64(len(m.rows)), nil
}

func (m *Memory) FindMostRecentTradeDate(_ context.Context) (string, error) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    latest := ""
    for _, r := range m.rows {
        if r.TradeDate > latest {
            latest = r.TradeDate
        }
    }
    return latest, nil
}
