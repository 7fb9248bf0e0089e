package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"quotehub/internal/store"
)

// Schema for the snapshot table. Applied out of band; kept here so the
// expected layout travels with the code.
const Schema = `
CREATE TABLE IF NOT EXISTS market_snapshots (
    symbol          TEXT PRIMARY KEY,
    open            DOUBLE PRECISION NOT NULL DEFAULT 0,
    high            DOUBLE PRECISION NOT NULL DEFAULT 0,
    low             DOUBLE PRECISION NOT NULL DEFAULT 0,
    close           DOUBLE PRECISION NOT NULL DEFAULT 0,
    volume          DOUBLE PRECISION NOT NULL DEFAULT 0,
    amount          DOUBLE PRECISION NOT NULL DEFAULT 0,
    prev_close      DOUBLE PRECISION NOT NULL DEFAULT 0,
    pct_change      DOUBLE PRECISION NOT NULL DEFAULT 0,
    trade_date      TEXT NOT NULL DEFAULT '',
    source_provider TEXT NOT NULL DEFAULT '',
    updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS market_snapshots_updated_at_idx ON market_snapshots (updated_at);
`

const upsertSQL = `
INSERT INTO market_snapshots
    (symbol, open, high, low, close, volume, amount, prev_close, pct_change, trade_date, source_provider, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (symbol) DO UPDATE SET
    open = EXCLUDED.open,
    high = EXCLUDED.high,
    low = EXCLUDED.low,
    close = EXCLUDED.close,
    volume = EXCLUDED.volume,
    amount = EXCLUDED.amount,
    prev_close = EXCLUDED.prev_close,
    pct_change = EXCLUDED.pct_change,
    trade_date = EXCLUDED.trade_date,
    source_provider = EXCLUDED.source_provider,
    updated_at = EXCLUDED.updated_at
`

// Store persists snapshots in Postgres. Upserts replace the full row, so the
// last writer's updated_at wins without explicit locking.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(pool *pgxpool.Pool, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{pool: pool, log: log}
}

// Connect builds a pgx pool from a connection string and verifies it.
func Connect(ctx context.Context, connString string, minConns, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the snapshot table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *Store) UpsertMany(ctx context.Context, rows []store.Snapshot) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	queued := 0
	for _, r := range rows {
		if r.Symbol == "" {
			continue
		}
		batch.Queue(upsertSQL,
			r.Symbol, r.Open, r.High, r.Low, r.Close, r.Volume, r.Amount,
			r.PrevClose, r.PctChange, r.TradeDate, r.SourceProvider, r.UpdatedAt)
		queued++
	}
	if queued == 0 {
		return nil
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert batch at %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) FindLatest(ctx context.Context, symbol string) (*store.Snapshot, error) {
	const q = `
SELECT symbol, open, high, low, close, volume, amount, prev_close, pct_change, trade_date, source_provider, updated_at
FROM market_snapshots WHERE symbol = $1`
	var r store.Snapshot
	err := s.pool.QueryRow(ctx, q, symbol).Scan(
		&r.Symbol, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume, &r.Amount,
		&r.PrevClose, &r.PctChange, &r.TradeDate, &r.SourceProvider, &r.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CountAll(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM market_snapshots`).Scan(&n)
	return n, err
}

func (s *Store) FindMostRecentTradeDate(ctx context.Context) (string, error) {
	var d *string
	err := s.pool.QueryRow(ctx, `SELECT max(trade_date) FROM market_snapshots`).Scan(&d)
	if err != nil {
		return "", err
	}
	if d == nil {
		return "", nil
	}
	return *d, nil
}
