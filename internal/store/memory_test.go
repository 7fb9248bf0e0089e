package store

import (
    "context"
    "testing"
    "time"

    "github.com/stretchr/testify/require"
)

func TestUpsertMany_SecondWriteReplacesWhole(t *testing.T) {
    m := NewMemory()
    t1 := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
    t2 := t1.Add(6 * time.Minute)

    require.NoError(t, m.UpsertMany(context.Background(), []Snapshot{
        {Symbol: "600000", Close: 10.5, Amount: 100, TradeDate: "20250310", SourceProvider: "tushare", UpdatedAt: t1},
    }))
    require.NoError(t, m.UpsertMany(context.Background(), []Snapshot{
        {Symbol: "600000", Close: 10.8, TradeDate: "20250310", SourceProvider: "eastmoney", UpdatedAt: t2},
    }))

    n, err := m.CountAll(context.Background())
    require.NoError(t, err)
    require.EqualValues(t, 1, n)

    got, err := m.FindLatest(context.Background(), "600000")
    require.NoError(t, err)
    require.NotNil(t, got)
    require.Equal(t, 10.8, got.Close)
    require.Equal(t, "eastmoney", got.SourceProvider)
    require.True(t, got.UpdatedAt.Equal(t2))
    // Full replacement: the first write's amount must not survive the second.
    require.Zero(t, got.Amount)
}

func TestFindLatest_AbsentSymbolIsNil(t *testing.T) {
    m := NewMemory()
    got, err := m.FindLatest(context.Background(), "000001")
    require.NoError(t, err)
    require.Nil(t, got)
}

func TestFindMostRecentTradeDate(t *testing.T) {
    m := NewMemory()
    d, err := m.FindMostRecentTradeDate(context.Background())
    require.NoError(t, err)
    require.Empty(t, d)

    require.NoError(t, m.UpsertMany(context.Background(), []Snapshot{
        {Symbol: "600000", Close: 10, TradeDate: "20250307"},
        {Symbol: "000001", Close: 12, TradeDate: "20250310"},
    }))

    d, err = m.FindMostRecentTradeDate(context.Background())
    require.NoError(t, err)
    require.Equal(t, "20250310", d)
}

func TestUpsertMany_SkipsBlankSymbols(t *testing.T) {
    m := NewMemory()
    require.NoError(t, m.UpsertMany(context.Background(), []Snapshot{
        {Symbol: "", Close: 1},
        {Symbol: "600000", Close: 2},
    }))
    n, _ := m.CountAll(context.Background())
    require.EqualValues(t, 1, n)
}
