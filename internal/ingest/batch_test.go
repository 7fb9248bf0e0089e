package ingest

import (
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "quotehub/internal/provider"
)

func TestNormalizeSymbol(t *testing.T) {
    cases := map[string]string{
        "600000":    "600000",
        "000001.SZ": "000001",
        "600519.SH": "600519",
        "1":         "000001",
        " 2 ":       "000002",
        "AAPL":      "AAPL",
        "":          "",
    }
    for in, want := range cases {
        require.Equal(t, want, NormalizeSymbol(in), "input %q", in)
    }
}

func TestCollapseBySymbol_NewestWins(t *testing.T) {
    t1 := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)
    t2 := t1.Add(time.Minute)

    in := []provider.QuoteRecord{
        {Symbol: "600000", Close: 10.1, ReceivedAt: t2},
        {Symbol: "600000.SH", Close: 10.0, ReceivedAt: t1},
        {Symbol: "000001", Close: 12.0, ReceivedAt: t1},
    }
    out := CollapseBySymbol(in, t2)
    require.Len(t, out, 2)
    require.Equal(t, "000001", out[0].Symbol)
    require.Equal(t, "600000", out[1].Symbol)
    require.Equal(t, 10.1, out[1].Close)
}

func TestCollapseBySymbol_EqualTimestampLaterInputWins(t *testing.T) {
    ts := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)
    in := []provider.QuoteRecord{
        {Symbol: "600000", Close: 10.0, ReceivedAt: ts},
        {Symbol: "600000", Close: 10.5, ReceivedAt: ts},
    }
    out := CollapseBySymbol(in, ts)
    require.Len(t, out, 1)
    require.Equal(t, 10.5, out[0].Close)
}

func TestCollapseBySymbol_ZeroTimestampGetsNow(t *testing.T) {
    now := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)
    out := CollapseBySymbol([]provider.QuoteRecord{{Symbol: "600000", Close: 9}}, now)
    require.Len(t, out, 1)
    require.True(t, out[0].ReceivedAt.Equal(now))
}
