package ingest

import (
    "sort"
    "strings"
    "time"

    "quotehub/internal/provider"
)

// NormalizeSymbol canonicalizes a vendor symbol: exchange suffixes like
// ".SH"/".SZ" are stripped and bare numeric A-share codes are padded to six
// digits, so "1" and "000001.SZ" collapse to the same key.
func NormalizeSymbol(code string) string {
    s := strings.TrimSpace(code)
    if s == "" {
        return ""
    }
    if idx := strings.IndexByte(s, '.'); idx > 0 {
        s = s[:idx]
    }
    if isDigits(s) && len(s) < 6 {
        s = strings.Repeat("0", 6-len(s)) + s
    }
    return s
}

func isDigits(s string) bool {
    for i := 0; i < len(s); i++ {
        if s[i] < '0' || s[i] > '9' {
            return false
        }
    }
    return len(s) > 0
}

// CollapseBySymbol normalizes symbols and keeps the newest record per symbol.
// Vendors occasionally list the same code on several boards within one batch;
// for equal timestamps the later input wins. Zero timestamps are replaced
// with now. Output is sorted by symbol so upsert batches are deterministic.
func CollapseBySymbol(in []provider.QuoteRecord, now time.Time) []provider.QuoteRecord {
    latest := make(map[string]provider.QuoteRecord, len(in))
    for _, q := range in {
        sym := NormalizeSymbol(q.Symbol)
        if sym == "" {
            continue
        }
        q.Symbol = sym
        if q.ReceivedAt.IsZero() {
            q.ReceivedAt = now
        }
        cur, ok := latest[sym]
        if !ok || q.ReceivedAt.After(cur.ReceivedAt) || q.ReceivedAt.Equal(cur.ReceivedAt) {
            latest[sym] = q
        }
    }
    out := make([]provider.QuoteRecord, 0, len(latest))
    for _, q := range latest {
        out = append(out, q)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
    return out
}
