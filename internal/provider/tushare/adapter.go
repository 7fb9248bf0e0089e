package tushare

import (
    "context"
    "fmt"
    "sort"
    "strings"
    "time"

    "go.uber.org/zap"

    "quotehub/internal/provider"
)

// Adapter exposes Tushare Pro datasets through the common provider surface.
// Quote and snapshot data come from the daily dataset keyed by the latest
// open trading date, which trade_cal resolves.
type Adapter struct {
    client *Client
    log    *zap.Logger
    now    func() time.Time
}

func NewAdapter(client *Client, log *zap.Logger) *Adapter {
    if log == nil {
        log = zap.NewNop()
    }
    return &Adapter{client: client, log: log, now: time.Now}
}

func (a *Adapter) Name() string { return "tushare" }

// IsAvailable is false without a token: every Tushare call requires one.
func (a *Adapter) IsAvailable() bool { return a.client.HasToken() }

const dailyFields = "ts_code,trade_date,open,high,low,close,pre_close,pct_chg,vol,amount"

func (a *Adapter) FetchQuote(ctx context.Context, symbol string) (*provider.QuoteRecord, error) {
    date, err := a.LatestTradeDate(ctx)
    if err != nil {
        return nil, a.wrap(provider.CapQuote, err)
    }
    ds, err := a.client.Call(ctx, "daily", map[string]any{
        "ts_code":    tsCode(symbol),
        "trade_date": date,
    }, dailyFields)
    if err != nil {
        return nil, a.wrap(provider.CapQuote, err)
    }
    rows := ds.Rows()
    if len(rows) == 0 {
        return nil, nil
    }
    q := a.toQuote(rows[0])
    return &q, nil
}

func (a *Adapter) FetchHistory(ctx context.Context, symbol string, r provider.Range) ([]provider.Bar, error) {
    ds, err := a.client.Call(ctx, "daily", map[string]any{
        "ts_code":    tsCode(symbol),
        "start_date": r.Start,
        "end_date":   r.End,
    }, dailyFields)
    if err != nil {
        return nil, a.wrap(provider.CapHistory, err)
    }
    bars := make([]provider.Bar, 0, len(ds.Items))
    for _, row := range ds.Rows() {
        bars = append(bars, provider.Bar{
            Date:   asString(row["trade_date"]),
            Open:   asFloat(row["open"]),
            High:   asFloat(row["high"]),
            Low:    asFloat(row["low"]),
            Close:  asFloat(row["close"]),
            Volume: asFloat(row["vol"]) * 100, // vol comes back in lots of 100 shares
        })
    }
    // The vendor returns newest first.
    sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
    return bars, nil
}

func (a *Adapter) FetchFundamentals(ctx context.Context, symbol string) (*provider.Fundamentals, error) {
    date, err := a.LatestTradeDate(ctx)
    if err != nil {
        return nil, a.wrap(provider.CapFundamentals, err)
    }
    ds, err := a.client.Call(ctx, "daily_basic", map[string]any{
        "ts_code":    tsCode(symbol),
        "trade_date": date,
    }, "ts_code,trade_date,pe,pb,total_mv")
    if err != nil {
        return nil, a.wrap(provider.CapFundamentals, err)
    }
    rows := ds.Rows()
    if len(rows) == 0 {
        return nil, nil
    }
    row := rows[0]
    return &provider.Fundamentals{
        Symbol:    bareCode(asString(row["ts_code"])),
        PE:        asFloat(row["pe"]),
        PB:        asFloat(row["pb"]),
        MarketCap: asFloat(row["total_mv"]) * 1e4, // total_mv comes back in 万元
        AsOf:      asString(row["trade_date"]),
    }, nil
}

// FetchNews is not offered on this feed.
func (a *Adapter) FetchNews(context.Context, string, time.Duration) ([]provider.NewsItem, error) {
    return nil, provider.ErrUnsupported
}

// FetchSnapshot returns the whole market's daily rows for the latest open
// trading date.
func (a *Adapter) FetchSnapshot(ctx context.Context) ([]provider.QuoteRecord, error) {
    date, err := a.LatestTradeDate(ctx)
    if err != nil {
        return nil, a.wrap(provider.CapSnapshot, err)
    }
    ds, err := a.client.Call(ctx, "daily", map[string]any{"trade_date": date}, dailyFields)
    if err != nil {
        return nil, a.wrap(provider.CapSnapshot, err)
    }
    out := make([]provider.QuoteRecord, 0, len(ds.Items))
    for _, row := range ds.Rows() {
        out = append(out, a.toQuote(row))
    }
    return out, nil
}

// LatestTradeDate resolves the most recent open trading date from the SSE
// calendar, looking back one month to bridge holidays.
func (a *Adapter) LatestTradeDate(ctx context.Context) (string, error) {
    now := a.now()
    ds, err := a.client.Call(ctx, "trade_cal", map[string]any{
        "exchange":   "SSE",
        "is_open":    "1",
        "start_date": now.AddDate(0, -1, 0).Format("20060102"),
        "end_date":   now.Format("20060102"),
    }, "cal_date,is_open")
    if err != nil {
        return "", a.wrap(provider.CapSnapshot, err)
    }
    var latest string
    for _, row := range ds.Rows() {
        if d := asString(row["cal_date"]); d > latest {
            latest = d
        }
    }
    if latest == "" {
        return "", fmt.Errorf("trade_cal returned no open dates")
    }
    return latest, nil
}

// ProbePremium hits rt_k, a realtime dataset only premium accounts may call.
// A tier rejection surfaces as provider.ErrPermissionDenied.
func (a *Adapter) ProbePremium(ctx context.Context) error {
    _, err := a.client.Call(ctx, "rt_k", map[string]any{"ts_code": "600000.SH"}, "")
    return err
}

func (a *Adapter) toQuote(row map[string]any) provider.QuoteRecord {
    return provider.QuoteRecord{
        Symbol:     bareCode(asString(row["ts_code"])),
        Open:       asFloat(row["open"]),
        High:       asFloat(row["high"]),
        Low:        asFloat(row["low"]),
        Close:      asFloat(row["close"]),
        Volume:     asFloat(row["vol"]) * 100,  // lots of 100 shares
        Amount:     asFloat(row["amount"]) * 1e3, // 千元
        PrevClose:  asFloat(row["pre_close"]),
        PctChange:  asFloat(row["pct_chg"]),
        TradeDate:  asString(row["trade_date"]),
        Source:     "tushare",
        ReceivedAt: a.now(),
    }
}

func (a *Adapter) wrap(op provider.Capability, err error) error {
    return &provider.FetchError{Provider: "tushare", Op: op, Err: err}
}

// tsCode expands a bare A-share code into the exchange-qualified form the
// vendor expects: 6xxxxx trades on Shanghai, 0xxxxx/3xxxxx on Shenzhen,
// 4xxxxx/8xxxxx on Beijing.
func tsCode(symbol string) string {
    s := strings.TrimSpace(strings.ToUpper(symbol))
    if strings.ContainsRune(s, '.') {
        return s
    }
    switch {
    case strings.HasPrefix(s, "6"):
        return s + ".SH"
    case strings.HasPrefix(s, "4"), strings.HasPrefix(s, "8"):
        return s + ".BJ"
    default:
        return s + ".SZ"
    }
}

func bareCode(tsCode string) string {
    if idx := strings.IndexByte(tsCode, '.'); idx > 0 {
        return tsCode[:idx]
    }
    return tsCode
}
