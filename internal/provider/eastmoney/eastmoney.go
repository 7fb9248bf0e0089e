package eastmoney

import (
    "context"
    "encoding/json"
    "fmt"
    "net/url"
    "strconv"
    "strings"
    "time"

    "quotehub/internal/httpx"
    "quotehub/internal/provider"
)

type Config struct {
    Name string
    // BaseURL serves realtime quote endpoints.
    BaseURL string
    // HistBaseURL serves the kline endpoint.
    HistBaseURL string
    // NoticeBaseURL serves the announcement list endpoint.
    NoticeBaseURL string
    // SnapshotPageSize bounds one clist page. The endpoint caps around 10000.
    SnapshotPageSize int
}

// Provider reads the public push2 quote feed. No token, no signup; the feed
// is rate limited only by politeness, so it works as the free fallback.
type Provider struct {
    cfg    Config
    client *httpx.Client
    now    func() time.Time
}

func New(cfg Config, hc *httpx.Client) *Provider {
    if cfg.Name == "" {
        cfg.Name = "eastmoney"
    }
    if cfg.BaseURL == "" {
        cfg.BaseURL = "https://push2.eastmoney.com"
    }
    if cfg.HistBaseURL == "" {
        cfg.HistBaseURL = "https://push2his.eastmoney.com"
    }
    if cfg.NoticeBaseURL == "" {
        cfg.NoticeBaseURL = "https://np-anotice-stock.eastmoney.com"
    }
    if cfg.SnapshotPageSize <= 0 {
        cfg.SnapshotPageSize = 10000
    }
    return &Provider{cfg: cfg, client: hc, now: time.Now}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) IsAvailable() bool { return p.client != nil }

// quoteFields is the push2 field projection for one stock: price and OHLC
// (f43..f46), volume f47, amount f48, EPS f55, code f57, prev close f60,
// total market cap f116, PE f162, PB f167, ROE f173, pct change f170,
// update time f86.
const quoteFields = "f43,f44,f45,f46,f47,f48,f55,f57,f60,f86,f116,f162,f167,f170,f173"

type stockGetResponse struct {
    Data map[string]any `json:"data"`
}

func (p *Provider) FetchQuote(ctx context.Context, symbol string) (*provider.QuoteRecord, error) {
    data, err := p.stockGet(ctx, symbol)
    if err != nil {
        return nil, p.wrap(provider.CapQuote, err)
    }
    if data == nil {
        return nil, nil
    }
    q := provider.QuoteRecord{
        Symbol:     asString(data["f57"]),
        Close:      asFloat(data["f43"]),
        High:       asFloat(data["f44"]),
        Low:        asFloat(data["f45"]),
        Open:       asFloat(data["f46"]),
        Volume:     asFloat(data["f47"]),
        Amount:     asFloat(data["f48"]),
        PrevClose:  asFloat(data["f60"]),
        PctChange:  asFloat(data["f170"]),
        TradeDate:  epochDate(data["f86"]),
        Source:     p.cfg.Name,
        ReceivedAt: p.now(),
    }
    if q.Symbol == "" {
        q.Symbol = symbol
    }
    return &q, nil
}

type klineResponse struct {
    Data *struct {
        Klines []string `json:"klines"`
    } `json:"data"`
}

func (p *Provider) FetchHistory(ctx context.Context, symbol string, r provider.Range) ([]provider.Bar, error) {
    q := url.Values{}
    q.Set("secid", secID(symbol))
    q.Set("klt", "101") // daily candles
    q.Set("fqt", "1")   // forward adjusted
    q.Set("beg", r.Start)
    q.Set("end", r.End)
    q.Set("fields1", "f1,f2,f3,f4,f5,f6")
    q.Set("fields2", "f51,f52,f53,f54,f55,f56,f57")

    var resp klineResponse
    if err := p.client.GetJSON(ctx, p.cfg.HistBaseURL+"/api/qt/stock/kline/get?"+q.Encode(), &resp); err != nil {
        return nil, p.wrap(provider.CapHistory, err)
    }
    if resp.Data == nil {
        return nil, nil
    }
    bars := make([]provider.Bar, 0, len(resp.Data.Klines))
    for _, line := range resp.Data.Klines {
        // "2025-03-11,10.00,10.50,11.00,9.80,1000,10500000"
        parts := strings.Split(line, ",")
        if len(parts) < 7 {
            continue
        }
        bars = append(bars, provider.Bar{
            Date:   strings.ReplaceAll(parts[0], "-", ""),
            Open:   parseFloat(parts[1]),
            Close:  parseFloat(parts[2]),
            High:   parseFloat(parts[3]),
            Low:    parseFloat(parts[4]),
            Volume: parseFloat(parts[5]),
        })
    }
    return bars, nil
}

func (p *Provider) FetchFundamentals(ctx context.Context, symbol string) (*provider.Fundamentals, error) {
    data, err := p.stockGet(ctx, symbol)
    if err != nil {
        return nil, p.wrap(provider.CapFundamentals, err)
    }
    if data == nil {
        return nil, nil
    }
    f := provider.Fundamentals{
        Symbol:    asString(data["f57"]),
        PE:        asFloat(data["f162"]),
        PB:        asFloat(data["f167"]),
        EPS:       asFloat(data["f55"]),
        ROE:       asFloat(data["f173"]),
        MarketCap: asFloat(data["f116"]),
        AsOf:      epochDate(data["f86"]),
    }
    if f.Symbol == "" {
        f.Symbol = symbol
    }
    return &f, nil
}

type noticeResponse struct {
    Data *struct {
        List []struct {
            ArtCode    string `json:"art_code"`
            Title      string `json:"title"`
            NoticeDate string `json:"notice_date"`
        } `json:"list"`
    } `json:"data"`
}

// FetchNews lists company announcements within the window.
func (p *Provider) FetchNews(ctx context.Context, symbol string, window time.Duration) ([]provider.NewsItem, error) {
    code := bareCode(symbol)
    q := url.Values{}
    q.Set("sr", "-1")
    q.Set("page_size", "50")
    q.Set("page_index", "1")
    q.Set("ann_type", "A")
    q.Set("stock_list", code)

    var resp noticeResponse
    if err := p.client.GetJSON(ctx, p.cfg.NoticeBaseURL+"/api/security/ann?"+q.Encode(), &resp); err != nil {
        return nil, p.wrap(provider.CapNews, err)
    }
    if resp.Data == nil {
        return nil, nil
    }
    cutoff := p.now().Add(-window)
    out := make([]provider.NewsItem, 0, len(resp.Data.List))
    for _, n := range resp.Data.List {
        published, err := time.ParseInLocation("2006-01-02 15:04:05", n.NoticeDate, time.Local)
        if err != nil {
            continue
        }
        if window > 0 && published.Before(cutoff) {
            continue
        }
        out = append(out, provider.NewsItem{
            Title:       n.Title,
            Source:      p.cfg.Name,
            URL:         fmt.Sprintf("https://data.eastmoney.com/notices/detail/%s/%s.html", code, n.ArtCode),
            Symbol:      code,
            PublishedAt: published,
        })
    }
    return out, nil
}

type clistResponse struct {
    Data *struct {
        Total int              `json:"total"`
        Diff  []map[string]any `json:"diff"`
    } `json:"data"`
}

// FetchSnapshot pulls the full A-share list in one clist page.
func (p *Provider) FetchSnapshot(ctx context.Context) ([]provider.QuoteRecord, error) {
    q := url.Values{}
    q.Set("pn", "1")
    q.Set("pz", strconv.Itoa(p.cfg.SnapshotPageSize))
    q.Set("po", "1")
    q.Set("np", "1")
    q.Set("fltt", "2")
    q.Set("invt", "2")
    q.Set("fid", "f3")
    // Shanghai and Shenzhen main boards plus ChiNext and STAR.
    q.Set("fs", "m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23")
    q.Set("fields", "f2,f3,f5,f6,f12,f15,f16,f17,f18")

    var resp clistResponse
    if err := p.client.GetJSON(ctx, p.cfg.BaseURL+"/api/qt/clist/get?"+q.Encode(), &resp); err != nil {
        return nil, p.wrap(provider.CapSnapshot, err)
    }
    if resp.Data == nil {
        return nil, nil
    }
    now := p.now()
    out := make([]provider.QuoteRecord, 0, len(resp.Data.Diff))
    for _, row := range resp.Data.Diff {
        rec := provider.QuoteRecord{
            Symbol:     asString(row["f12"]),
            Close:      asFloat(row["f2"]),
            PctChange:  asFloat(row["f3"]),
            Volume:     asFloat(row["f5"]),
            Amount:     asFloat(row["f6"]),
            High:       asFloat(row["f15"]),
            Low:        asFloat(row["f16"]),
            Open:       asFloat(row["f17"]),
            PrevClose:  asFloat(row["f18"]),
            Source:     p.cfg.Name,
            ReceivedAt: now,
        }
        // Suspended stocks come back with "-" in every price field.
        if rec.Symbol == "" || rec.Close <= 0 {
            continue
        }
        out = append(out, rec)
    }
    return out, nil
}

// LatestTradeDate reads the update timestamp off the index quote.
func (p *Provider) LatestTradeDate(ctx context.Context) (string, error) {
    data, err := p.stockGet(ctx, "600000")
    if err != nil {
        return "", p.wrap(provider.CapSnapshot, err)
    }
    if d := epochDate(data["f86"]); d != "" {
        return d, nil
    }
    return "", fmt.Errorf("quote carried no update time")
}

func (p *Provider) stockGet(ctx context.Context, symbol string) (map[string]any, error) {
    q := url.Values{}
    q.Set("secid", secID(symbol))
    q.Set("invt", "2")
    q.Set("fltt", "2")
    q.Set("fields", quoteFields)

    var resp stockGetResponse
    if err := p.client.GetJSON(ctx, p.cfg.BaseURL+"/api/qt/stock/get?"+q.Encode(), &resp); err != nil {
        return nil, err
    }
    return resp.Data, nil
}

func (p *Provider) wrap(op provider.Capability, err error) error {
    return &provider.FetchError{Provider: p.cfg.Name, Op: op, Err: err}
}

// secID prefixes the exchange market id: 1 for Shanghai, 0 for everything
// else.
func secID(symbol string) string {
    code := bareCode(symbol)
    if strings.HasPrefix(code, "6") {
        return "1." + code
    }
    return "0." + code
}

func bareCode(symbol string) string {
    s := strings.TrimSpace(strings.ToUpper(symbol))
    if idx := strings.IndexByte(s, '.'); idx > 0 {
        return s[:idx]
    }
    return s
}

func asFloat(v any) float64 {
    switch x := v.(type) {
    case json.Number:
        f, _ := x.Float64()
        return f
    case float64:
        return x
    case string:
        return parseFloat(x)
    default:
        return 0
    }
}

func parseFloat(s string) float64 {
    f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
    if err != nil {
        return 0
    }
    return f
}

func asString(v any) string {
    switch x := v.(type) {
    case string:
        return x
    case json.Number:
        return x.String()
    default:
        return ""
    }
}

// epochDate formats a unix-seconds field as YYYYMMDD in Shanghai time.
func epochDate(v any) string {
    sec := int64(asFloat(v))
    if sec <= 0 {
        return ""
    }
    loc, err := time.LoadLocation("Asia/Shanghai")
    if err != nil {
        loc = time.UTC
    }
    return time.Unix(sec, 0).In(loc).Format("20060102")
}
