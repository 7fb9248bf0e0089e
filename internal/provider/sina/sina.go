package sina

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "regexp"
    "strconv"
    "strings"
    "time"

    "quotehub/internal/httpx"
    "quotehub/internal/provider"
)

type Config struct {
    Name string
    // QuoteBaseURL serves the hq_str text quotes.
    QuoteBaseURL string
    // ListBaseURL serves the Market Center node list.
    ListBaseURL string
    // PageSize is rows per list page; the endpoint caps at 100.
    PageSize int
    // MaxPages bounds the snapshot pagination.
    MaxPages int
}

// Provider reads the legacy Sina quote feeds. Quotes come back as a JS
// assignment with a GBK comma list; the snapshot list comes back as a JS
// object literal with unquoted keys. Both predate JSON APIs and never
// changed.
type Provider struct {
    cfg    Config
    client *httpx.Client
    now    func() time.Time
}

func New(cfg Config, hc *httpx.Client) *Provider {
    if cfg.Name == "" {
        cfg.Name = "sina"
    }
    if cfg.QuoteBaseURL == "" {
        cfg.QuoteBaseURL = "https://hq.sinajs.cn"
    }
    if cfg.ListBaseURL == "" {
        cfg.ListBaseURL = "https://vip.stock.finance.sina.com.cn"
    }
    if cfg.PageSize <= 0 {
        cfg.PageSize = 80
    }
    if cfg.MaxPages <= 0 {
        cfg.MaxPages = 80
    }
    return &Provider{cfg: cfg, client: hc, now: time.Now}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) IsAvailable() bool { return p.client != nil }

func (p *Provider) FetchQuote(ctx context.Context, symbol string) (*provider.QuoteRecord, error) {
    fields, err := p.rawQuote(ctx, symbol)
    if err != nil {
        return nil, p.wrap(provider.CapQuote, err)
    }
    if fields == nil {
        return nil, nil
    }
    q := provider.QuoteRecord{
        Symbol:     bareCode(symbol),
        Open:       field(fields, 1),
        PrevClose:  field(fields, 2),
        Close:      field(fields, 3),
        High:       field(fields, 4),
        Low:        field(fields, 5),
        Volume:     field(fields, 8),
        Amount:     field(fields, 9),
        TradeDate:  dateField(fields, 30),
        Source:     p.cfg.Name,
        ReceivedAt: p.now(),
    }
    if q.PrevClose > 0 {
        q.PctChange = (q.Close - q.PrevClose) / q.PrevClose * 100
    }
    return &q, nil
}

func (p *Provider) FetchHistory(context.Context, string, provider.Range) ([]provider.Bar, error) {
    return nil, provider.ErrUnsupported
}

func (p *Provider) FetchFundamentals(context.Context, string) (*provider.Fundamentals, error) {
    return nil, provider.ErrUnsupported
}

func (p *Provider) FetchNews(context.Context, string, time.Duration) ([]provider.NewsItem, error) {
    return nil, provider.ErrUnsupported
}

// FetchSnapshot pages through the hs_a node until a short page. Row values
// arrive as a mix of JSON numbers and quoted decimals, so extraction goes
// through the tolerant helpers.
func (p *Provider) FetchSnapshot(ctx context.Context) ([]provider.QuoteRecord, error) {
    now := p.now()
    var out []provider.QuoteRecord
    for page := 1; page <= p.cfg.MaxPages; page++ {
        rows, err := p.listPage(ctx, page)
        if err != nil {
            if len(out) > 0 {
                // Keep what earlier pages produced.
                return out, nil
            }
            return nil, p.wrap(provider.CapSnapshot, err)
        }
        for _, r := range rows {
            rec := provider.QuoteRecord{
                Symbol:     str(r["code"]),
                Open:       loose(r["open"]),
                High:       loose(r["high"]),
                Low:        loose(r["low"]),
                Close:      loose(r["trade"]),
                PrevClose:  loose(r["settlement"]),
                PctChange:  loose(r["changepercent"]),
                Volume:     loose(r["volume"]),
                Amount:     loose(r["amount"]),
                Source:     p.cfg.Name,
                ReceivedAt: now,
            }
            if rec.Symbol == "" || rec.Close <= 0 {
                continue
            }
            out = append(out, rec)
        }
        if len(rows) < p.cfg.PageSize {
            break
        }
    }
    return out, nil
}

// LatestTradeDate reads the date field off a bellwether quote.
func (p *Provider) LatestTradeDate(ctx context.Context) (string, error) {
    fields, err := p.rawQuote(ctx, "600000")
    if err != nil {
        return "", p.wrap(provider.CapSnapshot, err)
    }
    if d := dateField(fields, 30); d != "" {
        return d, nil
    }
    return "", fmt.Errorf("quote carried no date")
}

// rawQuote fetches and splits one hq_str line. A delisted or unknown code
// yields an empty assignment, returned as nil fields.
func (p *Provider) rawQuote(ctx context.Context, symbol string) ([]string, error) {
    url := fmt.Sprintf("%s/list=%s", p.cfg.QuoteBaseURL, exchangeCode(symbol))
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
    if err != nil {
        return nil, err
    }
    // The feed rejects requests without a finance.sina referer.
    req.Header.Set("Referer", "https://finance.sina.com.cn")

    resp, err := p.client.Do(ctx, req)
    if err != nil {
        return nil, err
    }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK {
        return nil, fmt.Errorf("GET %s -> %d", url, resp.StatusCode)
    }
    body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
    if err != nil {
        return nil, err
    }

    // var hq_str_sh600000="浦发银行,10.00,10.20,10.50,...";
    line := string(body)
    start := strings.IndexByte(line, '"')
    end := strings.LastIndexByte(line, '"')
    if start < 0 || end <= start {
        return nil, fmt.Errorf("unrecognized quote payload: %.80s", line)
    }
    payload := line[start+1 : end]
    if strings.TrimSpace(payload) == "" {
        return nil, nil
    }
    return strings.Split(payload, ","), nil
}

var bareKeyRe = regexp.MustCompile(`([,{])\s*([A-Za-z_][A-Za-z0-9_]*)\s*:`)

func (p *Provider) listPage(ctx context.Context, page int) ([]map[string]any, error) {
    url := fmt.Sprintf("%s/quotes_service/api/json_v2.php/Market_Center.getHQNodeData?page=%d&num=%d&sort=symbol&asc=1&node=hs_a",
        p.cfg.ListBaseURL, page, p.cfg.PageSize)
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
    if err != nil {
        return nil, err
    }
    req.Header.Set("Referer", "https://finance.sina.com.cn")

    resp, err := p.client.Do(ctx, req)
    if err != nil {
        return nil, err
    }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK {
        return nil, fmt.Errorf("GET list page %d -> %d", page, resp.StatusCode)
    }
    body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
    if err != nil {
        return nil, err
    }
    trimmed := strings.TrimSpace(string(body))
    if trimmed == "" || trimmed == "null" {
        return nil, nil
    }
    // The endpoint emits a JS array literal with unquoted keys.
    fixed := bareKeyRe.ReplaceAll([]byte(trimmed), []byte(`$1"$2":`))
    dec := json.NewDecoder(bytes.NewReader(fixed))
    dec.UseNumber()
    var rows []map[string]any
    if err := dec.Decode(&rows); err != nil {
        return nil, fmt.Errorf("decode list page %d: %w", page, err)
    }
    return rows, nil
}

func (p *Provider) wrap(op provider.Capability, err error) error {
    return &provider.FetchError{Provider: p.cfg.Name, Op: op, Err: err}
}

// exchangeCode prefixes the market: sh for Shanghai 6xxxxx, sz otherwise.
func exchangeCode(symbol string) string {
    s := strings.ToLower(strings.TrimSpace(symbol))
    if strings.HasPrefix(s, "sh") || strings.HasPrefix(s, "sz") || strings.HasPrefix(s, "bj") {
        return s
    }
    code := bareCode(symbol)
    if strings.HasPrefix(code, "6") {
        return "sh" + code
    }
    return "sz" + code
}

func bareCode(symbol string) string {
    s := strings.TrimSpace(strings.ToUpper(symbol))
    if idx := strings.IndexByte(s, '.'); idx > 0 {
        return s[:idx]
    }
    return strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(s), "sh"), "sz")
}

func field(fields []string, i int) float64 {
    if i >= len(fields) {
        return 0
    }
    f, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
    if err != nil {
        return 0
    }
    return f
}

func dateField(fields []string, i int) string {
    if fields == nil || i >= len(fields) {
        return ""
    }
    return strings.ReplaceAll(strings.TrimSpace(fields[i]), "-", "")
}

func str(v any) string {
    s, _ := v.(string)
    return s
}

// loose parses a value that may arrive as a JSON number or a quoted decimal.
func loose(v any) float64 {
    switch x := v.(type) {
    case json.Number:
        f, _ := x.Float64()
        return f
    case string:
        f, _ := strconv.ParseFloat(strings.TrimSpace(x), 64)
        return f
    case float64:
        return x
    default:
        return 0
    }
}
