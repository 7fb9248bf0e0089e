package provider

import (
    "context"
    "errors"
    "fmt"
    "time"
)

// Capability names an operation a vendor may support.
type Capability string

const (
    CapQuote        Capability = "quote"
    CapHistory      Capability = "history"
    CapFundamentals Capability = "fundamentals"
    CapNews         Capability = "news"
    CapSnapshot     Capability = "snapshot"
)

// Tier is a provider's subscription level. It decides whether quota checks
// apply at all.
type Tier string

const (
    TierUnknown   Tier = "unknown"
    TierLimited   Tier = "limited"
    TierUnlimited Tier = "unlimited"
)

// QuoteRecord is the normalized quote shape returned by all providers.
type QuoteRecord struct {
    Symbol     string    `json:"symbol"`
    Open       float64   `json:"open"`
    High       float64   `json:"high"`
    Low        float64   `json:"low"`
    Close      float64   `json:"close"`
    Volume     float64   `json:"volume"`
    Amount     float64   `json:"amount"`
    PrevClose  float64   `json:"prev_close"`
    PctChange  float64   `json:"pct_change"`
    TradeDate  string    `json:"trade_date"`
    Source     string    `json:"source"`
    ReceivedAt time.Time `json:"received_at"`
}

// Valid reports whether the record carries a usable payload.
func (q *QuoteRecord) Valid() bool {
    return q != nil && q.Symbol != "" && q.Close > 0
}

// Bar is one OHLCV candle of daily history.
type Bar struct {
    Date   string  `json:"date"` // YYYYMMDD
    Open   float64 `json:"open"`
    High   float64 `json:"high"`
    Low    float64 `json:"low"`
    Close  float64 `json:"close"`
    Volume float64 `json:"volume"`
}

// Range bounds a history request, dates in YYYYMMDD.
type Range struct {
    Start string `json:"start"`
    End   string `json:"end"`
}

// Fundamentals carries the valuation fields vendors commonly expose.
type Fundamentals struct {
    Symbol    string  `json:"symbol"`
    PE        float64 `json:"pe"`
    PB        float64 `json:"pb"`
    EPS       float64 `json:"eps"`
    ROE       float64 `json:"roe"`
    MarketCap float64 `json:"market_cap"`
    AsOf      string  `json:"as_of"` // YYYYMMDD
}

// NewsItem is one normalized news entry.
type NewsItem struct {
    Title       string    `json:"title"`
    Source      string    `json:"source"`
    URL         string    `json:"url"`
    Symbol      string    `json:"symbol,omitempty"`
    PublishedAt time.Time `json:"published_at"`
}

// Adapter is the uniform surface every vendor integration implements.
// Capabilities the vendor does not offer return ErrUnsupported instead of
// being absent from the interface.
type Adapter interface {
    Name() string
    IsAvailable() bool
    FetchQuote(ctx context.Context, symbol string) (*QuoteRecord, error)
    FetchHistory(ctx context.Context, symbol string, r Range) ([]Bar, error)
    FetchFundamentals(ctx context.Context, symbol string) (*Fundamentals, error)
    FetchNews(ctx context.Context, symbol string, window time.Duration) ([]NewsItem, error)
    // FetchSnapshot returns a market-wide near-realtime quote batch.
    FetchSnapshot(ctx context.Context) ([]QuoteRecord, error)
    // LatestTradeDate returns the most recent trading date as YYYYMMDD.
    LatestTradeDate(ctx context.Context) (string, error)
}

// PremiumProber is implemented by adapters whose subscription tier can be
// detected by calling a premium-only endpoint once.
type PremiumProber interface {
    ProbePremium(ctx context.Context) error
}

// ErrUnsupported marks a capability the vendor does not offer.
var ErrUnsupported = errors.New("capability not supported")

// ErrPermissionDenied marks a vendor response rejecting the account's tier.
var ErrPermissionDenied = errors.New("permission denied")

// FetchError is the single normalized failure type adapters raise.
type FetchError struct {
    Provider string
    Op       Capability
    Err      error
}

func (e *FetchError) Error() string {
    return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Descriptor describes one configured provider. The set is loaded whole from
// configuration and never partially updated.
type Descriptor struct {
    ID           string
    Tier         Tier
    Priority     int
    Enabled      bool
    Capabilities []Capability
    // MarketScopes limits the descriptor to market categories. Empty means
    // all markets.
    MarketScopes []string
    // Sliding-window quota for the limited tier.
    MaxCallsPerWindow int
    WindowDuration    time.Duration
}

// Supports reports whether the descriptor lists the capability.
func (d Descriptor) Supports(c Capability) bool {
    for _, have := range d.Capabilities {
        if have == c {
            return true
        }
    }
    return false
}

// InScope reports whether the descriptor applies to the market category.
func (d Descriptor) InScope(market string) bool {
    if len(d.MarketScopes) == 0 || market == "" {
        return true
    }
    for _, m := range d.MarketScopes {
        if m == market {
            return true
        }
    }
    return false
}
