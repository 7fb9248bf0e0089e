package marketdata

import (
    "context"
    "encoding/json"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"
    "golang.org/x/sync/singleflight"

    "quotehub/internal/provider"
    "quotehub/internal/provider/cache"
    "quotehub/internal/resolver"
    "quotehub/internal/store"
)

// Request names one on-demand lookup.
type Request struct {
    Capability provider.Capability
    Symbol     string
    Market     string
    // Range applies to history requests.
    Range provider.Range
    // NewsWindow applies to news requests.
    NewsWindow time.Duration
}

// Result is the uniform answer shape. Exactly one payload field matching the
// requested capability is set; an exhausted chain leaves them all nil and is
// not an error.
type Result struct {
    TraceID   string             `json:"trace_id"`
    Provider  string             `json:"provider,omitempty"`
    FromCache bool               `json:"from_cache"`
    Attempts  []resolver.Attempt `json:"attempts,omitempty"`

    Quote        *provider.QuoteRecord  `json:"quote,omitempty"`
    Bars         []provider.Bar         `json:"bars,omitempty"`
    Fundamentals *provider.Fundamentals `json:"fundamentals,omitempty"`
    News         []provider.NewsItem    `json:"news,omitempty"`
}

// Found reports whether the lookup produced a payload.
func (r Result) Found() bool {
    return r.Quote != nil || len(r.Bars) > 0 || r.Fundamentals != nil || len(r.News) > 0
}

// TTLs sets the per-capability cache freshness windows.
type TTLs struct {
    Quote        time.Duration
    History      time.Duration
    Fundamentals time.Duration
    News         time.Duration
}

func (t *TTLs) applyDefaults() {
    if t.Quote <= 0 {
        t.Quote = 10 * time.Second
    }
    if t.History <= 0 {
        t.History = time.Hour
    }
    if t.Fundamentals <= 0 {
        t.Fundamentals = time.Hour
    }
    if t.News <= 0 {
        t.News = 10 * time.Minute
    }
}

// Service is the on-demand lookup facade: cache first, then the resolver
// chain, then the persistent snapshot store for quotes. Concurrent identical
// lookups collapse onto one provider round trip.
type Service struct {
    res   *resolver.Resolver
    exec  *resolver.Executor
    cache cache.Cache
    st    store.Store
    ttl   TTLs
    log   *zap.Logger
    group singleflight.Group
    newID func() string
}

func New(res *resolver.Resolver, exec *resolver.Executor, c cache.Cache, st store.Store, ttl TTLs, log *zap.Logger) *Service {
    ttl.applyDefaults()
    if log == nil {
        log = zap.NewNop()
    }
    return &Service{
        res:   res,
        exec:  exec,
        cache: c,
        st:    st,
        ttl:   ttl,
        log:   log,
        newID: uuid.NewString,
    }
}

// Get answers one lookup. Provider failures along the way are carried in the
// attempt trace; the only returned errors are context cancellations.
func (s *Service) Get(ctx context.Context, req Request) (Result, error) {
    res := Result{TraceID: s.newID()}

    key := s.cacheKey(req)
    if hit, ok := s.fromCache(ctx, key, req); ok {
        hit.TraceID = res.TraceID
        return hit, nil
    }

    v, err, _ := s.group.Do(key, func() (any, error) {
        return s.resolve(ctx, req), nil
    })
    if err != nil {
        return res, err
    }
    if ctx.Err() != nil {
        return res, ctx.Err()
    }

    shared := v.(Result)
    shared.TraceID = res.TraceID
    return shared, nil
}

func (s *Service) cacheKey(req Request) string {
    switch req.Capability {
    case provider.CapHistory:
        return resolver.CacheKey(req.Capability, req.Symbol, req.Range.Start, req.Range.End)
    case provider.CapNews:
        return resolver.CacheKey(req.Capability, req.Symbol, req.NewsWindow.String())
    default:
        return resolver.CacheKey(req.Capability, req.Symbol)
    }
}

func (s *Service) maxAge(cap provider.Capability) time.Duration {
    switch cap {
    case provider.CapHistory:
        return s.ttl.History
    case provider.CapFundamentals:
        return s.ttl.Fundamentals
    case provider.CapNews:
        return s.ttl.News
    default:
        return s.ttl.Quote
    }
}

func (s *Service) fromCache(ctx context.Context, key string, req Request) (Result, bool) {
    if s.cache == nil {
        return Result{}, false
    }
    raw, ok := s.cache.Lookup(ctx, key, s.maxAge(req.Capability))
    if !ok {
        return Result{}, false
    }
    res := Result{FromCache: true}
    var err error
    switch req.Capability {
    case provider.CapQuote:
        err = json.Unmarshal(raw, &res.Quote)
    case provider.CapHistory:
        err = json.Unmarshal(raw, &res.Bars)
    case provider.CapFundamentals:
        err = json.Unmarshal(raw, &res.Fundamentals)
    case provider.CapNews:
        err = json.Unmarshal(raw, &res.News)
    default:
        return Result{}, false
    }
    if err != nil || !res.Found() {
        return Result{}, false
    }
    return res, true
}

func (s *Service) resolve(ctx context.Context, req Request) Result {
    candidates := s.res.Order(ctx, req.Capability, req.Market)
    var res Result
    switch req.Capability {
    case provider.CapQuote:
        res.Quote, res.Provider, res.Attempts = s.exec.Quote(ctx, candidates, req.Symbol)
        if res.Quote == nil {
            s.quoteFromStore(ctx, req.Symbol, &res)
        }
    case provider.CapHistory:
        res.Bars, res.Provider, res.Attempts = s.exec.History(ctx, candidates, req.Symbol, req.Range)
    case provider.CapFundamentals:
        res.Fundamentals, res.Provider, res.Attempts = s.exec.Fundamentals(ctx, candidates, req.Symbol)
    case provider.CapNews:
        res.News, res.Provider, res.Attempts = s.exec.News(ctx, candidates, req.Symbol, req.NewsWindow)
    }
    if !res.Found() {
        s.log.Info("lookup exhausted all sources",
            zap.String("capability", string(req.Capability)),
            zap.String("symbol", req.Symbol),
            zap.Int("attempts", len(res.Attempts)))
    }
    return res
}

// quoteFromStore serves the last ingested snapshot row when every live
// source came up empty.
func (s *Service) quoteFromStore(ctx context.Context, symbol string, res *Result) {
    if s.st == nil {
        return
    }
    snap, err := s.st.FindLatest(ctx, symbol)
    if err != nil || snap == nil {
        return
    }
    res.Provider = "store:" + snap.SourceProvider
    res.Quote = &provider.QuoteRecord{
        Symbol:     snap.Symbol,
        Open:       snap.Open,
        High:       snap.High,
        Low:        snap.Low,
        Close:      snap.Close,
        Volume:     snap.Volume,
        Amount:     snap.Amount,
        PrevClose:  snap.PrevClose,
        PctChange:  snap.PctChange,
        TradeDate:  snap.TradeDate,
        Source:     snap.SourceProvider,
        ReceivedAt: snap.UpdatedAt,
    }
}
