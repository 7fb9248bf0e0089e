package resolver

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "regexp"
    "strings"
    "time"

    "go.uber.org/zap"

    "quotehub/internal/provider"
    "quotehub/internal/provider/cache"
)

// Outcome classifies one provider attempt.
type Outcome string

const (
    OutcomeSuccess     Outcome = "success"
    OutcomeEmpty       Outcome = "empty"
    OutcomeError       Outcome = "error"
    OutcomeUnsupported Outcome = "unsupported"
)

// Attempt records one provider try within a resolution. The trace is for
// logging and assertions only; it is never persisted.
type Attempt struct {
    Provider string
    Outcome  Outcome
    Err      string
    Elapsed  time.Duration
}

// CacheKey builds the lookaside key shared by the executor's stores and the
// service's cache-first lookups.
func CacheKey(op provider.Capability, parts ...string) string {
    if len(parts) == 0 {
        return string(op)
    }
    return string(op) + ":" + strings.Join(parts, ":")
}

// Executor tries candidates strictly in order with a bounded per-attempt
// timeout. Provider failures never escape this boundary: every attempt is
// classified and the next candidate is tried. Exhausting all candidates is
// an explicit empty result, not an error.
type Executor struct {
    adapters map[string]provider.Adapter
    cache    cache.Cache
    timeout  time.Duration
    log      *zap.Logger
}

func NewExecutor(adapters map[string]provider.Adapter, c cache.Cache, timeout time.Duration, log *zap.Logger) *Executor {
    if timeout <= 0 {
        timeout = 10 * time.Second
    }
    if log == nil {
        log = zap.NewNop()
    }
    return &Executor{adapters: adapters, cache: c, timeout: timeout, log: log}
}

// attemptFunc runs one capability verb against one adapter. empty means the
// call succeeded structurally but carried no usable payload.
type attemptFunc func(ctx context.Context, a provider.Adapter) (payload any, empty bool, err error)

func (e *Executor) run(ctx context.Context, candidates []string, op provider.Capability, cacheKey string, fn attemptFunc) (any, string, []Attempt) {
    attempts := make([]Attempt, 0, len(candidates))
    for _, id := range candidates {
        a, ok := e.adapters[id]
        if !ok {
            attempts = append(attempts, Attempt{Provider: id, Outcome: OutcomeError, Err: "adapter not registered"})
            continue
        }

        start := time.Now()
        payload, empty, err := e.invoke(ctx, a, fn)
        elapsed := time.Since(start)

        switch {
        case err != nil && errors.Is(err, provider.ErrUnsupported):
            attempts = append(attempts, Attempt{Provider: id, Outcome: OutcomeUnsupported, Elapsed: elapsed})
        case err != nil:
            attempts = append(attempts, Attempt{Provider: id, Outcome: OutcomeError, Err: err.Error(), Elapsed: elapsed})
            e.log.Warn("provider attempt failed",
                zap.String("provider", id), zap.String("op", string(op)), zap.Error(err))
        case empty:
            attempts = append(attempts, Attempt{Provider: id, Outcome: OutcomeEmpty, Elapsed: elapsed})
            e.log.Info("provider returned empty result",
                zap.String("provider", id), zap.String("op", string(op)))
        default:
            attempts = append(attempts, Attempt{Provider: id, Outcome: OutcomeSuccess, Elapsed: elapsed})
            e.storeCache(ctx, cacheKey, payload)
            return payload, id, attempts
        }

        // A cancelled caller stops the chain without side effects.
        if ctx.Err() != nil {
            break
        }
    }
    return nil, "", attempts
}

// invoke applies the bounded per-attempt timeout and converts panics from
// misbehaving adapters into ordinary errors.
func (e *Executor) invoke(ctx context.Context, a provider.Adapter, fn attemptFunc) (payload any, empty bool, err error) {
    cctx, cancel := context.WithTimeout(ctx, e.timeout)
    defer cancel()
    defer func() {
        if rec := recover(); rec != nil {
            payload, empty = nil, false
            err = fmt.Errorf("adapter panic: %v", rec)
        }
    }()
    return fn(cctx, a)
}

// storeCache is best effort: a failed or absent cache never blocks the
// resolution.
func (e *Executor) storeCache(ctx context.Context, key string, payload any) {
    if e.cache == nil || key == "" || payload == nil {
        return
    }
    raw, err := json.Marshal(payload)
    if err != nil {
        return
    }
    e.cache.Store(ctx, key, raw)
}

// Quote resolves one symbol's realtime quote across the candidates.
func (e *Executor) Quote(ctx context.Context, candidates []string, symbol string) (*provider.QuoteRecord, string, []Attempt) {
    payload, id, attempts := e.run(ctx, candidates, provider.CapQuote, CacheKey(provider.CapQuote, symbol),
        func(ctx context.Context, a provider.Adapter) (any, bool, error) {
            q, err := a.FetchQuote(ctx, symbol)
            if err != nil {
                return nil, false, err
            }
            return q, !q.Valid(), nil
        })
    if payload == nil {
        return nil, "", attempts
    }
    return payload.(*provider.QuoteRecord), id, attempts
}

// History resolves daily bars for one symbol across the candidates.
func (e *Executor) History(ctx context.Context, candidates []string, symbol string, r provider.Range) ([]provider.Bar, string, []Attempt) {
    payload, id, attempts := e.run(ctx, candidates, provider.CapHistory, CacheKey(provider.CapHistory, symbol, r.Start, r.End),
        func(ctx context.Context, a provider.Adapter) (any, bool, error) {
            bars, err := a.FetchHistory(ctx, symbol, r)
            if err != nil {
                return nil, false, err
            }
            return bars, len(bars) == 0, nil
        })
    if payload == nil {
        return nil, "", attempts
    }
    return payload.([]provider.Bar), id, attempts
}

// Fundamentals resolves valuation fields for one symbol across the candidates.
func (e *Executor) Fundamentals(ctx context.Context, candidates []string, symbol string) (*provider.Fundamentals, string, []Attempt) {
    payload, id, attempts := e.run(ctx, candidates, provider.CapFundamentals, CacheKey(provider.CapFundamentals, symbol),
        func(ctx context.Context, a provider.Adapter) (any, bool, error) {
            f, err := a.FetchFundamentals(ctx, symbol)
            if err != nil {
                return nil, false, err
            }
            return f, f == nil || f.Symbol == "", nil
        })
    if payload == nil {
        return nil, "", attempts
    }
    return payload.(*provider.Fundamentals), id, attempts
}

// News resolves recent news across the candidates. symbol may be empty for
// market-wide news.
func (e *Executor) News(ctx context.Context, candidates []string, symbol string, window time.Duration) ([]provider.NewsItem, string, []Attempt) {
    payload, id, attempts := e.run(ctx, candidates, provider.CapNews, CacheKey(provider.CapNews, symbol, window.String()),
        func(ctx context.Context, a provider.Adapter) (any, bool, error) {
            items, err := a.FetchNews(ctx, symbol, window)
            if err != nil {
                return nil, false, err
            }
            return items, len(items) == 0, nil
        })
    if payload == nil {
        return nil, "", attempts
    }
    return payload.([]provider.NewsItem), id, attempts
}

// Snapshot resolves a market-wide quote batch across the candidates. Batches
// are not cached; they go straight to the persistent store.
func (e *Executor) Snapshot(ctx context.Context, candidates []string) ([]provider.QuoteRecord, string, []Attempt) {
    payload, id, attempts := e.run(ctx, candidates, provider.CapSnapshot, "",
        func(ctx context.Context, a provider.Adapter) (any, bool, error) {
            recs, err := a.FetchSnapshot(ctx)
            if err != nil {
                return nil, false, err
            }
            return recs, len(recs) == 0, nil
        })
    if payload == nil {
        return nil, "", attempts
    }
    return payload.([]provider.QuoteRecord), id, attempts
}

var tradeDateRe = regexp.MustCompile(`^\d{8}$`)

// TradeDate resolves the latest trading date label via its own fallback
// chain, independent of the snapshot fetch.
func (e *Executor) TradeDate(ctx context.Context, candidates []string) (string, string, []Attempt) {
    payload, id, attempts := e.run(ctx, candidates, provider.CapSnapshot, "",
        func(ctx context.Context, a provider.Adapter) (any, bool, error) {
            d, err := a.LatestTradeDate(ctx)
            if err != nil {
                return nil, false, err
            }
            return d, !tradeDateRe.MatchString(d), nil
        })
    if payload == nil {
        return "", "", attempts
    }
    return payload.(string), id, attempts
}
