package resolver

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "quotehub/internal/provider"
    "quotehub/internal/provider/cache"
)

func quoteOK(close float64) func(ctx context.Context, symbol string) (*provider.QuoteRecord, error) {
    return func(ctx context.Context, symbol string) (*provider.QuoteRecord, error) {
        return &provider.QuoteRecord{Symbol: symbol, Close: close, ReceivedAt: time.Now()}, nil
    }
}

func quoteErr(err error) func(ctx context.Context, symbol string) (*provider.QuoteRecord, error) {
    return func(ctx context.Context, symbol string) (*provider.QuoteRecord, error) {
        return nil, err
    }
}

func TestQuote_FallsBackInOrder(t *testing.T) {
    adapters := map[string]provider.Adapter{
        "a": &fakeAdapter{name: "a", available: true, quote: quoteErr(errors.New("boom"))},
        "b": &fakeAdapter{name: "b", available: true, quote: quoteOK(10.5)},
    }
    e := NewExecutor(adapters, nil, time.Second, nil)

    q, id, attempts := e.Quote(context.Background(), []string{"a", "b"}, "600000")
    require.NotNil(t, q)
    require.Equal(t, 10.5, q.Close)
    require.Equal(t, "b", id)
    require.Len(t, attempts, 2)
    require.Equal(t, Attempt{Provider: "a", Outcome: OutcomeError, Err: "boom", Elapsed: attempts[0].Elapsed}, attempts[0])
    require.Equal(t, OutcomeSuccess, attempts[1].Outcome)
}

func TestQuote_StopsOnFirstSuccess(t *testing.T) {
    calls := 0
    adapters := map[string]provider.Adapter{
        "a": &fakeAdapter{name: "a", available: true, quote: quoteOK(9.9)},
        "b": &fakeAdapter{name: "b", available: true, quote: func(ctx context.Context, symbol string) (*provider.QuoteRecord, error) {
            calls++
            return nil, errors.New("must not be reached")
        }},
    }
    e := NewExecutor(adapters, nil, time.Second, nil)

    q, id, attempts := e.Quote(context.Background(), []string{"a", "b"}, "600000")
    require.NotNil(t, q)
    require.Equal(t, "a", id)
    require.Len(t, attempts, 1)
    require.Zero(t, calls)
}

func TestQuote_EmptyResultContinuesChain(t *testing.T) {
    adapters := map[string]provider.Adapter{
        "a": &fakeAdapter{name: "a", available: true, quote: quoteOK(0)}, // structurally present but unusable
        "b": &fakeAdapter{name: "b", available: true, quote: quoteOK(12)},
    }
    e := NewExecutor(adapters, nil, time.Second, nil)

    q, id, attempts := e.Quote(context.Background(), []string{"a", "b"}, "600000")
    require.NotNil(t, q)
    require.Equal(t, "b", id)
    require.Equal(t, OutcomeEmpty, attempts[0].Outcome)
}

func TestQuote_AllExhaustedReturnsEmptyNotError(t *testing.T) {
    adapters := map[string]provider.Adapter{
        "a": &fakeAdapter{name: "a", available: true, quote: quoteErr(errors.New("x"))},
        "b": &fakeAdapter{name: "b", available: true, quote: quoteErr(errors.New("y"))},
    }
    e := NewExecutor(adapters, nil, time.Second, nil)

    q, id, attempts := e.Quote(context.Background(), []string{"a", "b"}, "600000")
    require.Nil(t, q)
    require.Empty(t, id)
    require.Len(t, attempts, 2)
}

func TestQuote_PanickingAdapterIsContained(t *testing.T) {
    adapters := map[string]provider.Adapter{
        "a": &fakeAdapter{name: "a", available: true, quote: func(ctx context.Context, symbol string) (*provider.QuoteRecord, error) {
            panic("vendor sdk bug")
        }},
        "b": &fakeAdapter{name: "b", available: true, quote: quoteOK(11)},
    }
    e := NewExecutor(adapters, nil, time.Second, nil)

    q, id, attempts := e.Quote(context.Background(), []string{"a", "b"}, "600000")
    require.NotNil(t, q)
    require.Equal(t, "b", id)
    require.Equal(t, OutcomeError, attempts[0].Outcome)
    require.Contains(t, attempts[0].Err, "adapter panic")
}

func TestQuote_UnsupportedCapabilitySkips(t *testing.T) {
    adapters := map[string]provider.Adapter{
        "a": &fakeAdapter{name: "a", available: true}, // quote unsupported
        "b": &fakeAdapter{name: "b", available: true, quote: quoteOK(8)},
    }
    e := NewExecutor(adapters, nil, time.Second, nil)

    _, id, attempts := e.Quote(context.Background(), []string{"a", "b"}, "600000")
    require.Equal(t, "b", id)
    require.Equal(t, OutcomeUnsupported, attempts[0].Outcome)
}

func TestQuote_SuccessStoresToCache(t *testing.T) {
    adapters := map[string]provider.Adapter{
        "a": &fakeAdapter{name: "a", available: true, quote: quoteOK(10.5)},
    }
    mem := cache.NewMemory(0)
    e := NewExecutor(adapters, mem, time.Second, nil)

    _, _, _ = e.Quote(context.Background(), []string{"a"}, "600000")

    raw, ok := mem.Lookup(context.Background(), CacheKey(provider.CapQuote, "600000"), time.Minute)
    require.True(t, ok)
    require.Contains(t, string(raw), `"close":10.5`)
}

func TestQuote_CancelledCallerStopsChain(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    adapters := map[string]provider.Adapter{
        "a": &fakeAdapter{name: "a", available: true, quote: func(ctx context.Context, symbol string) (*provider.QuoteRecord, error) {
            cancel()
            return nil, errors.New("slow")
        }},
        "b": &fakeAdapter{name: "b", available: true, quote: quoteOK(10)},
    }
    e := NewExecutor(adapters, nil, time.Second, nil)

    q, _, attempts := e.Quote(ctx, []string{"a", "b"}, "600000")
    require.Nil(t, q)
    require.Len(t, attempts, 1, "second candidate must not run after cancellation")
}

func TestTradeDate_ValidatesFormat(t *testing.T) {
    adapters := map[string]provider.Adapter{
        "a": &fakeAdapter{name: "a", available: true, trade: func(ctx context.Context) (string, error) {
            return "not-a-date", nil
        }},
        "b": &fakeAdapter{name: "b", available: true, trade: func(ctx context.Context) (string, error) {
            return "20250310", nil
        }},
    }
    e := NewExecutor(adapters, nil, time.Second, nil)

    d, id, attempts := e.TradeDate(context.Background(), []string{"a", "b"})
    require.Equal(t, "20250310", d)
    require.Equal(t, "b", id)
    require.Equal(t, OutcomeEmpty, attempts[0].Outcome)
}

func TestSnapshot_EmptyBatchContinues(t *testing.T) {
    adapters := map[string]provider.Adapter{
        "a": &fakeAdapter{name: "a", available: true, snapshot: func(ctx context.Context) ([]provider.QuoteRecord, error) {
            return nil, nil
        }},
        "b": &fakeAdapter{name: "b", available: true, snapshot: func(ctx context.Context) ([]provider.QuoteRecord, error) {
            return []provider.QuoteRecord{{Symbol: "600000", Close: 10}}, nil
        }},
    }
    e := NewExecutor(adapters, nil, time.Second, nil)

    recs, id, _ := e.Snapshot(context.Background(), []string{"a", "b"})
    require.Len(t, recs, 1)
    require.Equal(t, "b", id)
}
