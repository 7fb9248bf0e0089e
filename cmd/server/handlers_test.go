package main

import (
    "context"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/stretchr/testify/require"
    "go.uber.org/zap"

    "quotehub/internal/config"
    "quotehub/internal/marketdata"
    "quotehub/internal/provider"
    "quotehub/internal/resolver"
    "quotehub/internal/store"
)

func emptyService(st store.Store) *marketdata.Service {
    res := resolver.New(config.NewSource(config.Config{}), nil, nil, zap.NewNop())
    exec := resolver.NewExecutor(nil, nil, time.Second, zap.NewNop())
    return marketdata.New(res, exec, nil, st, marketdata.TTLs{}, zap.NewNop())
}

func TestSnapshotHandler(t *testing.T) {
    st := store.NewMemory()
    require.NoError(t, st.UpsertMany(context.Background(), []store.Snapshot{{
        Symbol: "600000", Close: 10.5, TradeDate: "20250311",
        SourceProvider: "eastmoney", UpdatedAt: time.Now(),
    }}))
    h := snapshotHandler(st)

    rec := httptest.NewRecorder()
    h(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot?symbol=600000", nil))
    require.Equal(t, http.StatusOK, rec.Code)
    var snap store.Snapshot
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
    require.Equal(t, 10.5, snap.Close)

    rec = httptest.NewRecorder()
    h(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot?symbol=999999", nil))
    require.Equal(t, http.StatusNotFound, rec.Code)

    rec = httptest.NewRecorder()
    h(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
    require.Equal(t, http.StatusBadRequest, rec.Code)

    rec = httptest.NewRecorder()
    h(rec, httptest.NewRequest(http.MethodPost, "/api/snapshot?symbol=600000", nil))
    require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLookupHandler_ValidationAndNotFound(t *testing.T) {
    h := lookupHandler(emptyService(store.NewMemory()), provider.CapQuote)

    rec := httptest.NewRecorder()
    h(rec, httptest.NewRequest(http.MethodGet, "/api/quote", nil))
    require.Equal(t, http.StatusBadRequest, rec.Code, "symbol is required")

    rec = httptest.NewRecorder()
    h(rec, httptest.NewRequest(http.MethodGet, "/api/quote?symbol=600000", nil))
    require.Equal(t, http.StatusNotFound, rec.Code, "no sources means not found, not an error")

    var res marketdata.Result
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
    require.NotEmpty(t, res.TraceID)
    require.False(t, res.Found())
}

func TestLookupHandler_StoreFallbackServesQuote(t *testing.T) {
    st := store.NewMemory()
    require.NoError(t, st.UpsertMany(context.Background(), []store.Snapshot{{
        Symbol: "600000", Close: 10.5, TradeDate: "20250311",
        SourceProvider: "sina", UpdatedAt: time.Now(),
    }}))
    h := lookupHandler(emptyService(st), provider.CapQuote)

    rec := httptest.NewRecorder()
    h(rec, httptest.NewRequest(http.MethodGet, "/api/quote?symbol=600000", nil))
    require.Equal(t, http.StatusOK, rec.Code)

    var res marketdata.Result
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
    require.Equal(t, "store:sina", res.Provider)
    require.Equal(t, 10.5, res.Quote.Close)
}

func TestLookupHandler_BadNewsWindow(t *testing.T) {
    h := lookupHandler(emptyService(store.NewMemory()), provider.CapNews)

    rec := httptest.NewRecorder()
    h(rec, httptest.NewRequest(http.MethodGet, "/api/news?symbol=600000&window=banana", nil))
    require.Equal(t, http.StatusBadRequest, rec.Code)
}
