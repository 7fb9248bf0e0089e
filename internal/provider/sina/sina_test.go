package sina

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quotehub/internal/httpx"
	"quotehub/internal/provider"
)

const quoteLine = `var hq_str_sh600000="浦发银行,10.00,10.20,10.50,11.00,9.80,10.49,10.50,1000000,10500000,` +
	`100,10.49,200,10.48,300,10.47,400,10.46,500,10.45,100,10.51,200,10.52,300,10.53,400,10.54,500,10.55,` +
	`2025-03-11,15:00:03,00";`

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		QuoteBaseURL: srv.URL,
		ListBaseURL:  srv.URL,
		PageSize:     2,
	}, httpx.New(2*time.Second))
}

func TestFetchQuote_ParsesTextAssignment(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "https://finance.sina.com.cn", r.Header.Get("Referer"))
		require.Contains(t, r.URL.RawQuery+r.URL.Path, "sh600000")
		fmt.Fprint(w, quoteLine)
	}))

	q, err := p.FetchQuote(context.Background(), "600000")
	require.NoError(t, err)
	require.NotNil(t, q)
	require.Equal(t, "600000", q.Symbol)
	require.Equal(t, 10.0, q.Open)
	require.Equal(t, 10.2, q.PrevClose)
	require.Equal(t, 10.5, q.Close)
	require.Equal(t, 1000000.0, q.Volume)
	require.Equal(t, "20250311", q.TradeDate)
	require.InDelta(t, 2.94, q.PctChange, 0.01)
}

func TestFetchQuote_EmptyAssignmentMeansNoData(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `var hq_str_sz999999="";`)
	}))

	q, err := p.FetchQuote(context.Background(), "999999")
	require.NoError(t, err)
	require.Nil(t, q)
}

func TestFetchSnapshot_PagesThroughLooseJSON(t *testing.T) {
	pages := map[string]string{
		"1": `[{symbol:"sh600000",code:"600000",trade:"10.50",settlement:"10.20",open:"10.00",high:"11.00",low:"9.80",changepercent:2.94,volume:1000000,amount:10500000},
              {symbol:"sz000001",code:"000001",trade:"12.20",settlement:"12.00",open:"12.00",high:"12.40",low:"11.90",changepercent:1.67,volume:2000000,amount:24400000}]`,
		"2": `[{symbol:"sz300999",code:"300999",trade:"0.00",settlement:"8.00",open:"0.00",high:"0.00",low:"0.00",changepercent:0,volume:0,amount:0}]`,
	}
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Query().Get("page")]
		require.True(t, ok, "unexpected page %s", r.URL.Query().Get("page"))
		fmt.Fprint(w, body)
	}))

	recs, err := p.FetchSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2, "zero-price suspended row is dropped, pagination stops at the short page")
	require.Equal(t, "600000", recs[0].Symbol)
	require.Equal(t, 10.5, recs[0].Close)
	require.Equal(t, 2.94, recs[0].PctChange)
	require.Equal(t, "sina", recs[0].Source)
}

func TestLatestTradeDate(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, quoteLine)
	}))

	d, err := p.LatestTradeDate(context.Background())
	require.NoError(t, err)
	require.Equal(t, "20250311", d)
}

func TestUnsupportedCapabilities(t *testing.T) {
	p := New(Config{}, httpx.New(time.Second))

	_, err := p.FetchHistory(context.Background(), "600000", provider.Range{})
	require.ErrorIs(t, err, provider.ErrUnsupported)
	_, err = p.FetchFundamentals(context.Background(), "600000")
	require.ErrorIs(t, err, provider.ErrUnsupported)
	_, err = p.FetchNews(context.Background(), "600000", time.Hour)
	require.ErrorIs(t, err, provider.ErrUnsupported)
}

func TestExchangeCode(t *testing.T) {
	require.Equal(t, "sh600000", exchangeCode("600000"))
	require.Equal(t, "sz000001", exchangeCode("000001"))
	require.Equal(t, "sh600519", exchangeCode("sh600519"))
}
