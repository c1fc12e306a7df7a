package finance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"case-forge/config"
	"case-forge/models"
	"case-forge/providers"
)

func TestFetchWithoutTickerMakesNoCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	f := NewFetcher(&config.Config{FMPKey: "k", FMPBaseURL: srv.URL, SnippetMaxChars: 1200}, zap.NewNop())
	q := providers.Query{Topic: "Acme Corp"}
	assert.False(t, f.Applicable(q))
	res := f.Fetch(context.Background(), q)
	assert.Empty(t, res.Items)
	assert.Zero(t, res.QueriesTried)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestFetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/profile/ACME", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("apikey"))
		w.Write([]byte(`[{"symbol":"ACME","companyName":"Acme Corp","price":12.5,"changes":-0.75,"currency":"INR","mktCap":1000000,"exchangeShortName":"NSE","sector":"Financial Services","industry":"Brokerage","description":"Acme Corp runs a commodity exchange."}]`))
	}))
	defer srv.Close()

	f := NewFetcher(&config.Config{FMPKey: "k", FMPBaseURL: srv.URL, SnippetMaxChars: 1200}, zap.NewNop())
	q := providers.Query{Topic: "Acme Corp", Ticker: " acme "}
	require.True(t, f.Applicable(q))

	res := f.Fetch(context.Background(), q)
	require.Len(t, res.Items, 1)
	item := res.Items[0]
	assert.Equal(t, models.SourceTypeFinance, item.Type)
	assert.Equal(t, "Acme Corp (ACME) market profile", item.Title)
	assert.Contains(t, item.Snippet, "last traded at 12.50 INR (change -0.75)")
	assert.Contains(t, item.Snippet, "Exchange: NSE.")
	require.NotNil(t, item.Extra.Finance)
	assert.Equal(t, 12.5, item.Extra.Finance.Price)
	assert.Equal(t, "Brokerage", item.Extra.Finance.Industry)
}

func TestFetchEmptyProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	f := NewFetcher(&config.Config{FMPKey: "k", FMPBaseURL: srv.URL}, zap.NewNop())
	assert.Empty(t, f.Fetch(context.Background(), providers.Query{Ticker: "NONE"}).Items)
}
