package newsapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"case-forge/config"
	"case-forge/providers"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		NewsAPIKey:          "secret",
		NewsAPIBaseURL:      baseURL,
		NewsAPIStrictFilter: true,
		NewsTargetResults:   8,
		NewsFullMaxChars:    8000,
		SnippetMaxChars:     1200,
	}
}

func acmeQuery() providers.Query {
	return providers.Query{Topic: "Acme Corp", RequiredTokens: providers.RequiredTokens("Acme Corp")}
}

func TestQueryVariants(t *testing.T) {
	from := time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC)
	q := acmeQuery()
	q.Summary = "Acme Corp allegedly inflated revenue via circular trading."
	q.From = &from
	assert.Equal(t, []string{
		`"Acme Corp"`,
		`Acme AND Corp`,
		`"Acme Corp" inflated revenue`,
		`"Acme Corp" 2019`,
		`Acme Corp`,
	}, QueryVariants(q))

	assert.Equal(t, []string{`"Enron"`, `Enron`}, QueryVariants(providers.Query{Topic: "Enron", RequiredTokens: []string{"Enron"}}))
}

func TestFetchStrictFilterRelaxesWhenNothingMatches(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/v2/everything", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.Write([]byte(`{"status":"ok","totalResults":2,"articles":[
			{"source":{"name":"Wire"},"title":"Acme quarterly update","description":"Acme posts numbers.","url":"https://news/1","publishedAt":"2024-01-02T03:04:05Z","content":"Acme posts numbers. More text… [+120 chars]"},
			{"source":{"name":"Daily"},"title":"Markets wrap","description":"Stocks drift lower.","url":"https://news/2","publishedAt":"bad","content":""}
		]}`))
	}))
	defer srv.Close()

	f := NewFetcher(testConfig(srv.URL), zap.NewNop())
	res := f.Fetch(context.Background(), acmeQuery())

	assert.True(t, res.Relaxed)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "https://news/1", res.Items[0].URL)
	assert.Equal(t, "https://news/2", res.Items[1].URL)
	assert.Equal(t, 3, res.QueriesTried)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	first := res.Items[0]
	require.NotNil(t, first.PublishedAt)
	assert.Equal(t, 1, first.Extra.News.TokenHits)
	assert.False(t, first.Extra.News.AllTokens)
	assert.True(t, first.Extra.News.Relaxed)
	assert.Equal(t, "Acme posts numbers.\n\nAcme posts numbers. More text", first.Extra.News.Full)
	assert.Nil(t, res.Items[1].PublishedAt)
}

func TestFetchStopsWhenTargetReached(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"status":"ok","articles":[
			{"title":"Acme Corp under probe","description":"Regulators examine Acme Corp books.","url":"https://news/a"},
			{"title":"Unrelated","description":"Weather report.","url":"https://news/b"}
		]}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.NewsTargetResults = 1
	res := NewFetcher(cfg, zap.NewNop()).Fetch(context.Background(), acmeQuery())

	assert.False(t, res.Relaxed)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "https://news/a", res.Items[0].URL)
	assert.True(t, res.Items[0].Extra.News.AllTokens)
	assert.Equal(t, `"Acme Corp"`, res.Items[0].Extra.News.Query)
	assert.Equal(t, 1, res.QueriesTried)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestFetchHTTPErrorsAreSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"status":"error","code":"apiKeyInvalid","message":"bad key"}`))
	}))
	defer srv.Close()

	res := NewFetcher(testConfig(srv.URL), zap.NewNop()).Fetch(context.Background(), acmeQuery())
	assert.Empty(t, res.Items)
	assert.False(t, res.Relaxed)
}

func TestNotApplicableWithoutKey(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.NewsAPIKey = ""
	f := NewFetcher(cfg, zap.NewNop())
	assert.False(t, f.Applicable(acmeQuery()))
	assert.Empty(t, f.Fetch(context.Background(), acmeQuery()).Items)
}
