package gnews

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"case-forge/config"
	"case-forge/providers"
	"case-forge/storage"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		GNewsKey:          "gkey",
		GNewsBaseURL:      baseURL,
		GNewsStrictFilter: true,
		GNewsCacheTTL:     6 * time.Hour,
		NewsFullMaxChars:  8000,
		SnippetMaxChars:   1200,
	}
}

func acmeQuery() providers.Query {
	return providers.Query{Topic: "Acme Corp", RequiredTokens: []string{"Acme", "Corp"}}
}

type recorder struct {
	mu      sync.Mutex
	queries []string
}

func (r *recorder) add(q string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, q)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}

func TestKeywordQuery(t *testing.T) {
	assert.Equal(t, `"Acme" AND "Corp"`, KeywordQuery(acmeQuery()))
	assert.Equal(t, "Acme", KeywordQuery(providers.Query{Topic: " Acme "}))
}

func TestFetchNoKeywordFallback(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/search", r.URL.Path)
		assert.Equal(t, "gkey", r.URL.Query().Get("apikey"))
		q := r.URL.Query().Get("q")
		rec.add(q)
		if q == `"Acme" AND "Corp"` {
			w.Write([]byte(`{"totalArticles":0,"articles":[]}`))
			return
		}
		w.Write([]byte(`{"totalArticles":1,"articles":[{"title":"Acme Corp faces probe","description":"Acme Corp shares slump.","content":"Acme Corp shares slump after the audit.","url":"https://g/1","publishedAt":"2024-05-01T10:00:00Z","source":{"name":"G"}}]}`))
	}))
	defer srv.Close()

	f := NewFetcher(testConfig(srv.URL), zap.NewNop(), nil)
	res := f.Fetch(context.Background(), acmeQuery())

	assert.Equal(t, []string{`"Acme" AND "Corp"`, "Acme Corp"}, rec.all())
	assert.Equal(t, 2, res.QueriesTried)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "gnews", res.Items[0].Provider)
	assert.Equal(t, "Acme Corp", res.Items[0].Extra.News.Query)
	assert.True(t, res.Items[0].Extra.News.AllTokens)
}

func TestFetchUsesCachePerTopic(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.URL.Query().Get("q"))
		w.Write([]byte(`{"totalArticles":1,"articles":[{"title":"Acme results","description":"Acme numbers.","url":"https://g/2"}]}`))
	}))
	defer srv.Close()

	cache := storage.NewMemoryCache()
	f := NewFetcher(testConfig(srv.URL), zap.NewNop(), cache)

	first := f.Fetch(context.Background(), acmeQuery())
	second := f.Fetch(context.Background(), providers.Query{Topic: "acme corp ", RequiredTokens: []string{"Acme", "Corp"}})

	assert.Len(t, rec.all(), 1)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.True(t, first.Relaxed)
	assert.True(t, second.Relaxed)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "https://g/2", second.Items[0].URL)
}

func TestFetchFailureIsNotCached(t *testing.T) {
	fail := true
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"articles":[{"title":"Acme Corp update","description":"Acme Corp.","url":"https://g/3"}]}`))
	}))
	defer srv.Close()

	f := NewFetcher(testConfig(srv.URL), zap.NewNop(), nil)
	assert.Empty(t, f.Fetch(context.Background(), acmeQuery()).Items)

	mu.Lock()
	fail = false
	mu.Unlock()
	res := f.Fetch(context.Background(), acmeQuery())
	assert.False(t, res.Cached)
	assert.Len(t, res.Items, 1)
}
