package gnews

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"case-forge/config"
	"case-forge/models"
	"case-forge/providers"
	"case-forge/storage"
)

const (
	providerName = "gnews"
	maxResults   = 10
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Fetcher implementiert den News-Connector mit Schlüsselwortsuche. Ergebnisse werden
// pro Thema gecacht, um das Tageskontingent der API zu schonen.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
	Cache  storage.Cache
}

// NewFetcher erstellt einen neuen GNews Fetcher. Ohne Cache wird ein In-Memory-Cache verwendet.
func NewFetcher(cfg *config.Config, logger *zap.Logger, cache storage.Cache) *Fetcher {
	if cache == nil {
		cache = storage.NewMemoryCache()
	}
	return &Fetcher{Config: cfg, Logger: logger, Cache: cache}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return providerName
}

// Applicable: ohne API-Schlüssel ist der Connector deaktiviert.
func (f *Fetcher) Applicable(q providers.Query) bool {
	return f.Config.GNewsKey != "" && strings.TrimSpace(q.Topic) != ""
}

type cachedResult struct {
	Raw []models.SourceItem `json:"raw"`
}

// Fetch führt die Schlüsselwortsuche aus, bei null Treffern einmal ohne Schlüsselwörter.
func (f *Fetcher) Fetch(ctx context.Context, q providers.Query) providers.Result {
	log := f.Logger.With(zap.String("provider", providerName), zap.String("topic", q.Topic))
	var res providers.Result
	if f.Config.GNewsKey == "" {
		log.Debug("Kein GNews-Schlüssel konfiguriert, überspringe.")
		return res
	}

	key := cacheKey(q.Topic)
	raw, ok := f.fromCache(ctx, key)
	if ok {
		log.Debug("GNews-Ergebnis aus dem Cache", zap.Int("raw", len(raw)))
		res.Cached = true
	} else {
		var fetched bool
		raw, res.QueriesTried, fetched = f.searchWithFallback(ctx, log, q)
		if fetched {
			f.toCache(ctx, key, raw)
		}
	}

	res.Items, res.Relaxed = providers.FilterByTokens(cloneItems(raw), q.RequiredTokens, f.Config.GNewsStrictFilter)
	if res.Relaxed {
		log.Info("Relevanzfilter hat alle Treffer entfernt, liefere ungefilterte Menge.", zap.Int("raw", len(raw)))
	}
	log.Info("GNews-Suche abgeschlossen", zap.Int("raw", len(raw)), zap.Int("kept", len(res.Items)))
	return res
}

// searchWithFallback meldet über fetched, ob mindestens eine Anfrage erfolgreich war.
func (f *Fetcher) searchWithFallback(ctx context.Context, log *zap.Logger, q providers.Query) (items []models.SourceItem, tried int, fetched bool) {
	queries := []string{KeywordQuery(q)}
	if bare := strings.TrimSpace(q.Topic); bare != queries[0] {
		queries = append(queries, bare)
	}
	for i, query := range queries {
		tried++
		articles, err := f.search(ctx, query)
		if err != nil {
			log.Warn("GNews-Suche fehlgeschlagen", zap.String("query", query), zap.Error(err))
			return nil, tried, fetched
		}
		fetched = true
		for _, a := range articles {
			if a.URL == "" {
				continue
			}
			items = append(items, f.toSourceItem(a, query))
		}
		if len(items) > 0 {
			return items, tried, fetched
		}
		if i == 0 {
			log.Info("Keine Treffer mit Schlüsselwörtern, versuche ohne.")
		}
	}
	return items, tried, fetched
}

// KeywordQuery verknüpft die Pflicht-Tokens als Phrasen mit AND, z.B. "Acme" AND "Corp".
func KeywordQuery(q providers.Query) string {
	if len(q.RequiredTokens) == 0 {
		return strings.TrimSpace(q.Topic)
	}
	parts := make([]string, len(q.RequiredTokens))
	for i, t := range q.RequiredTokens {
		parts[i] = `"` + t + `"`
	}
	return strings.Join(parts, " AND ")
}

func cacheKey(topic string) string {
	return "gnews:" + strings.ToLower(strings.TrimSpace(topic))
}

func (f *Fetcher) fromCache(ctx context.Context, key string) ([]models.SourceItem, bool) {
	data, ok := f.Cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var c cachedResult
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false
	}
	return c.Raw, true
}

func (f *Fetcher) toCache(ctx context.Context, key string, raw []models.SourceItem) {
	data, err := json.Marshal(cachedResult{Raw: raw})
	if err != nil {
		return
	}
	f.Cache.Set(ctx, key, data, f.Config.GNewsCacheTTL)
}

// cloneItems kopiert die News-Extras, damit der Filter gecachte Daten nicht verändert.
func cloneItems(items []models.SourceItem) []models.SourceItem {
	out := make([]models.SourceItem, len(items))
	for i, it := range items {
		if it.Extra != nil && it.Extra.News != nil {
			extra := *it.Extra
			news := *it.Extra.News
			extra.News = &news
			it.Extra = &extra
		}
		out[i] = it
	}
	return out
}

func (f *Fetcher) search(ctx context.Context, query string) ([]Article, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("lang", "en")
	params.Set("max", fmt.Sprint(maxResults))
	params.Set("apikey", f.Config.GNewsKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Config.GNewsBaseURL+"/api/v4/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	var sr SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, err
	}
	if len(sr.Errors) > 0 {
		return nil, fmt.Errorf("gnews: %s", strings.Join(sr.Errors, "; "))
	}
	return sr.Articles, nil
}

func (f *Fetcher) toSourceItem(a Article, query string) models.SourceItem {
	desc := providers.StripMarkup(a.Description)
	content := providers.StripMarkup(providers.StripTruncationMarker(a.Content))
	body := content
	if body == "" {
		body = desc
	}
	full, truncated := providers.Truncate(body, f.Config.NewsFullMaxChars)
	snippetSrc := desc
	if snippetSrc == "" {
		snippetSrc = content
	}
	snippet, _ := providers.Truncate(snippetSrc, f.Config.SnippetMaxChars)

	item := models.SourceItem{
		Type:     models.SourceTypeNews,
		Provider: providerName,
		URL:      a.URL,
		Title:    strings.TrimSpace(a.Title),
		Snippet:  snippet,
		Extra: &models.SourceExtra{
			Kind: models.ExtraKindNews,
			News: &models.NewsExtra{Full: full, Truncated: truncated, Query: query, SourceName: a.Source.Name},
		},
	}
	if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
		item.PublishedAt = &t
	}
	return item
}
