package newsapi

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
)

const (
	providerName = "newsapi"
	pageSize     = 20
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Fetcher implementiert den News-Connector mit breiter Abdeckung (mehrere Query-Varianten).
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen NewsAPI Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return providerName
}

// Applicable: ohne API-Schlüssel ist der Connector deaktiviert.
func (f *Fetcher) Applicable(q providers.Query) bool {
	return f.Config.NewsAPIKey != "" && strings.TrimSpace(q.Topic) != ""
}

// Fetch probiert die Query-Varianten vom spezifischsten zum breitesten, bis genug
// relevante Artikel gesammelt sind, und wendet danach den Relevanzfilter an.
func (f *Fetcher) Fetch(ctx context.Context, q providers.Query) providers.Result {
	log := f.Logger.With(zap.String("provider", providerName), zap.String("topic", q.Topic))
	var res providers.Result
	if f.Config.NewsAPIKey == "" {
		log.Debug("Kein NewsAPI-Schlüssel konfiguriert, überspringe.")
		return res
	}

	target := f.Config.NewsTargetResults
	if target <= 0 {
		target = 8
	}
	seen := map[string]bool{}
	var raw []models.SourceItem
	for _, variant := range QueryVariants(q) {
		res.QueriesTried++
		articles, err := f.search(ctx, variant)
		if err != nil {
			log.Warn("NewsAPI-Suche fehlgeschlagen", zap.String("query", variant), zap.Error(err))
			continue
		}
		for _, a := range articles {
			if a.URL == "" || seen[a.URL] || a.Title == "[Removed]" {
				continue
			}
			seen[a.URL] = true
			raw = append(raw, f.toSourceItem(a, variant))
		}
		if countAccepted(raw, q.RequiredTokens) >= target {
			break
		}
	}

	res.Items, res.Relaxed = providers.FilterByTokens(raw, q.RequiredTokens, f.Config.NewsAPIStrictFilter)
	if res.Relaxed {
		log.Info("Relevanzfilter hat alle Treffer entfernt, liefere ungefilterte Menge.", zap.Int("raw", len(raw)))
	}
	log.Info("NewsAPI-Suche abgeschlossen", zap.Int("raw", len(raw)), zap.Int("kept", len(res.Items)), zap.Int("queries", res.QueriesTried))
	return res
}

// QueryVariants liefert die priorisierten Suchanfragen: exakte Phrase zuerst, dann zunehmend breiter.
func QueryVariants(q providers.Query) []string {
	topic := strings.TrimSpace(q.Topic)
	var variants []string
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		for _, existing := range variants {
			if existing == v {
				return
			}
		}
		variants = append(variants, v)
	}

	add(`"` + topic + `"`)
	if len(q.RequiredTokens) > 1 {
		add(strings.Join(q.RequiredTokens, " AND "))
	}
	if kw := summaryKeywords(q.Summary, q.RequiredTokens, 2); len(kw) > 0 {
		add(`"` + topic + `" ` + strings.Join(kw, " "))
	}
	if q.From != nil {
		add(fmt.Sprintf(`"%s" %d`, topic, q.From.Year()))
	}
	add(topic)
	return variants
}

// summaryKeywords wählt die ersten längeren Wörter der Zusammenfassung, die nicht schon im Thema stehen.
func summaryKeywords(summary string, exclude []string, n int) []string {
	skip := map[string]bool{}
	for _, t := range exclude {
		skip[strings.ToLower(t)] = true
	}
	var out []string
	for _, tok := range providers.RequiredTokens(summary) {
		l := strings.ToLower(tok)
		if len(l) < 5 || skip[l] || stopwords[l] {
			continue
		}
		out = append(out, l)
		if len(out) == n {
			break
		}
	}
	return out
}

var stopwords = map[string]bool{
	"allegedly": true, "about": true, "after": true, "their": true, "which": true,
	"where": true, "there": true, "these": true, "those": true, "while": true, "company": true,
}

func countAccepted(items []models.SourceItem, tokens []string) int {
	n := 0
	for _, it := range items {
		if providers.CountTokenHits(it.Title+" "+it.FullText(), tokens) == len(tokens) {
			n++
		}
	}
	return n
}

func (f *Fetcher) search(ctx context.Context, query string) ([]Article, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("language", "en")
	params.Set("sortBy", "relevancy")
	params.Set("pageSize", fmt.Sprint(pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Config.NewsAPIBaseURL+"/v2/everything?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", f.Config.NewsAPIKey)
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var er EverythingResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decode (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || er.Status == "error" {
		return nil, fmt.Errorf("bad status %d: %s %s", resp.StatusCode, er.Code, er.Message)
	}
	return er.Articles, nil
}

func (f *Fetcher) toSourceItem(a Article, query string) models.SourceItem {
	desc := providers.StripMarkup(a.Description)
	content := providers.StripMarkup(providers.StripTruncationMarker(a.Content))

	body := desc
	if content != "" && !strings.HasPrefix(desc, content) {
		if body != "" {
			body += "\n\n"
		}
		body += content
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
