package wikipedia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"case-forge/config"
	"case-forge/models"
	"case-forge/providers"
)

const providerName = "wikipedia"

var httpClient = &http.Client{Timeout: 60 * time.Second}

// cleaningPass ist ein einzelner Ersetzungsschritt. Die Reihenfolge ist relevant:
// Tabellen und Referenzen müssen weg sein, bevor die restlichen Tags entfernt werden.
type cleaningPass struct {
	re   *regexp.Regexp
	repl string
}

var markupPasses = []cleaningPass{
	{regexp.MustCompile(`(?is)<table\b.*?</table>`), " "},
	{regexp.MustCompile(`(?is)<script\b.*?</script>`), " "},
	{regexp.MustCompile(`(?is)<style\b.*?</style>`), " "},
	{regexp.MustCompile(`(?is)<sup\b[^>]*>.*?</sup>`), ""},
	{regexp.MustCompile(`(?is)<!--.*?-->`), ""},
}

var footnotePasses = []cleaningPass{
	{regexp.MustCompile(`\[\d+\]`), ""},
	{regexp.MustCompile(`(?i)\[(?:citation needed|note \d+|[a-z]|clarification needed|when\?|who\?)\]`), ""},
	{regexp.MustCompile(`\s+([,.;:])`), "$1"},
}

// Fetcher implementiert den Connector für Wikipedia-Artikel.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen Wikipedia Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return providerName
}

// Applicable: Wikipedia braucht keinen Schlüssel, nur ein Thema.
func (f *Fetcher) Applicable(q providers.Query) bool {
	return f.Config.WikiEnabled && strings.TrimSpace(q.Topic) != ""
}

// Fetch lädt genau einen Artikel über seinen (ggf. weitergeleiteten) Titel.
func (f *Fetcher) Fetch(ctx context.Context, q providers.Query) providers.Result {
	log := f.Logger.With(zap.String("provider", providerName), zap.String("topic", q.Topic))
	res := providers.Result{QueriesTried: 1}

	page, err := f.fetchPage(ctx, q.Topic)
	if err != nil {
		log.Warn("Wikipedia-Abruf fehlgeschlagen", zap.Error(err))
		return res
	}
	if page == nil {
		log.Debug("Kein Wikipedia-Artikel gefunden.")
		return res
	}

	text := CleanExtract(page.Extract)
	if text == "" {
		log.Debug("Wikipedia-Artikel ist nach der Bereinigung leer.", zap.Int64("page_id", page.PageID))
		return res
	}
	full, truncated := providers.Truncate(text, f.Config.WikiFullMaxChars)
	snippet, _ := providers.Truncate(text, f.Config.SnippetMaxChars)

	res.Items = []models.SourceItem{{
		Type:     models.SourceTypeEncyclopedia,
		Provider: providerName,
		URL:      articleURL(f.Config.WikiBaseURL, page.Title),
		Title:    page.Title,
		Snippet:  snippet,
		Extra: &models.SourceExtra{
			Kind:         models.ExtraKindEncyclopedia,
			Encyclopedia: &models.EncyclopediaExtra{Full: full, Truncated: truncated, PageID: page.PageID},
		},
	}}
	log.Info("Wikipedia-Artikel geladen", zap.Int64("page_id", page.PageID), zap.Bool("truncated", truncated))
	return res
}

func (f *Fetcher) fetchPage(ctx context.Context, title string) (*Page, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "extracts")
	params.Set("redirects", "1")
	params.Set("format", "json")
	params.Set("formatversion", "2")
	params.Set("titles", title)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Config.WikiBaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "case-forge/1.0 (enrichment)")
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	var qr QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, err
	}
	for _, p := range qr.Query.Pages {
		if p.Missing || p.Invalid || p.Extract == "" {
			continue
		}
		page := p
		return &page, nil
	}
	return nil, nil
}

// CleanExtract wandelt das HTML-Extract in Fließtext um.
func CleanExtract(raw string) string {
	s := raw
	for _, p := range markupPasses {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	s = providers.StripMarkup(s)
	for _, p := range footnotePasses {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return providers.CollapseWhitespace(s)
}

// articleURL baut den Artikel-Link aus der API-Basis (…/w/api.php -> …/wiki/Titel).
func articleURL(apiBase, title string) string {
	root := apiBase
	if u, err := url.Parse(apiBase); err == nil && u.Host != "" {
		root = u.Scheme + "://" + u.Host
	}
	return root + "/wiki/" + url.PathEscape(strings.ReplaceAll(title, " ", "_"))
}
