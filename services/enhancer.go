package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"case-forge/llm"
	"case-forge/models"
	"case-forge/providers"
)

const (
	enhancerProvider     = "ai_summary"
	maxEnhancerQueries   = 2
	maxEnhancerSummary   = 4000
	maxEnhancerTermChars = 120
)

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// EnhancerStats beschreibt einen Lauf des Enhancers.
type EnhancerStats struct {
	Used        bool     `json:"used"`
	Summary     bool     `json:"summary"`
	SearchTerms []string `json:"searchTerms,omitempty"`
	Added       int      `json:"added"`
	Error       string   `json:"error,omitempty"`
}

type enhancerPayload struct {
	Summary     string   `json:"summary"`
	SearchTerms []string `json:"searchTerms"`
}

// Enhancer ergänzt dünne Quellenlagen um eine Modell-Zusammenfassung und
// zusätzliche Nachrichtensuchen. Fehler führen nur zu einem leeren Zusatz.
type Enhancer struct {
	Client     llm.Client
	Model      string
	News       providers.Connector
	SnippetMax int
	Logger     *zap.Logger
}

// NewEnhancer erstellt einen Enhancer. client und news dürfen nil sein; snippetMax
// begrenzt den Snippet der Zusammenfassung wie bei den Connectors.
func NewEnhancer(client llm.Client, model string, news providers.Connector, snippetMax int, logger *zap.Logger) *Enhancer {
	return &Enhancer{Client: client, Model: model, News: news, SnippetMax: snippetMax, Logger: logger}
}

// Enhance fragt das Modell nach Fakten und Suchbegriffen und führt bis zu zwei weitere News-Suchen aus.
func (e *Enhancer) Enhance(ctx context.Context, q providers.Query) ([]models.SourceItem, EnhancerStats) {
	stats := EnhancerStats{Used: true}
	if e == nil || e.Client == nil {
		stats.Error = CodeMissingAPIKey
		return nil, stats
	}
	log := e.Logger.With(zap.String("topic", q.Topic), zap.String("model", e.Model))

	raw, err := e.Client.Generate(ctx, enhancerPrompt(q), e.Model)
	if err != nil {
		log.Warn("Enhancer: Modellaufruf fehlgeschlagen", zap.Error(err))
		stats.Error = ErrorCode(err)
		if stats.Error == "" {
			stats.Error = CodeModelError
		}
		return nil, stats
	}
	payload, err := parseEnhancerPayload(raw)
	if err != nil {
		log.Warn("Enhancer: Antwort nicht parsebar", zap.Error(err))
		stats.Error = CodeParseError
		return nil, stats
	}

	var items []models.SourceItem
	summary := strings.TrimSpace(payload.Summary)
	terms := cleanSearchTerms(payload.SearchTerms)
	stats.SearchTerms = terms
	if summary != "" {
		stats.Summary = true
		items = append(items, summaryItem(q.Topic, e.Model, truncateRunes(summary, maxEnhancerSummary), terms, e.SnippetMax))
	}

	if e.News != nil {
		for i, term := range terms {
			if i == maxEnhancerQueries {
				break
			}
			// Die Begriffe stammen vom Modell und enthalten das Thema oft nicht wörtlich.
			sub := q
			sub.Topic = term
			sub.RequiredTokens = nil
			res := e.News.Fetch(ctx, sub)
			log.Debug("Enhancer: zusätzliche News-Suche", zap.String("term", term), zap.Int("items", len(res.Items)))
			items = append(items, res.Items...)
		}
	}

	stats.Added = len(items)
	return items, stats
}

func enhancerPrompt(q providers.Query) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Provide a short factual summary of the financial case %q", q.Topic)
	if q.Ticker != "" {
		fmt.Fprintf(&b, " (ticker %s)", q.Ticker)
	}
	b.WriteString(".\n")
	if s := strings.TrimSpace(q.Summary); s != "" {
		fmt.Fprintf(&b, "Known context: %s\n", s)
	}
	if q.From != nil {
		fmt.Fprintf(&b, "Period: %d", q.From.Year())
		if q.To != nil && q.To.Year() != q.From.Year() {
			fmt.Fprintf(&b, "-%d", q.To.Year())
		}
		b.WriteString("\n")
	}
	b.WriteString("Only state facts you are confident about. Also suggest up to 3 precise news search terms.\n")
	b.WriteString(`Respond as JSON: {"summary": "string", "searchTerms": ["string"]}`)
	return b.String()
}

// parseEnhancerPayload versucht direkten Parse, dann einen Markdown-Codeblock, dann den ersten {...}-Block.
func parseEnhancerPayload(raw string) (*enhancerPayload, error) {
	text := strings.TrimSpace(raw)
	candidates := []string{text}
	if m := codeFence.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}

	var lastErr error
	for _, c := range candidates {
		var p enhancerPayload
		if err := json.Unmarshal([]byte(c), &p); err != nil {
			lastErr = err
			continue
		}
		return &p, nil
	}
	return nil, fmt.Errorf("no JSON object in enhancer response: %w", lastErr)
}

func cleanSearchTerms(terms []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range terms {
		t = truncateRunes(flattenWhitespace(t), maxEnhancerTermChars)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

// summaryItem: der Snippet ist gekappt, der volle Text steht in AIEnhancement.Summary.
func summaryItem(topic, model, summary string, terms []string, snippetMax int) models.SourceItem {
	snippet, _ := providers.Truncate(summary, snippetMax)
	return models.SourceItem{
		Type:     models.SourceTypeEncyclopedia,
		Provider: enhancerProvider,
		Title:    fmt.Sprintf("%s: AI background summary", topic),
		Snippet:  snippet,
		Extra: &models.SourceExtra{
			Kind: models.ExtraKindAIEnhancement,
			AIEnhancement: &models.AIEnhancementExtra{
				Model:       model,
				Summary:     summary,
				SearchTerms: terms,
				DerivedFrom: topic,
			},
		},
	}
}
