package models

import (
	"encoding/json"
	"time"
)

// Quelltypen eines SourceItem.
const (
	SourceTypeEncyclopedia = "encyclopedia"
	SourceTypeNews         = "news"
	SourceTypeFinance      = "finance"
)

// Varianten von SourceExtra.Kind.
const (
	ExtraKindEncyclopedia  = "encyclopedia"
	ExtraKindNews          = "news"
	ExtraKindFinance       = "finance"
	ExtraKindAIEnhancement = "ai_enhancement"
)

// SourceItem ist ein normalisierter Treffer eines Quell-Connectors.
type SourceItem struct {
	Type        string       `json:"type"`
	Provider    string       `json:"provider"`
	URL         string       `json:"url"`
	Title       string       `json:"title"`
	Snippet     string       `json:"snippet"`
	PublishedAt *time.Time   `json:"publishedAt,omitempty"`
	Extra       *SourceExtra `json:"extra,omitempty"`
}

// DedupKey ist der Schlüssel für die Duplikatserkennung (url|title, case-sensitive).
func (s SourceItem) DedupKey() string {
	return s.URL + "|" + s.Title
}

// FullText liefert den Volltext des Providers, sonst den Snippet.
func (s SourceItem) FullText() string {
	if s.Extra != nil {
		switch {
		case s.Extra.Encyclopedia != nil && s.Extra.Encyclopedia.Full != "":
			return s.Extra.Encyclopedia.Full
		case s.Extra.News != nil && s.Extra.News.Full != "":
			return s.Extra.News.Full
		case s.Extra.AIEnhancement != nil && s.Extra.AIEnhancement.Summary != "":
			return s.Extra.AIEnhancement.Summary
		}
	}
	return s.Snippet
}

// SourceExtra ist eine getaggte Union der provider-spezifischen Zusatzdaten.
// Unbekannte Varianten bleiben als Rohdaten in Unknown erhalten.
type SourceExtra struct {
	Kind          string              `json:"kind"`
	Encyclopedia  *EncyclopediaExtra  `json:"encyclopedia,omitempty"`
	News          *NewsExtra          `json:"news,omitempty"`
	Finance       *FinanceExtra       `json:"finance,omitempty"`
	AIEnhancement *AIEnhancementExtra `json:"aiEnhancement,omitempty"`
	Unknown       json.RawMessage     `json:"unknown,omitempty"`
}

type EncyclopediaExtra struct {
	Full      string `json:"full,omitempty"`
	Truncated bool   `json:"truncated"`
	PageID    int64  `json:"pageId,omitempty"`
}

type NewsExtra struct {
	Full       string `json:"full,omitempty"`
	Truncated  bool   `json:"truncated"`
	TokenHits  int    `json:"tokenHits"`
	AllTokens  bool   `json:"allTokens"`
	Score      int    `json:"score"`
	Query      string `json:"query,omitempty"`
	Relaxed    bool   `json:"relaxed,omitempty"`
	SourceName string `json:"sourceName,omitempty"`
}

type FinanceExtra struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency,omitempty"`
	Change    float64 `json:"change"`
	MarketCap float64 `json:"marketCap,omitempty"`
	Exchange  string  `json:"exchange,omitempty"`
	Sector    string  `json:"sector,omitempty"`
	Industry  string  `json:"industry,omitempty"`
}

type AIEnhancementExtra struct {
	Model       string   `json:"model,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	SearchTerms []string `json:"searchTerms,omitempty"`
	DerivedFrom string   `json:"derivedFrom,omitempty"`
}
