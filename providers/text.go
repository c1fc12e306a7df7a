package providers

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"case-forge/models"
)

var strictPolicy = bluemonday.StrictPolicy()

var (
	blockBreaks = regexp.MustCompile(`(?i)<\s*(?:br\s*/?|/p|/li|/h[1-6]|/div)\s*>`)
	spaceRun    = regexp.MustCompile("[ \t\f\v\u00A0]+")
	spaceAround = regexp.MustCompile(` *\n *`)
	newlineRun  = regexp.MustCompile(`\n{3,}`)
	truncMarker = regexp.MustCompile(`\s*…?\s*\[\+\d+ chars\]\s*$`)
)

// StripMarkup entfernt alle Tags, löst Entities auf und normalisiert Leerraum.
func StripMarkup(s string) string {
	s = blockBreaks.ReplaceAllString(s, "\n")
	s = strictPolicy.Sanitize(s)
	s = html.UnescapeString(s)
	return CollapseWhitespace(s)
}

// StripTruncationMarker entfernt Marker wie "[+1234 chars]" am Ende von News-Inhalten.
func StripTruncationMarker(s string) string {
	return truncMarker.ReplaceAllString(s, "")
}

// CollapseWhitespace fasst Leerzeichen zusammen und begrenzt Leerzeilen auf eine.
func CollapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRun.ReplaceAllString(s, " ")
	s = spaceAround.ReplaceAllString(s, "\n")
	s = newlineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Truncate kürzt s auf höchstens max Runes und meldet, ob gekürzt wurde.
func Truncate(s string, max int) (string, bool) {
	if max <= 0 {
		return s, false
	}
	r := []rune(s)
	if len(r) <= max {
		return s, false
	}
	return strings.TrimRightFunc(string(r[:max]), unicode.IsSpace), true
}

// RequiredTokens leitet die Pflicht-Tokens aus einem Thema ab: alphanumerische Wörter
// mit mehr als zwei Zeichen, in Originalschreibweise, ohne Duplikate.
func RequiredTokens(topic string) []string {
	fields := strings.FieldsFunc(topic, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := map[string]bool{}
	var tokens []string
	for _, f := range fields {
		if len([]rune(f)) <= 2 {
			continue
		}
		key := strings.ToLower(f)
		if seen[key] {
			continue
		}
		seen[key] = true
		tokens = append(tokens, f)
	}
	return tokens
}

// CountTokenHits zählt, wie viele Tokens (case-insensitive) im Text vorkommen.
func CountTokenHits(text string, tokens []string) int {
	lower := strings.ToLower(text)
	hits := 0
	for _, t := range tokens {
		if strings.Contains(lower, strings.ToLower(t)) {
			hits++
		}
	}
	return hits
}

// FilterByTokens bewertet News-Treffer gegen die Pflicht-Tokens. Im strikten Modus
// bleiben nur Treffer mit allen Tokens übrig; entfernt der Filter alles, obwohl Treffer
// vorhanden waren, wird die ungefilterte Menge geliefert (relaxed = true).
func FilterByTokens(items []models.SourceItem, tokens []string, strict bool) (kept []models.SourceItem, relaxed bool) {
	for i := range items {
		it := &items[i]
		hits := CountTokenHits(it.Title+" "+it.FullText(), tokens)
		all := hits == len(tokens)
		if it.Extra != nil && it.Extra.News != nil {
			it.Extra.News.TokenHits = hits
			it.Extra.News.AllTokens = all
			it.Extra.News.Score = hits + CountTokenHits(it.Title, tokens)
		}
		if !strict || all {
			kept = append(kept, *it)
		}
	}
	if len(kept) == 0 && len(items) > 0 {
		for i := range items {
			if items[i].Extra != nil && items[i].Extra.News != nil {
				items[i].Extra.News.Relaxed = true
			}
		}
		return items, true
	}
	return kept, false
}
