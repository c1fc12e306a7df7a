package services

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxHeadlineChars = 140
	maxTitleChars    = 90
	titleBreakAfter  = 50
	minTitleChars    = 8
	maxCleanPasses   = 5
)

type titleRule struct {
	re   *regexp.Regexp
	repl string
}

// titleRules werden der Reihe nach angewendet. Zitat-Tags müssen vor dem Kürzen verschwinden,
// Boilerplate-Suffixe vor den hängenden Trennzeichen.
var titleRules = []titleRule{
	{regexp.MustCompile(`^\s*#{1,6}\s*`), ""},
	{regexp.MustCompile(`\*\*|__`), ""},
	{regexp.MustCompile(`\s*\[S\d+(?:\s*[,;]\s*S?\d+)*\]`), ""},
	{regexp.MustCompile(`^[\s"'“”‘’«»*•>\-–—]+`), ""},
	{regexp.MustCompile(`["'“”‘’«»*]+\s*$`), ""},
	{regexp.MustCompile(`(?i)\s*[—–-]+\s*analytical summary.*$`), ""},
	{regexp.MustCompile(`(?i)\s*\(local heuristic synthesis[^)]*\)`), ""},
	{regexp.MustCompile(`(?i)\s*[—–:|-]*\s*heuristic draft\s*$`), ""},
	{regexp.MustCompile(`(?i)\s*[—–:|-]*\s*preliminary case brief\s*$`), ""},
	{regexp.MustCompile(`\s*[:;|,.\-–—]+\s*$`), ""},
	{regexp.MustCompile(`(?i)\bcase study(?:\s+case study)+\b`), "Case Study"},
	{regexp.MustCompile(`\s*\([^()]{0,60}\)\s*$`), ""},
	{regexp.MustCompile(`\s+`), " "},
}

// DeriveTitle leitet aus der ersten nicht-leeren Zeile der Erzählung einen bereinigten
// Anzeigetitel ab (höchstens 90 Zeichen). Ist das Ergebnis zu kurz, wird fallback verwendet.
func DeriveTitle(narrative, fallback string) string {
	title := cleanTitle(firstNonBlankLine(narrative))
	if utf8.RuneCountInString(title) < minTitleChars {
		title = capTitle(strings.TrimSpace(fallback))
	}
	return capitalizeFirst(title)
}

func firstNonBlankLine(s string) string {
	for _, line := range splitLines(s) {
		if strings.TrimSpace(line) != "" {
			return truncateRunes(strings.TrimSpace(line), maxHeadlineChars)
		}
	}
	return ""
}

// cleanTitle wendet Regeln und Kürzung an, bis sich nichts mehr ändert. Das Kürzen kann
// eine Klammer oder ein Trennzeichen ans Ende bringen, die erst der nächste Durchlauf entfernt.
func cleanTitle(s string) string {
	for i := 0; i < maxCleanPasses; i++ {
		next := s
		for _, r := range titleRules {
			next = r.re.ReplaceAllString(next, r.repl)
		}
		next = capTitle(strings.TrimSpace(next))
		if next == s {
			break
		}
		s = next
	}
	return s
}

// capTitle kürzt auf 90 Zeichen und bricht dabei am letzten Leerzeichen nach Position 50.
func capTitle(s string) string {
	r := []rune(s)
	if len(r) <= maxTitleChars {
		return s
	}
	cut := r[:maxTitleChars]
	if i := lastSpace(cut); i > titleBreakAfter {
		cut = cut[:i]
	}
	return strings.TrimRightFunc(string(cut), func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(":;,|-–—", r)
	})
}

func lastSpace(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i] == ' ' {
			return i
		}
	}
	return -1
}

func capitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
