package services

import (
	"regexp"
	"strings"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var ligatures = strings.NewReplacer(
	"ﬁ", "fi",
	"ﬂ", "fl",
	"ﬀ", "ff",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
	"ﬆ", "st",
	"\u00AD", "",
	"\u200B", "",
)

var anyWhitespace = regexp.MustCompile(`\s+`)

// normalizeUnicode führt NFC-Normalisierung durch und ersetzt gängige Ligaturen
func normalizeUnicode(s string) string {
	s = ligatures.Replace(s)
	normalized, _, err := transform.String(norm.NFC, s)
	if err != nil {
		return s
	}
	return normalized
}

// flattenWhitespace macht aus beliebigem Leerraum (auch Zeilenumbrüchen) ein einzelnes Leerzeichen
func flattenWhitespace(s string) string {
	return strings.TrimSpace(anyWhitespace.ReplaceAllString(s, " "))
}

func splitLines(s string) []string {
	// normalisiere Windows-Zeilenumbrüche
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

// truncateRunes kürzt auf höchstens max Runes
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func runeLen(s string) int {
	return len([]rune(s))
}

// prefixKey liefert die ersten n Runes in Kleinschreibung, als Schlüssel für Duplikatsprüfungen
func prefixKey(s string, n int) string {
	return strings.ToLower(truncateRunes(s, n))
}
