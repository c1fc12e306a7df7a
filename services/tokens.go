package services

import (
	"strings"
	"unicode"
)

// Tokenize zerlegt s in kleingeschriebene alphanumerische Tokens, ohne Duplikate, in Auftretensreihenfolge.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func tokenSet(s string) map[string]bool {
	toks := Tokenize(s)
	set := make(map[string]bool, len(toks))
	for _, t := range toks {
		set[t] = true
	}
	return set
}

// topicalTokens sind die Tokens mit mehr als zwei Zeichen, die für Substring-Suchen taugen.
func topicalTokens(topic string) []string {
	var out []string
	for _, t := range Tokenize(topic) {
		if len([]rune(t)) > 2 {
			out = append(out, t)
		}
	}
	return out
}
