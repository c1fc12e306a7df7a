package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"case-forge/models"
)

var (
	citationTag = regexp.MustCompile(`\[S\s*\d+(?:\s*[,;]\s*S?\s*\d+)*\]`)
	citationNum = regexp.MustCompile(`\d+`)
)

// CitedSource is a prompt source referenced by the narrative
type CitedSource struct {
	Number   int    `json:"number"`
	Provider string `json:"provider"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
}

// ParseCitationOrder returns the unique [S n] numbers in first-occurrence order.
// Grouped tags like [S2, S3] yield each number.
func ParseCitationOrder(narrative string) []int {
	seen := map[int]bool{}
	order := []int{}
	for _, tag := range citationTag.FindAllString(narrative, -1) {
		for _, m := range citationNum.FindAllString(tag, -1) {
			n, err := strconv.Atoi(m)
			if err != nil || n <= 0 {
				continue
			}
			if !seen[n] {
				seen[n] = true
				order = append(order, n)
			}
		}
	}
	return order
}

// CitedSources maps the narrative's citations onto the sources that were in the prompt;
// returns warnings for citations without a matching block
func CitedSources(narrative string, included []models.SourceItem) (cited []CitedSource, warnings []string) {
	for _, n := range ParseCitationOrder(narrative) {
		if n > len(included) {
			warnings = append(warnings, fmt.Sprintf("citation [S%d] has no matching source", n))
			continue
		}
		s := included[n-1]
		cited = append(cited, CitedSource{Number: n, Provider: s.Provider, Title: s.Title, URL: s.URL})
	}
	return cited, warnings
}

// FormatReference renders a cited source into a compact reference string
func FormatReference(s CitedSource) string {
	title := strings.TrimSpace(s.Title)
	if title == "" {
		title = "Untitled"
	}
	if s.URL == "" {
		return fmt.Sprintf("[S%d] %s (%s).", s.Number, title, s.Provider)
	}
	return fmt.Sprintf("[S%d] %s (%s). %s", s.Number, title, s.Provider, s.URL)
}
