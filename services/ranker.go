package services

import (
	"sort"

	"case-forge/models"
)

const (
	topicWeight        = 3
	summaryWeight      = 1
	encyclopediaBonus  = 2
	encyclopediaSource = "wikipedia"
)

// ScoreSource bewertet eine Quelle gegen Thema und Zusammenfassung:
// 3 pro Themen-Token, 1 pro Zusammenfassungs-Token, +2 für den Enzyklopädie-Connector.
func ScoreSource(item models.SourceItem, topic, summary string) int {
	return scoreAgainst(item, Tokenize(topic), Tokenize(summary))
}

func scoreAgainst(item models.SourceItem, topicTokens, summaryTokens []string) int {
	present := tokenSet(item.Title + " " + item.Snippet + " " + item.FullText())
	score := 0
	for _, t := range topicTokens {
		if present[t] {
			score += topicWeight
		}
	}
	for _, t := range summaryTokens {
		if present[t] {
			score += summaryWeight
		}
	}
	if item.Provider == encyclopediaSource {
		score += encyclopediaBonus
	}
	return score
}

// RankSources sortiert absteigend nach Score. Gleichstände behalten die Eingangsreihenfolge.
// Die Eingabe wird nicht verändert.
func RankSources(items []models.SourceItem, topic, summary string) []models.SourceItem {
	topicTokens, summaryTokens := Tokenize(topic), Tokenize(summary)
	type scored struct {
		item  models.SourceItem
		score int
	}
	list := make([]scored, len(items))
	for i, it := range items {
		list[i] = scored{item: it, score: scoreAgainst(it, topicTokens, summaryTokens)}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })

	out := make([]models.SourceItem, len(list))
	for i, s := range list {
		out[i] = s.item
	}
	return out
}
