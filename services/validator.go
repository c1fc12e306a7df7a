package services

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"case-forge/models"
)

const (
	maxNarrativeChars   = 12000
	maxRawQuestions     = 12
	maxOptionChars      = 300
	maxPromptChars      = 800
	maxExplanationChars = 800
	maxCategoryChars    = 40
	maxDifficultyChars  = 20
	optionsPerQuestion  = 4
)

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// ModelQuestion ist eine normalisierte Frage aus der Modellantwort.
type ModelQuestion struct {
	Prompt             string   `json:"prompt"`
	Options            []string `json:"options"`
	CorrectOptionIndex int      `json:"correctOptionIndex"`
	Explanation        string   `json:"explanation,omitempty"`
	Category           string   `json:"category,omitempty"`
	Difficulty         string   `json:"difficulty,omitempty"`
}

// ModelPayload ist die validierte Modellantwort.
type ModelPayload struct {
	Narrative string          `json:"narrative"`
	Questions []ModelQuestion `json:"questions"`
}

// ValidateModelOutput parst die Rohantwort tolerant und prüft die Strukturinvarianten.
// Genau fünf gültige Fragen müssen übrig bleiben, auch mehr gültige Fragen sind ein Fehler.
func ValidateModelOutput(raw string) (*ModelPayload, error) {
	obj, err := extractJSONObject(raw)
	if err != nil {
		return nil, newSynthesisError(CodeParseError, err)
	}

	narrative, _ := obj["narrative"].(string)
	if strings.TrimSpace(narrative) == "" {
		narrative, _ = obj["story"].(string)
	}
	narrative = strings.TrimSpace(narrative)
	if narrative == "" {
		return nil, newSynthesisError(CodeEmptyNarrative, nil)
	}

	rawQuestions, ok := obj["questions"].([]any)
	if !ok || len(rawQuestions) == 0 {
		return nil, newSynthesisError(CodeNoQuestions, nil)
	}
	if len(rawQuestions) > maxRawQuestions {
		rawQuestions = rawQuestions[:maxRawQuestions]
	}

	var valid []ModelQuestion
	for _, rq := range rawQuestions {
		m, ok := rq.(map[string]any)
		if !ok {
			continue
		}
		q := normalizeQuestion(m)
		if q.Prompt == "" || len(q.Options) != optionsPerQuestion {
			continue
		}
		valid = append(valid, q)
	}
	if len(valid) != models.QuizSize {
		return nil, newSynthesisError(CodeIncorrectQuestionCount,
			fmt.Errorf("expected %d valid questions, got %d of %d", models.QuizSize, len(valid), len(rawQuestions)))
	}

	return &ModelPayload{Narrative: truncateRunes(narrative, maxNarrativeChars), Questions: valid}, nil
}

// extractJSONObject: direkter Parse, dann erstes "{" bis letztes "}", dann einmal ohne hängende Kommas.
func extractJSONObject(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil && obj != nil {
		return obj, nil
	}

	candidate := text
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		candidate = text[start : end+1]
		obj = nil
		if err := json.Unmarshal([]byte(candidate), &obj); err == nil && obj != nil {
			return obj, nil
		}
	}

	repaired := trailingComma.ReplaceAllString(candidate, "$1")
	obj = nil
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, fmt.Errorf("no parsable JSON object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("no JSON object in response")
	}
	return obj, nil
}

func normalizeQuestion(m map[string]any) ModelQuestion {
	q := ModelQuestion{
		Prompt:      truncateRunes(firstString(m, "prompt", "question"), maxPromptChars),
		Explanation: truncateRunes(firstString(m, "explanation", "rationale"), maxExplanationChars),
		Category:    truncateRunes(strings.ToLower(firstString(m, "category")), maxCategoryChars),
		Difficulty:  truncateRunes(strings.ToLower(firstString(m, "difficulty")), maxDifficultyChars),
	}

	rawOpts, _ := m["options"].([]any)
	if rawOpts == nil {
		rawOpts, _ = m["choices"].([]any)
	}
	if len(rawOpts) > optionsPerQuestion {
		rawOpts = rawOpts[:optionsPerQuestion]
	}
	for _, o := range rawOpts {
		q.Options = append(q.Options, truncateRunes(strings.TrimSpace(stringify(o)), maxOptionChars))
	}

	idx := 0
	for _, key := range []string{"correctOptionIndex", "correctIndex", "answerIndex"} {
		if v, ok := m[key]; ok {
			idx = toIndex(v)
			break
		}
	}
	q.CorrectOptionIndex = clampIndex(idx, len(q.Options))
	return q
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// toIndex liefert -1, wenn der Wert keine Zahl ist.
func toIndex(v any) int {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return -1
		}
		return int(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return -1
		}
		return n
	default:
		return -1
	}
}

func clampIndex(idx, n int) int {
	if n == 0 || idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}
