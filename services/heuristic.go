package services

import (
	"fmt"
	"regexp"
	"strings"

	"case-forge/models"
)

const (
	minSentenceChars     = 40
	sentencePrefixChars  = 90
	maxSentences         = 600
	similarPrefixChars   = 60
	similarLengthWindow  = 50
	narrativeSentences   = 120
	heuristicDisclaimer  = "This is an automatically assembled draft based only on the collected source excerpts. It has not been reviewed by a model or an editor; verify every fact before publishing."
	placeholderOptionFmt = "Not Applicable %d"
)

var (
	sentenceEnd   = regexp.MustCompile(`[.!?]\s+`)
	actorRE       = regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`)
	figureRE      = regexp.MustCompile(`₹\s?\d[\d,]*(?:\.\d+)?(?:\s?(?:crore|billion|trillion))?`)
	regulatoryRE  = regexp.MustCompile(`(?i)court|tribunal|board|exchange`)
	mechanismRE   = regexp.MustCompile(`(?i)manipulat|scheme|receipt|forward|loan|leverage|broker`)
	impactRE      = regexp.MustCompile(`(?i)impact|exposed|loophole|regul|rule|reform|confidence`)
	optionLimiter = maxOptionChars
)

// HeuristicMeta beschreibt, warum der lokale Pfad gewählt wurde.
type HeuristicMeta struct {
	Reason string
}

type extractedFacts struct {
	Actors     []string
	Figures    []string
	Regulatory []string
	Mechanism  []string
	Impact     []string
}

type questionDraft struct {
	prompt      string
	answer      string
	distractors []string
	explanation string
	category    string
	difficulty  string
}

// LocalHeuristicSynthesis erzeugt ohne Netzwerkzugriff eine Erzählung und genau fünf Fragen
// aus den Quelltexten. Es gibt keinen Fehlerpfad.
func LocalHeuristicSynthesis(cs *models.CaseStudy, sources []models.SourceItem, meta HeuristicMeta) *SynthesisResult {
	topic := strings.TrimSpace(cs.Topic())
	if topic == "" {
		topic = "Untitled"
	}

	all := extractSentences(sources)
	working := filterTopical(all, topicalTokens(topic))
	compressed := dropSimilar(working)

	narrative := buildHeuristicNarrative(topic, cs.ShortSummary, compressed)
	facts := extractFacts(compressed)
	quiz := buildHeuristicQuiz(topic, facts)

	return &SynthesisResult{
		CaseID:       cs.ID,
		Mode:         ModeLocal,
		Narrative:    narrative,
		RefinedTitle: DeriveTitle(narrative, cs.Title),
		Quiz:         quiz,
		Diagnostics: &Diagnostics{
			FallbackReason:    meta.Reason,
			SentencesFound:    len(all),
			SentencesTopical:  len(working),
			SentencesUsed:     len(compressed),
			SourcesConsidered: len(sources),
		},
	}
}

// extractSentences teilt alle Quelltexte in Sätze, behält Sätze ab 40 Zeichen und
// entfernt Duplikate über die ersten 90 Zeichen. Bei 600 Sätzen ist Schluss.
func extractSentences(sources []models.SourceItem) []string {
	seen := map[string]bool{}
	var out []string
	for _, src := range sources {
		text := flattenWhitespace(normalizeUnicode(src.FullText()))
		for _, s := range splitSentences(text) {
			if runeLen(s) < minSentenceChars {
				continue
			}
			key := prefixKey(s, sentencePrefixChars)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, s)
			if len(out) >= maxSentences {
				return out
			}
		}
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		// Satzzeichen bleibt am Satz, der Leerraum fällt weg.
		s := strings.TrimSpace(text[last : loc[0]+1])
		if s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if rest := strings.TrimSpace(text[last:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// filterTopical behält Sätze mit mindestens einem Themen-Token; ohne Treffer bleibt alles.
func filterTopical(sentences, tokens []string) []string {
	if len(tokens) == 0 {
		return sentences
	}
	var kept []string
	for _, s := range sentences {
		lower := strings.ToLower(s)
		for _, t := range tokens {
			if strings.Contains(lower, t) {
				kept = append(kept, s)
				break
			}
		}
	}
	if len(kept) == 0 {
		return sentences
	}
	return kept
}

// dropSimilar verwirft Sätze, deren erste 60 Zeichen einem ähnlich langen (±50) Satz gleichen.
func dropSimilar(sentences []string) []string {
	type accepted struct {
		prefix string
		length int
	}
	var acc []accepted
	var out []string
	for _, s := range sentences {
		p, l := prefixKey(s, similarPrefixChars), runeLen(s)
		dup := false
		for _, a := range acc {
			if a.prefix == p && abs(a.length-l) <= similarLengthWindow {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		acc = append(acc, accepted{prefix: p, length: l})
		out = append(out, s)
	}
	return out
}

func buildHeuristicNarrative(topic, summary string, sentences []string) string {
	body := sentences
	if len(body) > narrativeSentences {
		body = body[:narrativeSentences]
	}
	text := strings.Join(body, " ")
	if text == "" {
		text = flattenWhitespace(summary)
	}
	narrative := fmt.Sprintf("%s Case Study\n\n%s", topic, heuristicDisclaimer)
	if text != "" {
		narrative += "\n\n" + text
	}
	return truncateRunes(narrative, maxNarrativeChars)
}

func extractFacts(sentences []string) extractedFacts {
	joined := strings.Join(sentences, " ")
	return extractedFacts{
		Actors:     uniqueMatches(actorRE, joined, 10),
		Figures:    uniqueMatches(figureRE, joined, 6),
		Regulatory: matchingSentences(regulatoryRE, sentences, 8),
		Mechanism:  matchingSentences(mechanismRE, sentences, 12),
		Impact:     matchingSentences(impactRE, sentences, 10),
	}
}

func uniqueMatches(re *regexp.Regexp, text string, limit int) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range re.FindAllString(text, -1) {
		m = strings.TrimSpace(m)
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out
}

func matchingSentences(re *regexp.Regexp, sentences []string, limit int) []string {
	var out []string
	for _, s := range sentences {
		if re.MatchString(s) {
			out = append(out, s)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

func factDraft(list []string, prompt, explanation, category, difficulty string) *questionDraft {
	if len(list) == 0 {
		return nil
	}
	end := len(list)
	if end > 5 {
		end = 5
	}
	return &questionDraft{
		prompt:      prompt,
		answer:      list[0],
		distractors: list[1:end],
		explanation: explanation,
		category:    category,
		difficulty:  difficulty,
	}
}

func buildHeuristicQuiz(topic string, f extractedFacts) []models.QuizQuestion {
	candidates := []*questionDraft{
		factDraft(f.Mechanism, fmt.Sprintf("Which statement from the sources best describes the mechanism behind the %s case?", topic),
			"This sentence is the first mechanism-related statement found in the collected sources.", "mechanism", "medium"),
		factDraft(f.Figures, fmt.Sprintf("Which monetary figure is cited in the sources on the %s case?", topic),
			"This amount appears in the collected sources.", "impact", "hard"),
		factDraft(f.Actors, fmt.Sprintf("Which person or organisation is named in the sources on the %s case?", topic),
			"This name is mentioned in the collected sources.", "actor", "easy"),
		factDraft(f.Regulatory, fmt.Sprintf("Which statement reflects the institutional or regulatory context of the %s case?", topic),
			"This sentence refers to a court, tribunal, board or exchange.", "regulatory_response", "medium"),
		factDraft(f.Impact, fmt.Sprintf("What did the %s case expose or change?", topic),
			"This sentence describes the impact reported in the collected sources.", "impact", "hard"),
	}

	var drafts []questionDraft
	for _, c := range candidates {
		if c != nil {
			drafts = append(drafts, *c)
		}
	}
	for _, g := range genericDrafts(topic) {
		if len(drafts) >= models.QuizSize {
			break
		}
		drafts = append(drafts, g)
	}
	if len(drafts) > models.QuizSize {
		drafts = drafts[:models.QuizSize]
	}

	quiz := make([]models.QuizQuestion, len(drafts))
	for i, d := range drafts {
		options, correct := arrangeOptions(d.answer, d.distractors, i)
		category, difficulty := d.category, d.difficulty
		quiz[i] = models.QuizQuestion{
			Order:              i,
			Prompt:             truncateRunes(d.prompt, maxPromptChars),
			Options:            options,
			CorrectOptionIndex: correct,
			Explanation:        truncateRunes(d.explanation, maxExplanationChars),
			Category:           &category,
			Difficulty:         &difficulty,
		}
	}
	return quiz
}

// arrangeOptions dedupliziert, füllt mit Platzhaltern auf vier auf und setzt die richtige
// Antwort reihum auf Position index%4.
func arrangeOptions(answer string, distractors []string, index int) ([]string, int) {
	seen := map[string]bool{}
	var opts []string
	for _, o := range append([]string{answer}, distractors...) {
		o = truncateRunes(strings.TrimSpace(o), optionLimiter)
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		opts = append(opts, o)
	}
	for n := 1; len(opts) < optionsPerQuestion; n++ {
		p := fmt.Sprintf(placeholderOptionFmt, n)
		if seen[p] {
			continue
		}
		seen[p] = true
		opts = append(opts, p)
	}
	opts = opts[:optionsPerQuestion]

	target := index % optionsPerQuestion
	opts[0], opts[target] = opts[target], opts[0]
	return opts, target
}

func genericDrafts(topic string) []questionDraft {
	return []questionDraft{
		{
			prompt:      fmt.Sprintf("How is the %s case best classified?", topic),
			answer:      "A case of financial misconduct or market-integrity failure",
			distractors: []string{"A routine business expansion", "A natural disaster affecting operations", "A product launch without financial impact"},
			explanation: "Case studies in this collection document failures of market integrity or governance.",
			category:    "lesson",
			difficulty:  "easy",
		},
		{
			prompt:      fmt.Sprintf("What is the most important lesson for investors from the %s case?", topic),
			answer:      "Verify disclosures independently and take red flags seriously",
			distractors: []string{"Follow market rumours for quick gains", "Ignore regulatory filings", "Put all savings into a single stock"},
			explanation: "Independent verification of disclosures is the common lesson of such cases.",
			category:    "lesson",
			difficulty:  "medium",
		},
		{
			prompt:      fmt.Sprintf("Which warning sign is typical of cases like %s?", topic),
			answer:      "Returns or growth that look too consistent to be true",
			distractors: []string{"Audited accounts published on time", "Transparent pricing", "A diversified customer base"},
			explanation: "Unusually smooth returns are a classic red flag for manipulation or fraud.",
			category:    "red_flag",
			difficulty:  "medium",
		},
		{
			prompt:      fmt.Sprintf("Who typically investigates cases like %s?", topic),
			answer:      "Market regulators and enforcement agencies",
			distractors: []string{"Advertising agencies", "Sports federations", "Weather services"},
			explanation: "Securities regulators and enforcement agencies investigate market misconduct.",
			category:    "regulatory_response",
			difficulty:  "easy",
		},
		{
			prompt:      fmt.Sprintf("Which safeguard would most likely have limited the damage in the %s case?", topic),
			answer:      "Stronger independent oversight and audits",
			distractors: []string{"Higher marketing spend", "Fewer shareholder meetings", "Faster product launches"},
			explanation: "Independent oversight is the main safeguard against concealed misconduct.",
			category:    "lesson",
			difficulty:  "hard",
		},
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
