package services

import (
	"fmt"
	"strings"

	"case-forge/config"
	"case-forge/models"
)

const blockSeparator = "\n\n"

// PromptOptions steuern die Größe des Prompts.
type PromptOptions struct {
	PerSourceChars int
	TotalChars     int
	QuestionCount  int
	FullText       bool
}

// PromptOptionsFromConfig wählt die Budgets für Snippet- oder Volltext-Modus. Die Fragenzahl
// ist immer models.QuizSize, weil die Validierung genau diese Anzahl verlangt.
func PromptOptionsFromConfig(cfg *config.Config) PromptOptions {
	opts := PromptOptions{
		PerSourceChars: cfg.SynthPerSourceChars,
		TotalChars:     cfg.SynthTotalChars,
		QuestionCount:  models.QuizSize,
		FullText:       cfg.SynthFullText,
	}
	if cfg.SynthFullText {
		opts.PerSourceChars = cfg.SynthFullPerSourceChars
		opts.TotalChars = cfg.SynthFullTotalChars
	}
	return opts
}

// PromptBuild ist das Ergebnis des Prompt-Aufbaus.
type PromptBuild struct {
	Prompt      string              `json:"-"`
	SourceBlock string              `json:"-"`
	Included    []models.SourceItem `json:"-"`
	Dropped     int                 `json:"dropped"`
	SourceChars int                 `json:"sourceChars"`
	Budget      int                 `json:"budget"`
	FullText    bool                `json:"fullText"`
}

// IncludedCount ist die Anzahl der Quellen im Prompt.
func (b PromptBuild) IncludedCount() int { return len(b.Included) }

// BuildPrompt setzt den Prompt aus den gerankten Quellen zusammen. Quellen werden
// einzeln gekappt; sobald ein Block das Gesamtbudget sprengen würde, ist Schluss.
// Ein Block ist immer ganz oder gar nicht enthalten.
func BuildPrompt(topic, summary string, ranked []models.SourceItem, opts PromptOptions) PromptBuild {
	build := PromptBuild{Budget: opts.TotalChars, FullText: opts.FullText}
	var blocks []string
	used := 0
	for _, item := range ranked {
		block := formatSourceBlock(len(blocks)+1, item, opts)
		cost := runeLen(block)
		if len(blocks) > 0 {
			cost += runeLen(blockSeparator)
		}
		if opts.TotalChars > 0 && used+cost > opts.TotalChars {
			break
		}
		used += cost
		blocks = append(blocks, block)
		build.Included = append(build.Included, item)
	}
	build.Dropped = len(ranked) - len(build.Included)
	build.SourceBlock = strings.Join(blocks, blockSeparator)
	build.SourceChars = used
	build.Prompt = assemblePrompt(topic, summary, build.SourceBlock, opts.QuestionCount)
	return build
}

func formatSourceBlock(n int, item models.SourceItem, opts PromptOptions) string {
	content := item.Snippet
	if opts.FullText || content == "" {
		content = item.FullText()
	}
	content = truncateRunes(flattenWhitespace(content), opts.PerSourceChars)
	link := item.URL
	if link == "" {
		link = "n/a"
	}
	return fmt.Sprintf("[S%d|%s] %s\n%s\nURL: %s", n, item.Provider, flattenWhitespace(item.Title), content, link)
}

func assemblePrompt(topic, summary, sources string, questions int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are writing an educational financial case study about %q for retail investors.\n", topic)
	if s := strings.TrimSpace(summary); s != "" {
		fmt.Fprintf(&b, "Seed summary: %s\n", s)
	}
	b.WriteString("\nSOURCES (each block is tagged [S<n>|provider]):\n\n")
	if sources == "" {
		b.WriteString("(no sources available; rely only on the seed summary and state uncertainty)\n")
	} else {
		b.WriteString(sources)
		b.WriteString("\n")
	}

	b.WriteString("\nINSTRUCTIONS:\n")
	b.WriteString("1. Write ONE cohesive narrative of 900-1400 words. The first line is a concise headline for the case.\n")
	b.WriteString("2. Tag every material claim with the source it comes from, e.g. [S1] or [S2, S3].\n")
	b.WriteString("3. Do not invent facts, figures, names or dates that are not supported by the sources. If something is unclear, say so.\n")
	fmt.Fprintf(&b, "4. Write EXACTLY %d multiple-choice questions. Each question has exactly 4 options and one correctOptionIndex (0-3).\n", questions)
	fmt.Fprintf(&b, "5. Question categories must cover at least 5 distinct values from: %s.\n", strings.Join(models.QuizCategories, ", "))
	b.WriteString("6. Difficulty must be one of easy, medium, hard, with at least 2 hard and at least 2 medium questions.\n")
	b.WriteString("7. Output raw JSON only. No markdown, no code fences, no commentary.\n")
	b.WriteString("\nOUTPUT FORMAT:\n")
	b.WriteString(`{"narrative": "string", "questions": [{"prompt": "string", "options": ["a", "b", "c", "d"], "correctOptionIndex": 0, "explanation": "string", "category": "mechanism", "difficulty": "medium"}]}`)
	fmt.Fprintf(&b, "\n\nMANDATORY: the \"questions\" array must contain exactly %d items. Responses with any other number of questions are rejected.\n", questions)
	return b.String()
}
