package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"case-forge/models"
	"case-forge/providers"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.CaseStudy{}, &models.QuizQuestion{}, &models.CaseGenerationLog{}))
	return db
}

// fakeLLM antwortet je Modell über reply und merkt sich die Aufrufe.
type fakeLLM struct {
	mu      sync.Mutex
	models  []string
	prompts []string
	reply   func(model string) (string, error)
}

func (f *fakeLLM) Generate(_ context.Context, prompt, model string) (string, error) {
	f.mu.Lock()
	f.models = append(f.models, model)
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.reply(model)
}

func (f *fakeLLM) calledModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.models...)
}

type stubConnector struct {
	name       string
	notApplies bool
	panics     bool
	result     providers.Result

	mu      sync.Mutex
	queries []providers.Query
}

func (s *stubConnector) Name() string { return s.name }

func (s *stubConnector) Applicable(providers.Query) bool { return !s.notApplies }

func (s *stubConnector) Fetch(_ context.Context, q providers.Query) providers.Result {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()
	if s.panics {
		panic("connector exploded")
	}
	return s.result
}

func (s *stubConnector) seen() []providers.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]providers.Query(nil), s.queries...)
}

func newsItem(n int, title string) models.SourceItem {
	return models.SourceItem{
		Type:     models.SourceTypeNews,
		Provider: "newsapi",
		URL:      fmt.Sprintf("https://news.example.com/%d", n),
		Title:    title,
		Snippet:  title + " snippet",
	}
}

func modelJSON(narrative string, n int) string {
	qs := make([]map[string]any, n)
	for i := range qs {
		qs[i] = map[string]any{
			"prompt":             fmt.Sprintf("Question %d?", i+1),
			"options":            []string{"A", "B", "C", "D"},
			"correctOptionIndex": i % 4,
			"explanation":        "Because the sources say so.",
			"category":           models.QuizCategories[i%len(models.QuizCategories)],
			"difficulty":         []string{"easy", "medium", "medium", "hard", "hard"}[i%5],
		}
	}
	b, _ := json.Marshal(map[string]any{"narrative": narrative, "questions": qs})
	return string(b)
}
