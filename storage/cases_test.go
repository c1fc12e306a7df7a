package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"case-forge/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.CaseStudy{}, &models.QuizQuestion{}, &models.CaseGenerationLog{}))
	return db
}

func sampleQuiz(prefix string) []models.QuizQuestion {
	quiz := make([]models.QuizQuestion, models.QuizSize)
	for i := range quiz {
		quiz[i] = models.QuizQuestion{
			Prompt:             fmt.Sprintf("%s question %d", prefix, i),
			Options:            []string{"a", "b", "c", "d"},
			CorrectOptionIndex: i % 4,
			Explanation:        fmt.Sprintf("%s explanation %d", prefix, i),
		}
	}
	return quiz
}

func TestSaveSynthesisReplacesQuiz(t *testing.T) {
	db := newTestDB(t)
	repo := NewCaseRepository(db, zap.NewNop())
	ctx := context.Background()

	cs := models.CaseStudy{Title: "Acme Corp Fraud", CompanyName: "Acme Corp"}
	require.NoError(t, db.Create(&cs).Error)

	slug, err := repo.SaveSynthesis(ctx, cs.ID, SynthesisWrite{Narrative: "first", RefinedTitle: "Acme Corp Circular Trading", Mode: "model", Quiz: sampleQuiz("old")})
	require.NoError(t, err)
	assert.Equal(t, "acme-corp-circular-trading", slug)

	_, err = repo.SaveSynthesis(ctx, cs.ID, SynthesisWrite{Narrative: "second", RefinedTitle: "Acme Corp Circular Trading", Mode: "local", Quiz: sampleQuiz("new")})
	require.NoError(t, err)

	got, err := repo.GetCase(ctx, cs.ID)
	require.NoError(t, err)
	require.Len(t, got.Quiz, models.QuizSize)
	for i, q := range got.Quiz {
		assert.Equal(t, i, q.Order)
		assert.True(t, strings.HasPrefix(q.Prompt, "new"))
		assert.Len(t, q.Options, 4)
	}
	assert.Equal(t, "second", got.FullNarrative)
	assert.Equal(t, "new question 0", got.ChallengeQuestion)
	assert.Equal(t, "new explanation 0", got.Explanation)
	assert.Equal(t, "local", got.SynthesisMode)
	assert.Equal(t, models.CaseStatusDraft, got.Status)
	require.NotNil(t, got.Slug)
	assert.Equal(t, "acme-corp-circular-trading", *got.Slug)
}

func TestSaveSynthesisRejectsWrongQuizSize(t *testing.T) {
	db := newTestDB(t)
	repo := NewCaseRepository(db, zap.NewNop())
	ctx := context.Background()

	cs := models.CaseStudy{Title: "Beta"}
	require.NoError(t, db.Create(&cs).Error)
	_, err := repo.SaveSynthesis(ctx, cs.ID, SynthesisWrite{Narrative: "n", RefinedTitle: "Beta Story", Quiz: sampleQuiz("ok")})
	require.NoError(t, err)

	_, err = repo.SaveSynthesis(ctx, cs.ID, SynthesisWrite{Narrative: "n2", Quiz: sampleQuiz("bad")[:3]})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.QuizQuestion{}).Where("case_study_id = ?", cs.ID).Count(&count).Error)
	assert.EqualValues(t, models.QuizSize, count)
}

func TestSaveSynthesisSlugCollision(t *testing.T) {
	db := newTestDB(t)
	repo := NewCaseRepository(db, zap.NewNop())
	ctx := context.Background()

	title := strings.Repeat("Very Long Headline ", 6)
	a := models.CaseStudy{Title: "A"}
	b := models.CaseStudy{Title: "B"}
	require.NoError(t, db.Create(&a).Error)
	require.NoError(t, db.Create(&b).Error)

	slugA, err := repo.SaveSynthesis(ctx, a.ID, SynthesisWrite{Narrative: "n", RefinedTitle: title, Quiz: sampleQuiz("a")})
	require.NoError(t, err)
	slugB, err := repo.SaveSynthesis(ctx, b.ID, SynthesisWrite{Narrative: "n", RefinedTitle: title, Quiz: sampleQuiz("b")})
	require.NoError(t, err)

	assert.LessOrEqual(t, len(slugA), 60)
	assert.LessOrEqual(t, len(slugB), 60)
	assert.NotEqual(t, slugA, slugB)
	assert.True(t, strings.HasSuffix(slugB, fmt.Sprintf("-%d", b.ID)))

	// Erneute Synthese desselben Falls behält den eigenen Slug.
	again, err := repo.SaveSynthesis(ctx, a.ID, SynthesisWrite{Narrative: "n", RefinedTitle: title, Quiz: sampleQuiz("a")})
	require.NoError(t, err)
	assert.Equal(t, slugA, again)
}

func TestSaveSynthesisRetriesOnConcurrentSlug(t *testing.T) {
	db := newTestDB(t)
	repo := NewCaseRepository(db, zap.NewNop())
	ctx := context.Background()

	a := models.CaseStudy{Title: "A"}
	b := models.CaseStudy{Title: "B"}
	require.NoError(t, db.Create(&a).Error)
	require.NoError(t, db.Create(&b).Error)

	slugA, err := repo.SaveSynthesis(ctx, a.ID, SynthesisWrite{Narrative: "n", RefinedTitle: "Acme Corp Collapse", Quiz: sampleQuiz("a")})
	require.NoError(t, err)
	require.Equal(t, "acme-corp-collapse", slugA)

	// Zwischen Prüfung und Schreiben hat ein anderer Lauf den Slug belegt.
	orig := slugTaken
	slugTaken = func(*gorm.DB, string, uint) (bool, error) { return false, nil }
	t.Cleanup(func() { slugTaken = orig })

	slugB, err := repo.SaveSynthesis(ctx, b.ID, SynthesisWrite{Narrative: "n", RefinedTitle: "Acme Corp Collapse", Quiz: sampleQuiz("b")})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("acme-corp-collapse-%d", b.ID), slugB)

	var quiz []models.QuizQuestion
	require.NoError(t, db.Where("case_study_id = ?", b.ID).Find(&quiz).Error)
	assert.Len(t, quiz, models.QuizSize)
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, isDuplicateKey(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicateKey(fmt.Errorf("update: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, isDuplicateKey(errors.New(`ERROR: duplicate key value violates unique constraint "idx_case_studies_slug"`)))
	assert.True(t, isDuplicateKey(errors.New("UNIQUE constraint failed: case_studies.slug")))
	assert.False(t, isDuplicateKey(errors.New("connection refused")))
}

func TestGetCaseNotFound(t *testing.T) {
	repo := NewCaseRepository(newTestDB(t), zap.NewNop())
	_, err := repo.GetCase(context.Background(), 4242)
	assert.ErrorIs(t, err, ErrCaseNotFound)
}

func TestSaveSourcesAndListPending(t *testing.T) {
	db := newTestDB(t)
	repo := NewCaseRepository(db, zap.NewNop())
	ctx := context.Background()

	pending := models.CaseStudy{Title: "Pending", CompanyName: "Pending Ltd"}
	done := models.CaseStudy{Title: "Done", CompanyName: "Done Ltd"}
	require.NoError(t, db.Create(&pending).Error)
	require.NoError(t, db.Create(&done).Error)

	items := []models.SourceItem{{Type: models.SourceTypeNews, Provider: "newsapi", URL: "https://x/1", Title: "Done Ltd probe", Snippet: "s"}}
	require.NoError(t, repo.SaveSources(ctx, done.ID, items))

	list, err := repo.ListCasesNeedingEnrichment(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, pending.ID, list[0].ID)

	got, err := repo.GetCase(ctx, done.ID)
	require.NoError(t, err)
	stored, err := got.SourceItems()
	require.NoError(t, err)
	assert.Equal(t, items, stored)
	assert.NotNil(t, got.SourcesUpdatedAt)

	assert.ErrorIs(t, repo.SaveSources(ctx, 999, items), ErrCaseNotFound)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "acme-corp-s-big-fall", Slugify("  Acme Corp's Big Fall! "))
	long := Slugify(strings.Repeat("word ", 30))
	assert.LessOrEqual(t, len(long), 60)
	assert.False(t, strings.HasSuffix(long, "-"))
	assert.Equal(t, "", Slugify("!!!"))
}
