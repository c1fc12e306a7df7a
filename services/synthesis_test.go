package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"case-forge/config"
	"case-forge/llm"
	"case-forge/models"
	"case-forge/storage"
)

const acmeNarrative = "# Acme Corp and the Circular Trading Machine [S1]\n\n" +
	"Acme Corp allegedly inflated revenue through circular trading [S1, S2]. Auditors missed the pattern [S2]."

type synthesisFixture struct {
	db     *gorm.DB
	repo   *storage.CaseRepository
	audit  *storage.AuditLog
	cfg    *config.Config
	caseID uint
}

func newSynthesisFixture(t *testing.T, fallback bool) *synthesisFixture {
	t.Helper()
	db := newTestDB(t)
	f := &synthesisFixture{
		db:    db,
		repo:  storage.NewCaseRepository(db, zap.NewNop()),
		audit: storage.NewAuditLog(db, zap.NewNop(), true, 0),
		cfg: &config.Config{
			LLMModel:             "primary",
			LLMFallbackModels:    "backup",
			LocalFallbackEnabled: fallback,
			SynthPerSourceChars:  800,
			SynthTotalChars:      9000,
		},
	}

	cs := models.CaseStudy{
		Title:        "Acme Corp revenue case",
		CompanyName:  "Acme Corp",
		ShortSummary: "Acme Corp allegedly inflated revenue via circular trading.",
		Status:       models.CaseStatusDraft,
	}
	require.NoError(t, cs.SetSourceItems([]models.SourceItem{
		newsItem(1, "Weather report for the week"),
		{Type: models.SourceTypeNews, Provider: "gnews", URL: "https://gnews.example.com/acme", Title: "Acme Corp circular trading probe",
			Snippet: "Acme Corp is accused of circular trading to inflate revenue."},
	}))
	require.NoError(t, db.Create(&cs).Error)
	f.caseID = cs.ID
	return f
}

func (f *synthesisFixture) service(client llm.Client) *SynthesisService {
	return NewSynthesisService(f.cfg, zap.NewNop(), f.repo, f.audit, client, nil)
}

func (f *synthesisFixture) phases(t *testing.T) []string {
	t.Helper()
	entries, err := f.audit.Entries(context.Background(), f.caseID)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.Phase)
	}
	return out
}

func (f *synthesisFixture) storedQuiz(t *testing.T) []models.QuizQuestion {
	t.Helper()
	var quiz []models.QuizQuestion
	require.NoError(t, f.db.Where("case_study_id = ?", f.caseID).Order("order_index ASC").Find(&quiz).Error)
	return quiz
}

func countPhase(phases []string, phase string) int {
	n := 0
	for _, p := range phases {
		if p == phase {
			n++
		}
	}
	return n
}

func TestSynthesizeHappyPath(t *testing.T) {
	f := newSynthesisFixture(t, false)
	client := &fakeLLM{reply: func(string) (string, error) { return modelJSON(acmeNarrative, 5), nil }}

	res, err := f.service(client).Synthesize(context.Background(), f.caseID)
	require.NoError(t, err)

	assert.Equal(t, ModeModel, res.Mode)
	assert.Equal(t, "primary", res.Model)
	assert.Equal(t, "Acme Corp and the Circular Trading Machine", res.RefinedTitle)
	assert.NotContains(t, res.RefinedTitle, "[S")
	assert.LessOrEqual(t, runeLen(res.RefinedTitle), 90)
	assert.Equal(t, "acme-corp-and-the-circular-trading-machine", res.Slug)
	assertQuizShape(t, res.Quiz)
	assert.Equal(t, []string{"primary"}, client.calledModels())

	// Die relevanteste Quelle steht als S1 im Prompt.
	assert.Contains(t, client.prompts[0], "[S1|gnews] Acme Corp circular trading probe")
	require.Len(t, res.Diagnostics.CitedSources, 2)
	assert.Equal(t, "gnews", res.Diagnostics.CitedSources[0].Provider)
	assert.Len(t, res.Diagnostics.References, 2)

	quiz := f.storedQuiz(t)
	require.Len(t, quiz, 5)
	for i, q := range quiz {
		assert.Equal(t, i, q.Order)
	}

	stored, err := f.repo.GetCase(context.Background(), f.caseID)
	require.NoError(t, err)
	assert.Equal(t, ModeModel, stored.SynthesisMode)
	assert.Equal(t, acmeNarrative, stored.FullNarrative)
	assert.Equal(t, quiz[0].Prompt, stored.ChallengeQuestion)

	assert.Equal(t, []string{
		models.PhaseSynthesisStart, models.PhasePrompt, models.PhaseModelRaw, models.PhasePersistComplete,
	}, f.phases(t))

	// Erneuter Lauf ersetzt das Quiz vollständig.
	_, err = f.service(client).Synthesize(context.Background(), f.caseID)
	require.NoError(t, err)
	assert.Len(t, f.storedQuiz(t), 5)
}

func TestSynthesizeFallsBackToNextModel(t *testing.T) {
	f := newSynthesisFixture(t, false)
	client := &fakeLLM{reply: func(model string) (string, error) {
		if model == "primary" {
			return "", &llm.Error{Code: llm.CodeModelHTTP, Status: 429, Model: model}
		}
		return modelJSON(acmeNarrative, 5), nil
	}}
	archive := &fakeArchive{}
	svc := f.service(client)
	svc.Archive = archive

	res, err := svc.Synthesize(context.Background(), f.caseID)
	require.NoError(t, err)

	assert.Equal(t, "backup", res.Model)
	assert.Equal(t, []string{"primary", "backup"}, client.calledModels())
	require.Len(t, res.Diagnostics.Attempts, 2)
	assert.Equal(t, CodeModelHTTP, res.Diagnostics.Attempts[0].Outcome)
	assert.Equal(t, 429, res.Diagnostics.Attempts[0].Status)
	assert.Equal(t, "ok", res.Diagnostics.Attempts[1].Outcome)
	assert.Equal(t, "s3://bucket/"+archive.keys[0], res.Diagnostics.Attempts[1].ArchiveURL)
	assert.True(t, strings.HasPrefix(archive.keys[0], "synthesis/"))

	phases := f.phases(t)
	assert.Equal(t, 1, countPhase(phases, models.PhaseModelError))
	assert.Equal(t, 1, countPhase(phases, models.PhaseModelRaw))
}

func TestSynthesizeMissingKeyWithFallback(t *testing.T) {
	f := newSynthesisFixture(t, true)

	res, err := f.service(nil).Synthesize(context.Background(), f.caseID)
	require.NoError(t, err)

	assert.Equal(t, ModeLocal, res.Mode)
	assert.Contains(t, res.Narrative, "Case Study")
	assertQuizShape(t, res.Quiz)
	assert.Equal(t, CodeMissingAPIKey, res.Diagnostics.FallbackReason)
	assert.NotEmpty(t, res.Slug)
	assert.Len(t, f.storedQuiz(t), 5)

	phases := f.phases(t)
	assert.Contains(t, phases, models.PhaseMissingKey)
	assert.Contains(t, phases, models.PhaseLocalFallback)
	assert.Contains(t, phases, models.PhasePersistComplete)
	assert.NotContains(t, phases, models.PhasePrompt)
}

func TestSynthesizeMissingKeyWithoutFallback(t *testing.T) {
	f := newSynthesisFixture(t, false)

	_, err := f.service(nil).Synthesize(context.Background(), f.caseID)
	require.Error(t, err)
	assert.Equal(t, CodeMissingAPIKey, ErrorCode(err))
	assert.ErrorIs(t, err, llm.ErrMissingAPIKey)
	assert.Empty(t, f.storedQuiz(t))
}

func TestSynthesizeMalformedJSONWithoutFallback(t *testing.T) {
	f := newSynthesisFixture(t, false)
	client := &fakeLLM{reply: func(string) (string, error) { return "not json at all", nil }}

	_, err := f.service(client).Synthesize(context.Background(), f.caseID)
	require.Error(t, err)
	assert.Equal(t, CodeModelError, ErrorCode(err))

	var se *SynthesisError
	require.True(t, errors.As(err, &se))
	require.NotNil(t, se.Diagnostics)
	assert.Equal(t, CodeParseError, se.Diagnostics.LastErrorCode)
	assert.Len(t, se.Diagnostics.Attempts, 2)

	assert.Equal(t, []string{"primary", "backup"}, client.calledModels())
	phases := f.phases(t)
	assert.Equal(t, 2, countPhase(phases, models.PhaseModelError))
	assert.Equal(t, 2, countPhase(phases, models.PhaseValidationFail))
	assert.Empty(t, f.storedQuiz(t))
}

func TestSynthesizeMalformedJSONWithFallback(t *testing.T) {
	f := newSynthesisFixture(t, true)
	client := &fakeLLM{reply: func(string) (string, error) { return modelJSON(acmeNarrative, 4), nil }}

	res, err := f.service(client).Synthesize(context.Background(), f.caseID)
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, res.Mode)
	assert.Equal(t, CodeIncorrectQuestionCount, res.Diagnostics.FallbackReason)
	assert.Len(t, res.Diagnostics.Attempts, 2)
	assertQuizShape(t, res.Quiz)
}

func TestSynthesizeNotFound(t *testing.T) {
	f := newSynthesisFixture(t, true)
	_, err := f.service(nil).Synthesize(context.Background(), 4242)
	assert.Equal(t, CodeNotFound, ErrorCode(err))
}

type failingStore struct {
	*storage.CaseRepository
}

func (failingStore) SaveSynthesis(context.Context, uint, storage.SynthesisWrite) (string, error) {
	return "", errors.New("database is read-only")
}

func TestSynthesizePersistFailure(t *testing.T) {
	client := &fakeLLM{reply: func(string) (string, error) { return modelJSON(acmeNarrative, 5), nil }}

	t.Run("fallback enabled", func(t *testing.T) {
		f := newSynthesisFixture(t, true)
		svc := NewSynthesisService(f.cfg, zap.NewNop(), failingStore{f.repo}, f.audit, client, nil)

		res, err := svc.Synthesize(context.Background(), f.caseID)
		require.NoError(t, err)
		assert.Equal(t, ModeLocal, res.Mode)
		assert.Equal(t, "database is read-only", res.Diagnostics.PersistError)
		assert.Equal(t, "primary", res.Diagnostics.GeneratedBy)
		assert.Equal(t, acmeNarrative, res.Narrative)
		assert.Empty(t, res.Slug)
		assert.Contains(t, f.phases(t), models.PhasePersistError)
	})

	t.Run("fallback disabled", func(t *testing.T) {
		f := newSynthesisFixture(t, false)
		svc := NewSynthesisService(f.cfg, zap.NewNop(), failingStore{f.repo}, f.audit, client, nil)

		_, err := svc.Synthesize(context.Background(), f.caseID)
		assert.Equal(t, CodePersistError, ErrorCode(err))
	})
}

type fakeArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *fakeArchive) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return "s3://bucket/" + key, nil
}
