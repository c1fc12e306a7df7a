package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"case-forge/config"
	"case-forge/llm"
	"case-forge/models"
	"case-forge/storage"
)

// Ergebnis-Modi einer Synthese.
const (
	ModeModel = "model"
	ModeLocal = "local"
)

// CaseStore ist der Persistenzzugriff der Pipeline.
type CaseStore interface {
	GetCase(ctx context.Context, id uint) (*models.CaseStudy, error)
	SaveSources(ctx context.Context, id uint, items []models.SourceItem) error
	SaveSynthesis(ctx context.Context, id uint, w storage.SynthesisWrite) (string, error)
	ListCasesNeedingEnrichment(ctx context.Context, limit int) ([]models.CaseStudy, error)
}

// AuditLogger nimmt Audit-Einträge entgegen und gibt nie einen Fehler zurück.
type AuditLogger interface {
	Append(ctx context.Context, e storage.AuditEntry)
}

// Archiver legt Rohantworten des Modells ab.
type Archiver interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// ModelAttempt protokolliert einen Generierungsversuch.
type ModelAttempt struct {
	Model      string `json:"model"`
	Outcome    string `json:"outcome"`
	Status     int    `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
	RawChars   int    `json:"rawChars,omitempty"`
	ArchiveURL string `json:"archiveUrl,omitempty"`
	DurationMS int64  `json:"durationMs"`
}

// Diagnostics begleiten jedes Syntheseergebnis und jeden Synthesefehler.
type Diagnostics struct {
	Attempts         []ModelAttempt `json:"attempts,omitempty"`
	Prompt           *PromptBuild   `json:"prompt,omitempty"`
	RankedSources    int            `json:"rankedSources"`
	CitedSources     []CitedSource  `json:"citedSources,omitempty"`
	References       []string       `json:"references,omitempty"`
	CitationWarnings []string       `json:"citationWarnings,omitempty"`
	FallbackReason   string         `json:"fallbackReason,omitempty"`
	LastErrorCode    string         `json:"lastErrorCode,omitempty"`
	PersistError     string         `json:"persistError,omitempty"`
	GeneratedBy      string         `json:"generatedBy,omitempty"`

	SentencesFound    int `json:"sentencesFound,omitempty"`
	SentencesTopical  int `json:"sentencesTopical,omitempty"`
	SentencesUsed     int `json:"sentencesUsed,omitempty"`
	SourcesConsidered int `json:"sourcesConsidered,omitempty"`
}

// SynthesisResult ist das Ergebnis einer Synthese.
type SynthesisResult struct {
	CaseID       uint                  `json:"caseId"`
	Mode         string                `json:"mode"`
	Model        string                `json:"model,omitempty"`
	Narrative    string                `json:"narrative"`
	RefinedTitle string                `json:"refinedTitle"`
	Slug         string                `json:"slug,omitempty"`
	Quiz         []models.QuizQuestion `json:"quiz"`
	Diagnostics  *Diagnostics          `json:"diagnostics,omitempty"`
}

// SynthesisService erzeugt Erzählung und Quiz eines Falls, per Modell oder lokal.
type SynthesisService struct {
	Config  *config.Config
	Logger  *zap.Logger
	Cases   CaseStore
	Audit   AuditLogger
	LLM     llm.Client
	Archive Archiver
}

// NewSynthesisService erstellt einen neuen SynthesisService. client ist nil, wenn kein
// API-Schlüssel konfiguriert ist; archive ist optional.
func NewSynthesisService(cfg *config.Config, logger *zap.Logger, cases CaseStore, audit AuditLogger, client llm.Client, archive Archiver) *SynthesisService {
	return &SynthesisService{
		Config:  cfg,
		Logger:  logger,
		Cases:   cases,
		Audit:   audit,
		LLM:     client,
		Archive: archive,
	}
}

// Synthesize führt die Synthese für einen Fall aus und ersetzt vorherige Ergebnisse vollständig.
func (s *SynthesisService) Synthesize(ctx context.Context, caseID uint) (*SynthesisResult, error) {
	log := s.Logger.With(zap.Uint("case_id", caseID))

	cs, err := s.Cases.GetCase(ctx, caseID)
	if err != nil {
		synthesisRunsCounter.WithLabelValues("failed").Inc()
		if errors.Is(err, storage.ErrCaseNotFound) {
			return nil, newSynthesisError(CodeNotFound, err)
		}
		return nil, newSynthesisError(CodePersistError, err)
	}

	topic := cs.Topic()
	s.audit(ctx, caseID, models.PhaseSynthesisStart, map[string]any{"topic": topic, "summary": cs.ShortSummary}, nil, "")

	sources, err := cs.SourceItems()
	if err != nil {
		log.Warn("Gespeicherte Quellen nicht lesbar, fahre ohne Quellen fort", zap.Error(err))
		sources = nil
	}
	ranked := RankSources(sources, topic, cs.ShortSummary)
	diag := &Diagnostics{RankedSources: len(ranked)}

	if s.LLM == nil {
		s.audit(ctx, caseID, models.PhaseMissingKey, nil, nil, CodeMissingAPIKey)
		diag.LastErrorCode = CodeMissingAPIKey
		if s.Config.LocalFallbackEnabled {
			return s.synthesizeLocally(ctx, cs, ranked, diag, CodeMissingAPIKey)
		}
		synthesisRunsCounter.WithLabelValues("failed").Inc()
		return nil, &SynthesisError{Code: CodeMissingAPIKey, Err: llm.ErrMissingAPIKey, Diagnostics: diag}
	}

	build := BuildPrompt(topic, cs.ShortSummary, ranked, PromptOptionsFromConfig(s.Config))
	diag.Prompt = &build
	s.audit(ctx, caseID, models.PhasePrompt, build.Prompt, build, "")
	log.Debug("Prompt gebaut",
		zap.Int("included", build.IncludedCount()),
		zap.Int("dropped", build.Dropped),
		zap.Int("source_chars", build.SourceChars))

	payload, model := s.generate(ctx, cs, build.Prompt, diag)
	if payload == nil {
		if s.Config.LocalFallbackEnabled {
			return s.synthesizeLocally(ctx, cs, ranked, diag, diag.LastErrorCode)
		}
		synthesisRunsCounter.WithLabelValues("failed").Inc()
		return nil, &SynthesisError{
			Code:        CodeModelError,
			Err:         fmt.Errorf("all %d models failed, last error: %s", len(diag.Attempts), diag.LastErrorCode),
			Diagnostics: diag,
		}
	}

	result := &SynthesisResult{
		CaseID:       caseID,
		Mode:         ModeModel,
		Model:        model,
		Narrative:    payload.Narrative,
		RefinedTitle: DeriveTitle(payload.Narrative, cs.Title),
		Quiz:         quizFromPayload(payload.Questions),
		Diagnostics:  diag,
	}
	diag.CitedSources, diag.CitationWarnings = CitedSources(payload.Narrative, build.Included)
	for _, c := range diag.CitedSources {
		diag.References = append(diag.References, FormatReference(c))
	}

	slug, err := s.Cases.SaveSynthesis(ctx, caseID, storage.SynthesisWrite{
		Narrative:    result.Narrative,
		RefinedTitle: result.RefinedTitle,
		Mode:         ModeModel,
		Quiz:         result.Quiz,
	})
	if err != nil {
		log.Error("Synthese konnte nicht gespeichert werden", zap.String("model", model), zap.Error(err))
		s.audit(ctx, caseID, models.PhasePersistError, model, nil, err.Error())
		if s.Config.LocalFallbackEnabled {
			// Generierung war erfolgreich, nur die Speicherung nicht.
			result.Mode = ModeLocal
			diag.PersistError = err.Error()
			diag.GeneratedBy = model
			synthesisRunsCounter.WithLabelValues(ModeLocal).Inc()
			return result, nil
		}
		synthesisRunsCounter.WithLabelValues("failed").Inc()
		return nil, &SynthesisError{Code: CodePersistError, Err: err, Diagnostics: diag}
	}

	result.Slug = slug
	s.audit(ctx, caseID, models.PhasePersistComplete, model, map[string]any{"slug": slug, "mode": ModeModel}, "")
	synthesisRunsCounter.WithLabelValues(ModeModel).Inc()
	log.Info("Synthese abgeschlossen", zap.String("mode", ModeModel), zap.String("model", model), zap.String("slug", slug))
	return result, nil
}

// generate probiert die Modelle nacheinander. Ein Versuch gilt erst als erfolgreich,
// wenn die Antwort auch die Validierung besteht.
func (s *SynthesisService) generate(ctx context.Context, cs *models.CaseStudy, prompt string, diag *Diagnostics) (*ModelPayload, string) {
	for _, model := range s.Config.Models() {
		log := s.Logger.With(zap.Uint("case_id", cs.ID), zap.String("model", model))
		started := time.Now()
		attempt := ModelAttempt{Model: model}

		raw, err := s.LLM.Generate(ctx, prompt, model)
		attempt.DurationMS = time.Since(started).Milliseconds()
		if err != nil {
			attempt.Outcome = ErrorCode(err)
			if attempt.Outcome == "" {
				attempt.Outcome = CodeModelError
			}
			var ge *llm.Error
			if errors.As(err, &ge) {
				attempt.Status = ge.Status
			}
			attempt.Error = err.Error()
			s.recordFailure(ctx, cs.ID, diag, attempt)
			log.Warn("Modellaufruf fehlgeschlagen", zap.String("code", attempt.Outcome), zap.Error(err))
			continue
		}

		attempt.RawChars = runeLen(raw)
		s.audit(ctx, cs.ID, models.PhaseModelRaw, model, raw, "")
		attempt.ArchiveURL = s.archiveRaw(ctx, cs.ID, model, raw)

		payload, verr := ValidateModelOutput(raw)
		if verr != nil {
			attempt.Outcome = ErrorCode(verr)
			attempt.Error = verr.Error()
			s.audit(ctx, cs.ID, models.PhaseValidationFail, model, raw, verr.Error())
			s.recordFailure(ctx, cs.ID, diag, attempt)
			log.Warn("Modellantwort ungültig", zap.String("code", attempt.Outcome), zap.Error(verr))
			continue
		}

		attempt.Outcome = "ok"
		diag.Attempts = append(diag.Attempts, attempt)
		modelAttemptsCounter.WithLabelValues(model, attempt.Outcome).Inc()
		return payload, model
	}
	return nil, ""
}

func (s *SynthesisService) recordFailure(ctx context.Context, caseID uint, diag *Diagnostics, attempt ModelAttempt) {
	diag.Attempts = append(diag.Attempts, attempt)
	diag.LastErrorCode = attempt.Outcome
	modelAttemptsCounter.WithLabelValues(attempt.Model, attempt.Outcome).Inc()
	s.audit(ctx, caseID, models.PhaseModelError, attempt.Model, nil, attempt.Error)
}

func (s *SynthesisService) synthesizeLocally(ctx context.Context, cs *models.CaseStudy, sources []models.SourceItem, diag *Diagnostics, reason string) (*SynthesisResult, error) {
	log := s.Logger.With(zap.Uint("case_id", cs.ID), zap.String("reason", reason))
	log.Info("Nutze lokale Heuristik")

	result := LocalHeuristicSynthesis(cs, sources, HeuristicMeta{Reason: reason})
	local := result.Diagnostics
	local.Attempts = diag.Attempts
	local.Prompt = diag.Prompt
	local.RankedSources = diag.RankedSources
	local.LastErrorCode = diag.LastErrorCode
	s.audit(ctx, cs.ID, models.PhaseLocalFallback, reason, local, "")

	slug, err := s.Cases.SaveSynthesis(ctx, cs.ID, storage.SynthesisWrite{
		Narrative:    result.Narrative,
		RefinedTitle: result.RefinedTitle,
		Mode:         ModeLocal,
		Quiz:         result.Quiz,
	})
	if err != nil {
		log.Error("Lokale Synthese konnte nicht gespeichert werden", zap.Error(err))
		s.audit(ctx, cs.ID, models.PhasePersistError, ModeLocal, nil, err.Error())
		local.PersistError = err.Error()
		synthesisRunsCounter.WithLabelValues("failed").Inc()
		return nil, &SynthesisError{Code: CodePersistError, Err: err, Diagnostics: local}
	}

	result.Slug = slug
	s.audit(ctx, cs.ID, models.PhasePersistComplete, ModeLocal, map[string]any{"slug": slug, "mode": ModeLocal}, "")
	synthesisRunsCounter.WithLabelValues(ModeLocal).Inc()
	return result, nil
}

var archiveKeyInvalid = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// archiveRaw legt die Rohantwort im Bucket ab, wenn ein Archiv konfiguriert ist.
func (s *SynthesisService) archiveRaw(ctx context.Context, caseID uint, model, raw string) string {
	if s.Archive == nil {
		return ""
	}
	key := fmt.Sprintf("synthesis/%d/%s-%s.txt", caseID, time.Now().UTC().Format("20060102T150405"), archiveKeyInvalid.ReplaceAllString(model, "_"))
	link, err := s.Archive.Put(ctx, key, []byte(raw), "text/plain; charset=utf-8")
	if err != nil {
		s.Logger.Warn("Rohantwort konnte nicht archiviert werden", zap.String("key", key), zap.Error(err))
		return ""
	}
	return link
}

func quizFromPayload(questions []ModelQuestion) []models.QuizQuestion {
	quiz := make([]models.QuizQuestion, len(questions))
	for i, q := range questions {
		quiz[i] = models.QuizQuestion{
			Order:              i,
			Prompt:             q.Prompt,
			Options:            q.Options,
			CorrectOptionIndex: q.CorrectOptionIndex,
			Explanation:        q.Explanation,
			Category:           optionalString(q.Category),
			Difficulty:         optionalString(q.Difficulty),
		}
	}
	return quiz
}

func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func (s *SynthesisService) audit(ctx context.Context, caseID uint, phase string, input, output any, errMsg string) {
	if s.Audit == nil {
		return
	}
	s.Audit.Append(ctx, storage.AuditEntry{
		CaseStudyID: caseID,
		Phase:       phase,
		Input:       toJSON(input),
		Output:      toJSON(output),
		Error:       errMsg,
	})
}
