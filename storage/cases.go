package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"case-forge/models"
)

const maxSlugLen = 60

// ErrCaseNotFound wird geliefert, wenn kein Fall mit der ID existiert.
var ErrCaseNotFound = errors.New("case study not found")

// CaseRepository ist der einzige Zugriffspunkt der Pipeline auf die relationale Datenbank.
type CaseRepository struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewCaseRepository erstellt ein neues Repository.
func NewCaseRepository(db *gorm.DB, logger *zap.Logger) *CaseRepository {
	return &CaseRepository{DB: db, Logger: logger}
}

// SynthesisWrite bündelt alles, was eine Synthese auf einem Fall ersetzt.
type SynthesisWrite struct {
	Narrative    string
	RefinedTitle string
	Mode         string
	Quiz         []models.QuizQuestion
}

// GetCase lädt einen Fall inklusive Quiz.
func (r *CaseRepository) GetCase(ctx context.Context, id uint) (*models.CaseStudy, error) {
	var cs models.CaseStudy
	err := r.DB.WithContext(ctx).
		Preload("Quiz", func(db *gorm.DB) *gorm.DB { return db.Order("order_index ASC") }).
		First(&cs, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("case %d: %w", id, ErrCaseNotFound)
		}
		return nil, err
	}
	return &cs, nil
}

// SaveSources speichert das Ergebnis einer Anreicherung auf dem Fall.
func (r *CaseRepository) SaveSources(ctx context.Context, id uint, items []models.SourceItem) error {
	var cs models.CaseStudy
	if err := cs.SetSourceItems(items); err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	now := time.Now()
	res := r.DB.WithContext(ctx).Model(&models.CaseStudy{}).Where("id = ?", id).
		Updates(map[string]any{"sources": cs.Sources, "sources_updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("case %d: %w", id, ErrCaseNotFound)
	}
	return nil
}

// SaveSynthesis ersetzt Quiz und Synthese-Felder eines Falls in einer Transaktion
// und gibt den vergebenen Slug zurück. Schnappt eine parallele Synthese denselben
// Slug weg, wird einmal mit "-<id>"-Suffix wiederholt.
func (r *CaseRepository) SaveSynthesis(ctx context.Context, id uint, w SynthesisWrite) (string, error) {
	if len(w.Quiz) != models.QuizSize {
		return "", fmt.Errorf("quiz must contain exactly %d questions, got %d", models.QuizSize, len(w.Quiz))
	}

	slug, err := r.saveSynthesis(ctx, id, w, false)
	if err != nil && isDuplicateKey(err) {
		r.Logger.Warn("Slug-Kollision beim Speichern, wiederhole mit Suffix", zap.Uint("case_id", id), zap.Error(err))
		slug, err = r.saveSynthesis(ctx, id, w, true)
	}
	return slug, err
}

func (r *CaseRepository) saveSynthesis(ctx context.Context, id uint, w SynthesisWrite, forceSuffix bool) (string, error) {
	var slug string
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cs models.CaseStudy
		if err := tx.First(&cs, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("case %d: %w", id, ErrCaseNotFound)
			}
			return err
		}

		base := w.RefinedTitle
		if base == "" {
			base = cs.Title
		}
		var err error
		slug, err = uniqueSlug(tx, id, base, forceSuffix)
		if err != nil {
			return fmt.Errorf("derive slug: %w", err)
		}

		if err := tx.Where("case_study_id = ?", id).Delete(&models.QuizQuestion{}).Error; err != nil {
			return fmt.Errorf("delete quiz: %w", err)
		}
		quiz := make([]models.QuizQuestion, len(w.Quiz))
		for i, q := range w.Quiz {
			q.ID = 0
			q.CaseStudyID = id
			q.Order = i
			quiz[i] = q
		}
		if err := tx.Create(&quiz).Error; err != nil {
			return fmt.Errorf("create quiz: %w", err)
		}

		now := time.Now()
		return tx.Model(&models.CaseStudy{}).Where("id = ?", id).Updates(map[string]any{
			"full_narrative":     w.Narrative,
			"refined_title":      w.RefinedTitle,
			"slug":               slug,
			"challenge_question": quiz[0].Prompt,
			"explanation":        quiz[0].Explanation,
			"synthesis_mode":     w.Mode,
			"synthesized_at":     now,
		}).Error
	})
	if err != nil {
		return "", err
	}
	return slug, nil
}

// isDuplicateKey erkennt Unique-Verletzungen, auch wenn der Treiber sie nicht übersetzt.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// ListCasesNeedingEnrichment liefert Entwürfe, die noch keine Quellen haben.
func (r *CaseRepository) ListCasesNeedingEnrichment(ctx context.Context, limit int) ([]models.CaseStudy, error) {
	var cases []models.CaseStudy
	q := r.DB.WithContext(ctx).Where("status = ? AND sources IS NULL", models.CaseStatusDraft).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&cases).Error; err != nil {
		return nil, err
	}
	return cases, nil
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify macht aus einem Titel einen URL-sicheren Slug mit höchstens 60 Zeichen.
func Slugify(s string) string {
	s = slugInvalid.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	return trimSlug(s, maxSlugLen)
}

func trimSlug(s string, max int) string {
	if len(s) > max {
		s = strings.TrimRight(s[:max], "-")
	}
	return s
}

// slugTaken meldet, ob ein anderer Fall den Slug bereits trägt.
var slugTaken = func(tx *gorm.DB, slug string, id uint) (bool, error) {
	var count int64
	err := tx.Model(&models.CaseStudy{}).Where("slug = ? AND id <> ?", slug, id).Count(&count).Error
	return count > 0, err
}

// uniqueSlug hängt bei Kollision (oder mit forceSuffix) "-<id>" an und kürzt die Basis so,
// dass 60 Zeichen nicht überschritten werden.
func uniqueSlug(tx *gorm.DB, id uint, title string, forceSuffix bool) (string, error) {
	suffix := fmt.Sprintf("-%d", id)
	base := Slugify(title)
	if base == "" {
		return "case" + suffix, nil
	}
	if !forceSuffix {
		taken, err := slugTaken(tx, base, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return base, nil
		}
	}
	return trimSlug(base, maxSlugLen-len(suffix)) + suffix, nil
}
