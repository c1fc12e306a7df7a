package storage

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"case-forge/models"
)

// AuditEntry ist ein Eintrag für den Generierungs-Audit-Trail.
type AuditEntry struct {
	CaseStudyID uint
	Phase       string
	Input       string
	Output      string
	Error       string
}

// AuditLog schreibt append-only in case_generation_logs. Fehler beim Schreiben
// werden nie an den Aufrufer weitergegeben.
type AuditLog struct {
	DB           *gorm.DB
	Logger       *zap.Logger
	LogFailures  bool
	PreviewChars int
}

// NewAuditLog erstellt einen neuen AuditLog.
func NewAuditLog(db *gorm.DB, logger *zap.Logger, logFailures bool, previewChars int) *AuditLog {
	if previewChars <= 0 {
		previewChars = 4000
	}
	return &AuditLog{DB: db, Logger: logger, LogFailures: logFailures, PreviewChars: previewChars}
}

// Append fügt einen Eintrag hinzu.
func (a *AuditLog) Append(ctx context.Context, e AuditEntry) {
	row := models.CaseGenerationLog{
		CaseStudyID:   e.CaseStudyID,
		Phase:         e.Phase,
		InputPayload:  a.preview(e.Input),
		OutputPayload: a.preview(e.Output),
		Error:         a.preview(e.Error),
	}
	if err := a.DB.WithContext(ctx).Create(&row).Error; err != nil && a.LogFailures {
		a.Logger.Warn("Audit-Eintrag konnte nicht geschrieben werden",
			zap.Uint("case_id", e.CaseStudyID), zap.String("phase", e.Phase), zap.Error(err))
	}
}

// Entries liefert alle Einträge eines Falls in Einfügereihenfolge.
func (a *AuditLog) Entries(ctx context.Context, caseID uint) ([]models.CaseGenerationLog, error) {
	var rows []models.CaseGenerationLog
	err := a.DB.WithContext(ctx).Where("case_study_id = ?", caseID).Order("id ASC").Find(&rows).Error
	return rows, err
}

func (a *AuditLog) preview(s string) *string {
	if s == "" {
		return nil
	}
	r := []rune(s)
	if len(r) > a.PreviewChars {
		s = string(r[:a.PreviewChars])
	}
	return &s
}
