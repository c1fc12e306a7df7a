package models

import "time"

// Phasen des Audit-Logs.
const (
	PhaseEnrichmentStart    = "enrichment:start"
	PhaseEnrichmentComplete = "enrichment:complete"
	PhaseSynthesisStart     = "synthesis:start"
	PhaseMissingKey         = "synthesis:missingKey"
	PhasePrompt             = "synthesis:prompt"
	PhaseModelRaw           = "synthesis:modelRaw"
	PhaseModelError         = "synthesis:modelError"
	PhaseValidationFail     = "synthesis:validationFail"
	PhaseLocalFallback      = "synthesis:localFallback"
	PhasePersistError       = "synthesis:persistError"
	PhasePersistComplete    = "synthesis:persistComplete"
)

// CaseGenerationLog ist ein append-only Eintrag im Audit-Trail der Pipeline.
type CaseGenerationLog struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	CreatedAt     time.Time `json:"created_at" gorm:"index"`
	CaseStudyID   uint      `json:"case_study_id" gorm:"index"`
	Phase         string    `json:"phase" gorm:"index;not null"`
	InputPayload  *string   `json:"input_payload,omitempty" gorm:"type:text"`
	OutputPayload *string   `json:"output_payload,omitempty" gorm:"type:text"`
	Error         *string   `json:"error,omitempty" gorm:"type:text"`
}

// TableName gibt explizit den Tabellennamen an.
func (CaseGenerationLog) TableName() string {
	return "case_generation_logs"
}
