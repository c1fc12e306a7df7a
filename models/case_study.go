package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Status eines Fallbeispiels.
const (
	CaseStatusDraft     = "DRAFT"
	CaseStatusPublished = "PUBLISHED"
	CaseStatusArchived  = "ARCHIVED"
)

// CaseStudy ist ein Fallbeispiel mit Seed-Daten, angereicherten Quellen und synthetisiertem Inhalt.
type CaseStudy struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Slug *string `json:"slug,omitempty" gorm:"uniqueIndex;size:60"`

	// Seed
	Title        string     `json:"title" gorm:"not null"`
	CompanyName  string     `json:"company_name"`
	Ticker       string     `json:"ticker,omitempty"`
	ShortSummary string     `json:"short_summary,omitempty" gorm:"type:text"`
	PeriodStart  *time.Time `json:"period_start,omitempty"`
	PeriodEnd    *time.Time `json:"period_end,omitempty"`

	// Anreicherung
	Sources          datatypes.JSON `json:"sources,omitempty"`
	SourcesUpdatedAt *time.Time     `json:"sources_updated_at,omitempty"`

	// Synthese
	FullNarrative     string     `json:"full_narrative,omitempty" gorm:"type:text"`
	RefinedTitle      string     `json:"refined_title,omitempty"`
	ChallengeQuestion string     `json:"challenge_question,omitempty" gorm:"type:text"`
	Explanation       string     `json:"explanation,omitempty" gorm:"type:text"`
	SynthesisMode     string     `json:"synthesis_mode,omitempty"`
	SynthesizedAt     *time.Time `json:"synthesized_at,omitempty"`

	Status string `json:"status" gorm:"index;default:'DRAFT'"`

	Quiz []QuizQuestion `json:"quiz,omitempty" gorm:"foreignKey:CaseStudyID;constraint:OnDelete:CASCADE"`
}

// TableName gibt explizit den Tabellennamen an.
func (CaseStudy) TableName() string {
	return "case_studies"
}

// Topic ist der Suchbegriff des Falls: Firmenname, sonst der Titel.
func (c *CaseStudy) Topic() string {
	if c.CompanyName != "" {
		return c.CompanyName
	}
	return c.Title
}

// SourceItems deserialisiert die gespeicherten Quellen. Nil-Spalte ergibt nil.
func (c *CaseStudy) SourceItems() ([]SourceItem, error) {
	if len(c.Sources) == 0 || string(c.Sources) == "null" {
		return nil, nil
	}
	var items []SourceItem
	if err := json.Unmarshal(c.Sources, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SetSourceItems serialisiert die Quellen in die JSON-Spalte.
func (c *CaseStudy) SetSourceItems(items []SourceItem) error {
	if items == nil {
		items = []SourceItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	c.Sources = datatypes.JSON(raw)
	return nil
}
