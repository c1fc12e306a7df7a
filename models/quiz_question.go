package models

import (
	"time"

	"gorm.io/datatypes"
)

// QuizSize ist die feste Anzahl an Fragen pro Fall.
const QuizSize = 5

// QuizCategories ist die feste Taxonomie der Fragekategorien.
var QuizCategories = []string{"timeline", "actor", "mechanism", "red_flag", "regulatory_response", "impact", "lesson"}

// QuizQuestion ist eine Multiple-Choice-Frage eines Fallbeispiels.
// Die Fragen eines Falls werden bei jeder Synthese komplett ersetzt.
type QuizQuestion struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	CaseStudyID uint `json:"case_study_id" gorm:"not null;uniqueIndex:idx_quiz_case_order"`
	Order       int  `json:"order" gorm:"column:order_index;not null;uniqueIndex:idx_quiz_case_order"`

	Prompt             string                      `json:"prompt" gorm:"type:text;not null"`
	Options            datatypes.JSONSlice[string] `json:"options"`
	CorrectOptionIndex int                         `json:"correct_option_index"`
	Explanation        string                      `json:"explanation,omitempty" gorm:"type:text"`
	Category           *string                     `json:"category,omitempty"`
	Difficulty         *string                     `json:"difficulty,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (QuizQuestion) TableName() string {
	return "quiz_questions"
}
