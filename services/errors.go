package services

import (
	"errors"
	"fmt"

	"case-forge/llm"
)

// Fehlercodes der Synthese. Jeder Code benennt genau das Gate, das fehlgeschlagen ist.
const (
	CodeMissingAPIKey          = "missing_api_key"
	CodeModelHTTP              = llm.CodeModelHTTP
	CodeEmptyResponse          = llm.CodeEmptyResponse
	CodeParseError             = "parse_error"
	CodeEmptyNarrative         = "empty_narrative"
	CodeNoQuestions            = "no_questions"
	CodeIncorrectQuestionCount = "incorrect_question_count"
	CodeModelError             = "model_error"
	CodePersistError           = "persist_error"
	CodeNotFound               = "not_found"
	CodeInvalidInput           = "invalid_input"
)

// SynthesisError ist der typisierte Fehler der Pipeline.
type SynthesisError struct {
	Code        string
	Err         error
	Diagnostics *Diagnostics
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *SynthesisError) Unwrap() error { return e.Err }

func newSynthesisError(code string, err error) *SynthesisError {
	return &SynthesisError{Code: code, Err: err}
}

// ErrorCode liefert den Code eines Pipeline- oder Generierungsfehlers, sonst "".
func ErrorCode(err error) string {
	var se *SynthesisError
	if errors.As(err, &se) {
		return se.Code
	}
	var ge *llm.Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}
