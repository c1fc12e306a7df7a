// Package llm kapselt den Aufruf generativer Sprachmodelle.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"case-forge/config"
)

// Fehlercodes der Generierung.
const (
	CodeModelHTTP     = "model_http"
	CodeEmptyResponse = "empty_response"
)

// ErrMissingAPIKey wird von New geliefert, wenn kein Schlüssel konfiguriert ist.
var ErrMissingAPIKey = errors.New("missing_api_key")

// Client erzeugt Text zu einem Prompt mit einem bestimmten Modell.
type Client interface {
	Generate(ctx context.Context, prompt, model string) (string, error)
}

// Error ist ein typisierter Generierungsfehler.
type Error struct {
	Code   string
	Status int
	Model  string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Model != "" {
		msg += " [" + e.Model + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New baut den konfigurierten Client. Ohne Schlüssel wird kein Client erstellt.
func New(cfg *config.Config, logger *zap.Logger) (Client, error) {
	if strings.TrimSpace(cfg.LLMAPIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	switch strings.ToLower(cfg.LLMProvider) {
	case "", "gemini":
		return NewGeminiClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMMaxTokens, logger), nil
	case "anthropic":
		return NewAnthropicClient(cfg.LLMAPIKey, cfg.AnthropicBaseURL, cfg.LLMMaxTokens, logger), nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}
