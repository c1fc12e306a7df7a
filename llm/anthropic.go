package llm

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// AnthropicClient nutzt die Messages-API über das offizielle SDK.
type AnthropicClient struct {
	client    anthropic.Client
	maxTokens int64
	logger    *zap.Logger
}

// NewAnthropicClient erstellt einen neuen AnthropicClient.
func NewAnthropicClient(apiKey, baseURL string, maxTokens int64, logger *zap.Logger) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...), maxTokens: maxTokens, logger: logger}
}

// Generate sendet den Prompt als einzelne User-Nachricht.
func (c *AnthropicClient) Generate(ctx context.Context, prompt, model string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &Error{Code: CodeModelHTTP, Status: apiErr.StatusCode, Model: model, Err: err}
		}
		return "", &Error{Code: CodeModelHTTP, Model: model, Err: err}
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", &Error{Code: CodeEmptyResponse, Model: model}
	}
	c.logger.Debug("Anthropic-Antwort erhalten", zap.String("model", model), zap.Int("chars", len(text)))
	return text, nil
}
