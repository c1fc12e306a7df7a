package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

var httpClient = &http.Client{Timeout: 180 * time.Second}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature      float64 `json:"temperature"`
		MaxOutputTokens  int64   `json:"maxOutputTokens,omitempty"`
		ResponseMimeType string  `json:"responseMimeType,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// GeminiClient ruft die generateContent-REST-API auf.
type GeminiClient struct {
	BaseURL   string
	APIKey    string
	MaxTokens int64
	Logger    *zap.Logger
}

// NewGeminiClient erstellt einen neuen GeminiClient.
func NewGeminiClient(baseURL, apiKey string, maxTokens int64, logger *zap.Logger) *GeminiClient {
	return &GeminiClient{BaseURL: strings.TrimRight(baseURL, "/"), APIKey: apiKey, MaxTokens: maxTokens, Logger: logger}
}

// Generate sendet den Prompt und liefert den zusammengefügten Text aller Parts des ersten Kandidaten.
func (c *GeminiClient) Generate(ctx context.Context, prompt, model string) (string, error) {
	var body geminiRequest
	body.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}
	body.GenerationConfig.Temperature = 0.4
	body.GenerationConfig.MaxOutputTokens = c.MaxTokens
	body.GenerationConfig.ResponseMimeType = "application/json"
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.BaseURL, url.PathEscape(model), url.QueryEscape(c.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", &Error{Code: CodeModelHTTP, Model: model, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Code: CodeModelHTTP, Status: resp.StatusCode, Model: model, Err: err}
	}
	c.Logger.Debug("Gemini-Antwort erhalten", zap.String("model", model), zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)), zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sample := string(raw)
		if len(sample) > 300 {
			sample = sample[:300]
		}
		return "", &Error{Code: CodeModelHTTP, Status: resp.StatusCode, Model: model, Err: fmt.Errorf("%s", sample)}
	}

	var gr geminiResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", &Error{Code: CodeEmptyResponse, Status: resp.StatusCode, Model: model, Err: err}
	}
	var sb strings.Builder
	if len(gr.Candidates) > 0 {
		for _, p := range gr.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", &Error{Code: CodeEmptyResponse, Status: resp.StatusCode, Model: model}
	}
	return text, nil
}
