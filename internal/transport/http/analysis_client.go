package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pyq-pipeline/internal/domain"
)

const maxResponseBytes = 8 << 20

// ClientConfig configures the analysis service client.
type ClientConfig struct {
	APIKey     string
	Endpoint   string
	HTTPClient *http.Client
}

// AnalysisClient calls a Gemini-style generateContent endpoint.
type AnalysisClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func NewAnalysisClient(cfg ClientConfig) *AnalysisClient {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &AnalysisClient{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		endpoint: endpoint,
		client:   client,
	}
}

type generateRequest struct {
	SystemInstruction *content        `json:"systemInstruction,omitempty"`
	Contents          []content       `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

func (r generateResponse) firstText() string {
	for _, c := range r.Candidates {
		var b strings.Builder
		for _, p := range c.Content.Parts {
			b.WriteString(p.Text)
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			return s
		}
	}
	return ""
}

// Analyze sends one batch and returns the model's text. Network failures,
// timeouts, 408, 429, 5xx and unreadable bodies are transient; other
// non-2xx statuses are permanent.
func (c *AnalysisClient) Analyze(ctx context.Context, model string, items []domain.AnalysisItem) (string, error) {
	if c.apiKey == "" {
		return "", &domain.RemoteError{Err: errors.New("ANALYSIS_API_KEY is not set")}
	}
	prompt, err := BuildPrompt(items)
	if err != nil {
		return "", &domain.RemoteError{Err: fmt.Errorf("build prompt: %w", err)}
	}
	body, err := json.Marshal(generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: systemInstruction}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:      0.2,
			ResponseMimeType: "application/json",
			MaxOutputTokens:  8192,
		},
	})
	if err != nil {
		return "", &domain.RemoteError{Err: err}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.endpoint, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &domain.RemoteError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &domain.RemoteError{Transient: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &domain.RemoteError{StatusCode: resp.StatusCode, Transient: true, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &domain.RemoteError{
			StatusCode: resp.StatusCode,
			Transient:  Retryable(resp.StatusCode),
			Err:        fmt.Errorf("%s", snippet(raw)),
		}
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &domain.RemoteError{StatusCode: resp.StatusCode, Transient: true, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	text := out.firstText()
	if text == "" {
		return "", &domain.RemoteError{StatusCode: resp.StatusCode, Transient: true, Err: errors.New("empty response")}
	}
	return text, nil
}

// Retryable reports whether an HTTP status is worth another attempt.
func Retryable(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
