package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/saathi-labs/saathi/internal/httpkit"
)

// DefaultBaseURL is the production generative language endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// PlaceholderReply is returned when a backend answers with no usable
// candidate content. It is user-safe and intentionally bland.
const PlaceholderReply = "I am momentarily unable to produce a full answer."

// GeminiClient is a REST client for the generateContent API.
type GeminiClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGeminiClient creates a Gemini backend. baseURL may be empty to use
// the production endpoint.
func NewGeminiClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *GeminiClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GeminiClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithRetry(2, 250*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		logger: logger.With("component", "gemini"),
	}
}

// Wire types for the generateContent API.

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"system_instruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate issues one generateContent call against the named model.
// A non-2xx status or transport error is returned to the caller for
// fallback accounting. A 2xx response with no candidate parts yields
// a placeholder Result with Empty set.
func (c *GeminiClient) Generate(ctx context.Context, model string, req Request) (*Result, error) {
	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, m := range req.History {
		contents = append(contents, geminiContent{
			Role:  m.Role,
			Parts: []geminiPart{{Text: m.Text}},
		})
	}
	contents = append(contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: req.Query}},
	})

	wireReq := geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxOutputTokens,
		},
	}
	if req.System != "" {
		wireReq.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	jsonData, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "gemini request",
		"model", model,
		"payload", string(jsonData),
	)

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "gemini response",
		"model", model,
		"status", resp.StatusCode,
		"payload", string(body),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, snippet(string(body), 200))
	}

	var wireResp geminiResponse
	if err := json.Unmarshal(body, &wireResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	text := joinParts(wireResp)
	if text == "" {
		c.logger.Warn("empty candidate content", "model", model)
		return &Result{Text: PlaceholderReply, Model: model, Empty: true}, nil
	}

	c.logger.Debug("generation complete",
		"model", model,
		"latency", time.Since(start).Truncate(time.Millisecond),
		"chars", len(text),
	)
	return &Result{Text: text, Model: model}, nil
}

// joinParts flattens the first candidate's parts into one string.
func joinParts(resp geminiResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range resp.Candidates[0].Content.Parts {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String())
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
