package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPOracle calls an OpenAI-compatible chat completions endpoint and
// expects the assistant's reply to contain a JSON object with a "signal"
// field (STRONG_BUY, BUY, HOLD, SELL, STRONG_SELL) and an optional
// "composite_score" float, mirroring the unified-prompt LLM analysis the
// original bot ran per symbol. The outbound call uses retryablehttp so a
// transient 5xx or timeout from the analyzer doesn't cost that symbol its
// whole refresh window.
type HTTPOracle struct {
	BaseURL string
	APIKey  string
	Model   string
	Prompt  string // template; "%s" is replaced with the symbol

	httpClient *retryablehttp.Client
}

// NewHTTPOracle builds an HTTPOracle with a 60s per-attempt timeout and up
// to 3 retries, matching the original analyzer's call budget for a single
// symbol.
func NewHTTPOracle(baseURL, apiKey, model, prompt string) *HTTPOracle {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = 60 * time.Second
	rc.Logger = nil // silence retryablehttp's default logger; callers get errors via Analyze's return
	return &HTTPOracle{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		Prompt:     prompt,
		httpClient: rc,
	}
}

// SetLogger routes retryablehttp's own retry-attempt logging through logger
// instead of discarding it.
func (o *HTTPOracle) SetLogger(logger *log.Logger) {
	o.httpClient.Logger = logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type analysisPayload struct {
	Signal         string  `json:"signal"`
	CompositeScore float64 `json:"composite_score"`
}

// Analyze implements Oracle by posting a single chat-completion request
// and extracting a JSON payload from the reply text, which may be wrapped
// in a markdown code fence.
func (o *HTTPOracle) Analyze(ctx context.Context, symbol string) (OracleResult, error) {
	if o.APIKey == "" {
		return OracleResult{}, fmt.Errorf("oracle: no API key configured")
	}

	prompt := o.Prompt
	if prompt == "" {
		prompt = "Analyze the current directional bias for futures contract %s. Respond with a JSON object: {\"signal\": one of STRONG_BUY|BUY|HOLD|SELL|STRONG_SELL, \"composite_score\": float between -1 and 1}."
	}

	reqBody := chatRequest{
		Model: o.Model,
		Messages: []chatMessage{
			{Role: "user", Content: fmt.Sprintf(prompt, symbol)},
		},
		Temperature: 0.3,
		MaxTokens:   4000,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return OracleResult{}, fmt.Errorf("oracle: encode request: %w", err)
	}

	url := strings.TrimRight(o.BaseURL, "/") + "/chat/completions"
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return OracleResult{}, fmt.Errorf("oracle: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return OracleResult{}, fmt.Errorf("oracle: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return OracleResult{}, fmt.Errorf("oracle: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return OracleResult{}, fmt.Errorf("oracle: status %d: %s", resp.StatusCode, string(respBody))
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return OracleResult{}, fmt.Errorf("oracle: decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return OracleResult{}, fmt.Errorf("oracle: empty choices in response")
	}

	payload, ok := extractJSON(cr.Choices[0].Message.Content)
	if !ok {
		return OracleResult{}, fmt.Errorf("oracle: no JSON payload found in reply")
	}

	return OracleResult{Signal: payload.Signal, CompositeScore: payload.CompositeScore}, nil
}

// extractJSON pulls an analysisPayload out of raw LLM text, which may be
// wrapped in a ```json fence or surrounded by other prose.
func extractJSON(text string) (analysisPayload, bool) {
	var payload analysisPayload

	if err := json.Unmarshal([]byte(text), &payload); err == nil {
		return payload, true
	}

	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err == nil {
				return payload, true
			}
		}
	}

	return analysisPayload{}, false
}
