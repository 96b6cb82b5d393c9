/**
 * LLM Client - OpenAI-compatible chat completions
 *
 * Thin transport used by the recipe interpreter. It knows nothing about
 * recipes: it sends messages and returns the first choice's content.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/recipe-extractor/internal/logging"
)

// LLMClient handles communication with a chat completions endpoint
type LLMClient struct {
	apiURL     string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *logging.Logger
}

// LLMClientConfig holds LLM client configuration
type LLMClientConfig struct {
	APIURL string
	APIKey string
	Model  string
}

// ChatMessage represents a chat message
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat asks the provider for a JSON object response
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatRequest represents the API request structure
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatResponse represents the API response structure
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
}

// ChatChoice represents a single completion choice
type ChatChoice struct {
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ErrInvalidCompletion marks a 200 response whose envelope is unusable.
var ErrInvalidCompletion = errors.New("invalid completion envelope")

// APIStatusError is returned when the provider answers with a non-200 status
type APIStatusError struct {
	StatusCode int
	Body       string
}

func (e *APIStatusError) Error() string {
	return fmt.Sprintf("LLM API returned status %d: %s", e.StatusCode, e.Body)
}

// NewLLMClient creates a new chat completions client
func NewLLMClient(cfg LLMClientConfig) *LLMClient {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://openrouter.ai/api/v1/chat/completions"
	}
	if cfg.Model == "" {
		cfg.Model = "openai/gpt-4o-mini"
	}

	return &LLMClient{
		apiURL: cfg.APIURL,
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute, // per-call budgets come from the caller's context
		},
		logger: logging.NewLogger("LLMClient"),
	}
}

// Model returns the configured model name
func (c *LLMClient) Model() string {
	return c.model
}

// Complete sends the conversation and returns the first choice's content
func (c *LLMClient) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	reqBody, err := json.Marshal(&ChatRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    0,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Title", "Recipe Extractor")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request to LLM API failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIStatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCompletion, err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in LLM response", ErrInvalidCompletion)
	}

	c.logger.Debug("Completion received",
		"model", chatResp.Model,
		"finishReason", chatResp.Choices[0].FinishReason,
		"contentLength", len(chatResp.Choices[0].Message.Content),
		"duration", time.Since(start))

	return chatResp.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
