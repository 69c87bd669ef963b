// Package openai implements llm.Generator against the OpenAI chat
// completions API.
//
// Responsibilities:
//   - Send the assembled prompt as a single user message
//   - Request JSON output when the caller names a response shape
//   - Map non-2xx responses onto llm.GenerationError kinds
//
// Any OpenAI-compatible endpoint (Ollama, vLLM, LocalAI) works by pointing
// the base URL at it; keyless endpoints skip the Authorization header.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/llm"
)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 2048
	DefaultTimeout   = 120 * time.Second
)

const systemPrompt = "You are a troubleshooting assistant. Reply with exactly one JSON object and nothing else."

// Client implements llm.Generator for OpenAI-compatible APIs.
type Client struct {
	provider   string
	apiKey     string
	model      string
	maxTokens  int
	baseURL    string
	jsonMode   bool
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithMaxTokens caps completion length.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithProviderName sets the name used in errors and metrics.
func WithProviderName(name string) Option {
	return func(c *Client) { c.provider = name }
}

// WithJSONMode toggles response_format=json_object. Not every compatible
// server accepts it.
func WithJSONMode(on bool) Option {
	return func(c *Client) { c.jsonMode = on }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewClient creates a client. apiKey may be empty for local endpoints.
func NewClient(apiKey, model string, opts ...Option) *Client {
	if model == "" {
		model = DefaultModel
	}
	c := &Client{
		provider:  "openai",
		apiKey:    apiKey,
		model:     model,
		maxTokens: DefaultMaxTokens,
		baseURL:   DefaultBaseURL,
		jsonMode:  true,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate implements llm.Generator.
func (c *Client) Generate(ctx context.Context, prompt string, shape string) (string, error) {
	request := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: 0.2,
	}
	if c.jsonMode && shape != "" {
		request.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := c.makeRequest(ctx, "/chat/completions", request)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &llm.GenerationError{Provider: c.provider, Kind: llm.KindUnknown, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", &llm.GenerationError{Provider: c.provider, Kind: llm.KindUnknown, Err: fmt.Errorf("no choices in response")}
	}
	return resp.Choices[0].Message.Content, nil
}

// makeRequest makes an HTTP request to the chat API.
func (c *Client) makeRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, llm.Wrap(c.provider, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.Wrap(c.provider, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, llm.FromStatus(c.provider, resp.StatusCode, responseBody)
	}
	return responseBody, nil
}
