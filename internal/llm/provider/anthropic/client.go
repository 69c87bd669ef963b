// Package anthropic implements llm.Generator against the Anthropic
// Messages API.
package anthropic

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

// Anthropic API constants
const (
	DefaultBaseURL    = "https://api.anthropic.com/v1"
	DefaultModel      = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens  = 2048
	DefaultAPIVersion = "2023-06-01"
	DefaultTimeout    = 120 * time.Second
)

const systemPrompt = "You are a troubleshooting assistant. Reply with exactly one JSON object and nothing else."

// Client implements llm.Generator for Anthropic.
type Client struct {
	apiKey     string
	model      string
	maxTokens  int
	baseURL    string
	httpClient *http.Client
}

// contentBlock is a text block in a request or response.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewClient creates a client.
func NewClient(apiKey, model string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Client{
		apiKey:     apiKey,
		model:      model,
		maxTokens:  maxTokens,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}, nil
}

// SetBaseURL overrides the Anthropic API base URL.
func (c *Client) SetBaseURL(url string) {
	if url != "" {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// Generate implements llm.Generator. Anthropic has no JSON response mode,
// so shape only affects the system prompt wording.
func (c *Client) Generate(ctx context.Context, prompt string, shape string) (string, error) {
	system := systemPrompt
	if shape != "" {
		system += " The object must follow the " + shape + " format described in the request."
	}
	req := messagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages: []message{
			{Role: "user", Content: []contentBlock{{Type: "text", Text: prompt}}},
		},
	}

	resp, err := c.makeRequest(ctx, req)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", &llm.GenerationError{Provider: "anthropic", Kind: llm.KindUnknown, Err: fmt.Errorf("no text content in response")}
	}
	return text.String(), nil
}

func (c *Client) makeRequest(ctx context.Context, req messagesRequest) (*messagesResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", DefaultAPIVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.Wrap("anthropic", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, llm.Wrap("anthropic", fmt.Errorf("failed to read response: %w", err))
	}

	// 529 is Anthropic's "overloaded"; it falls in the 5xx unavailable range.
	if httpResp.StatusCode != http.StatusOK {
		return nil, llm.FromStatus("anthropic", httpResp.StatusCode, body)
	}

	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &llm.GenerationError{Provider: "anthropic", Kind: llm.KindUnknown, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	return &resp, nil
}
