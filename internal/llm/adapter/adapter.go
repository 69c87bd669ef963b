// Package adapter builds the configured llm.Generator.
//
// Supported Providers:
//  1. OpenAI: chat completions with JSON response mode
//  2. Anthropic: Messages API
//  3. Ollama: local models through the OpenAI-compatible endpoint
//  4. Custom: any OpenAI-compatible endpoint (vLLM, LocalAI, LM Studio)
//
// Fallback Behavior (No LLM Configured):
//   - Provider "none" yields a generator that fails every call with
//     ErrProviderNotConfigured, which the recovery layer treats as terminal
//   - Turns still persist the user message and an error turn
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/llm"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/llm/provider/anthropic"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/llm/provider/openai"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/metrics"
)

// ProviderType identifies which LLM provider is configured
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOllama    ProviderType = "ollama"
	ProviderCustom    ProviderType = "custom"
	ProviderNone      ProviderType = "none" // No LLM configured
)

// Config holds LLM provider configuration
type Config struct {
	Provider  ProviderType `json:"provider"`
	APIKey    string       `json:"api_key"`  // For OpenAI/Anthropic
	BaseURL   string       `json:"base_url"` // For Ollama/Custom
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
}

// New returns an instrumented generator for cfg.
func New(cfg Config) (llm.Generator, error) {
	var inner llm.Generator

	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key is required")
		}
		inner = openai.NewClient(cfg.APIKey, cfg.Model,
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithMaxTokens(cfg.MaxTokens),
		)

	case ProviderAnthropic:
		client, err := anthropic.NewClient(cfg.APIKey, cfg.Model, cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		client.SetBaseURL(cfg.BaseURL)
		inner = client

	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		inner = openai.NewClient(cfg.APIKey, cfg.Model,
			openai.WithBaseURL(baseURL),
			openai.WithMaxTokens(cfg.MaxTokens),
			openai.WithProviderName(string(ProviderOllama)),
		)

	case ProviderCustom:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("base_url is required for custom provider")
		}
		inner = openai.NewClient(cfg.APIKey, cfg.Model,
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithMaxTokens(cfg.MaxTokens),
			openai.WithProviderName(string(ProviderCustom)),
			openai.WithJSONMode(false),
		)

	case ProviderNone, "":
		inner = unconfigured{}
		cfg.Provider = ProviderNone

	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}

	return Instrument(string(cfg.Provider), inner), nil
}

// unconfigured fails every generation terminally.
type unconfigured struct{}

func (unconfigured) Generate(context.Context, string, string) (string, error) {
	return "", &llm.GenerationError{Provider: string(ProviderNone), Kind: llm.KindAuth, Err: llm.ErrProviderNotConfigured}
}

// Instrument wraps g so each call is counted and timed.
func Instrument(provider string, g llm.Generator) llm.Generator {
	return &instrumented{provider: provider, inner: g}
}

type instrumented struct {
	provider string
	inner    llm.Generator
}

func (i *instrumented) Generate(ctx context.Context, prompt string, shape string) (string, error) {
	start := time.Now()
	out, err := i.inner.Generate(ctx, prompt, shape)
	metrics.GenerationDuration.WithLabelValues(i.provider).Observe(time.Since(start).Seconds())
	metrics.GenerationRequests.WithLabelValues(i.provider, status(err)).Inc()
	return out, err
}

func status(err error) string {
	if err == nil {
		return "success"
	}
	if ge, ok := err.(*llm.GenerationError); ok {
		return string(ge.Kind)
	}
	return "error"
}
