package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/llm"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("test-key", "claude-3-5-sonnet-20241022", 0)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if client.apiKey != "test-key" {
		t.Errorf("Expected API key 'test-key', got '%s'", client.apiKey)
	}
	if client.maxTokens != DefaultMaxTokens {
		t.Errorf("Expected default max tokens %d, got %d", DefaultMaxTokens, client.maxTokens)
	}
	if client.baseURL != DefaultBaseURL {
		t.Errorf("Expected default base URL %s, got %s", DefaultBaseURL, client.baseURL)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("", "", 0); err == nil {
		t.Error("Expected error for empty API key")
	}
}

func TestGenerate(t *testing.T) {
	var got messagesRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, DefaultAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"{\"answer\":"},{"type":"text","text":"\"ok\"}"}],"stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	client, err := NewClient("test-key", "", 1024)
	require.NoError(t, err)
	client.SetBaseURL(server.URL)

	out, err := client.Generate(context.Background(), "why is checkout slow?", "rca_scan")
	require.NoError(t, err)
	assert.Equal(t, `{"answer":"ok"}`, out)

	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, 1024, got.MaxTokens)
	assert.Contains(t, got.System, "rca_scan")
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "why is checkout slow?", got.Messages[0].Content[0].Text)
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind llm.ErrorKind
	}{
		{"overloaded", 529, `{"type":"error","error":{"type":"overloaded_error"}}`, llm.KindUnavailable},
		{"rate limited", http.StatusTooManyRequests, `{}`, llm.KindRateLimited},
		{"forbidden", http.StatusForbidden, `{}`, llm.KindAuth},
		{"no text", http.StatusOK, `{"content":[]}`, llm.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := NewClient("k", "", 0)
			require.NoError(t, err)
			client.SetBaseURL(server.URL)

			_, err = client.Generate(context.Background(), "p", "")
			var ge *llm.GenerationError
			require.True(t, errors.As(err, &ge), "got %v", err)
			assert.Equal(t, tt.wantKind, ge.Kind)
			assert.Equal(t, "anthropic", ge.Provider)
		})
	}
}
