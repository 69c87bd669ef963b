package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		code int
		want ErrorKind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusGatewayTimeout, KindTimeout},
		{http.StatusRequestTimeout, KindTimeout},
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusInternalServerError, KindUnavailable},
		{http.StatusServiceUnavailable, KindUnavailable},
		{http.StatusBadRequest, KindBadRequest},
		{http.StatusNotFound, KindBadRequest},
		{http.StatusOK, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, KindForStatus(tt.code))
		})
	}
}

func TestGenerationErrorClassification(t *testing.T) {
	rate := FromStatus("openai", http.StatusTooManyRequests, []byte(`{"error":"slow down"}`))
	assert.True(t, rate.Transient())
	assert.False(t, rate.Terminal())
	assert.Contains(t, rate.Error(), "status 429")
	assert.Contains(t, rate.Error(), "slow down")

	auth := FromStatus("anthropic", http.StatusUnauthorized, nil)
	assert.False(t, auth.Transient())
	assert.True(t, auth.Terminal())
}

func TestFromStatusTruncatesBody(t *testing.T) {
	body := make([]byte, 2000)
	for i := range body {
		body[i] = 'x'
	}
	err := FromStatus("openai", http.StatusBadGateway, body)
	assert.Less(t, len(err.Error()), 700)
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("openai", nil))

	canceled := Wrap("openai", context.Canceled)
	assert.ErrorIs(t, canceled, context.Canceled)
	var ge *GenerationError
	assert.False(t, errors.As(canceled, &ge), "cancellation is not a provider failure")

	deadline := Wrap("openai", fmt.Errorf("post: %w", context.DeadlineExceeded))
	require.True(t, errors.As(deadline, &ge))
	assert.Equal(t, KindTimeout, ge.Kind)
	assert.ErrorIs(t, deadline, context.DeadlineExceeded)

	other := Wrap("openai", errors.New("connection reset"))
	require.True(t, errors.As(other, &ge))
	assert.Equal(t, KindUnknown, ge.Kind)

	already := FromStatus("openai", http.StatusForbidden, nil)
	assert.Same(t, already, Wrap("openai", already))
}

func TestGeneratorFunc(t *testing.T) {
	g := GeneratorFunc(func(_ context.Context, prompt, shape string) (string, error) {
		return prompt + ":" + shape, nil
	})
	out, err := g.Generate(context.Background(), "p", "triage")
	require.NoError(t, err)
	assert.Equal(t, "p:triage", out)
}
