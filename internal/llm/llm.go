// Package llm defines the text-generation boundary the orchestrator calls
// once per turn.
//
// Responsibilities:
//   - Declare the Generator interface implemented by every provider
//   - Classify provider failures into a small set of kinds so the recovery
//     layer can decide between retrying and failing the turn
//   - Map HTTP status codes onto those kinds in one place
//
// Providers live under provider/; adapter/ selects one from configuration.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Generator produces raw model text for an assembled prompt. shape names
// the structured response the prompt asks for; providers may use it to
// enable a JSON response mode.
type Generator interface {
	Generate(ctx context.Context, prompt string, shape string) (string, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string, shape string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, shape string) (string, error) {
	return f(ctx, prompt, shape)
}

// ErrProviderNotConfigured is returned when generation is attempted without a configured provider
var ErrProviderNotConfigured = errors.New("LLM provider not configured")

// ErrorKind classifies a generation failure.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindTimeout     ErrorKind = "timeout"
	KindUnavailable ErrorKind = "unavailable"
	KindAuth        ErrorKind = "auth"
	KindBadRequest  ErrorKind = "bad_request"
	KindUnknown     ErrorKind = "unknown"
)

// GenerationError wraps a provider failure with its kind.
type GenerationError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s generation failed (%s, status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s generation failed (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same request may succeed.
func (e *GenerationError) Transient() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindUnavailable:
		return true
	}
	return false
}

// Terminal reports whether retrying is pointless.
func (e *GenerationError) Terminal() bool {
	return e.Kind == KindAuth || e.Kind == KindBadRequest
}

// KindForStatus maps an HTTP status code to an ErrorKind.
func KindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code >= 500:
		return KindUnavailable
	case code >= 400:
		return KindBadRequest
	}
	return KindUnknown
}

// FromStatus builds the error for a non-2xx provider response.
func FromStatus(provider string, code int, body []byte) *GenerationError {
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	return &GenerationError{
		Provider:   provider,
		Kind:       KindForStatus(code),
		StatusCode: code,
		Err:        fmt.Errorf("API error (status %d): %s", code, msg),
	}
}

// Wrap tags a transport-level failure. Context deadlines become timeouts;
// anything else stays unknown so the caller retries it conservatively.
func Wrap(provider string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	kind := KindUnknown
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &GenerationError{Provider: provider, Kind: kind, Err: err}
}
