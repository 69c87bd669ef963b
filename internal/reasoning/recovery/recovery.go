// Package recovery classifies generation failures, retries the recoverable
// ones, repairs invariant violations in loaded state and detects turns that
// keep producing the same decision.
//
// Responsibilities:
//   - Classify errors as transient, terminal, unknown or canceled
//   - Retry transient and unknown failures with capped exponential backoff
//   - Repair out-of-range or inconsistent state before a turn runs
//   - Detect repeated next-step signals across assistant turns
package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/llm"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/metrics"
)

// Class is the recovery class of an error.
type Class string

const (
	ClassNone      Class = ""
	ClassTransient Class = "transient"
	ClassTerminal  Class = "terminal"
	ClassUnknown   Class = "unknown"
	ClassCanceled  Class = "canceled"
)

// Config holds retry and detection budgets.
type Config struct {
	MaxTransientRetries int
	MaxUnknownRetries   int
	// BackoffBase is the delay before the first retry. Zero disables waiting.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// LoopWindow is the number of assistant turns compared by DetectLoop.
	LoopWindow int
}

// DefaultConfig returns the standard budgets.
func DefaultConfig() Config {
	return Config{
		MaxTransientRetries: 3,
		MaxUnknownRetries:   2,
		BackoffBase:         500 * time.Millisecond,
		BackoffMax:          8 * time.Second,
		LoopWindow:          5,
	}
}

// Classify maps err onto a recovery class.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	if errors.Is(err, llm.ErrProviderNotConfigured) {
		return ClassTerminal
	}
	var ge *llm.GenerationError
	if errors.As(err, &ge) {
		switch {
		case ge.Transient():
			return ClassTransient
		case ge.Terminal():
			return ClassTerminal
		}
		return ClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassUnknown
}

// Handler applies the recovery policy.
type Handler struct {
	cfg    Config
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewHandler creates a handler. A nil clock uses the real clock.
func NewHandler(cfg Config, clock clockwork.Clock, logger *zap.Logger) *Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{cfg: cfg, clock: clock, logger: logger.Named("recovery")}
}

// Config returns the handler budgets.
func (h *Handler) Config() Config { return h.cfg }

// Backoff returns the wait before retry number attempt (1-based).
func (h *Handler) Backoff(attempt int) time.Duration {
	if h.cfg.BackoffBase <= 0 || attempt < 1 {
		return 0
	}
	d := h.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if h.cfg.BackoffMax > 0 && d >= h.cfg.BackoffMax {
			return h.cfg.BackoffMax
		}
	}
	if h.cfg.BackoffMax > 0 && d > h.cfg.BackoffMax {
		return h.cfg.BackoffMax
	}
	return d
}

// budget returns how many retries class allows.
func (h *Handler) budget(class Class) int {
	switch class {
	case ClassTransient:
		return h.cfg.MaxTransientRetries
	case ClassUnknown:
		return h.cfg.MaxUnknownRetries
	}
	return 0
}

// Execute runs fn until it succeeds, fails with a non-retryable class, the
// class budget is spent, or ctx ends. attempt starts at 0. The last error is
// returned unchanged so callers can Classify it.
func (h *Handler) Execute(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	retries := map[Class]int{}
	for attempt := 0; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		class := Classify(err)
		if retries[class] >= h.budget(class) {
			h.logger.Warn("generation failed",
				zap.Error(err),
				zap.String("class", string(class)),
				zap.Int("attempts", attempt+1),
			)
			return err
		}
		retries[class]++
		metrics.GenerationRetries.WithLabelValues(string(class)).Inc()

		wait := h.Backoff(retries[class])
		h.logger.Info("retrying generation",
			zap.Error(err),
			zap.String("class", string(class)),
			zap.Int("retry", retries[class]),
			zap.Duration("backoff", wait),
		)
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return err
		case <-h.clock.After(wait):
		}
	}
}
