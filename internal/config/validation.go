package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateOrchestrator()...)

	// Validate database configuration
	switch c.Database.Type {
	case "sqlite":
		if strings.TrimSpace(c.Database.SQLitePath) == "" {
			errs = append(errs, &ValidationError{
				Field:   "database.sqlite_path",
				Message: "sqlite_path is required when type is sqlite",
			})
		}
	case "memory":
	default:
		errs = append(errs, &ValidationError{
			Field:   "database.type",
			Message: fmt.Sprintf("invalid database type '%s', must be one of: sqlite, memory", c.Database.Type),
		})
	}

	// Validate LLM configuration
	validProviders := map[string]bool{
		"openai":    true,
		"anthropic": true,
		"ollama":    true,
		"custom":    true,
		"none":      true,
	}
	if !validProviders[c.LLM.Provider] {
		errs = append(errs, &ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("invalid provider '%s', must be one of: openai, anthropic, ollama, custom, none", c.LLM.Provider),
		})
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
		if c.LLM.APIKey == "" {
			errs = append(errs, &ValidationError{
				Field:   "llm.api_key",
				Message: fmt.Sprintf("API key is required for provider %s", c.LLM.Provider),
			})
		}
	case "custom":
		if c.LLM.BaseURL == "" {
			errs = append(errs, &ValidationError{
				Field:   "llm.base_url",
				Message: "base_url is required for custom provider",
			})
		}
	}
	if c.LLM.Provider != "none" && c.LLM.MaxTokens < 1 {
		errs = append(errs, &ValidationError{
			Field:   "llm.max_tokens",
			Message: fmt.Sprintf("max_tokens must be positive, got %d", c.LLM.MaxTokens),
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, console", c.Logging.Format),
		})
	}

	if c.Audit.Enabled && c.Audit.FilePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "audit.file_path",
			Message: "file_path is required when audit is enabled",
		})
	}

	// Validate metrics configuration
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.ListenAddress); err != nil {
			errs = append(errs, &ValidationError{
				Field:   "metrics.listen_address",
				Message: fmt.Sprintf("invalid address format (expected host:port): %v", err),
			})
		}
	}

	return errs
}

func (c *Config) validateOrchestrator() []error {
	var errs []error
	o := c.Orchestrator

	positive := []struct {
		field string
		value int
	}{
		{"orchestrator.max_loop_iterations", o.MaxLoopIterations},
		{"orchestrator.generation_timeout_seconds", o.GenerationTimeoutSeconds},
		{"orchestrator.anchoring_threshold", o.AnchoringThreshold},
		{"orchestrator.stall_window", o.StallWindow},
		{"orchestrator.loop_detection_window", o.LoopDetectionWindow},
		{"orchestrator.blocked_evidence_window", o.BlockedEvidenceWindow},
		{"orchestrator.blocked_evidence_threshold", o.BlockedEvidenceThreshold},
		{"orchestrator.mitigation_attempt_limit", o.MitigationAttemptLimit},
	}
	for _, p := range positive {
		if p.value < 1 {
			errs = append(errs, &ValidationError{
				Field:   p.field,
				Message: fmt.Sprintf("must be at least 1, got %d", p.value),
			})
		}
	}

	nonNegative := []struct {
		field string
		value int
	}{
		{"orchestrator.max_transient_retries", o.MaxTransientRetries},
		{"orchestrator.max_unknown_retries", o.MaxUnknownRetries},
		{"orchestrator.backoff_base_ms", o.BackoffBaseMs},
		{"orchestrator.hot_iterations", o.HotIterations},
		{"orchestrator.warm_iterations", o.WarmIterations},
	}
	for _, n := range nonNegative {
		if n.value < 0 {
			errs = append(errs, &ValidationError{
				Field:   n.field,
				Message: fmt.Sprintf("must not be negative, got %d", n.value),
			})
		}
	}

	if o.BackoffMaxMs < o.BackoffBaseMs {
		errs = append(errs, &ValidationError{
			Field:   "orchestrator.backoff_max_ms",
			Message: fmt.Sprintf("backoff_max_ms (%d) must be >= backoff_base_ms (%d)", o.BackoffMaxMs, o.BackoffBaseMs),
		})
	}

	if o.BlockedEvidenceThreshold > o.BlockedEvidenceWindow {
		errs = append(errs, &ValidationError{
			Field:   "orchestrator.blocked_evidence_threshold",
			Message: "threshold cannot exceed blocked_evidence_window",
		})
	}

	return errs
}
