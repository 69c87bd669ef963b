package config

import "context"

// Package config provides configuration management for the investigation engine.
//
// Responsibilities:
//   - Load configuration from YAML files and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading for thresholds
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (FAULTMAVEN_* prefix)
//   2. YAML config file (default: ./faultmaven.yaml)
//   3. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Orchestrator
//      - max_loop_iterations: analysis-loop ceiling before escalation (default 10)
//      - generation_timeout_seconds: per-attempt generation timeout (default 30)
//      - max_transient_retries / max_unknown_retries: retry budgets
//      - backoff_base_ms / backoff_max_ms: exponential backoff bounds
//      - hot_iterations / warm_iterations: memory tier sizes
//      - anchoring_threshold, stall_window, loop_detection_window
//      - blocked_evidence_window / blocked_evidence_threshold
//      - mitigation_attempt_limit
//
//   2. Database
//      - type: "sqlite" | "memory"
//      - sqlite_path: path to the SQLite file
//
//   3. LLM
//      - provider: "openai" | "anthropic" | "ollama" | "custom" | "none"
//      - model, api_key, base_url, max_tokens
//
//   4. Logging / Audit
//      - level, format, file_path and rotation settings
//
//   5. Metrics
//      - enabled, listen_address
//
// Config struct contains all configuration fields
type Config struct {
	// Orchestrator thresholds and budgets
	Orchestrator struct {
		MaxLoopIterations        int
		GenerationTimeoutSeconds int
		MaxTransientRetries      int
		MaxUnknownRetries        int
		BackoffBaseMs            int
		BackoffMaxMs             int
		HotIterations            int
		WarmIterations           int
		AnchoringThreshold       int
		StallWindow              int
		LoopDetectionWindow      int
		BlockedEvidenceWindow    int
		BlockedEvidenceThreshold int
		MitigationAttemptLimit   int
	}

	// Database configuration
	Database struct {
		Type       string
		SQLitePath string
	}

	// LLM provider configuration
	LLM struct {
		Provider  string
		Model     string
		APIKey    string
		BaseURL   string
		MaxTokens int
	}

	// Logging configuration
	Logging struct {
		Level      string
		Format     string
		FilePath   string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	}

	// Audit trail configuration
	Audit struct {
		Enabled  bool
		FilePath string
	}

	// Metrics configuration
	Metrics struct {
		Enabled       bool
		ListenAddress string
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("faultmaven.yaml")
}
