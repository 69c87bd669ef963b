package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Orchestrator defaults
	assert.Equal(t, 10, cfg.Orchestrator.MaxLoopIterations)
	assert.Equal(t, 30, cfg.Orchestrator.GenerationTimeoutSeconds)
	assert.Equal(t, 2, cfg.Orchestrator.HotIterations)
	assert.Equal(t, 3, cfg.Orchestrator.WarmIterations)
	assert.Equal(t, 3, cfg.Orchestrator.AnchoringThreshold)
	assert.Equal(t, 5, cfg.Orchestrator.LoopDetectionWindow)

	// Database defaults
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.NotEmpty(t, cfg.Database.SQLitePath)

	// LLM defaults
	assert.Equal(t, "none", cfg.LLM.Provider)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Empty(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid default config",
			modifyFn:  func(cfg *Config) {},
			wantError: false,
		},
		{
			name: "zero iteration ceiling",
			modifyFn: func(cfg *Config) {
				cfg.Orchestrator.MaxLoopIterations = 0
			},
			wantError: true,
			errorMsg:  "orchestrator.max_loop_iterations",
		},
		{
			name: "negative retries",
			modifyFn: func(cfg *Config) {
				cfg.Orchestrator.MaxTransientRetries = -1
			},
			wantError: true,
			errorMsg:  "must not be negative",
		},
		{
			name: "backoff max below base",
			modifyFn: func(cfg *Config) {
				cfg.Orchestrator.BackoffBaseMs = 1000
				cfg.Orchestrator.BackoffMaxMs = 10
			},
			wantError: true,
			errorMsg:  "backoff_max_ms",
		},
		{
			name: "blocked threshold above window",
			modifyFn: func(cfg *Config) {
				cfg.Orchestrator.BlockedEvidenceThreshold = 6
			},
			wantError: true,
			errorMsg:  "cannot exceed blocked_evidence_window",
		},
		{
			name: "invalid database type",
			modifyFn: func(cfg *Config) {
				cfg.Database.Type = "postgres"
			},
			wantError: true,
			errorMsg:  "invalid database type",
		},
		{
			name: "missing sqlite path",
			modifyFn: func(cfg *Config) {
				cfg.Database.SQLitePath = " "
			},
			wantError: true,
			errorMsg:  "sqlite_path is required",
		},
		{
			name: "invalid LLM provider",
			modifyFn: func(cfg *Config) {
				cfg.LLM.Provider = "invalid"
			},
			wantError: true,
			errorMsg:  "invalid provider",
		},
		{
			name: "missing OpenAI API key",
			modifyFn: func(cfg *Config) {
				cfg.LLM.Provider = "openai"
			},
			wantError: true,
			errorMsg:  "API key is required",
		},
		{
			name: "custom provider without base url",
			modifyFn: func(cfg *Config) {
				cfg.LLM.Provider = "custom"
			},
			wantError: true,
			errorMsg:  "base_url is required",
		},
		{
			name: "ollama needs no key",
			modifyFn: func(cfg *Config) {
				cfg.LLM.Provider = "ollama"
			},
			wantError: false,
		},
		{
			name: "invalid log level",
			modifyFn: func(cfg *Config) {
				cfg.Logging.Level = "trace"
			},
			wantError: true,
			errorMsg:  "invalid log level",
		},
		{
			name: "invalid metrics address",
			modifyFn: func(cfg *Config) {
				cfg.Metrics.Enabled = true
				cfg.Metrics.ListenAddress = "no-port"
			},
			wantError: true,
			errorMsg:  "invalid address format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			errs := cfg.Validate()

			if !tt.wantError {
				assert.Empty(t, errs, "expected no validation errors but got: %v", errs)
				return
			}
			require.NotEmpty(t, errs, "expected validation errors but got none")
			found := false
			for _, err := range errs {
				if strings.Contains(err.Error(), tt.errorMsg) {
					found = true
					break
				}
			}
			assert.True(t, found, "expected error message containing '%s', got: %v", tt.errorMsg, errs)
		})
	}
}

func TestConfigManagerLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	configContent := `
orchestrator:
  max_loop_iterations: 6
  anchoring_threshold: 4

database:
  type: "memory"

llm:
  provider: "anthropic"
  api_key: "test-anthropic-key"

logging:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)

	assert.Equal(t, 6, cfg.Orchestrator.MaxLoopIterations)
	assert.Equal(t, 4, cfg.Orchestrator.AnchoringThreshold)
	assert.Equal(t, 3, cfg.Orchestrator.StallWindow, "unset keys keep defaults")
	assert.Equal(t, "memory", cfg.Database.Type)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "test-anthropic-key", cfg.LLM.APIKey)
	assert.Equal(t, "https://api.anthropic.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "claude-3-5-sonnet-20241022", cfg.LLM.Model)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.NoError(t, mgr.Validate(ctx))
}

func TestConfigManagerEnvironmentOverrides(t *testing.T) {
	t.Setenv("FAULTMAVEN_ORCHESTRATOR_MAX_LOOP_ITERATIONS", "4")
	t.Setenv("OPENAI_API_KEY", "env-openai-key")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
orchestrator:
  max_loop_iterations: 8

llm:
  provider: "openai"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, 4, cfg.Orchestrator.MaxLoopIterations, "env should override the file")
	assert.Equal(t, "env-openai-key", cfg.LLM.APIKey, "API key should come from environment variable")
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestSwitchProviderResolvesNewDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-openai-key")
	t.Setenv("OLLAMA_BASE_URL", "")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("llm:\n  provider: \"ollama\"\n"), 0o644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	require.Equal(t, "llama3", cfg.LLM.Model)

	SwitchProvider(cfg, "openai")
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "env-openai-key", cfg.LLM.APIKey)
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.NoError(t, mgr.Validate(ctx))
}

func TestSwitchProviderKeepsExplicitValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "file-key"
	cfg.LLM.Model = "gpt-4.1"

	SwitchProvider(cfg, "anthropic")
	assert.Equal(t, "file-key", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4.1", cfg.LLM.Model)
	assert.Equal(t, "https://api.anthropic.com/v1", cfg.LLM.BaseURL)

	SwitchProvider(cfg, "")
	assert.Equal(t, "anthropic", cfg.LLM.Provider, "an empty provider leaves the config alone")
}

func TestConfigManagerMissingFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)
	assert.Equal(t, 10, cfg.Orchestrator.MaxLoopIterations)
}

func TestConfigManagerValidation(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	configContent := `
orchestrator:
  stall_window: 0

llm:
  provider: "invalid-provider"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	err = mgr.Validate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "orchestrator.stall_window")
}

func TestConfigManagerReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("orchestrator:\n  stall_window: 4\n"), 0o644))

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	assert.Equal(t, 4, mgr.Get(ctx).Orchestrator.StallWindow)

	require.NoError(t, os.WriteFile(configPath, []byte("orchestrator:\n  stall_window: 5\n"), 0o644))
	require.NoError(t, mgr.Reload(ctx))
	assert.Equal(t, 5, mgr.Get(ctx).Orchestrator.StallWindow)
}
