package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("FAULTMAVEN")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// A missing file is fine: defaults + env vars apply.
	if err := m.viper.ReadInConfig(); err != nil && !isNotFound(err) {
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()
	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		m.applyEnvOverrides()
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if m.viper == nil {
		return m.Load(ctx)
	}
	if err := m.viper.ReadInConfig(); err != nil && !isNotFound(err) {
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()
	return nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || os.IsNotExist(err)
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Orchestrator defaults
	m.viper.SetDefault("orchestrator.max_loop_iterations", defaults.Orchestrator.MaxLoopIterations)
	m.viper.SetDefault("orchestrator.generation_timeout_seconds", defaults.Orchestrator.GenerationTimeoutSeconds)
	m.viper.SetDefault("orchestrator.max_transient_retries", defaults.Orchestrator.MaxTransientRetries)
	m.viper.SetDefault("orchestrator.max_unknown_retries", defaults.Orchestrator.MaxUnknownRetries)
	m.viper.SetDefault("orchestrator.backoff_base_ms", defaults.Orchestrator.BackoffBaseMs)
	m.viper.SetDefault("orchestrator.backoff_max_ms", defaults.Orchestrator.BackoffMaxMs)
	m.viper.SetDefault("orchestrator.hot_iterations", defaults.Orchestrator.HotIterations)
	m.viper.SetDefault("orchestrator.warm_iterations", defaults.Orchestrator.WarmIterations)
	m.viper.SetDefault("orchestrator.anchoring_threshold", defaults.Orchestrator.AnchoringThreshold)
	m.viper.SetDefault("orchestrator.stall_window", defaults.Orchestrator.StallWindow)
	m.viper.SetDefault("orchestrator.loop_detection_window", defaults.Orchestrator.LoopDetectionWindow)
	m.viper.SetDefault("orchestrator.blocked_evidence_window", defaults.Orchestrator.BlockedEvidenceWindow)
	m.viper.SetDefault("orchestrator.blocked_evidence_threshold", defaults.Orchestrator.BlockedEvidenceThreshold)
	m.viper.SetDefault("orchestrator.mitigation_attempt_limit", defaults.Orchestrator.MitigationAttemptLimit)

	// Database defaults
	m.viper.SetDefault("database.type", defaults.Database.Type)
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	// LLM defaults
	m.viper.SetDefault("llm.provider", defaults.LLM.Provider)
	m.viper.SetDefault("llm.model", defaults.LLM.Model)
	m.viper.SetDefault("llm.api_key", defaults.LLM.APIKey)
	m.viper.SetDefault("llm.base_url", defaults.LLM.BaseURL)
	m.viper.SetDefault("llm.max_tokens", defaults.LLM.MaxTokens)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file_path", defaults.Logging.FilePath)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Audit defaults
	m.viper.SetDefault("audit.enabled", defaults.Audit.Enabled)
	m.viper.SetDefault("audit.file_path", defaults.Audit.FilePath)

	// Metrics defaults
	m.viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	m.viper.SetDefault("metrics.listen_address", defaults.Metrics.ListenAddress)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Orchestrator
	cfg.Orchestrator.MaxLoopIterations = m.viper.GetInt("orchestrator.max_loop_iterations")
	cfg.Orchestrator.GenerationTimeoutSeconds = m.viper.GetInt("orchestrator.generation_timeout_seconds")
	cfg.Orchestrator.MaxTransientRetries = m.viper.GetInt("orchestrator.max_transient_retries")
	cfg.Orchestrator.MaxUnknownRetries = m.viper.GetInt("orchestrator.max_unknown_retries")
	cfg.Orchestrator.BackoffBaseMs = m.viper.GetInt("orchestrator.backoff_base_ms")
	cfg.Orchestrator.BackoffMaxMs = m.viper.GetInt("orchestrator.backoff_max_ms")
	cfg.Orchestrator.HotIterations = m.viper.GetInt("orchestrator.hot_iterations")
	cfg.Orchestrator.WarmIterations = m.viper.GetInt("orchestrator.warm_iterations")
	cfg.Orchestrator.AnchoringThreshold = m.viper.GetInt("orchestrator.anchoring_threshold")
	cfg.Orchestrator.StallWindow = m.viper.GetInt("orchestrator.stall_window")
	cfg.Orchestrator.LoopDetectionWindow = m.viper.GetInt("orchestrator.loop_detection_window")
	cfg.Orchestrator.BlockedEvidenceWindow = m.viper.GetInt("orchestrator.blocked_evidence_window")
	cfg.Orchestrator.BlockedEvidenceThreshold = m.viper.GetInt("orchestrator.blocked_evidence_threshold")
	cfg.Orchestrator.MitigationAttemptLimit = m.viper.GetInt("orchestrator.mitigation_attempt_limit")

	// Database
	cfg.Database.Type = m.viper.GetString("database.type")
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	// LLM
	cfg.LLM.Provider = m.viper.GetString("llm.provider")
	cfg.LLM.Model = m.viper.GetString("llm.model")
	cfg.LLM.APIKey = m.viper.GetString("llm.api_key")
	cfg.LLM.BaseURL = m.viper.GetString("llm.base_url")
	cfg.LLM.MaxTokens = m.viper.GetInt("llm.max_tokens")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.FilePath = m.viper.GetString("logging.file_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")

	// Audit
	cfg.Audit.Enabled = m.viper.GetBool("audit.enabled")
	cfg.Audit.FilePath = m.viper.GetString("audit.file_path")

	// Metrics
	cfg.Metrics.Enabled = m.viper.GetBool("metrics.enabled")
	cfg.Metrics.ListenAddress = m.viper.GetString("metrics.listen_address")

	m.config = cfg
	return nil
}

// applyEnvOverrides resolves provider defaults for the loaded config.
func (m *viperConfigManager) applyEnvOverrides() {
	ApplyProviderDefaults(m.config)
}

// ApplyProviderDefaults fills provider credentials and endpoints from the
// conventional provider variables when cfg leaves them blank.
func ApplyProviderDefaults(cfg *Config) {
	llm := &cfg.LLM

	if llm.APIKey == "" {
		if name := providerKeyEnv[llm.Provider]; name != "" {
			llm.APIKey = os.Getenv(name)
		}
	}

	if llm.BaseURL == "" {
		if llm.Provider == "ollama" {
			if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
				llm.BaseURL = baseURL
			}
		}
		if llm.BaseURL == "" {
			llm.BaseURL = defaultBaseURLs[llm.Provider]
		}
	}

	if llm.Model == "" {
		llm.Model = defaultModels[llm.Provider]
	}
}

// SwitchProvider changes the provider after loading. Values that
// ApplyProviderDefaults resolved for the previous provider are dropped and
// resolved again; explicitly configured values are kept.
func SwitchProvider(cfg *Config, provider string) {
	llm := &cfg.LLM
	if provider == "" || provider == llm.Provider {
		return
	}
	old := llm.Provider
	if name := providerKeyEnv[old]; name != "" && llm.APIKey == os.Getenv(name) {
		llm.APIKey = ""
	}
	if llm.BaseURL == defaultBaseURLs[old] || (old == "ollama" && llm.BaseURL == os.Getenv("OLLAMA_BASE_URL")) {
		llm.BaseURL = ""
	}
	if llm.Model == defaultModels[old] {
		llm.Model = ""
	}
	llm.Provider = provider
	ApplyProviderDefaults(cfg)
}
