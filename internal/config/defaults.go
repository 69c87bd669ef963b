package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Orchestrator defaults
	cfg.Orchestrator.MaxLoopIterations = 10
	cfg.Orchestrator.GenerationTimeoutSeconds = 30
	cfg.Orchestrator.MaxTransientRetries = 3
	cfg.Orchestrator.MaxUnknownRetries = 2
	cfg.Orchestrator.BackoffBaseMs = 500
	cfg.Orchestrator.BackoffMaxMs = 8000
	cfg.Orchestrator.HotIterations = 2
	cfg.Orchestrator.WarmIterations = 3
	cfg.Orchestrator.AnchoringThreshold = 3
	cfg.Orchestrator.StallWindow = 3
	cfg.Orchestrator.LoopDetectionWindow = 5
	cfg.Orchestrator.BlockedEvidenceWindow = 5
	cfg.Orchestrator.BlockedEvidenceThreshold = 2
	cfg.Orchestrator.MitigationAttemptLimit = 3

	// Database defaults
	cfg.Database.Type = "sqlite"
	cfg.Database.SQLitePath = "faultmaven.db"

	// LLM defaults
	cfg.LLM.Provider = "none"
	cfg.LLM.Model = ""
	cfg.LLM.MaxTokens = 2048

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.FilePath = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	// Audit defaults
	cfg.Audit.Enabled = false
	cfg.Audit.FilePath = "faultmaven-audit.log"

	// Metrics defaults
	cfg.Metrics.Enabled = false
	cfg.Metrics.ListenAddress = "127.0.0.1:9464"

	return cfg
}

// defaultModels maps providers to the model used when none is configured.
var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-sonnet-20241022",
	"ollama":    "llama3",
}

// providerKeyEnv names the environment variable holding each provider's key.
var providerKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

// defaultBaseURLs maps providers to their default endpoint.
var defaultBaseURLs = map[string]string{
	"openai":    "https://api.openai.com/v1",
	"anthropic": "https://api.anthropic.com/v1",
	"ollama":    "http://localhost:11434/v1",
}
