package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/engine"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/escalation"
	inv "github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/investigation"
)

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, &engine.TurnResult{
		InvestigationID:  "inv-1",
		Response:         "Check the connection pool.",
		Phase:            5,
		PhaseName:        "root_cause_analysis",
		LoopStep:         "test",
		Iteration:        2,
		Mode:             "investigator",
		Urgency:          "high",
		Coverage:         0.5,
		PendingRequests:  []inv.EvidenceRequest{{Label: "pool metrics"}},
		Escalated:        true,
		EscalationReason: "iteration limit reached",
		Handoff:          &escalation.Handoff{TargetTeam: "sre", Severity: "high"},
	})

	out := buf.String()
	assert.Contains(t, out, "Check the connection pool.\n")
	assert.Contains(t, out, "[inv-1] phase 5 root_cause_analysis / test (iteration 2)")
	assert.Contains(t, out, "coverage 50%")
	assert.Contains(t, out, "needs: pool metrics")
	assert.Contains(t, out, "escalated: iteration limit reached")
	assert.Contains(t, out, "handoff to sre (high)")
}

func TestWriteYAMLKeepsKeyOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeYAML(&buf, []byte(`{"zeta": 1, "alpha": {"flag": "true", "list": [1, 2]}}`)))

	out := buf.String()
	assert.NotContains(t, out, "{")
	assert.Contains(t, out, "flag: \"true\"")
	assert.Less(t, strings.Index(out, "zeta"), strings.Index(out, "alpha"))
}

func TestTurnAndShowAgainstSQLite(t *testing.T) {
	dir := t.TempDir()
	rootCmd.SetArgs([]string{
		"turn",
		"--config", filepath.Join(dir, "missing.yaml"),
		"--db", filepath.Join(dir, "fm.db"),
		"--log-level", "error",
		"--id", "inv-cli",
		"checkout", "is", "down",
	})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "[inv-cli] phase")

	out.Reset()
	rootCmd.SetArgs([]string{
		"show",
		"--config", filepath.Join(dir, "missing.yaml"),
		"--db", filepath.Join(dir, "fm.db"),
		"--id", "inv-cli",
	})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "id: inv-cli")
	assert.Contains(t, out.String(), "content: checkout is down")

	out.Reset()
	rootCmd.SetArgs([]string{
		"list",
		"--config", filepath.Join(dir, "missing.yaml"),
		"--db", filepath.Join(dir, "fm.db"),
	})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "ID")
	assert.Contains(t, out.String(), "inv-cli")
}

func TestProviderFlagPicksUpProviderKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	saved := rootFlags
	t.Cleanup(func() { rootFlags = saved })

	rootFlags.configPath = filepath.Join(t.TempDir(), "missing.yaml")
	rootFlags.dbPath, rootFlags.logLevel = "", ""
	rootFlags.provider = "openai"

	_, cfg, err := loadConfig(context.Background())
	require.NoError(t, err, "the key for the flag's provider satisfies validation")
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}
