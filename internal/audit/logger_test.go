package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) (Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(&Config{
		AuditLogPath:  path,
		MaxSize:       10,
		MaxBackups:    3,
		MaxAge:        7,
		FlushInterval: time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger, path
}

func TestNewLoggerRequiresPath(t *testing.T) {
	_, err := NewLogger(&Config{}, nil)
	if err == nil {
		t.Fatal("expected error for empty audit path")
	}
	if !strings.Contains(err.Error(), "audit log path is required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.AuditLogPath != "logs/audit.log" {
		t.Errorf("Expected audit log path 'logs/audit.log', got %s", config.AuditLogPath)
	}
	if config.MaxSize != 100 {
		t.Errorf("Expected max size 100, got %d", config.MaxSize)
	}
	if config.FlushInterval != time.Second {
		t.Errorf("Expected flush interval 1s, got %s", config.FlushInterval)
	}
}

func TestLogEvent(t *testing.T) {
	logger, path := newTestLogger(t)

	ctx := context.Background()
	event := NewEvent(EventPhaseTransition).
		WithCorrelationID("inv-123").
		WithTurn(4, "triage").
		WithMetadata("from", "problem_definition").
		WithResult(ResultSuccess)

	if err := logger.Log(ctx, event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}

	logContent := string(content)
	for _, want := range []string{"inv-123", "investigation.phase_transition", "problem_definition"} {
		if !strings.Contains(logContent, want) {
			t.Errorf("log does not contain %q", want)
		}
	}
}

func TestLogBuffersUntilSync(t *testing.T) {
	logger, path := newTestLogger(t)

	if err := logger.Log(context.Background(), NewEvent(EventTurnProcessed).WithCorrelationID("inv-1")); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	if content, err := os.ReadFile(path); err == nil && strings.Contains(string(content), "inv-1") {
		t.Fatal("event written before flush")
	}

	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}
	if !strings.Contains(string(content), "inv-1") {
		t.Error("event missing after sync")
	}
}

func TestCloseFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(&Config{AuditLogPath: path, FlushInterval: time.Hour}, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	_ = logger.Log(context.Background(), NewEvent(EventEscalated).WithCorrelationID("inv-9"))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Second close is a no-op.
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}
	if !strings.Contains(string(content), "investigation.escalated") {
		t.Error("event missing after close")
	}
}

func TestEventBuilder(t *testing.T) {
	event := NewEvent(EventGenerationFailed).
		WithCorrelationID("inv-2").
		WithError(errors.New("rate limited"), "rate_limited").
		WithDuration(1500 * time.Millisecond).
		WithDescription("generation failed")

	if event.Result != ResultFailure {
		t.Errorf("expected failure result, got %s", event.Result)
	}
	if event.DurationMs != 1500 {
		t.Errorf("expected 1500ms, got %d", event.DurationMs)
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"error_code":"rate_limited"`) {
		t.Errorf("unexpected JSON: %s", data)
	}
}

func TestMemoryLogger(t *testing.T) {
	m := NewMemoryLogger()
	ctx := context.Background()
	_ = m.Log(ctx, NewEvent(EventTurnProcessed))
	_ = m.Log(ctx, NewEvent(EventEscalated))
	_ = m.Log(ctx, NewEvent(EventTurnProcessed))

	if got := len(m.Events()); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
	if got := len(m.OfType(EventTurnProcessed)); got != 2 {
		t.Errorf("expected 2 turn events, got %d", got)
	}
}
