package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "verbose"

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewRejectsBadFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Format = "xml"

	_, err := New(cfg)
	require.Error(t, err)
}

func TestNewWritesToFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Format = "console"
	cfg.FilePath = filepath.Join(t.TempDir(), "app.log")

	logger, err := New(cfg)
	require.NoError(t, err)

	logger.Info("turn processed")
	_ = logger.Sync()

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"turn processed"`)
	assert.Contains(t, string(data), `"level":"info"`)
}
