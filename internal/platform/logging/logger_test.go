package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := New(&Config{
		Level:    "debug",
		Dir:      tmpDir,
		Filename: "test.log",
	})

	assert.NoError(t, err)
	assert.NotNil(t, logger)

	err = logger.Close()
	assert.NoError(t, err)
}

func TestLogger_Info(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := New(&Config{
		Level:    "info",
		Dir:      tmpDir,
		Filename: "info.log",
	})
	require.NoError(t, err)
	defer logger.Close()

	testMsg := "test info message"
	logger.Info(testMsg)

	time.Sleep(10 * time.Millisecond)

	logFile := filepath.Join(tmpDir, "info.log")
	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), testMsg)
}

func TestLogger_InfoFormat(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := New(&Config{
		Level:    "info",
		Dir:      tmpDir,
		Filename: "format.log",
	})
	require.NoError(t, err)
	defer logger.Close()

	logger.Info("session %s opened", "abc123")

	time.Sleep(10 * time.Millisecond)

	content, err := os.ReadFile(filepath.Join(tmpDir, "format.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "session abc123 opened")
}

func TestLogger_InfoTag(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := New(&Config{
		Level:    "info",
		Dir:      tmpDir,
		Filename: "tag.log",
	})
	require.NoError(t, err)
	defer logger.Close()

	logger.InfoTag("Relay", "session opened")

	time.Sleep(10 * time.Millisecond)

	content, err := os.ReadFile(filepath.Join(tmpDir, "tag.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "[Relay] session opened")
}

func TestLogger_DebugSuppressedAtInfoLevel(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := New(&Config{
		Level:    "info",
		Dir:      tmpDir,
		Filename: "debug.log",
	})
	require.NoError(t, err)
	defer logger.Close()

	logger.Debug("should not appear")

	time.Sleep(10 * time.Millisecond)

	content, err := os.ReadFile(filepath.Join(tmpDir, "debug.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(content), "should not appear")
}

func TestFormatLog(t *testing.T) {
	tests := []struct {
		name     string
		tag      string
		message  string
		expected string
	}{
		{"with tag", "ASR", "stream opened", "[ASR] stream opened"},
		{"empty tag", "", "plain message", "plain message"},
		{"already tagged", "ASR", "[Relay] forwarded", "[Relay] forwarded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatLog(tt.tag, tt.message))
		})
	}
}
