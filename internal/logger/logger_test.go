package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]log.Level{
		"debug":   log.DebugLevel,
		"INFO":    log.InfoLevel,
		"warning": log.WarnLevel,
		"error":   log.ErrorLevel,
		"":        log.InfoLevel,
		"bogus":   log.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	l, closer, err := New(config.LogConfig{Level: "debug", File: path})
	require.NoError(t, err)

	l.Info("session started", "session_id", "abc")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "session started")
	assert.Contains(t, string(data), "session_id=abc")
}

func TestNewFileOnly(t *testing.T) {
	l, closer, err := NewFileOnly(config.LogConfig{})
	require.NoError(t, err)
	l.Info("dropped")
	assert.NoError(t, closer.Close())

	path := filepath.Join(t.TempDir(), "tui.log")
	l, closer, err = NewFileOnly(config.LogConfig{File: path, Level: "warn"})
	require.NoError(t, err)
	l.Info("below level")
	l.Warn("kept")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "below level")
	assert.Contains(t, string(data), "kept")
}
