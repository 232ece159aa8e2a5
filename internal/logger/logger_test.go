package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("info", true))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("WARN", false))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error", false))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus", false))
}

func TestNewWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sonata.log")

	log, closeFn, err := New(Options{Level: "debug", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Named("playback").Info("track started")
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"logger":"playback"`)
	assert.Contains(t, string(data), `"msg":"track started"`)
}

func TestNewWithoutSinksIsNop(t *testing.T) {
	log, closeFn, err := New(Options{})
	require.NoError(t, err)
	defer closeFn()

	assert.NotNil(t, log)
	log.Info("discarded")
}
