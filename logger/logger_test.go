package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mq-rpc/config"
)

func TestLevels(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, getLoggerLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, getLoggerLevel("chatty"))
}

func TestNewWritesRotatedFile(t *testing.T) {
	cfg := config.Default()
	cfg.Log.LogDir = t.TempDir()
	cfg.Log.LogPrefix = "rpc.log"
	cfg.Log.LogLevel = "warn"
	cfg.Log.EnableStdout = false

	logger := New(*cfg)
	logger.Info("hidden")
	logger.Warn("call failed", zap.String("method", "Add"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(cfg.Log.LogDir, "rpc.log"))
	require.NoError(t, err)
	out := string(data)
	assert.False(t, strings.Contains(out, "hidden"))
	assert.Contains(t, out, "call failed")
	assert.Contains(t, out, "Add")
}

func TestNewWithoutOutputsIsNop(t *testing.T) {
	cfg := config.Default()
	cfg.Log.EnableStdout = false
	assert.False(t, New(*cfg).Core().Enabled(zapcore.FatalLevel))
}
