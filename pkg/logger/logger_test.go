package logger

import (
	"context"
	"os"
	"testing"

	"netfuzz/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestWorkerLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.LogDir = t.TempDir()
	cfg.DebugWithFile = true

	lg := NewWorkerLogger(context.Background(), cfg, 4, nil)
	lg.Info("hello from worker")
	_ = lg.Sync()

	data, err := os.ReadFile(WorkerLogPath(cfg.LogDir, 4))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from worker")
	assert.Contains(t, string(data), "worker_id")
}

func TestWorkerLogNoFile(t *testing.T) {
	cfg := config.Default()
	cfg.LogDir = t.TempDir()

	lg := NewWorkerLogger(context.Background(), cfg, 1, nil)
	lg.Info("stderr only")
	_, err := os.Stat(WorkerLogPath(cfg.LogDir, 1))
	assert.True(t, os.IsNotExist(err))
}
