package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dushixiang/kpimon/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "kpimon.log")
	log := New(config.LogConfig{Level: "info", Format: "json", File: file, MaxSize: 1})
	log.Info("周期执行完成", zap.String("tier", "5m"))
	log.Debug("不会写入")
	_ = log.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "周期执行完成")
	assert.Contains(t, string(data), `"tier":"5m"`)
	assert.NotContains(t, string(data), "不会写入")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("unknown"))
}
